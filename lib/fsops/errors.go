package fsops

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Error names reported across the bridge
const (
	NamePathEscape      = "PathEscape"
	NameNotFound        = "NotFound"
	NameAlreadyExists   = "AlreadyExists"
	NamePermission      = "PermissionDenied"
	NameNotADirectory   = "NotADirectory"
	NameIsADirectory    = "IsADirectory"
	NameNotEmpty        = "DirectoryNotEmpty"
	NameInvalidArgument = "InvalidArgument"
	NameIO              = "IOError"
)

// Error is a file system failure with a stable name. It implements
// common.Named so the name survives the bridge.
type Error struct {
	Name string
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) ErrorName() string {
	return e.Name
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrPathEscape is wrapped by errors for paths outside the root
var ErrPathEscape = errors.New("path escapes root")

func invalidArgument(op string, format string, args ...any) error {
	return &Error{Name: NameInvalidArgument, Op: op, Err: fmt.Errorf(format, args...)}
}

func escape(op, path string) error {
	return &Error{Name: NamePathEscape, Op: op, Path: path, Err: ErrPathEscape}
}

// wrap classifies an error from the os package. path is the path as the
// caller passed it, never the resolved one.
func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	// strip the resolved path from *PathError
	var pe *fs.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return &Error{Name: classify(err), Op: op, Path: path, Err: err}
}

func classify(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return NameNotFound
	case errors.Is(err, fs.ErrExist):
		return NameAlreadyExists
	case errors.Is(err, fs.ErrPermission):
		return NamePermission
	case errors.Is(err, syscall.ENOTDIR):
		return NameNotADirectory
	case errors.Is(err, syscall.EISDIR):
		return NameIsADirectory
	case errors.Is(err, syscall.ENOTEMPTY):
		return NameNotEmpty
	default:
		return NameIO
	}
}

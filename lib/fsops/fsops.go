package fsops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/dBridge/bridge/common"
	"github.com/ValentinKolb/dBridge/bridge/registry"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger(common.LoggerFSOps)

// Operation names
const (
	OpStat      = "fs.stat"
	OpReadFile  = "fs.readFile"
	OpWriteFile = "fs.writeFile"
	OpMkdir     = "fs.mkdir"
	OpReadDir   = "fs.readDir"
	OpRemove    = "fs.remove"
)

// Kinds reported by stat and readDir
const (
	KindFile    = "file"
	KindDir     = "dir"
	KindSymlink = "symlink"
	KindOther   = "other"
)

const (
	defaultFileMode os.FileMode = 0644
	defaultDirMode  os.FileMode = 0755
)

// FS executes file operations confined to a root directory
type FS struct {
	root string
}

// New creates an FS rooted at root. The root must be an existing directory.
func New(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}
	return &FS{root: resolved}, nil
}

// Root returns the resolved root directory
func (f *FS) Root() string {
	return f.root
}

// Register adds all operations to reg under their names (see OpStat etc.)
func (f *FS) Register(reg *registry.Registry) error {
	ops := []struct {
		name string
		h    registry.Handler
	}{
		{OpStat, f.stat},
		{OpReadFile, f.readFile},
		{OpWriteFile, f.writeFile},
		{OpMkdir, f.mkdir},
		{OpReadDir, f.readDir},
		{OpRemove, f.remove},
	}
	for _, op := range ops {
		if _, err := reg.RegisterNamed(op.name, op.h); err != nil {
			return fmt.Errorf("register %s: %w", op.name, err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Path resolution
// --------------------------------------------------------------------------

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolve maps a caller path (relative to the root, a leading slash is
// ignored) to an absolute path. Paths leaving the root, directly or through
// a symlink, fail with PathEscape.
func (f *FS) resolve(op, p string) (string, error) {
	if p == "" {
		return "", invalidArgument(op, "path must not be empty")
	}
	rel := strings.TrimLeft(filepath.FromSlash(p), string(filepath.Separator))
	full := filepath.Join(f.root, rel)
	if !within(f.root, full) {
		return "", escape(op, p)
	}

	// the longest existing prefix must not lead out of the root
	existing := full
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", wrap(op, p, err)
	}
	if !within(f.root, resolved) {
		return "", escape(op, p)
	}
	return full, nil
}

func kindOf(mode os.FileMode) string {
	switch {
	case mode.IsRegular():
		return KindFile
	case mode.IsDir():
		return KindDir
	case mode&os.ModeSymlink != 0:
		return KindSymlink
	default:
		return KindOther
	}
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// stat(path) -> {name, kind, size, mode, modTime}
func (f *FS) stat(_ context.Context, args []any) (any, error) {
	p, err := argString(OpStat, args, 0, "path")
	if err != nil {
		return nil, err
	}
	full, err := f.resolve(OpStat, p)
	if err != nil {
		return nil, err
	}
	fi, err := os.Lstat(full)
	if err != nil {
		return nil, wrap(OpStat, p, err)
	}
	return map[string]any{
		"name":    fi.Name(),
		"kind":    kindOf(fi.Mode()),
		"size":    fi.Size(),
		"mode":    uint32(fi.Mode().Perm()),
		"modTime": fi.ModTime().UnixMilli(),
	}, nil
}

// readFile(path, [offset], [length]) -> bytes
func (f *FS) readFile(_ context.Context, args []any) (any, error) {
	p, err := argString(OpReadFile, args, 0, "path")
	if err != nil {
		return nil, err
	}
	offset, err := argInt(OpReadFile, args, 1, "offset", 0)
	if err != nil {
		return nil, err
	}
	length, err := argInt(OpReadFile, args, 2, "length", -1)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, invalidArgument(OpReadFile, "offset must not be negative")
	}
	full, err := f.resolve(OpReadFile, p)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(full)
	if err != nil {
		return nil, wrap(OpReadFile, p, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			Logger.Warningf("file close error: %v", cerr)
		}
	}()

	fi, err := file.Stat()
	if err != nil {
		return nil, wrap(OpReadFile, p, err)
	}
	if fi.IsDir() {
		return nil, &Error{Name: NameIsADirectory, Op: OpReadFile, Path: p, Err: fmt.Errorf("is a directory")}
	}

	size := fi.Size()
	if offset >= size {
		return []byte{}, nil
	}
	n := size - offset
	if length >= 0 && length < n {
		n = length
	}
	buf := make([]byte, n)
	read, err := file.ReadAt(buf, offset)
	if err != nil && int64(read) != n {
		return nil, wrap(OpReadFile, p, err)
	}
	return buf[:read], nil
}

// writeFile(path, data, [append]) -> bytes written
func (f *FS) writeFile(_ context.Context, args []any) (any, error) {
	p, err := argString(OpWriteFile, args, 0, "path")
	if err != nil {
		return nil, err
	}
	data, err := argBytes(OpWriteFile, args, 1, "data")
	if err != nil {
		return nil, err
	}
	appendMode, err := argBool(OpWriteFile, args, 2, "append", false)
	if err != nil {
		return nil, err
	}
	full, err := f.resolve(OpWriteFile, p)
	if err != nil {
		return nil, err
	}

	if appendMode {
		err = appendFile(full, data, defaultFileMode)
	} else {
		err = AtomicWrite(full, data, defaultFileMode)
	}
	if err != nil {
		return nil, wrap(OpWriteFile, p, err)
	}
	Logger.Debugf("wrote %d bytes to %s", len(data), p)
	return int64(len(data)), nil
}

// mkdir(path, [parents]) -> nil
func (f *FS) mkdir(_ context.Context, args []any) (any, error) {
	p, err := argString(OpMkdir, args, 0, "path")
	if err != nil {
		return nil, err
	}
	parents, err := argBool(OpMkdir, args, 1, "parents", false)
	if err != nil {
		return nil, err
	}
	full, err := f.resolve(OpMkdir, p)
	if err != nil {
		return nil, err
	}
	if parents {
		err = os.MkdirAll(full, defaultDirMode)
	} else {
		err = os.Mkdir(full, defaultDirMode)
	}
	if err != nil {
		return nil, wrap(OpMkdir, p, err)
	}
	return nil, nil
}

// readDir(path) -> [{name, kind, size}], sorted by name
func (f *FS) readDir(_ context.Context, args []any) (any, error) {
	p, err := argString(OpReadDir, args, 0, "path")
	if err != nil {
		return nil, err
	}
	full, err := f.resolve(OpReadDir, p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, wrap(OpReadDir, p, err)
	}

	out := make([]any, 0, len(entries))
	for _, e := range entries {
		var size int64
		if info, err := e.Info(); err == nil && info.Mode().IsRegular() {
			size = info.Size()
		}
		out = append(out, map[string]any{
			"name": e.Name(),
			"kind": kindOf(e.Type()),
			"size": size,
		})
	}
	return out, nil
}

// remove(path, [recursive]) -> nil
func (f *FS) remove(_ context.Context, args []any) (any, error) {
	p, err := argString(OpRemove, args, 0, "path")
	if err != nil {
		return nil, err
	}
	recursive, err := argBool(OpRemove, args, 1, "recursive", false)
	if err != nil {
		return nil, err
	}
	full, err := f.resolve(OpRemove, p)
	if err != nil {
		return nil, err
	}
	if full == f.root {
		return nil, invalidArgument(OpRemove, "refusing to remove the root directory")
	}
	if recursive {
		// RemoveAll reports no error for missing paths
		if _, err := os.Lstat(full); err != nil {
			return nil, wrap(OpRemove, p, err)
		}
		err = os.RemoveAll(full)
	} else {
		err = os.Remove(full)
	}
	if err != nil {
		return nil, wrap(OpRemove, p, err)
	}
	return nil, nil
}

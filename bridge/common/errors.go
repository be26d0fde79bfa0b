package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Stable error names
// --------------------------------------------------------------------------

// These names are the only error identity that crosses the segment boundary.
const (
	NameRequestTooLarge     = "RequestTooLarge"
	NameSerializationError  = "SerializationError"
	NameTimeout             = "Timeout"
	NameUnknownOperation    = "UnknownOperation"
	NameOperationError      = "OperationError"
	NameChannelNotConnected = "ChannelNotConnected"
	NameProtocolViolation   = "ProtocolViolation"
)

// --------------------------------------------------------------------------
// Error type
// --------------------------------------------------------------------------

// BridgeError is a stable, machine-readable error class.
// Remote is only set for OperationError values that were rebuilt from a
// descriptor whose name is not part of the closed set above.
type BridgeError struct {
	Name    string
	Message string
	Remote  string
}

func (e *BridgeError) Error() string {
	name := e.Name
	if e.Remote != "" {
		name = fmt.Sprintf("%s(%s)", e.Name, e.Remote)
	}
	if e.Message == "" {
		return name
	}
	return fmt.Sprintf("%s: %s", name, e.Message)
}

// Is matches on the error name, so errors.Is(err, ErrTimeout) works for every
// Timeout regardless of its message.
func (e *BridgeError) Is(target error) bool {
	t, ok := target.(*BridgeError)
	return ok && e.Name == t.Name
}

// ErrorName implements Named.
func (e *BridgeError) ErrorName() string {
	return e.Name
}

// WithMessage returns a new BridgeError with the same Name but a specific message.
func (e *BridgeError) WithMessage(msg string) *BridgeError {
	return &BridgeError{Name: e.Name, Message: msg}
}

// WithMessagef returns a new BridgeError with a formatted message.
func (e *BridgeError) WithMessagef(format string, args ...any) *BridgeError {
	return &BridgeError{Name: e.Name, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrRequestTooLarge     = &BridgeError{Name: NameRequestTooLarge}
	ErrSerialization       = &BridgeError{Name: NameSerializationError}
	ErrTimeout             = &BridgeError{Name: NameTimeout}
	ErrUnknownOperation    = &BridgeError{Name: NameUnknownOperation}
	ErrOperation           = &BridgeError{Name: NameOperationError}
	ErrChannelNotConnected = &BridgeError{Name: NameChannelNotConnected}
	ErrProtocolViolation   = &BridgeError{Name: NameProtocolViolation}
)

// --------------------------------------------------------------------------
// Boundary crossing
// --------------------------------------------------------------------------

// Named is implemented by errors that want to keep a stable name when they are
// returned by an operation handler. Errors without a name cross as OperationError.
type Named interface {
	error
	ErrorName() string
}

// ErrorDescriptor is the part of an error that survives the boundary.
type ErrorDescriptor struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Describe reduces err to its descriptor.
func Describe(err error) ErrorDescriptor {
	var be *BridgeError
	if errors.As(err, &be) {
		if be.Remote != "" {
			return ErrorDescriptor{Name: be.Remote, Message: be.Message}
		}
		return ErrorDescriptor{Name: be.Name, Message: be.Message}
	}
	var named Named
	if errors.As(err, &named) {
		return ErrorDescriptor{Name: named.ErrorName(), Message: err.Error()}
	}
	return ErrorDescriptor{Name: NameOperationError, Message: err.Error()}
}

// FromDescriptor rebuilds an error on the receiving side. Names of the closed
// set map to their own class, every other name becomes an OperationError that
// remembers the original name in Remote.
func FromDescriptor(d ErrorDescriptor) error {
	switch d.Name {
	case NameRequestTooLarge,
		NameSerializationError,
		NameTimeout,
		NameUnknownOperation,
		NameOperationError,
		NameChannelNotConnected,
		NameProtocolViolation:
		return &BridgeError{Name: d.Name, Message: d.Message}
	default:
		return &BridgeError{Name: NameOperationError, Message: d.Message, Remote: d.Name}
	}
}

// RemoteName returns the most specific name of err: the remote name for
// rebuilt operation errors, the class name for all other bridge errors and ""
// for foreign errors.
func RemoteName(err error) string {
	var be *BridgeError
	if !errors.As(err, &be) {
		return ""
	}
	if be.Remote != "" {
		return be.Remote
	}
	return be.Name
}

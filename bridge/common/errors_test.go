package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pathError struct{ path string }

func (e *pathError) Error() string     { return "escapes root: " + e.path }
func (e *pathError) ErrorName() string { return "PathEscape" }

func TestBridgeError_IsMatchesByName(t *testing.T) {
	err := ErrTimeout.WithMessagef("op %s after %s", OpIDFor("stat"), "1ms")
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrOperation))

	wrapped := fmt.Errorf("call failed: %w", err)
	assert.True(t, errors.Is(wrapped, ErrTimeout))
}

func TestBridgeError_Error(t *testing.T) {
	assert.Equal(t, "Timeout", ErrTimeout.Error())
	assert.Equal(t, "Timeout: too slow", ErrTimeout.WithMessage("too slow").Error())

	remote := &BridgeError{Name: NameOperationError, Message: "boom", Remote: "PathEscape"}
	assert.Equal(t, "OperationError(PathEscape): boom", remote.Error())
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorDescriptor
	}{
		{"bridge error", ErrUnknownOperation.WithMessage("op 999"), ErrorDescriptor{NameUnknownOperation, "op 999"}},
		{"named error", &pathError{"../x"}, ErrorDescriptor{"PathEscape", "escapes root: ../x"}},
		{"wrapped named error", fmt.Errorf("stat: %w", &pathError{"/a"}), ErrorDescriptor{"PathEscape", "stat: escapes root: /a"}},
		{"plain error", errors.New("disk full"), ErrorDescriptor{NameOperationError, "disk full"}},
		{"rebuilt remote error", &BridgeError{Name: NameOperationError, Message: "m", Remote: "NotFound"}, ErrorDescriptor{"NotFound", "m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.err))
		})
	}
}

func TestFromDescriptor_ClosedMapping(t *testing.T) {
	for _, name := range []string{
		NameRequestTooLarge, NameSerializationError, NameTimeout, NameUnknownOperation,
		NameOperationError, NameChannelNotConnected, NameProtocolViolation,
	} {
		err := FromDescriptor(ErrorDescriptor{Name: name, Message: "msg"})
		var be *BridgeError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, name, be.Name)
		assert.Empty(t, be.Remote)
		assert.Equal(t, name, RemoteName(err))
	}
}

func TestFromDescriptor_UnknownNameBecomesOperationError(t *testing.T) {
	err := FromDescriptor(ErrorDescriptor{Name: "TypeError", Message: "x is not a function"})
	assert.True(t, errors.Is(err, ErrOperation))
	assert.Equal(t, "TypeError", RemoteName(err))
	assert.Contains(t, err.Error(), "x is not a function")

	// the rebuilt error describes itself with the original name again
	assert.Equal(t, ErrorDescriptor{"TypeError", "x is not a function"}, Describe(err))
}

func TestOpIDFor_Stable(t *testing.T) {
	assert.Equal(t, OpIDFor("stat"), OpIDFor("stat"))
	assert.NotEqual(t, OpIDFor("stat"), OpIDFor("write"))
	// FNV-1a of the empty string is the offset basis
	assert.Equal(t, OpID(0x811c9dc5), OpIDFor(""))
}

func TestChannelConfig_Validate(t *testing.T) {
	cfg := DefaultChannelConfig()
	require.NoError(t, cfg.Validate())

	small := cfg
	small.SegmentLength = HeaderSize + MinRequestSize
	assert.Error(t, small.Validate())

	small.SegmentLength = 64
	assert.NoError(t, small.Validate())
	assert.Equal(t, 48, small.PayloadCapacity())

	noTimeout := cfg
	noTimeout.DefaultOpTimeoutMs = 0
	assert.Error(t, noTimeout.Validate())
	noTimeout.DefaultOpTimeoutMs = -5
	assert.Error(t, noTimeout.Validate())
}

func TestChannelConfig_String(t *testing.T) {
	cfg := DefaultChannelConfig()
	s := cfg.String()
	assert.Contains(t, s, "SEGMENT")
	assert.Contains(t, s, "10485760 bytes")
	assert.Contains(t, s, "(heap)")
	assert.Contains(t, s, "5000 ms")
}

func TestParseLogLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "warning", "error", "INFO"} {
		_, err := ParseLogLevel(lvl)
		assert.NoError(t, err, lvl)
	}
	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}

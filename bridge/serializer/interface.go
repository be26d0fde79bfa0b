package serializer

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dBridge/bridge/common"
)

// IBridgeSerializer is the interface for all wire codecs used on a segment
type IBridgeSerializer interface {
	// EncodeRequest encodes a request into a freshly allocated byte slice.
	// Values the codec cannot represent fail with a SerializationError.
	EncodeRequest(req *common.Request) ([]byte, error)
	// DecodeRequest decodes a request. The input may alias the segment, the
	// returned request never does.
	// Truncated or malformed input fails with a ProtocolViolation.
	DecodeRequest(b []byte) (*common.Request, error)
	// EncodeResponse encodes a response into a freshly allocated byte slice
	EncodeResponse(resp *common.Response) ([]byte, error)
	// DecodeResponse decodes a response, see DecodeRequest
	DecodeResponse(b []byte) (*common.Response, error)
	// Name returns the name the codec is selected by
	Name() string
}

// New returns the serializer registered under name ("binary" or "json")
func New(name string) (IBridgeSerializer, error) {
	switch strings.ToLower(name) {
	case "", "binary":
		return NewBinarySerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer: %s", name)
	}
}

// ErrMalformed is the class of all decode failures. It matches every
// ProtocolViolation with errors.Is.
var ErrMalformed = common.ErrProtocolViolation.WithMessage("malformed payload")

func malformed(format string, args ...any) error {
	return common.ErrProtocolViolation.WithMessagef("malformed payload: "+format, args...)
}

func unserializable(format string, args ...any) error {
	return common.ErrSerialization.WithMessagef(format, args...)
}

package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/dBridge/bridge/common"
)

// NewJSONSerializer creates a new serializer using json encoding. It is meant
// for debugging: byte slices come back as base64 strings and all numbers as
// float64.
func NewJSONSerializer() IBridgeSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IBridgeSerializer interface using json encoding
type jsonSerializerImpl struct {
}

type jsonRequest struct {
	OpID uint32 `json:"op"`
	Seq  uint32 `json:"seq"`
	Args []any  `json:"args"`
}

type jsonResponse struct {
	Seq   uint32                  `json:"seq"`
	Ok    bool                    `json:"ok"`
	Value any                     `json:"value,omitempty"`
	Error *common.ErrorDescriptor `json:"error,omitempty"`
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IBridgeSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Name() string {
	return "json"
}

func (j jsonSerializerImpl) EncodeRequest(req *common.Request) ([]byte, error) {
	if req == nil {
		return nil, unserializable("nil request")
	}
	args := req.Args
	if args == nil {
		args = []any{}
	}
	b, err := json.Marshal(jsonRequest{OpID: uint32(req.OpID), Seq: req.Seq, Args: args})
	if err != nil {
		return nil, unserializable("%v", err)
	}
	return b, nil
}

func (j jsonSerializerImpl) DecodeRequest(b []byte) (*common.Request, error) {
	var msg jsonRequest
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, malformed("%v", err)
	}
	if msg.Args == nil {
		msg.Args = []any{}
	}
	return &common.Request{OpID: common.OpID(msg.OpID), Seq: msg.Seq, Args: msg.Args}, nil
}

func (j jsonSerializerImpl) EncodeResponse(resp *common.Response) ([]byte, error) {
	if resp == nil {
		return nil, unserializable("nil response")
	}
	if !resp.Ok && resp.Error == nil {
		return nil, unserializable("error response without error descriptor")
	}
	msg := jsonResponse{Seq: resp.Seq, Ok: resp.Ok}
	if resp.Ok {
		msg.Value = resp.Value
	} else {
		msg.Error = resp.Error
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, unserializable("%v", err)
	}
	return b, nil
}

func (j jsonSerializerImpl) DecodeResponse(b []byte) (*common.Response, error) {
	var msg jsonResponse
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, malformed("%v", err)
	}
	if !msg.Ok && msg.Error == nil {
		return nil, malformed("error response without error descriptor")
	}
	return &common.Response{Seq: msg.Seq, Ok: msg.Ok, Value: msg.Value, Error: msg.Error}, nil
}

package serializer

import (
	"errors"
	"math"
	"testing"

	"github.com/ValentinKolb/dBridge/bridge/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IBridgeSerializer{
	"JSON":   NewJSONSerializer,
	"Binary": NewBinarySerializer,
}

// testRequests creates requests whose arguments survive both codecs unchanged
func testRequests() []*common.Request {
	return []*common.Request{
		// no arguments
		common.NewRequest(common.OpIDFor("ping"), 1, []any{}),

		// single string
		common.NewRequest(common.OpIDFor("fs.stat"), 2, []any{"/a.txt"}),

		// scalars
		common.NewRequest(7, 3, []any{"x", true, false, nil, 1.5}),

		// nested lists and records
		common.NewRequest(999, 0x7fffffff, []any{
			map[string]any{"kind": "file", "tags": []any{"a", "b"}},
			[]any{[]any{}, map[string]any{}},
		}),
	}
}

// TestSerializerRequestRoundTrip tests that requests can be encoded and decoded correctly
func TestSerializerRequestRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			for i, req := range testRequests() {
				data, err := s.EncodeRequest(req)
				require.NoError(t, err, "request %d", i)

				result, err := s.DecodeRequest(data)
				require.NoError(t, err, "request %d", i)
				assert.Equal(t, req, result, "request %d", i)
			}
		})
	}
}

// TestSerializerResponseRoundTrip tests value and error responses
func TestSerializerResponseRoundTrip(t *testing.T) {
	responses := []*common.Response{
		common.NewValueResponse(1, "ok"),
		common.NewValueResponse(2, nil),
		common.NewValueResponse(3, map[string]any{"kind": "dir", "entries": []any{"a", "b"}}),
		common.NewErrorResponse(4, common.ErrUnknownOperation.WithMessage("op 0x000003e7")),
		{Seq: 5, Error: &common.ErrorDescriptor{Name: "NotFound", Message: "no such file"}},
	}

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			for i, resp := range responses {
				data, err := s.EncodeResponse(resp)
				require.NoError(t, err, "response %d", i)

				result, err := s.DecodeResponse(data)
				require.NoError(t, err, "response %d", i)
				assert.Equal(t, resp, result, "response %d", i)
			}
		})
	}
}

// TestBinaryValueTypes checks how every supported Go type comes back
func TestBinaryValueTypes(t *testing.T) {
	type myString string
	type myBytes []byte
	n := 42

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"int", -7, int64(-7)},
		{"int8", int8(-128), int64(-128)},
		{"int64 min", int64(math.MinInt64), int64(math.MinInt64)},
		{"uint8", uint8(255), uint64(255)},
		{"uint64 max", uint64(math.MaxUint64), uint64(math.MaxUint64)},
		{"float32", float32(0.5), float64(0.5)},
		{"float64 inf", math.Inf(-1), math.Inf(-1)},
		{"named string", myString("s"), "s"},
		{"empty bytes", []byte{}, []byte{}},
		{"bytes", []byte{0, 1, 2, 255}, []byte{0, 1, 2, 255}},
		{"named bytes", myBytes("raw"), []byte("raw")},
		{"byte array", [3]byte{1, 2, 3}, []byte{1, 2, 3}},
		{"int slice", []int{1, 2}, []any{int64(1), int64(2)}},
		{"string map", map[string]int{"b": 2, "a": 1}, map[string]any{"a": int64(1), "b": int64(2)}},
		{"pointer", &n, int64(42)},
		{"nil pointer", (*int)(nil), nil},
		{"nil slice", []any(nil), []any{}},
	}

	s := NewBinarySerializer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := s.EncodeResponse(common.NewValueResponse(1, tt.in))
			require.NoError(t, err)
			resp, err := s.DecodeResponse(data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Value)
		})
	}
}

// TestBinaryRecordKeysSorted checks that equal maps encode to equal bytes
func TestBinaryRecordKeysSorted(t *testing.T) {
	s := NewBinarySerializer()
	a := map[string]any{}
	b := map[string]any{}
	keys := []string{"z", "a", "m", "b", "y", "c"}
	for i, k := range keys {
		a[k] = i
		b[keys[len(keys)-1-i]] = len(keys) - 1 - i
	}

	da, err := s.EncodeResponse(common.NewValueResponse(1, a))
	require.NoError(t, err)
	db, err := s.EncodeResponse(common.NewValueResponse(1, b))
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

// TestBinaryUnsupportedValues tests the values the codec refuses to encode
func TestBinaryUnsupportedValues(t *testing.T) {
	selfList := make([]any, 1)
	selfList[0] = selfList

	selfMap := map[string]any{}
	selfMap["self"] = selfMap

	indirect := map[string]any{}
	indirect["list"] = []any{1, indirect}

	deep := any("leaf")
	for i := 0; i < MaxDepth+1; i++ {
		deep = []any{deep}
	}

	tests := []struct {
		name string
		arg  any
	}{
		{"struct", struct{ A int }{1}},
		{"channel", make(chan int)},
		{"func", func() {}},
		{"int keyed map", map[int]string{1: "a"}},
		{"self list", selfList},
		{"self map", selfMap},
		{"indirect cycle", indirect},
		{"too deep", deep},
	}

	s := NewBinarySerializer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.EncodeRequest(common.NewRequest(1, 1, []any{tt.arg}))
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrSerialization), "got %v", err)
		})
	}
}

// TestBinarySharedNotCircular makes sure a value referenced twice is not a cycle
func TestBinarySharedNotCircular(t *testing.T) {
	shared := []any{"x"}
	s := NewBinarySerializer()
	data, err := s.EncodeRequest(common.NewRequest(1, 1, []any{shared, shared}))
	require.NoError(t, err)

	req, err := s.DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"x"}, []any{"x"}}, req.Args)
}

// TestBinaryMalformedInput tests truncated and corrupted messages
func TestBinaryMalformedInput(t *testing.T) {
	s := NewBinarySerializer()
	valid, err := s.EncodeRequest(common.NewRequest(3, 9, []any{"hello", []byte("world"), map[string]any{"k": 1}}))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(valid), common.MinRequestSize)

	// every strict prefix must fail
	for i := 0; i < len(valid); i++ {
		_, err := s.DecodeRequest(valid[:i])
		require.Error(t, err, "prefix of length %d", i)
		assert.True(t, errors.Is(err, ErrMalformed), "prefix of length %d: %v", i, err)
	}

	cases := map[string][]byte{
		"trailing bytes":    append(append([]byte{}, valid...), 0),
		"response magic":    append([]byte{magicResponse}, valid[1:]...),
		"args not a list":   {magicRequest, 0, 0, 0, 1, 0, 0, 0, 1, tagString, 0},
		"unknown tag":       {magicRequest, 0, 0, 0, 1, 0, 0, 0, 1, tagList, 1, 0xee},
		"huge list count":   {magicRequest, 0, 0, 0, 1, 0, 0, 0, 1, tagList, 0xff, 0xff, 0xff, 0xff, 0x0f},
		"huge bytes length": {magicRequest, 0, 0, 0, 1, 0, 0, 0, 1, tagList, 1, tagBytes, 0xff, 0xff, 0xff, 0xff},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.DecodeRequest(data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrProtocolViolation), "got %v", err)
		})
	}

	_, err = s.DecodeResponse([]byte{magicResponse, 0, 0, 0, 1, 0})
	assert.True(t, errors.Is(err, ErrMalformed))
}

// TestBinaryDecodeDoesNotAlias checks that decoded values survive reuse of the input
func TestBinaryDecodeDoesNotAlias(t *testing.T) {
	s := NewBinarySerializer()
	data, err := s.EncodeRequest(common.NewRequest(1, 1, []any{"text", []byte("raw")}))
	require.NoError(t, err)

	req, err := s.DecodeRequest(data)
	require.NoError(t, err)
	for i := range data {
		data[i] = 0
	}
	assert.Equal(t, []any{"text", []byte("raw")}, req.Args)
}

// TestJSONIsLossy documents what the debugging codec changes
func TestJSONIsLossy(t *testing.T) {
	s := NewJSONSerializer()
	data, err := s.EncodeRequest(common.NewRequest(1, 1, []any{int64(7), []byte("hi")}))
	require.NoError(t, err)

	req, err := s.DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(7), "aGk="}, req.Args)

	_, err = s.DecodeRequest([]byte("{"))
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = s.EncodeRequest(common.NewRequest(1, 1, []any{make(chan int)}))
	assert.True(t, errors.Is(err, common.ErrSerialization))
}

func TestNew(t *testing.T) {
	for _, name := range []string{"", "binary", "BINARY", "json"} {
		s, err := New(name)
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}
	s, _ := New("json")
	assert.Equal(t, "json", s.Name())

	_, err := New("gob")
	assert.Error(t, err)
}

package serializer

import (
	"encoding/binary"
	"math"
	"reflect"
	"sort"

	"github.com/ValentinKolb/dBridge/bridge/common"
	"github.com/valyala/bytebufferpool"
)

// MaxDepth is the deepest nesting of lists and records (and pointer
// indirections) the binary codec encodes or decodes.
const MaxDepth = 64

// Magic bytes, first byte of every message
const (
	magicRequest  byte = 'Q'
	magicResponse byte = 'P'
)

// Value tags
const (
	tagNil byte = iota
	tagFalse
	tagTrue
	tagInt    // zigzag varint
	tagUint   // uvarint
	tagFloat  // 8 bytes, IEEE 754 big endian
	tagString // uvarint length + utf8 data
	tagBytes  // uint32 length + raw data
	tagList   // uvarint count + values
	tagRecord // uvarint count + (key, value) pairs, keys sorted
)

// Response flags
const (
	flagOk byte = 1 << 0
)

// NewBinarySerializer creates a new serializer using a self-describing,
// tagged binary format
func NewBinarySerializer() IBridgeSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IBridgeSerializer using the tagged binary format
type binarySerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IBridgeSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Name() string {
	return "binary"
}

func (b binarySerializerImpl) EncodeRequest(req *common.Request) ([]byte, error) {
	if req == nil {
		return nil, unserializable("nil request")
	}
	enc := newEncoder()
	defer enc.release()

	enc.buf.B = append(enc.buf.B, magicRequest)
	enc.buf.B = binary.BigEndian.AppendUint32(enc.buf.B, uint32(req.OpID))
	enc.buf.B = binary.BigEndian.AppendUint32(enc.buf.B, req.Seq)

	// the argument list is always encoded as a list, a nil slice included
	if err := enc.encodeReflect(reflect.ValueOf(req.Args)); err != nil {
		return nil, err
	}
	return enc.bytes(), nil
}

func (b binarySerializerImpl) DecodeRequest(data []byte) (*common.Request, error) {
	d := decoder{data: data}

	magic, err := d.byte()
	if err != nil {
		return nil, err
	}
	if magic != magicRequest {
		return nil, malformed("bad request magic 0x%02x", magic)
	}
	op, err := d.uint32()
	if err != nil {
		return nil, err
	}
	seq, err := d.uint32()
	if err != nil {
		return nil, err
	}

	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	if tag != tagList {
		return nil, malformed("request arguments are not a list (tag 0x%02x)", tag)
	}
	args, err := d.list()
	if err != nil {
		return nil, err
	}
	if err := d.done(); err != nil {
		return nil, err
	}

	return &common.Request{
		OpID: common.OpID(op),
		Seq:  seq,
		Args: args,
	}, nil
}

func (b binarySerializerImpl) EncodeResponse(resp *common.Response) ([]byte, error) {
	if resp == nil {
		return nil, unserializable("nil response")
	}
	enc := newEncoder()
	defer enc.release()

	enc.buf.B = append(enc.buf.B, magicResponse)
	enc.buf.B = binary.BigEndian.AppendUint32(enc.buf.B, resp.Seq)

	if resp.Ok {
		enc.buf.B = append(enc.buf.B, flagOk)
		if err := enc.encodeValue(resp.Value); err != nil {
			return nil, err
		}
	} else {
		if resp.Error == nil {
			return nil, unserializable("error response without error descriptor")
		}
		enc.buf.B = append(enc.buf.B, 0)
		enc.appendString(resp.Error.Name)
		enc.appendString(resp.Error.Message)
	}
	return enc.bytes(), nil
}

func (b binarySerializerImpl) DecodeResponse(data []byte) (*common.Response, error) {
	d := decoder{data: data}

	magic, err := d.byte()
	if err != nil {
		return nil, err
	}
	if magic != magicResponse {
		return nil, malformed("bad response magic 0x%02x", magic)
	}
	seq, err := d.uint32()
	if err != nil {
		return nil, err
	}
	flags, err := d.byte()
	if err != nil {
		return nil, err
	}

	resp := &common.Response{Seq: seq}
	if flags&flagOk != 0 {
		resp.Ok = true
		if resp.Value, err = d.value(); err != nil {
			return nil, err
		}
	} else {
		var desc common.ErrorDescriptor
		if desc.Name, err = d.string(); err != nil {
			return nil, err
		}
		if desc.Message, err = d.string(); err != nil {
			return nil, err
		}
		resp.Error = &desc
	}
	if err := d.done(); err != nil {
		return nil, err
	}
	return resp, nil
}

// --------------------------------------------------------------------------
// Encoder
// --------------------------------------------------------------------------

// visitKey identifies a list or record currently being encoded
type visitKey struct {
	ptr  uintptr
	len  int
	kind reflect.Kind
}

type encoder struct {
	buf      *bytebufferpool.ByteBuffer
	visiting map[visitKey]struct{}
	depth    int
}

func newEncoder() *encoder {
	return &encoder{buf: bytebufferpool.Get()}
}

func (e *encoder) release() {
	bytebufferpool.Put(e.buf)
	e.buf = nil
}

// bytes copies the encoded data out of the pooled buffer
func (e *encoder) bytes() []byte {
	out := make([]byte, len(e.buf.B))
	copy(out, e.buf.B)
	return out
}

func (e *encoder) appendString(s string) {
	e.buf.B = binary.AppendUvarint(e.buf.B, uint64(len(s)))
	e.buf.B = append(e.buf.B, s...)
}

func (e *encoder) writeInt(v int64) {
	e.buf.B = append(e.buf.B, tagInt)
	e.buf.B = binary.AppendVarint(e.buf.B, v)
}

func (e *encoder) writeUint(v uint64) {
	e.buf.B = append(e.buf.B, tagUint)
	e.buf.B = binary.AppendUvarint(e.buf.B, v)
}

func (e *encoder) writeFloat(v float64) {
	e.buf.B = append(e.buf.B, tagFloat)
	e.buf.B = binary.BigEndian.AppendUint64(e.buf.B, math.Float64bits(v))
}

func (e *encoder) writeBool(v bool) {
	if v {
		e.buf.B = append(e.buf.B, tagTrue)
	} else {
		e.buf.B = append(e.buf.B, tagFalse)
	}
}

func (e *encoder) writeString(s string) {
	e.buf.B = append(e.buf.B, tagString)
	e.appendString(s)
}

func (e *encoder) writeBytes(b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return unserializable("byte slice of %d bytes exceeds the maximum length", len(b))
	}
	e.buf.B = append(e.buf.B, tagBytes)
	e.buf.B = binary.BigEndian.AppendUint32(e.buf.B, uint32(len(b)))
	e.buf.B = append(e.buf.B, b...)
	return nil
}

// encodeValue handles the common concrete types directly and falls back to
// reflection for everything else
func (e *encoder) encodeValue(v any) error {
	switch x := v.(type) {
	case nil:
		e.buf.B = append(e.buf.B, tagNil)
	case bool:
		e.writeBool(x)
	case int:
		e.writeInt(int64(x))
	case int8:
		e.writeInt(int64(x))
	case int16:
		e.writeInt(int64(x))
	case int32:
		e.writeInt(int64(x))
	case int64:
		e.writeInt(x)
	case uint:
		e.writeUint(uint64(x))
	case uint8:
		e.writeUint(uint64(x))
	case uint16:
		e.writeUint(uint64(x))
	case uint32:
		e.writeUint(uint64(x))
	case uint64:
		e.writeUint(x)
	case float32:
		e.writeFloat(float64(x))
	case float64:
		e.writeFloat(x)
	case string:
		e.writeString(x)
	case []byte:
		return e.writeBytes(x)
	default:
		return e.encodeReflect(reflect.ValueOf(v))
	}
	return nil
}

func (e *encoder) encodeReflect(rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Invalid:
		e.buf.B = append(e.buf.B, tagNil)
	case reflect.Bool:
		e.writeBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.writeInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.writeUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		e.writeFloat(rv.Float())
	case reflect.String:
		e.writeString(rv.String())
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return e.writeBytes(rv.Bytes())
		}
		return e.encodeSeq(rv)
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return e.writeBytes(b)
		}
		return e.encodeSeq(rv)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return unserializable("unsupported map key type %s", rv.Type().Key())
		}
		return e.encodeMap(rv)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			e.buf.B = append(e.buf.B, tagNil)
			return nil
		}
		if e.depth >= MaxDepth {
			return unserializable("value nesting exceeds max depth %d", MaxDepth)
		}
		e.depth++
		err := e.encodeReflect(rv.Elem())
		e.depth--
		return err
	default:
		return unserializable("unsupported type %s", rv.Type())
	}
	return nil
}

// enter registers a list or record before its elements are encoded. It fails
// when the value is already on the current path or the depth limit is hit.
func (e *encoder) enter(rv reflect.Value) error {
	if e.depth >= MaxDepth {
		return unserializable("value nesting exceeds max depth %d", MaxDepth)
	}
	if rv.Kind() != reflect.Array && rv.Len() > 0 {
		key := visitKey{ptr: rv.Pointer(), len: rv.Len(), kind: rv.Kind()}
		if _, ok := e.visiting[key]; ok {
			return unserializable("circular reference detected (%s)", rv.Type())
		}
		if e.visiting == nil {
			e.visiting = make(map[visitKey]struct{})
		}
		e.visiting[key] = struct{}{}
	}
	e.depth++
	return nil
}

func (e *encoder) leave(rv reflect.Value) {
	e.depth--
	if rv.Kind() != reflect.Array && rv.Len() > 0 {
		delete(e.visiting, visitKey{ptr: rv.Pointer(), len: rv.Len(), kind: rv.Kind()})
	}
}

func (e *encoder) encodeSeq(rv reflect.Value) error {
	if err := e.enter(rv); err != nil {
		return err
	}
	defer e.leave(rv)

	n := rv.Len()
	e.buf.B = append(e.buf.B, tagList)
	e.buf.B = binary.AppendUvarint(e.buf.B, uint64(n))
	for i := 0; i < n; i++ {
		if err := e.encodeValue(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) encodeMap(rv reflect.Value) error {
	if err := e.enter(rv); err != nil {
		return err
	}
	defer e.leave(rv)

	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})

	e.buf.B = append(e.buf.B, tagRecord)
	e.buf.B = binary.AppendUvarint(e.buf.B, uint64(len(keys)))
	for _, k := range keys {
		e.appendString(k.String())
		if err := e.encodeValue(rv.MapIndex(k).Interface()); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Decoder
// --------------------------------------------------------------------------

// decoder reads from data without retaining it: every string and byte slice
// it returns is a copy.
type decoder struct {
	data  []byte
	pos   int
	depth int
}

func (d *decoder) remaining() int {
	return len(d.data) - d.pos
}

func (d *decoder) byte() (byte, error) {
	if d.remaining() < 1 {
		return 0, malformed("unexpected end of data at offset %d", d.pos)
	}
	v := d.data[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) uint32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, malformed("unexpected end of data at offset %d", d.pos)
	}
	v := binary.BigEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		return 0, malformed("invalid uvarint at offset %d", d.pos)
	}
	d.pos += n
	return v, nil
}

func (d *decoder) varint() (int64, error) {
	v, n := binary.Varint(d.data[d.pos:])
	if n <= 0 {
		return 0, malformed("invalid varint at offset %d", d.pos)
	}
	d.pos += n
	return v, nil
}

// take returns the next n bytes. The result aliases data.
func (d *decoder) take(n uint64) ([]byte, error) {
	if n > uint64(d.remaining()) {
		return nil, malformed("length %d exceeds remaining %d bytes at offset %d", n, d.remaining(), d.pos)
	}
	v := d.data[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return v, nil
}

func (d *decoder) string() (string, error) {
	n, err := d.uvarint()
	if err != nil {
		return "", err
	}
	b, err := d.take(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) done() error {
	if d.remaining() != 0 {
		return malformed("%d trailing bytes", d.remaining())
	}
	return nil
}

func (d *decoder) value() (any, error) {
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagNil:
		return nil, nil
	case tagFalse:
		return false, nil
	case tagTrue:
		return true, nil
	case tagInt:
		return d.varint()
	case tagUint:
		return d.uvarint()
	case tagFloat:
		b, err := d.take(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case tagString:
		return d.string()
	case tagBytes:
		n, err := d.uint32()
		if err != nil {
			return nil, err
		}
		b, err := d.take(uint64(n))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case tagList:
		return d.list()
	case tagRecord:
		return d.record()
	default:
		return nil, malformed("unknown value tag 0x%02x at offset %d", tag, d.pos-1)
	}
}

// list decodes a list body, the tag has already been read
func (d *decoder) list() ([]any, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	// every element needs at least its tag byte
	if n > uint64(d.remaining()) {
		return nil, malformed("list of %d elements exceeds remaining %d bytes", n, d.remaining())
	}
	if d.depth >= MaxDepth {
		return nil, malformed("value nesting exceeds max depth %d", MaxDepth)
	}
	d.depth++
	defer func() { d.depth-- }()

	list := make([]any, n)
	for i := range list {
		if list[i], err = d.value(); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// record decodes a record body, the tag has already been read
func (d *decoder) record() (map[string]any, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	// every entry needs at least a key length and a value tag
	if n > uint64(d.remaining())/2 {
		return nil, malformed("record of %d entries exceeds remaining %d bytes", n, d.remaining())
	}
	if d.depth >= MaxDepth {
		return nil, malformed("value nesting exceeds max depth %d", MaxDepth)
	}
	d.depth++
	defer func() { d.depth-- }()

	rec := make(map[string]any, n)
	for i := uint64(0); i < n; i++ {
		key, err := d.string()
		if err != nil {
			return nil, err
		}
		if rec[key], err = d.value(); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

package codec

import (
	"bytes"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

// Msgpack uses vmihailenco/msgpack. JSONTags makes it honor `json` struct tags
// so result types tagged for JSON need no second set of tags.
type Msgpack[V any] struct {
	JSONTags bool
}

func (c Msgpack[V]) Encode(v V) ([]byte, error) {
	if !c.JSONTags {
		return msgpack.Marshal(v)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	if !c.JSONTags {
		err := msgpack.Unmarshal(b, &v)
		return v, err
	}
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	err := dec.Decode(&v)
	return v, err
}

// CBOR uses fxamacker/cbor. Build it with NewCBOR; the zero value has no modes.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR returns a CBOR codec. deterministic picks core deterministic
// encoding (sorted map keys), which keeps equal results byte-equal across
// processes. Times are written as RFC3339Nano.
func NewCBOR[V any](deterministic bool) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

// MustCBOR panics where NewCBOR would fail. For package-level vars.
func MustCBOR[V any](deterministic bool) CBOR[V] {
	c, err := NewCBOR[V](deterministic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	err := c.dec.Unmarshal(b, &v)
	return v, err
}

// Protobuf handles generated messages; newMsg returns an empty message to
// decode into, e.g. func() *pb.OrderPage { return new(pb.OrderPage) }.
type Protobuf[M proto.Message] struct {
	newMsg func() M
}

func NewProtobuf[M proto.Message](newMsg func() M) Protobuf[M] {
	return Protobuf[M]{newMsg: newMsg}
}

func (c Protobuf[M]) Encode(m M) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

func (c Protobuf[M]) Decode(b []byte) (M, error) {
	m := c.newMsg()
	return m, proto.Unmarshal(b, m)
}

package codec

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/types/known/structpb"
)

type page struct {
	IDs    []int  `json:"ids" msgpack:"ids" cbor:"ids"`
	Cursor string `json:"cursor" msgpack:"cursor" cbor:"cursor"`
}

func TestStructCodecs(t *testing.T) {
	in := page{IDs: []int{7, 9}, Cursor: "c1"}
	codecs := map[string]Codec[page]{
		"json":              JSON[page]{},
		"msgpack":           Msgpack[page]{},
		"msgpack-json-tags": Msgpack[page]{JSONTags: true},
		"cbor":              MustCBOR[page](true),
	}
	for name, c := range codecs {
		b, err := c.Encode(in)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		out, err := c.Decode(b)
		if err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Fatalf("%s mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestProtobufCodec(t *testing.T) {
	c := NewProtobuf(func() *structpb.Value { return &structpb.Value{} })
	b, err := c.Encode(structpb.NewStringValue("paid"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	v, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.GetStringValue() != "paid" {
		t.Fatalf("got %v", v)
	}
}

func TestLimitRejectsOversized(t *testing.T) {
	c := Limit[string]{Inner: String{}, Max: 4}
	if _, err := c.Decode([]byte("12345")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected size error, got %v", err)
	}
	if v, err := c.Decode([]byte("1234")); err != nil || v != "1234" {
		t.Fatalf("within limit: v=%q err=%v", v, err)
	}
}

func TestStrictJSONRejectsUnknownFields(t *testing.T) {
	raw := []byte(`{"ids":[1],"cursor":"c","extra":true}`)
	if _, err := (JSON[page]{}).Decode(raw); err != nil {
		t.Fatalf("lenient decode: %v", err)
	}
	if _, err := (JSON[page]{Strict: true}).Decode(raw); err == nil {
		t.Fatalf("strict decode should reject unknown fields")
	}
}

func TestMsgpackJSONTagsUseJSONNames(t *testing.T) {
	type tagged struct {
		OrderIDs []int `json:"ids"`
	}
	b, err := Msgpack[tagged]{JSONTags: true}.Encode(tagged{OrderIDs: []int{1}})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := msgpack.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["ids"]; !ok {
		t.Fatalf("expected json field name, got %v", m)
	}
}

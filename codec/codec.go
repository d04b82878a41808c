// Package codec turns cached query results into bytes and back.
// ResultCache frames whatever a codec produces, so codecs never see the
// envelope and need no version bytes of their own.
package codec

import (
	"bytes"
	"encoding/json"
)

// Codec encodes values V for the shared store.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Bytes passes []byte results through untouched.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }

// String stores strings as their raw bytes.
type String struct{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }

// JSON uses encoding/json. With Strict set, objects carrying fields V does not
// know fail to decode; a result cached by an older build then reads as a miss
// instead of a half-filled value.
type JSON[V any] struct {
	Strict bool
}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (c JSON[V]) Decode(b []byte) (V, error) {
	var v V
	if !c.Strict {
		err := json.Unmarshal(b, &v)
		return v, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	err := dec.Decode(&v)
	return v, err
}

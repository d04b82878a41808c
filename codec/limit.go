package codec

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned by Limit for payloads over its cap.
var ErrTooLarge = errors.New("codec: payload too large")

// Limit caps the payload size Inner is asked to decode. Any process can write
// to the shared store; an oversized entry decodes as an error and the cache
// drops it. Max <= 0 means no cap. Encoding is never limited.
type Limit[V any] struct {
	Inner Codec[V]
	Max   int
}

func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.Max > 0 && len(b) > c.Max {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(b), c.Max)
	}
	return c.Inner.Decode(b)
}

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version   byte = 1
	kindEntry byte = 1
	hdrLen         = 4 + 1 + 1 + 4
)

var (
	ErrCorrupt = errors.New("conjcache: corrupt entry")
	magic4     = [...]byte{'C', 'O', 'N', 'J'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry: magic(4) | ver(1) | kind(1=entry) | vlen(u32 be) | payload(vlen)
func EncodeEntry(payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeEntry is strict: foreign bytes, truncation and trailing bytes are all
// ErrCorrupt.
func DecodeEntry(b []byte) ([]byte, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return nil, ErrCorrupt
	}
	vlen := uint64(binary.BigEndian.Uint32(b[6:10]))
	if vlen != uint64(len(b)-hdrLen) {
		return nil, ErrCorrupt
	}
	return b[hdrLen:], nil
}

package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const msgpackVersion uint8 = 0x81

// MsgPack is the binary layout: one version byte followed by a msgpack document.
// msgpack length-prefixes every str/bin field, so payloads are never scanned for delimiters.
type MsgPack[T any] struct{}

func (MsgPack[T]) Name() string   { return "msgpack" }
func (MsgPack[T]) Version() uint8 { return msgpackVersion }

func (MsgPack[T]) Encode(v T) ([]byte, error) {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, msgpackVersion)
	return append(out, body...), nil
}

func (MsgPack[T]) Decode(b []byte) (T, error) {
	var out T
	if len(b) < 2 {
		return out, fmt.Errorf("msgpack decode: short input (%d bytes)", len(b))
	}
	if b[0] != msgpackVersion {
		return out, fmt.Errorf("msgpack decode: %w: got 0x%02x", ErrVersionMismatch, b[0])
	}
	if err := msgpack.Unmarshal(b[1:], &out); err != nil {
		return out, fmt.Errorf("msgpack decode: %w", err)
	}
	return out, nil
}

// Package codec turns typed values into the opaque bytes carried by envelopes and partial results.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

// Codec encodes and decodes one payload type. Version identifies the wire layout so
// control components and the orchestrator can be rolled independently.
type Codec[T any] interface {
	Name() string
	Version() uint8
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

var ErrUnknownCodec = errors.New("unknown codec")

// ErrVersionMismatch is returned by binary codecs when the header byte is not theirs.
var ErrVersionMismatch = errors.New("codec version mismatch")

// ByName resolves "json", "msgpack" (alias "binary") and an optional "+zstd" suffix.
func ByName[T any](name string) (Codec[T], error) {
	name = strings.ToLower(strings.TrimSpace(name))
	compress := false
	if base, ok := strings.CutSuffix(name, "+zstd"); ok {
		name, compress = base, true
	}
	var c Codec[T]
	switch name {
	case "", "json":
		c = JSON[T]{}
	case "msgpack", "binary":
		c = MsgPack[T]{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	if compress {
		z, err := NewZstd(c)
		if err != nil {
			return nil, err
		}
		return z, nil
	}
	return c, nil
}

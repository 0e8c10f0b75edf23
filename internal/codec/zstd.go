package codec

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Zstd compresses the output of an inner codec. Uncompressed input is passed through
// on decode so senders can enable compression one at a time.
type Zstd[T any] struct {
	inner Codec[T]
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

func NewZstd[T any](inner Codec[T]) (*Zstd[T], error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &Zstd[T]{inner: inner, enc: enc, dec: dec}, nil
}

func (z *Zstd[T]) Name() string   { return z.inner.Name() + "+zstd" }
func (z *Zstd[T]) Version() uint8 { return z.inner.Version() }

func (z *Zstd[T]) Encode(v T) ([]byte, error) {
	raw, err := z.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (z *Zstd[T]) Decode(b []byte) (T, error) {
	if !bytes.HasPrefix(b, zstdMagic) {
		return z.inner.Decode(b)
	}
	raw, err := z.dec.DecodeAll(b, nil)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("zstd decode: %w", err)
	}
	return z.inner.Decode(raw)
}

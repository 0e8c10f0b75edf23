package codec

import (
	"fmt"

	"github.com/bytedance/sonic"
)

const jsonVersion uint8 = 1

// JSON encodes with sonic using the standard-library compatible configuration,
// so []byte fields travel as base64 strings.
type JSON[T any] struct{}

func (JSON[T]) Name() string   { return "json" }
func (JSON[T]) Version() uint8 { return jsonVersion }

func (JSON[T]) Encode(v T) ([]byte, error) {
	b, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return b, nil
}

func (JSON[T]) Decode(b []byte) (T, error) {
	var out T
	if len(b) == 0 {
		return out, fmt.Errorf("json decode: empty input")
	}
	if err := sonic.ConfigStd.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("json decode: %w", err)
	}
	return out, nil
}

package codec

// Raw is the identity codec for callers that keep payloads opaque.
type Raw struct{}

func (Raw) Name() string   { return "raw" }
func (Raw) Version() uint8 { return 0 }

func (Raw) Encode(v []byte) ([]byte, error) {
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (Raw) Decode(b []byte) ([]byte, error) {
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

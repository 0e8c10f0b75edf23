package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/domain/contributions"
)

func sampleEnvelope() contributions.Envelope {
	return contributions.Envelope{
		CorrelationID: uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		TrackingID:    "trk-42",
		Payload:       bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 64),
	}
}

func TestEnvelopeCodecsPreserveFields(t *testing.T) {
	for _, name := range []string{"json", "msgpack", "json+zstd", "binary+zstd"} {
		t.Run(name, func(t *testing.T) {
			c, err := ByName[contributions.Envelope](name)
			if err != nil {
				t.Fatalf("ByName(%q): %v", name, err)
			}
			in := sampleEnvelope()
			raw, err := c.Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			out, err := c.Decode(raw)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(in, out); diff != "" {
				t.Fatalf("envelope mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestJSONWireShape(t *testing.T) {
	raw, err := JSON[contributions.Envelope]{}.Encode(contributions.Envelope{
		CorrelationID: uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		TrackingID:    "t",
		Payload:       []byte("hi"),
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"correlationId":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","trackingId":"t","payload":"aGk="}`
	if string(raw) != want {
		t.Fatalf("wire: want=%s got=%s", want, raw)
	}
}

func TestMsgPackRejectsForeignVersion(t *testing.T) {
	raw, err := MsgPack[contributions.Envelope]{}.Encode(sampleEnvelope())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw[0] = 0x01
	if _, err := (MsgPack[contributions.Envelope]{}).Decode(raw); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("want ErrVersionMismatch, got %v", err)
	}
	if _, err := (MsgPack[contributions.Envelope]{}).Decode([]byte{msgpackVersion}); err == nil {
		t.Fatalf("short input should fail")
	}
}

func TestZstdAcceptsUncompressedInput(t *testing.T) {
	z, err := NewZstd[contributions.Envelope](JSON[contributions.Envelope]{})
	if err != nil {
		t.Fatalf("NewZstd: %v", err)
	}
	plain, _ := JSON[contributions.Envelope]{}.Encode(sampleEnvelope())
	out, err := z.Decode(plain)
	if err != nil {
		t.Fatalf("Decode plain: %v", err)
	}
	if out.TrackingID != "trk-42" {
		t.Fatalf("trackingId: got=%q", out.TrackingID)
	}
	compressed, _ := z.Encode(sampleEnvelope())
	if len(compressed) >= len(plain) {
		t.Fatalf("expected compression: plain=%d compressed=%d", len(plain), len(compressed))
	}
}

func TestJSONDecodeGarbage(t *testing.T) {
	if _, err := (JSON[contributions.Envelope]{}).Decode([]byte("{not json")); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := (JSON[contributions.Envelope]{}).Decode(nil); err == nil {
		t.Fatalf("expected error on empty input")
	}
}

func TestByNameUnknown(t *testing.T) {
	if _, err := ByName[[]byte]("protobuf"); !errors.Is(err, ErrUnknownCodec) {
		t.Fatalf("want ErrUnknownCodec, got %v", err)
	}
}

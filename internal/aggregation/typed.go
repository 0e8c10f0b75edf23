package aggregation

import (
	"context"
	"fmt"

	"github.com/yungbote/threshold-orchestrator/internal/codec"
)

// Typed adapts an Orchestrator to domain request and response types.
type Typed[Req, Res any] struct {
	o   *Orchestrator
	req codec.Codec[Req]
	res codec.Codec[Res]
}

func NewTyped[Req, Res any](o *Orchestrator, req codec.Codec[Req], res codec.Codec[Res]) *Typed[Req, Res] {
	return &Typed[Req, Res]{o: o, req: req, res: res}
}

func (t *Typed[Req, Res]) Request(ctx context.Context, trackingID string, in Req) ([]Res, error) {
	payload, err := t.req.Encode(in)
	if err != nil {
		return nil, requestFailed(fmt.Errorf("encode request: %w", err))
	}
	raw, err := t.o.Request(ctx, trackingID, payload)
	if err != nil {
		return nil, err
	}
	out := make([]Res, 0, len(raw))
	for i, p := range raw {
		v, err := t.res.Decode(p)
		if err != nil {
			return nil, requestFailed(&MalformedMessageError{Reason: fmt.Sprintf("decode contribution %d", i), Err: err})
		}
		out = append(out, v)
	}
	return out, nil
}

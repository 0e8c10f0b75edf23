package aggregation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/codec"
	"github.com/yungbote/threshold-orchestrator/internal/domain"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
	"github.com/yungbote/threshold-orchestrator/internal/transport"
)

var envelopeCodec = codec.JSON[domain.Envelope]{}

func encodeEnvelope(t *testing.T, id uuid.UUID, payload string) []byte {
	t.Helper()
	raw, err := envelopeCodec.Encode(domain.Envelope{CorrelationID: id, TrackingID: "trk", Payload: []byte(payload)})
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return raw
}

func newTestListener(t *testing.T, repo Repository, n Notifier, sink AggregateSink, expected int) *ContributionsListener {
	t.Helper()
	log := logger.Nop()
	det, err := NewReadyDetector(log, repo, expected)
	if err != nil {
		t.Fatalf("NewReadyDetector: %v", err)
	}
	l, err := NewContributionsListener(domain.OperationChoiceCodesDecryption, ListenerDeps{
		Log:      log,
		Codec:    envelopeCodec,
		Repo:     repo,
		Detector: det,
		Notifier: n,
		Sink:     sink,
	})
	if err != nil {
		t.Fatalf("NewContributionsListener: %v", err)
	}
	return l
}

// fakeNode answers every request it consumes with a node-tagged contribution.
type fakeNode struct {
	name    string
	tr      transport.Transport
	replyTo string
	silent  atomic.Bool
	dupes   int
}

func (n *fakeNode) HandleMessage(ctx context.Context, msg []byte) {
	if n.silent.Load() {
		return
	}
	env, err := envelopeCodec.Decode(msg)
	if err != nil {
		return
	}
	env.Payload = append([]byte(n.name+":"), env.Payload...)
	raw, err := envelopeCodec.Encode(env)
	if err != nil {
		return
	}
	for i := 0; i <= n.dupes; i++ {
		_ = n.tr.Send(ctx, n.replyTo, raw)
	}
}

// flakyTransport rejects sends to the listed destinations.
type flakyTransport struct {
	transport.Transport
	mu     sync.Mutex
	reject map[string]bool
	sent   map[string]int
}

var errQueueDown = errors.New("queue unavailable")

func newFlakyTransport(inner transport.Transport, reject ...string) *flakyTransport {
	f := &flakyTransport{Transport: inner, reject: map[string]bool{}, sent: map[string]int{}}
	for _, d := range reject {
		f.reject[d] = true
	}
	return f
}

func (f *flakyTransport) Send(ctx context.Context, destination string, msg []byte) error {
	f.mu.Lock()
	rejected := f.reject[destination]
	if !rejected {
		f.sent[destination]++
	}
	f.mu.Unlock()
	if rejected {
		return errQueueDown
	}
	return f.Transport.Send(ctx, destination, msg)
}

type recordingSink struct {
	mu    sync.Mutex
	calls map[uuid.UUID][]domain.PartialResult
}

func newRecordingSink() *recordingSink {
	return &recordingSink{calls: map[uuid.UUID][]domain.PartialResult{}}
}

func (s *recordingSink) Accept(_ context.Context, _ domain.OperationType, id uuid.UUID, partials []domain.PartialResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[id] = partials
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type countingNotifier struct {
	*Hub
	published atomic.Int32
}

func (c *countingNotifier) Publish(ctx context.Context, ev domain.ResultsReadyEvent) error {
	c.published.Add(1)
	return c.Hub.Publish(ctx, ev)
}

func eventually(t *testing.T, within time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(within)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s: %s", within, msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

package aggregation

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/codec"
	"github.com/yungbote/threshold-orchestrator/internal/domain"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
	"github.com/yungbote/threshold-orchestrator/internal/transport"
)

// Notifier wakes waiters once a correlation id became ready. Delivery is best effort;
// waiters always keep a polling fallback.
type Notifier interface {
	Publish(ctx context.Context, ev domain.ResultsReadyEvent) error
	// Subscribe returns a channel that receives at most one wake-up per Publish for id.
	// The returned func releases the subscription and must always be called.
	Subscribe(id uuid.UUID) (<-chan struct{}, func())
}

type hubSub struct {
	ch chan struct{}
}

// Hub is the in-process Notifier.
type Hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[*hubSub]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[*hubSub]struct{})}
}

func (h *Hub) Publish(_ context.Context, ev domain.ResultsReadyEvent) error {
	h.Notify(ev.CorrelationID)
	return nil
}

// Notify wakes every local subscriber of id without blocking.
func (h *Hub) Notify(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[id] {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

func (h *Hub) Subscribe(id uuid.UUID) (<-chan struct{}, func()) {
	s := &hubSub{ch: make(chan struct{}, 1)}
	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[*hubSub]struct{})
	}
	h.subs[id][s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[id], s)
			if len(h.subs[id]) == 0 {
				delete(h.subs, id)
			}
		})
	}
}

// Subscribers reports how many ids currently have waiters.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// TopicNotifier broadcasts ready events over a transport topic so waiters on every
// instance wake up. Received events, including our own, are fanned out to a local Hub.
type TopicNotifier struct {
	log   *logger.Logger
	topic transport.Topic
	name  string
	codec codec.Codec[domain.ResultsReadyEvent]
	hub   *Hub
}

func NewTopicNotifier(log *logger.Logger, topic transport.Topic, name string) (*TopicNotifier, error) {
	if topic == nil {
		return nil, fmt.Errorf("topic required")
	}
	if name == "" {
		return nil, fmt.Errorf("topic name required")
	}
	return &TopicNotifier{
		log:   log.With("component", "TopicNotifier", "topic", name),
		topic: topic,
		name:  name,
		codec: codec.JSON[domain.ResultsReadyEvent]{},
		hub:   NewHub(),
	}, nil
}

// Start attaches the forwarder; it runs until ctx is done.
func (n *TopicNotifier) Start(ctx context.Context) error {
	return n.topic.StartForwarder(ctx, n.name, func(msg []byte) {
		ev, err := n.codec.Decode(msg)
		if err != nil {
			n.log.Warn("bad ready event payload", "error", err)
			return
		}
		n.hub.Notify(ev.CorrelationID)
	})
}

func (n *TopicNotifier) Publish(ctx context.Context, ev domain.ResultsReadyEvent) error {
	raw, err := n.codec.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode ready event: %w", err)
	}
	if err := n.topic.Publish(ctx, n.name, raw); err != nil {
		// local waiters can still be woken even if the broker is unreachable
		n.hub.Notify(ev.CorrelationID)
		return fmt.Errorf("publish ready event: %w", err)
	}
	return nil
}

func (n *TopicNotifier) Subscribe(id uuid.UUID) (<-chan struct{}, func()) {
	return n.hub.Subscribe(id)
}

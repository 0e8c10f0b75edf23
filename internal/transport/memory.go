package transport

import (
	"context"
	"sync"

	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

const defaultMemoryQueueDepth = 1024

// Memory is an in-process transport for single-instance deployments and tests.
type Memory struct {
	log       *logger.Logger
	depth     int
	mu        sync.Mutex
	closed    bool
	queues    map[string]chan []byte
	topics    map[string]map[*memoryTopicSub]struct{}
	consumers *consumers
}

type memoryTopicSub struct {
	onMsg func([]byte)
}

func NewMemory(log *logger.Logger) *Memory {
	return &Memory{
		log:       log.With("component", "MemoryTransport"),
		depth:     defaultMemoryQueueDepth,
		queues:    make(map[string]chan []byte),
		topics:    make(map[string]map[*memoryTopicSub]struct{}),
		consumers: newConsumers(),
	}
}

func (m *Memory) queue(destination string) (chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	q, ok := m.queues[destination]
	if !ok {
		q = make(chan []byte, m.depth)
		m.queues[destination] = q
	}
	return q, nil
}

func (m *Memory) Send(ctx context.Context, destination string, msg []byte) error {
	q, err := m.queue(destination)
	if err != nil {
		return err
	}
	cp := make([]byte, len(msg))
	copy(cp, msg)
	select {
	case q <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Subscribe(destination string, h Handler) error {
	q, err := m.queue(destination)
	if err != nil {
		return err
	}
	return m.consumers.start(destination, h, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-q:
				dispatch(ctx, m.log, destination, h, msg)
			}
		}
	})
}

func (m *Memory) Unsubscribe(destination string, h Handler) error {
	return m.consumers.stop(destination, h)
}

func (m *Memory) Publish(ctx context.Context, topic string, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	subs := make([]*memoryTopicSub, 0, len(m.topics[topic]))
	for s := range m.topics[topic] {
		subs = append(subs, s)
	}
	m.mu.Unlock()
	for _, s := range subs {
		cp := make([]byte, len(msg))
		copy(cp, msg)
		s.onMsg(cp)
	}
	return nil
}

func (m *Memory) StartForwarder(ctx context.Context, topic string, onMsg func(msg []byte)) error {
	sub := &memoryTopicSub{onMsg: onMsg}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.topics[topic] == nil {
		m.topics[topic] = make(map[*memoryTopicSub]struct{})
	}
	m.topics[topic][sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.topics[topic], sub)
		if len(m.topics[topic]) == 0 {
			delete(m.topics, topic)
		}
		m.mu.Unlock()
	}()
	return nil
}

// Depth reports how many messages wait on a destination; used by tests and the node simulator.
func (m *Memory) Depth(destination string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[destination])
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.topics = make(map[string]map[*memoryTopicSub]struct{})
	m.mu.Unlock()
	m.consumers.stopAll()
	return nil
}

func (m *Memory) QueueDepth(_ context.Context, destination string) (int, error) {
	return m.Depth(destination), nil
}

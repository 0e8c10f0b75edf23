package transport

import (
	"context"
	"sync"

	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

type subKey struct {
	destination string
	handler     Handler
}

// consumers tracks one receive loop per (destination, handler) pair.
type consumers struct {
	mu    sync.Mutex
	loops map[subKey]*consumerLoop
}

type consumerLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newConsumers() *consumers {
	return &consumers{loops: make(map[subKey]*consumerLoop)}
}

func (c *consumers) start(destination string, h Handler, run func(ctx context.Context)) error {
	key := subKey{destination: destination, handler: h}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.loops[key]; exists {
		return ErrAlreadyAttached
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := &consumerLoop{cancel: cancel, done: make(chan struct{})}
	c.loops[key] = loop
	go func() {
		defer close(loop.done)
		run(ctx)
	}()
	return nil
}

func (c *consumers) stop(destination string, h Handler) error {
	key := subKey{destination: destination, handler: h}
	c.mu.Lock()
	loop, ok := c.loops[key]
	delete(c.loops, key)
	c.mu.Unlock()
	if !ok {
		return ErrNotAttached
	}
	loop.cancel()
	<-loop.done
	return nil
}

func (c *consumers) stopAll() {
	c.mu.Lock()
	loops := c.loops
	c.loops = make(map[subKey]*consumerLoop)
	c.mu.Unlock()
	for _, loop := range loops {
		loop.cancel()
	}
	for _, loop := range loops {
		<-loop.done
	}
}

// dispatch shields the receive loop from a panicking handler.
func dispatch(ctx context.Context, log *logger.Logger, destination string, h Handler, msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("message handler panic", "destination", destination, "panic", r)
		}
	}()
	h.HandleMessage(ctx, msg)
}

// Package transport moves envelopes between the orchestrator and control-component nodes.
//
// Queues are point-to-point: a message sent to a destination is handled by exactly one
// subscriber of that destination. Topics are broadcast: every forwarder started on a
// topic receives every message published after it started. Neither offers ordering or
// delivery guarantees beyond "eventually or never".
package transport

import (
	"context"
	"errors"
)

var (
	ErrClosed          = errors.New("transport closed")
	ErrAlreadyAttached = errors.New("handler already subscribed to destination")
	ErrNotAttached     = errors.New("handler not subscribed to destination")
)

// Handler consumes one raw message. Implementations must be comparable (pointer
// receivers) so the same handler can later be unsubscribed.
type Handler interface {
	HandleMessage(ctx context.Context, msg []byte)
}

type Transport interface {
	Send(ctx context.Context, destination string, msg []byte) error
	Subscribe(destination string, h Handler) error
	Unsubscribe(destination string, h Handler) error
	Close() error
}

// Topic is the broadcast primitive used for ready notifications.
type Topic interface {
	Publish(ctx context.Context, topic string, msg []byte) error
	// StartForwarder delivers every message on topic to onMsg until ctx is done.
	// It returns once the subscription is established.
	StartForwarder(ctx context.Context, topic string, onMsg func(msg []byte)) error
}

// DepthReporter is implemented by transports that can report queue backlog.
type DepthReporter interface {
	QueueDepth(ctx context.Context, destination string) (int, error)
}

// Package ccnode simulates a control-component node: it consumes request envelopes
// and answers each one with a contribution on the paired response queue. It backs
// local runs and end-to-end tests; real nodes perform the cryptography.
package ccnode

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yungbote/threshold-orchestrator/internal/codec"
	"github.com/yungbote/threshold-orchestrator/internal/domain"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
	"github.com/yungbote/threshold-orchestrator/internal/transport"
)

// ComputeFunc produces the node's contribution for one request.
type ComputeFunc func(ctx context.Context, nodeID string, op domain.OperationType, env domain.Envelope) ([]byte, error)

type Route struct {
	Operation domain.OperationType
	Request   string
	Response  string
}

type Config struct {
	NodeID string
	Codec  codec.Codec[domain.Envelope]
	// Delay and Jitter shape the simulated compute time.
	Delay   time.Duration
	Jitter  time.Duration
	Compute ComputeFunc
}

type Node struct {
	log *logger.Logger
	tr  transport.Transport
	cfg Config

	mu       sync.Mutex
	handlers []*routeHandler

	handled atomic.Int64
	failed  atomic.Int64
}

func New(log *logger.Logger, tr transport.Transport, cfg Config) (*Node, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if tr == nil {
		return nil, fmt.Errorf("transport required")
	}
	cfg.NodeID = strings.TrimSpace(cfg.NodeID)
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("node id required")
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON[domain.Envelope]{}
	}
	if cfg.Compute == nil {
		cfg.Compute = TaggedDigest
	}
	return &Node{
		log: log.With("service", "ControlComponentNode", "node_id", cfg.NodeID),
		tr:  tr,
		cfg: cfg,
	}, nil
}

// Serve subscribes the node to every route's request queue.
func (n *Node) Serve(routes ...Route) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, r := range routes {
		h := &routeHandler{node: n, route: r}
		if err := n.tr.Subscribe(r.Request, h); err != nil {
			n.stopLocked()
			return fmt.Errorf("subscribe %s: %w", r.Request, err)
		}
		n.handlers = append(n.handlers, h)
		n.log.Info("Serving route", "operation", r.Operation, "request_queue", r.Request, "response_queue", r.Response)
	}
	return nil
}

func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopLocked()
}

func (n *Node) stopLocked() {
	for _, h := range n.handlers {
		if err := n.tr.Unsubscribe(h.route.Request, h); err != nil {
			n.log.Warn("unsubscribe failed", "request_queue", h.route.Request, "error", err)
		}
	}
	n.handlers = nil
}

// Handled counts requests answered so far.
func (n *Node) Handled() int64 { return n.handled.Load() }

func (n *Node) Failed() int64 { return n.failed.Load() }

type routeHandler struct {
	node  *Node
	route Route
}

func (h *routeHandler) HandleMessage(ctx context.Context, msg []byte) {
	n := h.node
	env, err := n.cfg.Codec.Decode(msg)
	if err != nil {
		n.failed.Add(1)
		n.log.Warn("dropping undecodable request", "request_queue", h.route.Request, "error", err)
		return
	}
	if d := n.computeTime(); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	out, err := n.cfg.Compute(ctx, n.cfg.NodeID, h.route.Operation, env)
	if err != nil {
		n.failed.Add(1)
		n.log.Warn("compute failed", "correlation_id", env.CorrelationID, "error", err)
		return
	}
	raw, err := n.cfg.Codec.Encode(domain.Envelope{
		CorrelationID: env.CorrelationID,
		TrackingID:    env.TrackingID,
		Payload:       out,
	})
	if err != nil {
		n.failed.Add(1)
		n.log.Error("encode reply failed", "correlation_id", env.CorrelationID, "error", err)
		return
	}
	if err := n.tr.Send(ctx, h.route.Response, raw); err != nil {
		n.failed.Add(1)
		n.log.Warn("reply failed", "response_queue", h.route.Response, "correlation_id", env.CorrelationID, "error", err)
		return
	}
	n.handled.Add(1)
	n.log.Debug("replied", "correlation_id", env.CorrelationID, "tracking_id", env.TrackingID)
}

func (n *Node) computeTime() time.Duration {
	d := n.cfg.Delay
	if n.cfg.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(n.cfg.Jitter)))
	}
	return d
}

// TaggedDigest answers with "<node>:" followed by SHA-256(op | payload). It is
// deterministic per node so tests can predict every contribution.
func TaggedDigest(_ context.Context, nodeID string, op domain.OperationType, env domain.Envelope) ([]byte, error) {
	h := sha256.New()
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write(env.Payload)
	return append([]byte(nodeID+":"), h.Sum(nil)...), nil
}

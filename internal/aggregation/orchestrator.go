package aggregation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/threshold-orchestrator/internal/codec"
	"github.com/yungbote/threshold-orchestrator/internal/domain"
	"github.com/yungbote/threshold-orchestrator/internal/platform/ctxutil"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
	"github.com/yungbote/threshold-orchestrator/internal/transport"
)

const tracerName = "github.com/yungbote/threshold-orchestrator/internal/aggregation"

// Config parameterises one operation type. Every operation runs the same scatter-gather.
type Config struct {
	Operation         domain.OperationType
	ExpectedNodeCount int
	PollingTimeout    time.Duration
	InterPollDelay    time.Duration
	RequestQueues     []string
	ResponseQueues    []string
	// Async operations store their aggregate through a SubmissionStore instead of
	// returning it to a blocked caller.
	Async bool
}

func (c Config) Validate() error {
	if !c.Operation.Valid() {
		return fmt.Errorf("unknown operation %q", c.Operation)
	}
	if c.ExpectedNodeCount < 1 {
		return fmt.Errorf("%s: expected_node_count must be positive", c.Operation)
	}
	if c.PollingTimeout <= 0 {
		return fmt.Errorf("%s: polling_timeout must be positive", c.Operation)
	}
	if c.InterPollDelay <= 0 || c.InterPollDelay > c.PollingTimeout {
		return fmt.Errorf("%s: inter_poll_delay must be in (0, polling_timeout]", c.Operation)
	}
	if len(c.RequestQueues) == 0 {
		return fmt.Errorf("%s: no request queues", c.Operation)
	}
	if len(c.ResponseQueues) == 0 {
		return fmt.Errorf("%s: no response queues", c.Operation)
	}
	for _, q := range append(append([]string(nil), c.RequestQueues...), c.ResponseQueues...) {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("%s: blank queue name", c.Operation)
		}
	}
	return nil
}

type Deps struct {
	Log         *logger.Logger
	Transport   transport.Transport
	Codec       codec.Codec[domain.Envelope]
	Repo        Repository
	Notifier    Notifier
	Submissions SubmissionStore
	Metrics     Metrics
}

// Orchestrator broadcasts one request to every control-component node of an operation
// and gathers their replies.
type Orchestrator struct {
	cfg       Config
	log       *logger.Logger
	transport transport.Transport
	codec     codec.Codec[domain.Envelope]
	repo      Repository
	listener  *ContributionsListener
	polling   *PollingService
	subs      SubmissionStore
	metrics   Metrics
	tracer    trace.Tracer
	newID     func() uuid.UUID

	mu      sync.Mutex
	started bool
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("transport required")
	}
	if deps.Repo == nil {
		return nil, fmt.Errorf("repository required")
	}
	if cfg.Async && deps.Submissions == nil {
		return nil, fmt.Errorf("%s: async operation requires a submission store", cfg.Operation)
	}
	if deps.Codec == nil {
		deps.Codec = codec.JSON[domain.Envelope]{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	log := deps.Log.With("component", "Orchestrator", "operation", cfg.Operation)

	detector, err := NewReadyDetector(log, deps.Repo, cfg.ExpectedNodeCount)
	if err != nil {
		return nil, err
	}
	var sink AggregateSink
	if cfg.Async {
		sink = NewSubmissionSink(deps.Submissions)
	}
	listener, err := NewContributionsListener(cfg.Operation, ListenerDeps{
		Log:      log,
		Codec:    deps.Codec,
		Repo:     deps.Repo,
		Detector: detector,
		Notifier: deps.Notifier,
		Sink:     sink,
		Metrics:  deps.Metrics,
	})
	if err != nil {
		return nil, err
	}
	polling, err := NewPollingService(log, deps.Repo, deps.Notifier, cfg.ExpectedNodeCount)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:       cfg,
		log:       log,
		transport: deps.Transport,
		codec:     deps.Codec,
		repo:      deps.Repo,
		listener:  listener,
		polling:   polling,
		subs:      deps.Submissions,
		metrics:   deps.Metrics,
		tracer:    otel.Tracer(tracerName),
		newID:     uuid.New,
	}, nil
}

func (o *Orchestrator) Operation() domain.OperationType { return o.cfg.Operation }
func (o *Orchestrator) Config() Config                  { return o.cfg }

// Start subscribes the contributions listener to every response queue.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}
	for i, q := range o.cfg.ResponseQueues {
		if err := o.transport.Subscribe(q, o.listener); err != nil {
			for _, prev := range o.cfg.ResponseQueues[:i] {
				_ = o.transport.Unsubscribe(prev, o.listener)
			}
			return &TransportError{Op: "subscribe", Destination: q, Err: err}
		}
	}
	o.started = true
	o.log.Info("orchestrator started", "response_queues", o.cfg.ResponseQueues, "expected", o.cfg.ExpectedNodeCount)
	return nil
}

func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return nil
	}
	var errs []error
	for _, q := range o.cfg.ResponseQueues {
		if err := o.transport.Unsubscribe(q, o.listener); err != nil {
			errs = append(errs, &TransportError{Op: "unsubscribe", Destination: q, Err: err})
		}
	}
	o.started = false
	o.log.Info("orchestrator stopped")
	return errors.Join(errs...)
}

func (o *Orchestrator) isStarted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started
}

// Request broadcasts payload to all nodes and returns their partial results in arrival
// order. Every failure matches ErrRequestFailed.
func (o *Orchestrator) Request(ctx context.Context, trackingID string, payload []byte) (out [][]byte, err error) {
	ctx, span := o.tracer.Start(ctx, "aggregation.Request", trace.WithAttributes(
		attribute.String("orchestrator.operation", string(o.cfg.Operation)),
		attribute.Int("orchestrator.expected_nodes", o.cfg.ExpectedNodeCount),
	))
	start := time.Now()
	defer func() {
		o.metrics.RequestCompleted(string(o.cfg.Operation), outcomeOf(err), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if o.cfg.Async {
		return nil, requestFailed(fmt.Errorf("%s is asynchronous, use Submit", o.cfg.Operation))
	}
	if !o.isStarted() {
		return nil, requestFailed(ErrNotStarted)
	}

	id := o.newID()
	span.SetAttributes(attribute.String("orchestrator.correlation_id", id.String()))
	ctxutil.SetCorrelation(ctx, string(o.cfg.Operation), id.String())
	log := o.log.With(append(ctxutil.LogFields(ctx), "correlation_id", id, "tracking_id", trackingID)...)

	if err := o.broadcast(ctx, id, trackingID, payload); err != nil {
		o.evict(ctx, id)
		log.Warn("broadcast failed", "error", err)
		return nil, requestFailed(err)
	}

	partials, err := o.polling.GetResults(ctx, id, o.cfg.PollingTimeout, o.cfg.InterPollDelay)
	if err != nil {
		log.Warn("aggregation failed", "error", err)
		return nil, requestFailed(err)
	}
	out = make([][]byte, len(partials))
	for i, p := range partials {
		out[i] = p
	}
	log.Debug("aggregation complete", "count", len(out), "elapsed", time.Since(start))
	return out, nil
}

// Submit starts an asynchronous computation identified by key and returns its
// correlation id without waiting for the nodes.
func (o *Orchestrator) Submit(ctx context.Context, trackingID, key string, payload []byte) (id uuid.UUID, err error) {
	ctx, span := o.tracer.Start(ctx, "aggregation.Submit", trace.WithAttributes(
		attribute.String("orchestrator.operation", string(o.cfg.Operation)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !o.cfg.Async {
		return uuid.Nil, requestFailed(fmt.Errorf("%s is synchronous, use Request", o.cfg.Operation))
	}
	if strings.TrimSpace(key) == "" {
		return uuid.Nil, requestFailed(fmt.Errorf("submission key required"))
	}
	if !o.isStarted() {
		return uuid.Nil, requestFailed(ErrNotStarted)
	}

	id = o.newID()
	ctxutil.SetCorrelation(ctx, string(o.cfg.Operation), id.String())
	err = o.subs.Create(ctx, Submission{
		Operation:     o.cfg.Operation,
		Key:           key,
		CorrelationID: id,
		TrackingID:    trackingID,
		Status:        domain.StatusComputing,
	})
	if err != nil {
		return uuid.Nil, requestFailed(err)
	}
	if err := o.broadcast(ctx, id, trackingID, payload); err != nil {
		o.evict(ctx, id)
		if derr := o.subs.Delete(context.WithoutCancel(ctx), o.cfg.Operation, key); derr != nil {
			o.log.Warn("rollback submission failed", "key", key, "error", derr)
		}
		return uuid.Nil, requestFailed(err)
	}
	o.log.Debug("submission broadcast", append(ctxutil.LogFields(ctx), "correlation_id", id, "tracking_id", trackingID, "key", key)...)
	return id, nil
}

func (o *Orchestrator) Status(ctx context.Context, key string) (domain.ComputationStatus, error) {
	if o.subs == nil {
		return "", ErrNotFound
	}
	s, err := o.subs.Get(ctx, o.cfg.Operation, key)
	if err != nil {
		return "", err
	}
	return s.Status, nil
}

// Result returns the stored aggregate of a computed submission.
func (o *Orchestrator) Result(ctx context.Context, key string) ([][]byte, error) {
	if o.subs == nil {
		return nil, ErrNotFound
	}
	s, err := o.subs.Get(ctx, o.cfg.Operation, key)
	if err != nil {
		return nil, err
	}
	if s.Status != domain.StatusComputed {
		return nil, ErrStillComputing
	}
	out := make([][]byte, len(s.Partials))
	for i, p := range s.Partials {
		out[i] = p
	}
	return out, nil
}

// broadcast sends an identical envelope to every request queue and fails on the first
// rejected send. Sends already accepted are not recalled; their replies become orphans.
func (o *Orchestrator) broadcast(ctx context.Context, id uuid.UUID, trackingID string, payload []byte) error {
	raw, err := o.codec.Encode(domain.Envelope{
		CorrelationID: id,
		TrackingID:    trackingID,
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range o.cfg.RequestQueues {
		q := q
		g.Go(func() error {
			if err := o.transport.Send(gctx, q, raw); err != nil {
				return &TransportError{Op: "send", Destination: q, Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) evict(ctx context.Context, id uuid.UUID) {
	if err := o.repo.Delete(context.WithoutCancel(ctx), id); err != nil {
		o.log.Warn("evict failed", "correlation_id", id, "error", err)
	}
}

package aggregation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/codec"
	"github.com/yungbote/threshold-orchestrator/internal/domain"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

// AggregateSink receives the aggregate of a correlation id nobody waits on synchronously.
type AggregateSink interface {
	Accept(ctx context.Context, op domain.OperationType, id uuid.UUID, partials []domain.PartialResult) error
}

// ContributionsListener consumes node replies from the response queues. It is a
// transport.Handler and never panics or blocks on a bad message.
type ContributionsListener struct {
	log      *logger.Logger
	op       domain.OperationType
	codec    codec.Codec[domain.Envelope]
	repo     Repository
	detector *ReadyDetector
	notifier Notifier
	sink     AggregateSink
	metrics  Metrics
}

type ListenerDeps struct {
	Log      *logger.Logger
	Codec    codec.Codec[domain.Envelope]
	Repo     Repository
	Detector *ReadyDetector
	Notifier Notifier
	Sink     AggregateSink
	Metrics  Metrics
}

func NewContributionsListener(op domain.OperationType, deps ListenerDeps) (*ContributionsListener, error) {
	if deps.Log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deps.Codec == nil || deps.Repo == nil || deps.Detector == nil {
		return nil, fmt.Errorf("codec, repository and ready detector required")
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	return &ContributionsListener{
		log:      deps.Log.With("component", "ContributionsListener", "operation", op),
		op:       op,
		codec:    deps.Codec,
		repo:     deps.Repo,
		detector: deps.Detector,
		notifier: deps.Notifier,
		sink:     deps.Sink,
		metrics:  deps.Metrics,
	}, nil
}

func (l *ContributionsListener) HandleMessage(ctx context.Context, msg []byte) {
	env, err := l.decode(msg)
	if err != nil {
		l.metrics.ContributionMalformed(string(l.op))
		l.log.Warn("dropping malformed contribution", "error", err, "size", len(msg))
		return
	}
	l.metrics.ContributionReceived(string(l.op))

	id := env.CorrelationID
	if err := l.repo.Save(ctx, id, env.Payload); err != nil {
		l.log.Error("save contribution failed", "correlation_id", id, "error", err)
		return
	}

	partials, ready, err := l.detector.HandleResultsIfReady(ctx, id)
	if err != nil {
		l.log.Error("ready check failed", "correlation_id", id, "error", err)
		return
	}
	if !ready {
		return
	}
	l.metrics.AggregateReady(string(l.op))

	if l.sink != nil {
		if err := l.sink.Accept(ctx, l.op, id, partials); err != nil {
			if errors.Is(err, ErrNotFound) {
				l.log.Debug("aggregate has no submission, leaving for sweep", "correlation_id", id)
			} else {
				l.log.Error("aggregate sink failed", "correlation_id", id, "error", err)
			}
		} else if err := l.repo.Delete(ctx, id); err != nil {
			l.log.Warn("evict after sink failed", "correlation_id", id, "error", err)
		}
	}

	if l.notifier != nil {
		ev := domain.ResultsReadyEvent{CorrelationID: id, Operation: l.op}
		if err := l.notifier.Publish(ctx, ev); err != nil {
			l.log.Warn("ready notification failed, waiters fall back to polling", "correlation_id", id, "error", err)
		}
	}
}

func (l *ContributionsListener) decode(msg []byte) (domain.Envelope, error) {
	env, err := l.codec.Decode(msg)
	if err != nil {
		return env, &MalformedMessageError{Reason: "decode envelope", Err: err}
	}
	if env.CorrelationID == uuid.Nil {
		return env, &MalformedMessageError{Reason: "missing correlation id"}
	}
	return env, nil
}

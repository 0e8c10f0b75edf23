package app

import (
	"fmt"

	"github.com/yungbote/threshold-orchestrator/internal/aggregation"
	"github.com/yungbote/threshold-orchestrator/internal/codec"
	"github.com/yungbote/threshold-orchestrator/internal/config"
	"github.com/yungbote/threshold-orchestrator/internal/domain"
	"github.com/yungbote/threshold-orchestrator/internal/observability"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
	"github.com/yungbote/threshold-orchestrator/internal/transport"
)

type Services struct {
	Notifier aggregation.Notifier
	// Topic is the cross-instance notifier; nil in single-instance mode.
	Topic         *aggregation.TopicNotifier
	Orchestrators map[domain.OperationType]*aggregation.Orchestrator
	Janitor       *aggregation.Janitor
}

func wireServices(log *logger.Logger, cfg *config.Config, clients Clients, repos Repos, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	var am aggregation.Metrics
	if metrics != nil {
		am = metrics
	}

	var svc Services
	var topic transport.Topic
	switch cfg.Notifier {
	case "redis":
		topic = clients.Redis
	case "postgres":
		topic = clients.PGNotify
	}
	if topic != nil {
		tn, err := aggregation.NewTopicNotifier(log, topic, cfg.NotifyTopic)
		if err != nil {
			return Services{}, fmt.Errorf("init notifier: %w", err)
		}
		svc.Topic = tn
		svc.Notifier = tn
	} else {
		svc.Notifier = aggregation.NewHub()
	}

	envCodec, err := codec.ByName[domain.Envelope](cfg.Codec)
	if err != nil {
		return Services{}, fmt.Errorf("init codec: %w", err)
	}

	svc.Orchestrators = map[domain.OperationType]*aggregation.Orchestrator{}
	for _, op := range cfg.Enabled() {
		oc := cfg.Operations[string(op)]
		o, err := aggregation.New(aggregation.Config{
			Operation:         op,
			ExpectedNodeCount: oc.ExpectedNodeCount,
			PollingTimeout:    oc.PollingTimeout.Duration,
			InterPollDelay:    oc.InterPollDelay.Duration,
			RequestQueues:     oc.RequestQueues,
			ResponseQueues:    oc.ResponseQueues,
			Async:             oc.Async,
		}, aggregation.Deps{
			Log:         log,
			Transport:   clients.Transport,
			Codec:       envCodec,
			Repo:        repos.Partials,
			Notifier:    svc.Notifier,
			Submissions: repos.Submissions,
			Metrics:     am,
		})
		if err != nil {
			return Services{}, fmt.Errorf("init orchestrator %s: %w", op, err)
		}
		svc.Orchestrators[op] = o
	}
	if len(svc.Orchestrators) == 0 {
		log.Warn("No operation has queues configured; set CC_QUEUE_NAMES or operations.*.request_queues")
	}

	if cfg.Janitor.Enabled {
		j, err := aggregation.NewJanitor(log, repos.Partials, aggregation.JanitorConfig{
			TTL:         cfg.Janitor.OrphanTTL.Duration,
			Interval:    cfg.Janitor.Interval.Duration,
			LongestWait: cfg.LongestPollingTimeout(),
		}, am)
		if err != nil {
			return Services{}, fmt.Errorf("init janitor: %w", err)
		}
		svc.Janitor = j
	}
	return svc, nil
}

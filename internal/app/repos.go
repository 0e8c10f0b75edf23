package app

import (
	"github.com/yungbote/threshold-orchestrator/internal/aggregation"
	"github.com/yungbote/threshold-orchestrator/internal/data/repos/computed"
	"github.com/yungbote/threshold-orchestrator/internal/data/repos/partials"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

type Repos struct {
	Partials    aggregation.Repository
	Submissions aggregation.SubmissionStore
}

func wireRepos(log *logger.Logger, clients Clients) Repos {
	log.Info("Wiring repos...")
	if clients.DB == nil {
		return Repos{
			Partials:    aggregation.NewMemoryRepository(),
			Submissions: aggregation.NewMemorySubmissions(),
		}
	}
	return Repos{
		Partials:    partials.NewPartialResultRepo(clients.DB.DB(), log),
		Submissions: computed.NewComputedValuesRepo(clients.DB.DB(), log),
	}
}

package domain

import "github.com/yungbote/threshold-orchestrator/internal/domain/contributions"

type (
	OperationType      = contributions.OperationType
	PartialResult      = contributions.PartialResult
	Envelope           = contributions.Envelope
	ResultsReadyEvent  = contributions.ResultsReadyEvent
	ContributionRecord = contributions.ContributionRecord
	ComputationStatus  = contributions.ComputationStatus

	PartialResultRow = contributions.PartialResultRow
	ReadyFlag        = contributions.ReadyFlag
	ComputedValues   = contributions.ComputedValues
)

const (
	OperationChoiceCodesKeyGeneration = contributions.OperationChoiceCodesKeyGeneration
	OperationChoiceCodesGeneration    = contributions.OperationChoiceCodesGeneration
	OperationChoiceCodesVerification  = contributions.OperationChoiceCodesVerification
	OperationChoiceCodesDecryption    = contributions.OperationChoiceCodesDecryption
	OperationMixDecKeyGeneration      = contributions.OperationMixDecKeyGeneration

	StatusComputing = contributions.StatusComputing
	StatusComputed  = contributions.StatusComputed
)

// Models lists every table owned by the orchestrator, in migration order.
func Models() []interface{} {
	return []interface{}{
		&PartialResultRow{},
		&ReadyFlag{},
		&ComputedValues{},
	}
}

// QueueAction maps each operation to its CC_QUEUE_NAMES action key.
var QueueAction = contributions.QueueAction

func ParseOperation(s string) (OperationType, bool) { return contributions.ParseOperation(s) }

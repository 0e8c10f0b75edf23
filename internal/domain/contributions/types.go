package contributions

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OperationType names one parameterisation of the scatter-gather flow.
type OperationType string

const (
	OperationChoiceCodesKeyGeneration OperationType = "choice_codes_key_generation"
	OperationChoiceCodesGeneration    OperationType = "choice_codes_generation"
	OperationChoiceCodesVerification  OperationType = "choice_codes_verification"
	OperationChoiceCodesDecryption    OperationType = "choice_codes_decryption"
	OperationMixDecKeyGeneration      OperationType = "mixdec_key_generation"
)

// QueueAction maps each operation to the action key used in CC_QUEUE_NAMES.
var QueueAction = map[OperationType]string{
	OperationChoiceCodesKeyGeneration: "cg-keygen",
	OperationChoiceCodesGeneration:    "cg-comp",
	OperationChoiceCodesVerification:  "cv-comp",
	OperationChoiceCodesDecryption:    "cv-dec",
	OperationMixDecKeyGeneration:      "md-keygen",
}

func (o OperationType) Valid() bool {
	_, ok := QueueAction[o]
	return ok
}

// ParseOperation accepts either the operation name or its queue action ("cv-dec").
func ParseOperation(s string) (OperationType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if op := OperationType(s); op.Valid() {
		return op, true
	}
	for op, action := range QueueAction {
		if action == s {
			return op, true
		}
	}
	return "", false
}

// PartialResult is one node's opaque contribution. It carries no node identity.
type PartialResult []byte

// Envelope is the wire unit exchanged with control-component nodes in both directions.
type Envelope struct {
	CorrelationID uuid.UUID `json:"correlationId" msgpack:"correlationId"`
	TrackingID    string    `json:"trackingId" msgpack:"trackingId"`
	Payload       []byte    `json:"payload" msgpack:"payload"`
}

// ResultsReadyEvent is broadcast once a correlation id has collected its expected count.
type ResultsReadyEvent struct {
	CorrelationID uuid.UUID     `json:"correlation_id"`
	Operation     OperationType `json:"operation,omitempty"`
}

// ContributionRecord is the repository-side view of one in-flight aggregation.
type ContributionRecord struct {
	CorrelationID uuid.UUID
	Partials      []PartialResult
	ExpectedCount int
	Ready         bool
	CreatedAt     time.Time
}

type ComputationStatus string

const (
	StatusComputing ComputationStatus = "COMPUTING"
	StatusComputed  ComputationStatus = "COMPUTED"
)

package contributions

import (
	"time"

	"gorm.io/datatypes"
)

// PartialResultRow is one stored contribution; sequence_no preserves arrival order.
type PartialResultRow struct {
	SequenceNo    int64     `gorm:"column:sequence_no;primaryKey;autoIncrement" json:"sequence_no"`
	CorrelationID string    `gorm:"column:correlation_id;size:36;not null;index:idx_partial_result_correlation" json:"correlation_id"`
	Payload       []byte    `gorm:"column:payload;not null" json:"-"`
	InsertedAt    time.Time `gorm:"column:inserted_at;not null;index" json:"inserted_at"`
}

func (PartialResultRow) TableName() string { return "partial_result" }

// ReadyFlag exists once the ready detector has handed out the aggregate for a correlation id.
type ReadyFlag struct {
	CorrelationID string    `gorm:"column:correlation_id;size:36;primaryKey" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (ReadyFlag) TableName() string { return "partial_result_ready" }

// ComputedValues holds the aggregate of an asynchronous submission.
type ComputedValues struct {
	ID            string         `gorm:"column:id;size:36;primaryKey" json:"id"`
	Operation     string         `gorm:"column:operation;size:64;not null;uniqueIndex:idx_computed_values_op_key" json:"operation"`
	JobKey        string         `gorm:"column:job_key;size:255;not null;uniqueIndex:idx_computed_values_op_key" json:"job_key"`
	CorrelationID string         `gorm:"column:correlation_id;size:36;not null;uniqueIndex" json:"correlation_id"`
	TrackingID    string         `gorm:"column:tracking_id;size:255" json:"tracking_id,omitempty"`
	Status        string         `gorm:"column:status;size:16;not null;index" json:"status"`
	Aggregate     datatypes.JSON `gorm:"column:aggregate" json:"aggregate,omitempty"`
	ComputedAt    *time.Time     `gorm:"column:computed_at" json:"computed_at,omitempty"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (ComputedValues) TableName() string { return "computed_values" }

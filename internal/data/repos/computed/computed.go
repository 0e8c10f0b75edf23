package computed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/threshold-orchestrator/internal/aggregation"
	"github.com/yungbote/threshold-orchestrator/internal/codec"
	"github.com/yungbote/threshold-orchestrator/internal/domain"
	"github.com/yungbote/threshold-orchestrator/internal/platform/dbctx"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

// ComputedValuesRepo persists asynchronous submissions and their aggregates in
// the computed_values table. It satisfies aggregation.SubmissionStore.
type ComputedValuesRepo struct {
	db    *gorm.DB
	log   *logger.Logger
	codec codec.Codec[[][]byte]
	now   func() time.Time
}

func NewComputedValuesRepo(db *gorm.DB, baseLog *logger.Logger) *ComputedValuesRepo {
	return &ComputedValuesRepo{
		db:    db,
		log:   baseLog.With("repo", "ComputedValuesRepo"),
		codec: codec.JSON[[][]byte]{},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *ComputedValuesRepo) Create(ctx context.Context, s aggregation.Submission) error {
	status := s.Status
	if status == "" {
		status = domain.StatusComputing
	}
	return dbctx.DB(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&domain.ComputedValues{}).
			Where("operation = ? AND job_key = ?", string(s.Operation), s.Key).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return aggregation.ErrDuplicateEntry
		}
		row := &domain.ComputedValues{
			ID:            uuid.NewString(),
			Operation:     string(s.Operation),
			JobKey:        s.Key,
			CorrelationID: s.CorrelationID.String(),
			TrackingID:    s.TrackingID,
			Status:        string(status),
		}
		if err := tx.Create(row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return aggregation.ErrDuplicateEntry
			}
			return err
		}
		return nil
	})
}

func (r *ComputedValuesRepo) Get(ctx context.Context, op domain.OperationType, key string) (aggregation.Submission, error) {
	var row domain.ComputedValues
	err := dbctx.DB(ctx, r.db).
		Where("operation = ? AND job_key = ?", string(op), key).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return aggregation.Submission{}, aggregation.ErrNotFound
		}
		return aggregation.Submission{}, err
	}
	return r.toSubmission(row)
}

func (r *ComputedValuesRepo) Complete(ctx context.Context, op domain.OperationType, id uuid.UUID, partials []domain.PartialResult) error {
	raw := make([][]byte, len(partials))
	for i, p := range partials {
		raw[i] = p
	}
	agg, err := r.codec.Encode(raw)
	if err != nil {
		return fmt.Errorf("encode aggregate: %w", err)
	}
	now := r.now()
	res := dbctx.DB(ctx, r.db).
		Model(&domain.ComputedValues{}).
		Where("operation = ? AND correlation_id = ?", string(op), id.String()).
		Updates(map[string]interface{}{
			"status":      string(domain.StatusComputed),
			"aggregate":   datatypes.JSON(agg),
			"computed_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return aggregation.ErrNotFound
	}
	return nil
}

func (r *ComputedValuesRepo) Delete(ctx context.Context, op domain.OperationType, key string) error {
	return dbctx.DB(ctx, r.db).
		Where("operation = ? AND job_key = ?", string(op), key).
		Delete(&domain.ComputedValues{}).Error
}

func (r *ComputedValuesRepo) toSubmission(row domain.ComputedValues) (aggregation.Submission, error) {
	id, err := uuid.Parse(row.CorrelationID)
	if err != nil {
		return aggregation.Submission{}, fmt.Errorf("computed_values %s: bad correlation id: %w", row.ID, err)
	}
	s := aggregation.Submission{
		Operation:     domain.OperationType(row.Operation),
		Key:           row.JobKey,
		CorrelationID: id,
		TrackingID:    row.TrackingID,
		Status:        domain.ComputationStatus(row.Status),
		CreatedAt:     row.CreatedAt,
		ComputedAt:    row.ComputedAt,
	}
	if len(row.Aggregate) > 0 {
		raw, err := r.codec.Decode(row.Aggregate)
		if err != nil {
			return aggregation.Submission{}, fmt.Errorf("computed_values %s: %w", row.ID, err)
		}
		s.Partials = make([]domain.PartialResult, len(raw))
		for i, p := range raw {
			s.Partials[i] = p
		}
	}
	return s, nil
}

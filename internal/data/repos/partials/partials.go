package partials

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/threshold-orchestrator/internal/domain"
	"github.com/yungbote/threshold-orchestrator/internal/platform/dbctx"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

// PartialResultRepo is the durable aggregation.Repository: one row per contribution,
// plus a ready-flag row whose primary key makes the one-shot flip atomic across instances.
type PartialResultRepo struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewPartialResultRepo(db *gorm.DB, baseLog *logger.Logger) *PartialResultRepo {
	return &PartialResultRepo{
		db:  db,
		log: baseLog.With("repo", "PartialResultRepo"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *PartialResultRepo) Save(ctx context.Context, id uuid.UUID, result domain.PartialResult) error {
	payload := []byte(result)
	if payload == nil {
		payload = []byte{}
	}
	row := &domain.PartialResultRow{
		CorrelationID: id.String(),
		Payload:       payload,
		InsertedAt:    r.now(),
	}
	return dbctx.DB(ctx, r.db).Create(row).Error
}

func (r *PartialResultRepo) rows(tx *gorm.DB, id uuid.UUID) ([]domain.PartialResult, error) {
	var rows []domain.PartialResultRow
	if err := tx.
		Where("correlation_id = ?", id.String()).
		Order("sequence_no ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]domain.PartialResult, len(rows))
	for i := range rows {
		out[i] = rows[i].Payload
	}
	return out, nil
}

func (r *PartialResultRepo) Find(ctx context.Context, id uuid.UUID) ([]domain.PartialResult, error) {
	return r.rows(dbctx.DB(ctx, r.db), id)
}

func (r *PartialResultRepo) Count(ctx context.Context, id uuid.UUID) (int, error) {
	var n int64
	if err := dbctx.DB(ctx, r.db).
		Model(&domain.PartialResultRow{}).
		Where("correlation_id = ?", id.String()).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *PartialResultRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return dbctx.DB(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("correlation_id = ?", id.String()).Delete(&domain.PartialResultRow{}).Error; err != nil {
			return err
		}
		return tx.Where("correlation_id = ?", id.String()).Delete(&domain.ReadyFlag{}).Error
	})
}

func (r *PartialResultRepo) ListIfHasAll(ctx context.Context, id uuid.UUID, n int) ([]domain.PartialResult, bool, error) {
	out, err := r.Find(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if len(out) < n || len(out) == 0 {
		return nil, false, nil
	}
	return out, true, nil
}

func (r *PartialResultRepo) MarkReady(ctx context.Context, id uuid.UUID, n int) ([]domain.PartialResult, bool, error) {
	var (
		out []domain.PartialResult
		won bool
	)
	err := dbctx.DB(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		partials, err := r.rows(tx, id)
		if err != nil {
			return err
		}
		if len(partials) < n || len(partials) == 0 {
			return nil
		}
		// concurrent winners serialize on the flag's primary key; the loser inserts nothing
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.ReadyFlag{
			CorrelationID: id.String(),
			CreatedAt:     r.now(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			out, won = partials, true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, won, nil
}

// Sweep drops every correlation id whose first partial predates olderThan, together
// with ready flags that outlived their partials.
func (r *PartialResultRepo) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	olderThan = olderThan.UTC()
	var ids []string
	err := dbctx.DB(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.PartialResultRow{}).
			Select("correlation_id").
			Group("correlation_id").
			Having("MIN(inserted_at) < ?", olderThan).
			Pluck("correlation_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) > 0 {
			if err := tx.Where("correlation_id IN ?", ids).Delete(&domain.PartialResultRow{}).Error; err != nil {
				return err
			}
			if err := tx.Where("correlation_id IN ?", ids).Delete(&domain.ReadyFlag{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("created_at < ?", olderThan).Delete(&domain.ReadyFlag{}).Error
	})
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		r.log.Debug("swept partial results", "records", len(ids))
	}
	return len(ids), nil
}

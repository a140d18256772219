package actionqueue

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository persists action queue entries. Claiming flips PENDING rows to
// PROCESSING with a conditional update so concurrent processors never pick
// the same row.
type Repository interface {
	Insert(ctx context.Context, entries []Entry) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *repository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	var due []Entry
	err := r.db.WithContext(ctx).
		Where("status = ? AND schedule_at <= ?", StatusPending, now).
		Order("schedule_at ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, err
	}

	claimed := due[:0]
	for _, e := range due {
		res := r.db.WithContext(ctx).Model(&Entry{}).
			Where("id = ? AND status = ?", e.ID, StatusPending).
			Updates(map[string]any{
				"status":     StatusProcessing,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			e.Status = StatusProcessing
			claimed = append(claimed, e)
		}
	}
	return claimed, nil
}

func (r *repository) MarkCompleted(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Entry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     StatusCompleted,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, id, reason string) error {
	return r.db.WithContext(ctx).Model(&Entry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      StatusFailed,
			"fail_reason": reason,
			"updated_at":  time.Now().UTC(),
		}).Error
}

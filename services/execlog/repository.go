package execlog

import (
	"context"
	"time"

	"pulsecrm/services/tenant"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository writes execution history. Inserts tolerate duplicate keys so
// concurrent processors recording the same run never surface an error.
type Repository interface {
	RecordEvent(ctx context.Context, log *EventLog) error
	RecordAction(ctx context.Context, log *ActionLog) error
	HasRunToday(ctx context.Context, tn tenant.Tenant, triggerID, eventConfigID, contactID string, now time.Time, loc *time.Location) (bool, error)
}

type repository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewRepository(db *gorm.DB, node *snowflake.Node) Repository {
	return &repository{db: db, node: node}
}

func (r *repository) RecordEvent(ctx context.Context, log *EventLog) error {
	if log.ID == "" {
		log.ID = r.node.Generate().String()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(log).Error
}

func (r *repository) RecordAction(ctx context.Context, log *ActionLog) error {
	if log.ID == "" {
		log.ID = r.node.Generate().String()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(log).Error
}

func (r *repository) HasRunToday(ctx context.Context, tn tenant.Tenant, triggerID, eventConfigID, contactID string, now time.Time, loc *time.Location) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&EventLog{}).
		Where("agency_id = ? AND user_id = ?", tn.AgencyID, tn.UserID).
		Where("trigger_id = ? AND event_config_id = ? AND contact_id = ? AND run_date = ?",
			triggerID, eventConfigID, contactID, RunDateOf(now, loc)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

var Module = fx.Module("execlog",
	fx.Provide(NewRepository),
)

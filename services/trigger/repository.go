package trigger

import (
	"context"
	"time"

	"pulsecrm/services/tenant"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Repository is the persistence layer for triggers and their configs. All
// reads are tenant scoped through the owning trigger row.
type Repository interface {
	Create(ctx context.Context, t *Trigger) error
	Get(ctx context.Context, tn tenant.Tenant, id string) (*Trigger, error)
	List(ctx context.Context, tn tenant.Tenant) ([]Trigger, error)
	Update(ctx context.Context, t *Trigger) error
	Delete(ctx context.Context, tn tenant.Tenant, id string) error

	CreateEventConfig(ctx context.Context, c *EventConfig) error
	GetEventConfig(ctx context.Context, id string) (*EventConfig, error)
	UpdateEventConfig(ctx context.Context, c *EventConfig) error
	DeleteEventConfig(ctx context.Context, id string) error
	ListActiveEventConfigs(ctx context.Context, tn tenant.Tenant, key EventKey) ([]EventConfig, error)
	ListActiveDateEventConfigs(ctx context.Context, tn tenant.Tenant) ([]EventConfig, error)

	CreateActionConfig(ctx context.Context, a *ActionConfig) error
	GetActionConfig(ctx context.Context, id string) (*ActionConfig, error)
	UpdateActionConfig(ctx context.Context, a *ActionConfig) error
	DeleteActionConfig(ctx context.Context, id string) error
	ListActionConfigs(ctx context.Context, eventConfigID string) ([]ActionConfig, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, t *Trigger) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *repository) Get(ctx context.Context, tn tenant.Tenant, id string) (*Trigger, error) {
	var t Trigger
	err := r.db.WithContext(ctx).
		Preload("EventConfigs").
		Preload("EventConfigs.ActionConfigs").
		Where("agency_id = ? AND user_id = ? AND id = ?", tn.AgencyID, tn.UserID, id).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repository) List(ctx context.Context, tn tenant.Tenant) ([]Trigger, error) {
	var triggers []Trigger
	err := r.db.WithContext(ctx).
		Where("agency_id = ? AND user_id = ?", tn.AgencyID, tn.UserID).
		Order("priority DESC, created_at ASC").
		Find(&triggers).Error
	return triggers, err
}

// Update writes the mutable columns with an optimistic version check. A stale
// version loses the race and reports gorm.ErrRecordNotFound.
func (r *repository) Update(ctx context.Context, t *Trigger) error {
	res := r.db.WithContext(ctx).Model(&Trigger{}).
		Where("id = ? AND version = ?", t.ID, t.Version).
		Updates(map[string]any{
			"title":      t.Title,
			"status":     t.Status,
			"priority":   t.Priority,
			"timezone":   t.Timezone,
			"version":    t.Version + 1,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	t.Version++
	return nil
}

func (r *repository) Delete(ctx context.Context, tn tenant.Tenant, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("agency_id = ? AND user_id = ? AND id = ?", tn.AgencyID, tn.UserID, id).
			Delete(&Trigger{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var configIDs []string
		if err := tx.Model(&EventConfig{}).
			Where("trigger_id = ?", id).
			Pluck("id", &configIDs).Error; err != nil {
			return err
		}
		if len(configIDs) > 0 {
			if err := tx.Where("event_config_id IN ?", configIDs).
				Delete(&ActionConfig{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("trigger_id = ?", id).Delete(&EventConfig{}).Error
	})
}

func (r *repository) CreateEventConfig(ctx context.Context, c *EventConfig) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *repository) GetEventConfig(ctx context.Context, id string) (*EventConfig, error) {
	var c EventConfig
	err := r.db.WithContext(ctx).
		Preload("Trigger").
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repository) UpdateEventConfig(ctx context.Context, c *EventConfig) error {
	return r.db.WithContext(ctx).Model(&EventConfig{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"event_key":  c.EventKey,
			"filters":    c.Filters,
			"expression": c.Expression,
			"config":     c.Config,
			"active":     c.Active,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) DeleteEventConfig(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_config_id = ?", id).Delete(&ActionConfig{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&EventConfig{}).Error
	})
}

// ListActiveEventConfigs returns active configs for one event key whose
// owning trigger is active, undeleted, and belongs to the tenant.
func (r *repository) ListActiveEventConfigs(ctx context.Context, tn tenant.Tenant, key EventKey) ([]EventConfig, error) {
	var configs []EventConfig
	err := r.db.WithContext(ctx).
		Preload("Trigger").
		Joins("JOIN triggers ON triggers.id = trigger_event_configs.trigger_id").
		Where("triggers.agency_id = ? AND triggers.user_id = ?", tn.AgencyID, tn.UserID).
		Where("triggers.status = ? AND triggers.deleted_at IS NULL", StatusActive).
		Where("trigger_event_configs.event_key = ? AND trigger_event_configs.active = ?", key, true).
		Order("triggers.priority DESC").
		Find(&configs).Error
	return configs, err
}

func (r *repository) ListActiveDateEventConfigs(ctx context.Context, tn tenant.Tenant) ([]EventConfig, error) {
	var configs []EventConfig
	err := r.db.WithContext(ctx).
		Preload("Trigger").
		Joins("JOIN triggers ON triggers.id = trigger_event_configs.trigger_id").
		Where("triggers.agency_id = ? AND triggers.user_id = ?", tn.AgencyID, tn.UserID).
		Where("triggers.status = ? AND triggers.deleted_at IS NULL", StatusActive).
		Where("trigger_event_configs.event_key IN ? AND trigger_event_configs.active = ?",
			[]EventKey{EventBirthday, EventAnniversary}, true).
		Order("triggers.priority DESC").
		Find(&configs).Error
	return configs, err
}

func (r *repository) CreateActionConfig(ctx context.Context, a *ActionConfig) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *repository) GetActionConfig(ctx context.Context, id string) (*ActionConfig, error) {
	var a ActionConfig
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repository) UpdateActionConfig(ctx context.Context, a *ActionConfig) error {
	return r.db.WithContext(ctx).Model(&ActionConfig{}).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"type":       a.Type,
			"config":     a.Config,
			"active":     a.Active,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) DeleteActionConfig(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&ActionConfig{}).Error
}

func (r *repository) ListActionConfigs(ctx context.Context, eventConfigID string) ([]ActionConfig, error) {
	var actions []ActionConfig
	err := r.db.WithContext(ctx).
		Where("event_config_id = ? AND active = ?", eventConfigID, true).
		Order("created_at ASC").
		Find(&actions).Error
	return actions, err
}

var Module = fx.Module("trigger",
	fx.Provide(
		NewRepository,
		NewCache,
		NewService,
	),
)

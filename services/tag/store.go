package tag

import (
	"context"

	"pulsecrm/services/tenant"

	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the tag collaborator consumed by action executors.
type Store interface {
	Exists(ctx context.Context, tn tenant.Tenant, tagID string) (bool, error)
	Attach(ctx context.Context, contactID, tagID string) error
	Detach(ctx context.Context, contactID, tagID string) error
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Exists(ctx context.Context, tn tenant.Tenant, tagID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Tag{}).
		Where("agency_id = ? AND user_id = ? AND id = ?", tn.AgencyID, tn.UserID, tagID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Attach is idempotent, a duplicate attach is a no-op.
func (s *gormStore) Attach(ctx context.Context, contactID, tagID string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ContactTag{ContactID: contactID, TagID: tagID}).Error
}

func (s *gormStore) Detach(ctx context.Context, contactID, tagID string) error {
	return s.db.WithContext(ctx).
		Where("contact_id = ? AND tag_id = ?", contactID, tagID).
		Delete(&ContactTag{}).Error
}

var Module = fx.Module("tag.store",
	fx.Provide(NewStore),
)

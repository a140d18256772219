package tenant

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Directory answers active-tenant lookups for the engine.
type Directory struct {
	db     *gorm.DB
	logger *zap.Logger
}

type DirectoryParams struct {
	fx.In

	DB     *gorm.DB
	Logger *zap.Logger
}

func NewDirectory(p DirectoryParams) *Directory {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{db: p.DB, logger: logger}
}

func (d *Directory) ListActiveAgencies(ctx context.Context) ([]Agency, error) {
	var agencies []Agency
	err := d.db.WithContext(ctx).
		Where("status = ?", AgencyActive).
		Order("id ASC").
		Find(&agencies).Error
	if err != nil {
		return nil, err
	}
	return agencies, nil
}

// ListActivePrivilegedUsers returns the agency's active owners and managers,
// the only users whose triggers participate in scheduled discovery.
func (d *Directory) ListActivePrivilegedUsers(ctx context.Context, agencyID string) ([]User, error) {
	var users []User
	err := d.db.WithContext(ctx).
		Where("agency_id = ? AND status = ? AND role IN ?", agencyID, UserActive, []UserRole{RoleOwner, RoleManager}).
		Order("id ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// FindActive returns the user when it exists and is active, nil otherwise.
func (d *Directory) FindActive(ctx context.Context, userID string) (*User, error) {
	var user User
	err := d.db.WithContext(ctx).
		Where("id = ? AND status = ?", userID, UserActive).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

var Module = fx.Module("tenant.directory",
	fx.Provide(NewDirectory),
)

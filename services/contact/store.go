package contact

import (
	"context"
	"time"

	"pulsecrm/services/tenant"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MonthDay is one (month, day) pair an eligibility scan matches against.
// Discovery passes several pairs when a leap-day fallback applies.
type MonthDay struct {
	Month int
	Day   int
}

// EligibleQuery describes one date-based discovery scan.
type EligibleQuery struct {
	Field      DateField
	Targets    []MonthDay
	HasTags    []string
	NotTags    []string
	ExcludeIDs []string
}

// Store is the contact collaborator the engine consumes.
type Store interface {
	Get(ctx context.Context, tn tenant.Tenant, contactID string) (*Contact, error)
	GetTags(ctx context.Context, contactID string) ([]string, error)
	FindEligible(ctx context.Context, tn tenant.Tenant, q EligibleQuery) ([]Contact, error)
	OptOut(ctx context.Context, tn tenant.Tenant, contactID string) error
	RecordActivity(ctx context.Context, activity *Activity) error
}

type gormStore struct {
	db     *gorm.DB
	node   *snowflake.Node
	logger *zap.Logger
}

type StoreParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Logger *zap.Logger
}

func NewStore(p StoreParams) Store {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &gormStore{db: p.DB, node: p.Node, logger: logger}
}

func (s *gormStore) Get(ctx context.Context, tn tenant.Tenant, contactID string) (*Contact, error) {
	var c Contact
	err := s.db.WithContext(ctx).
		Where("agency_id = ? AND user_id = ? AND id = ?", tn.AgencyID, tn.UserID, contactID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *gormStore) GetTags(ctx context.Context, contactID string) ([]string, error) {
	var tagIDs []string
	err := s.db.WithContext(ctx).
		Table("contact_tags").
		Where("contact_id = ?", contactID).
		Pluck("tag_id", &tagIDs).Error
	if err != nil {
		return nil, err
	}
	return tagIDs, nil
}

func (s *gormStore) FindEligible(ctx context.Context, tn tenant.Tenant, q EligibleQuery) ([]Contact, error) {
	if len(q.Targets) == 0 {
		return nil, nil
	}

	monthCol, dayCol := "birth_month", "birth_day"
	if q.Field == FieldAnniversary {
		monthCol, dayCol = "anniversary_month", "anniversary_day"
	}

	query := s.db.WithContext(ctx).Model(&Contact{}).
		Where("agency_id = ? AND user_id = ? AND status = ?", tn.AgencyID, tn.UserID, StatusActive)

	md := s.db.Session(&gorm.Session{NewDB: true})
	for i, t := range q.Targets {
		cond := md.Where(monthCol+" = ? AND "+dayCol+" = ?", t.Month, t.Day)
		if i == 0 {
			md = cond
		} else {
			md = md.Or(cond)
		}
	}
	query = query.Where(md)

	for _, tagID := range q.HasTags {
		query = query.Where("EXISTS (SELECT 1 FROM contact_tags ct WHERE ct.contact_id = contacts.id AND ct.tag_id = ?)", tagID)
	}
	for _, tagID := range q.NotTags {
		query = query.Where("NOT EXISTS (SELECT 1 FROM contact_tags ct WHERE ct.contact_id = contacts.id AND ct.tag_id = ?)", tagID)
	}
	if len(q.ExcludeIDs) > 0 {
		query = query.Where("id NOT IN ?", q.ExcludeIDs)
	}

	var contacts []Contact
	if err := query.Order("id ASC").Find(&contacts).Error; err != nil {
		return nil, err
	}
	return contacts, nil
}

func (s *gormStore) OptOut(ctx context.Context, tn tenant.Tenant, contactID string) error {
	res := s.db.WithContext(ctx).Model(&Contact{}).
		Where("agency_id = ? AND user_id = ? AND id = ?", tn.AgencyID, tn.UserID, contactID).
		Updates(map[string]any{
			"status":     StatusUnsubscribed,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *gormStore) RecordActivity(ctx context.Context, activity *Activity) error {
	if activity.ID == "" {
		activity.ID = s.node.Generate().String()
	}
	return s.db.WithContext(ctx).Create(activity).Error
}

var Module = fx.Module("contact.store",
	fx.Provide(NewStore),
)

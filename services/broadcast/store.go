package broadcast

import (
	"context"
	"time"

	"pulsecrm/services/tenant"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddOutcome reports how AddMember placed the contact.
type AddOutcome string

const (
	AddedDirect  AddOutcome = "direct"
	AddedEntry   AddOutcome = "entry_queue"
	AddedNothing AddOutcome = "noop"
)

// Store is the broadcast collaborator consumed by action executors.
type Store interface {
	GetStatus(ctx context.Context, tn tenant.Tenant, broadcastID string) (Status, error)
	AddMember(ctx context.Context, tn tenant.Tenant, broadcastID, contactID string) (AddOutcome, error)
	UpdateMemberStatus(ctx context.Context, broadcastID, contactID string, status MemberStatus) error
	PauseMember(ctx context.Context, tn tenant.Tenant, broadcastID, contactID string) error
	PauseAllForContact(ctx context.Context, tn tenant.Tenant, contactID string) (int64, error)
	UnsubscribeMember(ctx context.Context, tn tenant.Tenant, broadcastID, contactID string) error
	UnsubscribeAllForContact(ctx context.Context, tn tenant.Tenant, contactID string) (int64, error)
	FlushEntries(ctx context.Context, broadcastID string) (int64, error)
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

func (s *gormStore) get(ctx context.Context, tn tenant.Tenant, broadcastID string) (*Broadcast, error) {
	var b Broadcast
	err := s.db.WithContext(ctx).
		Where("agency_id = ? AND user_id = ? AND id = ?", tn.AgencyID, tn.UserID, broadcastID).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *gormStore) GetStatus(ctx context.Context, tn tenant.Tenant, broadcastID string) (Status, error) {
	b, err := s.get(ctx, tn, broadcastID)
	if err != nil {
		return "", err
	}
	return b.Status, nil
}

// AddMember adds directly while the broadcast is not sending; a running
// broadcast gets an entry-queue row instead so a live send is never mutated.
func (s *gormStore) AddMember(ctx context.Context, tn tenant.Tenant, broadcastID, contactID string) (AddOutcome, error) {
	b, err := s.get(ctx, tn, broadcastID)
	if err != nil {
		return AddedNothing, err
	}

	if b.Status == StatusRunning {
		entry := Entry{
			ID:          s.node.Generate().String(),
			BroadcastID: broadcastID,
			ContactID:   contactID,
		}
		if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
			return AddedNothing, err
		}
		return AddedEntry, nil
	}

	member := Member{
		ID:          s.node.Generate().String(),
		BroadcastID: broadcastID,
		ContactID:   contactID,
		Status:      MemberActive,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&member)
	if res.Error != nil {
		return AddedNothing, res.Error
	}
	if res.RowsAffected == 0 {
		return AddedNothing, nil
	}
	return AddedDirect, nil
}

func (s *gormStore) UpdateMemberStatus(ctx context.Context, broadcastID, contactID string, status MemberStatus) error {
	res := s.db.WithContext(ctx).Model(&Member{}).
		Where("broadcast_id = ? AND contact_id = ?", broadcastID, contactID).
		Updates(map[string]any{
			"status":     status,
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

func (s *gormStore) PauseMember(ctx context.Context, tn tenant.Tenant, broadcastID, contactID string) error {
	if _, err := s.get(ctx, tn, broadcastID); err != nil {
		return err
	}
	return s.UpdateMemberStatus(ctx, broadcastID, contactID, MemberPaused)
}

func (s *gormStore) PauseAllForContact(ctx context.Context, tn tenant.Tenant, contactID string) (int64, error) {
	return s.updateAllForContact(ctx, tn, contactID, MemberPaused)
}

func (s *gormStore) UnsubscribeMember(ctx context.Context, tn tenant.Tenant, broadcastID, contactID string) error {
	if _, err := s.get(ctx, tn, broadcastID); err != nil {
		return err
	}
	return s.UpdateMemberStatus(ctx, broadcastID, contactID, MemberUnsubscribed)
}

func (s *gormStore) UnsubscribeAllForContact(ctx context.Context, tn tenant.Tenant, contactID string) (int64, error) {
	return s.updateAllForContact(ctx, tn, contactID, MemberUnsubscribed)
}

func (s *gormStore) updateAllForContact(ctx context.Context, tn tenant.Tenant, contactID string, status MemberStatus) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Member{}).
		Where("contact_id = ? AND broadcast_id IN (?)",
			contactID,
			s.db.Model(&Broadcast{}).Select("id").Where("agency_id = ? AND user_id = ?", tn.AgencyID, tn.UserID),
		).
		Where("status NOT IN ?", []MemberStatus{MemberUnsubscribed, MemberSent}).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// FlushEntries promotes parked entry rows into members once the broadcast
// has left the running state. Entries stay parked while a send is in flight.
func (s *gormStore) FlushEntries(ctx context.Context, broadcastID string) (int64, error) {
	var b Broadcast
	if err := s.db.WithContext(ctx).First(&b, "id = ?", broadcastID).Error; err != nil {
		return 0, err
	}
	if b.Status == StatusRunning {
		return 0, nil
	}

	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("broadcast_id = ? AND flushed = ?", broadcastID, false).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return 0, err
	}

	var flushed int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			member := Member{
				ID:          s.node.Generate().String(),
				BroadcastID: broadcastID,
				ContactID:   e.ContactID,
				Status:      MemberActive,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error; err != nil {
				return err
			}
			if err := tx.Model(&Entry{}).Where("id = ?", e.ID).Update("flushed", true).Error; err != nil {
				return err
			}
			flushed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return flushed, nil
}

var Module = fx.Module("broadcast.store",
	fx.Provide(NewStore),
)

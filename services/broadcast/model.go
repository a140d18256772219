package broadcast

import (
	"time"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

type MemberStatus string

const (
	MemberQueued       MemberStatus = "queued"
	MemberActive       MemberStatus = "active"
	MemberPaused       MemberStatus = "paused"
	MemberUnsubscribed MemberStatus = "unsubscribed"
	MemberSent         MemberStatus = "sent"
)

type Broadcast struct {
	ID        string    `gorm:"column:id;primaryKey;type:char(26)"`
	AgencyID  string    `gorm:"column:agency_id;index:idx_broadcasts_tenant;not null"`
	UserID    string    `gorm:"column:user_id;index:idx_broadcasts_tenant;not null"`
	Name      string    `gorm:"column:name;type:varchar(255);not null"`
	Status    Status    `gorm:"column:status;type:varchar(20);default:'draft'"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Broadcast) TableName() string { return "broadcasts" }

type Member struct {
	ID          string       `gorm:"column:id;primaryKey;type:char(26)"`
	BroadcastID string       `gorm:"column:broadcast_id;uniqueIndex:idx_broadcast_members_once;not null"`
	ContactID   string       `gorm:"column:contact_id;uniqueIndex:idx_broadcast_members_once;not null"`
	Status      MemberStatus `gorm:"column:status;type:varchar(20);default:'active'"`
	CreatedAt   time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

func (Member) TableName() string { return "broadcast_members" }

// Entry parks a contact for a broadcast that is actively sending. The send
// pipeline drains entries between waves instead of mutating a live member
// list.
type Entry struct {
	ID          string    `gorm:"column:id;primaryKey;type:char(26)"`
	BroadcastID string    `gorm:"column:broadcast_id;index;not null"`
	ContactID   string    `gorm:"column:contact_id;not null"`
	Flushed     bool      `gorm:"column:flushed;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Entry) TableName() string { return "broadcast_entries" }

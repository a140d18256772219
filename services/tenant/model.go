package tenant

import (
	"time"
)

// Tenant is the ownership pair every engine-owned row is scoped by. The
// engine never reads across tenants.
type Tenant struct {
	AgencyID string
	UserID   string
}

type AgencyStatus string

const (
	AgencyActive    AgencyStatus = "active"
	AgencySuspended AgencyStatus = "suspended"
	AgencyArchived  AgencyStatus = "archived"
)

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
	UserArchived  UserStatus = "archived"
)

type UserRole string

const (
	RoleOwner   UserRole = "owner"
	RoleManager UserRole = "manager"
	RoleMember  UserRole = "member"
)

type Agency struct {
	ID        string       `gorm:"column:id;primaryKey;type:char(26)"`
	Name      string       `gorm:"column:name;type:varchar(255);not null"`
	Status    AgencyStatus `gorm:"column:status;type:varchar(20);default:'active'"`
	Timezone  string       `gorm:"column:timezone;type:varchar(64)"`
	CreatedAt time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

func (Agency) TableName() string { return "agencies" }

type User struct {
	ID           string     `gorm:"column:id;primaryKey;type:char(26)"`
	AgencyID     string     `gorm:"column:agency_id;index;not null"`
	Name         string     `gorm:"column:name;type:varchar(255)"`
	Email        string     `gorm:"column:email;type:varchar(255)"`
	Role         UserRole   `gorm:"column:role;type:varchar(20);default:'member'"`
	Status       UserStatus `gorm:"column:status;type:varchar(20);default:'active'"`
	SenderNumber string     `gorm:"column:sender_number;type:varchar(32)"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string { return "users" }

// Privileged reports whether the user may own automation triggers.
func (u *User) Privileged() bool {
	return u.Role == RoleOwner || u.Role == RoleManager
}

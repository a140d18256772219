package contact

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type Status string

const (
	StatusActive       Status = "active"
	StatusUnsubscribed Status = "unsubscribed"
)

// DateField names a contact date column scanned by date-based discovery.
type DateField string

const (
	FieldBirthday    DateField = "birthday"
	FieldAnniversary DateField = "anniversary"
)

type Contact struct {
	ID        string `gorm:"column:id;primaryKey;type:char(26)"`
	AgencyID  string `gorm:"column:agency_id;index:idx_contacts_tenant;not null"`
	UserID    string `gorm:"column:user_id;index:idx_contacts_tenant;not null"`
	FirstName string `gorm:"column:first_name;type:varchar(255)"`
	LastName  string `gorm:"column:last_name;type:varchar(255)"`
	Number    string `gorm:"column:number;type:varchar(32);index"`
	Email     string `gorm:"column:email;type:varchar(255)"`

	Birthday    *time.Time `gorm:"column:birthday"`
	Anniversary *time.Time `gorm:"column:anniversary"`

	// Denormalized month/day columns keep the discovery scan portable across
	// postgres and the sqlite test database. Maintained by BeforeSave.
	BirthMonth       int `gorm:"column:birth_month;index:idx_contacts_birth_md"`
	BirthDay         int `gorm:"column:birth_day;index:idx_contacts_birth_md"`
	AnniversaryMonth int `gorm:"column:anniversary_month;index:idx_contacts_anniv_md"`
	AnniversaryDay   int `gorm:"column:anniversary_day;index:idx_contacts_anniv_md"`

	Status    Status         `gorm:"column:status;type:varchar(20);default:'active'"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (Contact) TableName() string { return "contacts" }

func (c *Contact) BeforeSave(tx *gorm.DB) error {
	if c.Birthday != nil {
		c.BirthMonth = int(c.Birthday.Month())
		c.BirthDay = c.Birthday.Day()
	} else {
		c.BirthMonth, c.BirthDay = 0, 0
	}
	if c.Anniversary != nil {
		c.AnniversaryMonth = int(c.Anniversary.Month())
		c.AnniversaryDay = c.Anniversary.Day()
	} else {
		c.AnniversaryMonth, c.AnniversaryDay = 0, 0
	}
	return nil
}

func (c *Contact) DisplayName() string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		return c.Number
	}
	return name
}

// SubjectDate returns the date column backing the given field.
func (c *Contact) SubjectDate(field DateField) *time.Time {
	switch field {
	case FieldBirthday:
		return c.Birthday
	case FieldAnniversary:
		return c.Anniversary
	default:
		return nil
	}
}

// Activity is a contact timeline entry written by action executors.
type Activity struct {
	ID        string    `gorm:"column:id;primaryKey;type:char(26)"`
	AgencyID  string    `gorm:"column:agency_id;index:idx_activities_tenant;not null"`
	UserID    string    `gorm:"column:user_id;index:idx_activities_tenant;not null"`
	ContactID string    `gorm:"column:contact_id;index;not null"`
	Kind      string    `gorm:"column:kind;type:varchar(50);not null"`
	Detail    string    `gorm:"column:detail;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Activity) TableName() string { return "contact_activities" }

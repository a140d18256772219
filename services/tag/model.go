package tag

import (
	"time"
)

type Tag struct {
	ID        string    `gorm:"column:id;primaryKey;type:char(26)"`
	AgencyID  string    `gorm:"column:agency_id;index:idx_tags_tenant;not null"`
	UserID    string    `gorm:"column:user_id;index:idx_tags_tenant;not null"`
	Name      string    `gorm:"column:name;type:varchar(255);not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Tag) TableName() string { return "tags" }

type ContactTag struct {
	ContactID string    `gorm:"column:contact_id;primaryKey;type:char(26)"`
	TagID     string    `gorm:"column:tag_id;primaryKey;type:char(26)"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (ContactTag) TableName() string { return "contact_tags" }

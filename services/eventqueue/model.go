package eventqueue

import (
	"encoding/json"
	"time"

	"pulsecrm/services/filter"
	"pulsecrm/services/trigger"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Entry is one discovered event awaiting evaluation. EventConfigID is nil
// for deferred entries: the processor resolves the tenant's matching configs
// at processing time and fans the entry out into one child per config.
type Entry struct {
	ID            string           `gorm:"column:id;primaryKey;type:char(26)"`
	AgencyID      string           `gorm:"column:agency_id;index:idx_event_queue_tenant;not null"`
	UserID        string           `gorm:"column:user_id;index:idx_event_queue_tenant;not null"`
	EventKey      trigger.EventKey `gorm:"column:event_key;type:varchar(50);not null"`
	EventConfigID *string          `gorm:"column:event_config_id;index"`
	ParentID      string           `gorm:"column:parent_id;index"`
	ContactID     string           `gorm:"column:contact_id;not null"`
	Status        Status           `gorm:"column:status;type:varchar(20);default:'PENDING';index:idx_event_queue_due"`
	ScheduleAt    time.Time        `gorm:"column:schedule_at;index:idx_event_queue_due;not null"`
	Payload       datatypes.JSON   `gorm:"column:payload"`
	FailReason    string           `gorm:"column:fail_reason;type:text"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Entry) TableName() string { return "trigger_event_queue" }

func (e *Entry) DecodePayload() filter.Payload {
	var p filter.Payload
	if len(e.Payload) == 0 {
		return p
	}
	_ = json.Unmarshal(e.Payload, &p)
	return p
}

func (e *Entry) SetPayload(p filter.Payload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	e.Payload = raw
	return nil
}

package actionqueue

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

// Entry is one pending action for one contact. TriggerEventID groups the
// actions spawned by a single processed event so the registry can batch
// notifications per firing.
type Entry struct {
	ID             string             `gorm:"column:id;primaryKey;type:char(26)"`
	AgencyID       string             `gorm:"column:agency_id;index:idx_action_queue_tenant;not null"`
	UserID         string             `gorm:"column:user_id;index:idx_action_queue_tenant;not null"`
	TriggerID      string             `gorm:"column:trigger_id;not null"`
	TriggerEventID string             `gorm:"column:trigger_event_id;index;not null"`
	EventConfigID  string             `gorm:"column:event_config_id;not null"`
	ActionConfigID string             `gorm:"column:action_config_id;not null"`
	ActionType     trigger.ActionType `gorm:"column:action_type;type:varchar(50);not null"`
	ContactID      string             `gorm:"column:contact_id;not null"`
	Status         Status             `gorm:"column:status;type:varchar(20);default:'PENDING';index:idx_action_queue_due"`
	ScheduleAt     time.Time          `gorm:"column:schedule_at;index:idx_action_queue_due;not null"`
	Payload        datatypes.JSON     `gorm:"column:payload"`
	FailReason     string             `gorm:"column:fail_reason;type:text"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (Entry) TableName() string { return "trigger_action_queue" }

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

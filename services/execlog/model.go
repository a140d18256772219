package execlog

import (
	"time"
)

type RunStatus string

const (
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
	RunFanout  RunStatus = "FANOUT"
)

// EventLog records one processed event per trigger, config, contact and
// calendar day. The unique index is the day-granular dedup guard: a second
// discovery of the same (trigger, config, contact) on the same run date
// conflicts and is dropped.
type EventLog struct {
	ID            string    `gorm:"column:id;primaryKey;type:char(26)"`
	AgencyID      string    `gorm:"column:agency_id;index;not null"`
	UserID        string    `gorm:"column:user_id;not null"`
	TriggerID     string    `gorm:"column:trigger_id;uniqueIndex:idx_event_logs_run_once;not null"`
	EventConfigID string    `gorm:"column:event_config_id;uniqueIndex:idx_event_logs_run_once;not null"`
	ContactID     string    `gorm:"column:contact_id;uniqueIndex:idx_event_logs_run_once;not null"`
	RunDate       string    `gorm:"column:run_date;type:char(10);uniqueIndex:idx_event_logs_run_once;not null"`
	Status        RunStatus `gorm:"column:status;type:varchar(20);not null"`
	Detail        string    `gorm:"column:detail;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (EventLog) TableName() string { return "trigger_event_logs" }

// ActionLog records the outcome of one action queue entry.
type ActionLog struct {
	ID            string    `gorm:"column:id;primaryKey;type:char(26)"`
	AgencyID      string    `gorm:"column:agency_id;index;not null"`
	UserID        string    `gorm:"column:user_id;not null"`
	ActionQueueID string    `gorm:"column:action_queue_id;uniqueIndex;not null"`
	TriggerID     string    `gorm:"column:trigger_id;index;not null"`
	ContactID     string    `gorm:"column:contact_id;not null"`
	ActionType    string    `gorm:"column:action_type;type:varchar(50);not null"`
	Status        RunStatus `gorm:"column:status;type:varchar(20);not null"`
	Detail        string    `gorm:"column:detail;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (ActionLog) TableName() string { return "trigger_action_logs" }

// RunDateOf formats a moment as the log's day key in the given location.
func RunDateOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

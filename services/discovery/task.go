package discovery

import (
	"encoding/json"

	"pulsecrm/pkg/taskname"
	"pulsecrm/services/filter"
	"pulsecrm/services/trigger"

	"github.com/hibiken/asynq"
)

// TenantScanPayload fans the daily scan out to one task per tenant.
type TenantScanPayload struct {
	AgencyID string `json:"agency_id"`
	UserID   string `json:"user_id"`
}

func NewTenantScanTask(p TenantScanPayload) (*asynq.Task, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.EngineTenantScan, raw), nil
}

// EventReceivedPayload is a realtime event observed by an upstream surface.
type EventReceivedPayload struct {
	AgencyID  string           `json:"agency_id"`
	UserID    string           `json:"user_id"`
	EventKey  trigger.EventKey `json:"event_key"`
	ContactID string           `json:"contact_id"`
	Payload   filter.Payload   `json:"payload"`
}

func NewEventReceivedTask(p EventReceivedPayload) (*asynq.Task, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.EngineEventReceived, raw), nil
}

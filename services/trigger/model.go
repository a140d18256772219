package trigger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusPaused   Status = "PAUSED"
)

// EventKey identifies the business event an EventConfig listens to.
type EventKey string

const (
	EventBirthday       EventKey = "contact.birthday"
	EventAnniversary    EventKey = "contact.anniversary"
	EventContactCreated EventKey = "contact.created"
	EventContactUpdated EventKey = "contact.updated"
	EventTagAdded       EventKey = "tag.added"
	EventTagRemoved     EventKey = "tag.removed"
	EventBroadcastAdded EventKey = "broadcast.member_added"
	EventInboundKeyword EventKey = "message.keyword"
)

// DateBased reports whether the event is discovered by the daily scan rather
// than a realtime call.
func (k EventKey) DateBased() bool {
	return k == EventBirthday || k == EventAnniversary
}

type ActionType string

const (
	ActionSendMessage          ActionType = "send_message"
	ActionAddTag               ActionType = "add_tag"
	ActionPauseBroadcast       ActionType = "pause_broadcast"
	ActionUnsubscribeBroadcast ActionType = "unsubscribe_broadcast"
	ActionOptOutContact        ActionType = "opt_out_contact"
	ActionAddToBroadcast       ActionType = "add_to_broadcast"
)

// Filter field names recognised by the evaluator. Anything else fails closed.
const (
	FieldMonth          = "month"
	FieldDay            = "day"
	FieldBeforeDays     = "before_days"
	FieldAfterDays      = "after_days"
	FieldOnDay          = "on_day"
	FieldHasTag         = "has_tag"
	FieldDoesntHaveTag  = "doesnt_have_tag"
	FieldKeyword        = "keyword"
	FieldMatchCondition = "match_condition"
	FieldAction         = "action"
	FieldUpdatedFields  = "updated_fields"
	FieldTagAdded       = "tag_added"
	FieldTagRemoved     = "tag_removed"
	FieldBroadcastID    = "broadcast_id"
)

const OperatorEquals = "equals"

// FilterCondition is one declarative predicate on an EventConfig.
type FilterCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// MonthNumber parses a month filter value: a numeral or an English month
// name, full or three-letter ("3", "March", "mar").
func MonthNumber(value string) (int, bool) {
	v := strings.TrimSpace(value)
	if n, err := strconv.Atoi(v); err == nil {
		return n, true
	}
	for m := time.January; m <= time.December; m++ {
		name := m.String()
		if strings.EqualFold(v, name) || strings.EqualFold(v, name[:3]) {
			return int(m), true
		}
	}
	return 0, false
}

// Trigger is a tenant's named automation rule.
type Trigger struct {
	ID        string         `gorm:"column:id;primaryKey;type:char(26)"`
	AgencyID  string         `gorm:"column:agency_id;index:idx_triggers_tenant;not null"`
	UserID    string         `gorm:"column:user_id;index:idx_triggers_tenant;not null"`
	Title     string         `gorm:"column:title;type:varchar(255);not null"`
	Status    Status         `gorm:"column:status;type:varchar(20);default:'ACTIVE'"`
	Priority  int32          `gorm:"column:priority;default:0"`
	Timezone  string         `gorm:"column:timezone;type:varchar(64)"`
	Version   int32          `gorm:"column:version;default:1"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`

	EventConfigs []EventConfig `gorm:"foreignKey:TriggerID"`
}

func (Trigger) TableName() string { return "triggers" }

// Location resolves the trigger's timezone, falling back to UTC.
func (t *Trigger) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EventConfig binds a Trigger to one event key plus its filter set.
type EventConfig struct {
	ID         string         `gorm:"column:id;primaryKey;type:char(26)"`
	TriggerID  string         `gorm:"column:trigger_id;index;not null"`
	EventKey   EventKey       `gorm:"column:event_key;type:varchar(50);index;not null"`
	Filters    datatypes.JSON `gorm:"column:filters"`
	Expression string         `gorm:"column:expression;type:text"`
	Config     datatypes.JSON `gorm:"column:config"`
	Active     bool           `gorm:"column:active;default:true"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime"`

	Trigger       *Trigger       `gorm:"foreignKey:TriggerID;references:ID"`
	ActionConfigs []ActionConfig `gorm:"foreignKey:EventConfigID"`
}

func (EventConfig) TableName() string { return "trigger_event_configs" }

// FilterList decodes the stored filter conditions. Malformed filter JSON is
// logged and treated as an empty list so one broken rule cannot block
// unrelated discovery; evaluation of unknown fields still fails closed.
func (c *EventConfig) FilterList() []FilterCondition {
	if len(c.Filters) == 0 {
		return nil
	}
	var filters []FilterCondition
	if err := json.Unmarshal(c.Filters, &filters); err != nil {
		zap.L().Warn("malformed filters on event config",
			zap.String("event_config_id", c.ID),
			zap.Error(err),
		)
		return nil
	}
	return filters
}

func (c *EventConfig) SetFilters(filters []FilterCondition) error {
	if filters == nil {
		c.Filters = nil
		return nil
	}
	raw, err := json.Marshal(filters)
	if err != nil {
		return err
	}
	c.Filters = raw
	return nil
}

// ActionConfig binds an EventConfig to one action type plus its parameters.
type ActionConfig struct {
	ID            string         `gorm:"column:id;primaryKey;type:char(26)"`
	EventConfigID string         `gorm:"column:event_config_id;index;not null"`
	Type          ActionType     `gorm:"column:type;type:varchar(50);not null"`
	Config        datatypes.JSON `gorm:"column:config"`
	Active        bool           `gorm:"column:active;default:true"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (ActionConfig) TableName() string { return "trigger_action_configs" }

// Per-action config payloads. The registry dispatches on ActionType and each
// executor decodes its own shape, a tagged union instead of loose maps.

type SendMessageConfig struct {
	From        string `json:"from,omitempty"`
	Body        string `json:"body,omitempty"`
	TemplateRef string `json:"template_ref,omitempty"`
}

type AddTagConfig struct {
	TagIDs []string `json:"tag_ids"`
}

type BroadcastConfig struct {
	BroadcastID string `json:"broadcast_id,omitempty"`
	All         bool   `json:"all,omitempty"`
}

type OptOutConfig struct{}

// Decode returns the typed config for the action's type.
func (a *ActionConfig) Decode() (any, error) {
	raw := []byte(a.Config)
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	switch a.Type {
	case ActionSendMessage:
		var cfg SendMessageConfig
		err := json.Unmarshal(raw, &cfg)
		return cfg, err
	case ActionAddTag:
		var cfg AddTagConfig
		err := json.Unmarshal(raw, &cfg)
		return cfg, err
	case ActionPauseBroadcast, ActionUnsubscribeBroadcast, ActionAddToBroadcast:
		var cfg BroadcastConfig
		err := json.Unmarshal(raw, &cfg)
		return cfg, err
	case ActionOptOutContact:
		return OptOutConfig{}, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", a.Type)
	}
}

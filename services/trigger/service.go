package trigger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pulsecrm/pkg/celengine"
	"pulsecrm/pkg/errutil"
	"pulsecrm/services/tenant"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service owns trigger lifecycle and validation. Every mutation invalidates
// the tenant's config cache so the realtime path sees the change within one
// load.
type Service struct {
	repo   Repository
	cache  *Cache
	node   *snowflake.Node
	logger *zap.Logger
}

type ServiceParams struct {
	fx.In

	Repo   Repository
	Cache  *Cache
	Node   *snowflake.Node
	Logger *zap.Logger
}

func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: p.Repo, cache: p.Cache, node: p.Node, logger: logger}
}

type CreateTriggerInput struct {
	Title    string
	Priority int32
	Timezone string
}

func (s *Service) CreateTrigger(ctx context.Context, tn tenant.Tenant, in CreateTriggerInput) (*Trigger, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, errutil.ValidationFailed("trigger title is required")
	}
	if in.Timezone != "" {
		if _, err := time.LoadLocation(in.Timezone); err != nil {
			return nil, errutil.ValidationFailed(fmt.Sprintf("unknown timezone %q", in.Timezone))
		}
	}

	t := &Trigger{
		ID:       s.node.Generate().String(),
		AgencyID: tn.AgencyID,
		UserID:   tn.UserID,
		Title:    strings.TrimSpace(in.Title),
		Status:   StatusActive,
		Priority: in.Priority,
		Timezone: in.Timezone,
		Version:  1,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, errutil.Internal("failed to create trigger", errutil.WithErr(err))
	}
	s.cache.Invalidate(tn)
	return t, nil
}

func (s *Service) GetTrigger(ctx context.Context, tn tenant.Tenant, id string) (*Trigger, error) {
	t, err := s.repo.Get(ctx, tn, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("trigger not found")
		}
		return nil, err
	}
	return t, nil
}

func (s *Service) ListTriggers(ctx context.Context, tn tenant.Tenant) ([]Trigger, error) {
	return s.repo.List(ctx, tn)
}

type UpdateTriggerInput struct {
	Title    *string
	Status   *Status
	Priority *int32
	Timezone *string
	Version  int32
}

func (s *Service) UpdateTrigger(ctx context.Context, tn tenant.Tenant, id string, in UpdateTriggerInput) (*Trigger, error) {
	t, err := s.GetTrigger(ctx, tn, id)
	if err != nil {
		return nil, err
	}
	if in.Version != t.Version {
		return nil, errutil.PreconditionFailed("trigger was modified concurrently")
	}

	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return nil, errutil.ValidationFailed("trigger title is required")
		}
		t.Title = strings.TrimSpace(*in.Title)
	}
	if in.Status != nil {
		switch *in.Status {
		case StatusActive, StatusInactive, StatusPaused:
			t.Status = *in.Status
		default:
			return nil, errutil.ValidationFailed(fmt.Sprintf("unknown status %q", *in.Status))
		}
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if in.Timezone != nil {
		if *in.Timezone != "" {
			if _, err := time.LoadLocation(*in.Timezone); err != nil {
				return nil, errutil.ValidationFailed(fmt.Sprintf("unknown timezone %q", *in.Timezone))
			}
		}
		t.Timezone = *in.Timezone
	}

	if err := s.repo.Update(ctx, t); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.PreconditionFailed("trigger was modified concurrently")
		}
		return nil, err
	}
	s.cache.Invalidate(tn)
	return t, nil
}

func (s *Service) DeleteTrigger(ctx context.Context, tn tenant.Tenant, id string) error {
	if err := s.repo.Delete(ctx, tn, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("trigger not found")
		}
		return err
	}
	s.cache.Invalidate(tn)
	return nil
}

// Duplicate deep-copies a trigger with fresh IDs. The copy starts PAUSED so
// it does not fire until the owner reviews it.
func (s *Service) Duplicate(ctx context.Context, tn tenant.Tenant, id string) (*Trigger, error) {
	src, err := s.GetTrigger(ctx, tn, id)
	if err != nil {
		return nil, err
	}

	dup := &Trigger{
		ID:       s.node.Generate().String(),
		AgencyID: tn.AgencyID,
		UserID:   tn.UserID,
		Title:    src.Title + " (copy)",
		Status:   StatusPaused,
		Priority: src.Priority,
		Timezone: src.Timezone,
		Version:  1,
	}
	if err := s.repo.Create(ctx, dup); err != nil {
		return nil, err
	}

	for _, ec := range src.EventConfigs {
		ecCopy := EventConfig{
			ID:         s.node.Generate().String(),
			TriggerID:  dup.ID,
			EventKey:   ec.EventKey,
			Filters:    ec.Filters,
			Expression: ec.Expression,
			Config:     ec.Config,
			Active:     ec.Active,
		}
		if err := s.repo.CreateEventConfig(ctx, &ecCopy); err != nil {
			return nil, err
		}
		for _, ac := range ec.ActionConfigs {
			acCopy := ActionConfig{
				ID:            s.node.Generate().String(),
				EventConfigID: ecCopy.ID,
				Type:          ac.Type,
				Config:        ac.Config,
				Active:        ac.Active,
			}
			if err := s.repo.CreateActionConfig(ctx, &acCopy); err != nil {
				return nil, err
			}
		}
	}

	s.cache.Invalidate(tn)
	return s.repo.Get(ctx, tn, dup.ID)
}

type EventConfigInput struct {
	EventKey   EventKey
	Filters    []FilterCondition
	Expression string
	Active     bool
}

func (s *Service) AddEventConfig(ctx context.Context, tn tenant.Tenant, triggerID string, in EventConfigInput) (*EventConfig, error) {
	if _, err := s.GetTrigger(ctx, tn, triggerID); err != nil {
		return nil, err
	}
	if err := validateEventKey(in.EventKey); err != nil {
		return nil, err
	}
	if err := ValidateFilters(in.Filters); err != nil {
		return nil, err
	}
	if err := validateExpression(in.Expression); err != nil {
		return nil, err
	}

	c := &EventConfig{
		ID:         s.node.Generate().String(),
		TriggerID:  triggerID,
		EventKey:   in.EventKey,
		Expression: in.Expression,
		Active:     in.Active,
	}
	if err := c.SetFilters(in.Filters); err != nil {
		return nil, errutil.BadRequest("invalid filters", errutil.WithErr(err))
	}
	if err := s.repo.CreateEventConfig(ctx, c); err != nil {
		return nil, err
	}
	s.cache.Invalidate(tn)
	return c, nil
}

func (s *Service) UpdateEventConfig(ctx context.Context, tn tenant.Tenant, id string, in EventConfigInput) (*EventConfig, error) {
	c, err := s.repo.GetEventConfig(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("event config not found")
		}
		return nil, err
	}
	if c.Trigger == nil || c.Trigger.AgencyID != tn.AgencyID || c.Trigger.UserID != tn.UserID {
		return nil, errutil.NotFound("event config not found")
	}
	if err := validateEventKey(in.EventKey); err != nil {
		return nil, err
	}
	if err := ValidateFilters(in.Filters); err != nil {
		return nil, err
	}
	if err := validateExpression(in.Expression); err != nil {
		return nil, err
	}

	c.EventKey = in.EventKey
	c.Expression = in.Expression
	c.Active = in.Active
	if err := c.SetFilters(in.Filters); err != nil {
		return nil, errutil.BadRequest("invalid filters", errutil.WithErr(err))
	}
	if err := s.repo.UpdateEventConfig(ctx, c); err != nil {
		return nil, err
	}
	s.cache.Invalidate(tn)
	return c, nil
}

type ActionConfigInput struct {
	Type   ActionType
	Config []byte
	Active bool
}

func (s *Service) AddActionConfig(ctx context.Context, tn tenant.Tenant, eventConfigID string, in ActionConfigInput) (*ActionConfig, error) {
	ec, err := s.repo.GetEventConfig(ctx, eventConfigID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("event config not found")
		}
		return nil, err
	}
	if ec.Trigger == nil || ec.Trigger.AgencyID != tn.AgencyID || ec.Trigger.UserID != tn.UserID {
		return nil, errutil.NotFound("event config not found")
	}

	a := &ActionConfig{
		ID:            s.node.Generate().String(),
		EventConfigID: eventConfigID,
		Type:          in.Type,
		Config:        in.Config,
		Active:        in.Active,
	}
	if _, err := a.Decode(); err != nil {
		return nil, errutil.ValidationFailed("invalid action config", errutil.WithErr(err))
	}
	if err := s.repo.CreateActionConfig(ctx, a); err != nil {
		return nil, err
	}
	s.cache.Invalidate(tn)
	return a, nil
}

func validateEventKey(key EventKey) error {
	switch key {
	case EventBirthday, EventAnniversary, EventContactCreated, EventContactUpdated,
		EventTagAdded, EventTagRemoved, EventBroadcastAdded, EventInboundKeyword:
		return nil
	default:
		return errutil.ValidationFailed(fmt.Sprintf("unknown event key %q", key))
	}
}

// ValidateFilters rejects filter sets that could never pass or would be
// silently ignored at evaluation time.
func ValidateFilters(filters []FilterCondition) error {
	var hasBefore, hasAfter bool
	hasTags := map[string]bool{}
	notTags := map[string]bool{}

	for _, f := range filters {
		switch f.Field {
		case FieldBeforeDays:
			hasBefore = true
			if err := requireNonNegativeInt(f); err != nil {
				return err
			}
		case FieldAfterDays:
			hasAfter = true
			if err := requireNonNegativeInt(f); err != nil {
				return err
			}
		case FieldMonth:
			if n, ok := MonthNumber(f.Value); !ok || n < 1 || n > 12 {
				return errutil.ValidationFailed(
					fmt.Sprintf("month value %q is not a month", f.Value))
			}
		case FieldDay:
			if n, err := strconv.Atoi(f.Value); err != nil || n < 1 || n > 31 {
				return errutil.ValidationFailed(
					fmt.Sprintf("day value %q must be between 1 and 31", f.Value))
			}
		case FieldOnDay:
			if _, err := time.Parse("15:04", f.Value); err != nil {
				return errutil.ValidationFailed(
					fmt.Sprintf("on_day value %q is not HH:MM", f.Value))
			}
		case FieldHasTag:
			hasTags[f.Value] = true
		case FieldDoesntHaveTag:
			notTags[f.Value] = true
		case FieldKeyword, FieldMatchCondition, FieldAction, FieldUpdatedFields,
			FieldTagAdded, FieldTagRemoved, FieldBroadcastID:
			// free-form, checked at evaluation time
		default:
			return errutil.ValidationFailed(
				fmt.Sprintf("unknown filter field %q", f.Field))
		}
	}

	if hasBefore && hasAfter {
		return errutil.ValidationFailed(
			"before_days and after_days are mutually exclusive")
	}
	for tag := range hasTags {
		if notTags[tag] {
			return errutil.ValidationFailed(
				fmt.Sprintf("tag %q required both present and absent", tag))
		}
	}
	return nil
}

func requireNonNegativeInt(f FilterCondition) error {
	n, err := strconv.Atoi(f.Value)
	if err != nil || n < 0 {
		return errutil.ValidationFailed(
			fmt.Sprintf("%s value %q is not a non-negative integer", f.Field, f.Value))
	}
	return nil
}

// validateExpression compiles the CEL expression against the attribute shape
// the evaluator exposes at runtime.
func validateExpression(expr string) error {
	if expr == "" {
		return nil
	}
	env, err := celengine.BuildCelEnvFromAttributes(sampleAttributes())
	if err != nil {
		return err
	}
	if err := celengine.ValidateExpression(env, expr); err != nil {
		return errutil.ValidationFailed("invalid expression", errutil.WithErr(err))
	}
	return nil
}

func sampleAttributes() map[string]any {
	return map[string]any{
		"contact_name":   "",
		"contact_number": "",
		"message_text":   "",
		"action":         "",
		"tag_id":         "",
		"broadcast_id":   "",
		"tags":           []string{},
		"updated_fields": []string{},
	}
}

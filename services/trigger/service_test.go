package trigger

import (
	"context"
	"testing"
	"time"

	"pulsecrm/pkg/config"
	"pulsecrm/pkg/errutil"
	"pulsecrm/services/tenant"
	"pulsecrm/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, Repository) {
	t.Helper()

	db := testutil.NewTestDB(t, &Trigger{}, &EventConfig{}, &ActionConfig{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Engine.ConfigCacheTTL = time.Minute

	repo := NewRepository(db)
	svc := NewService(ServiceParams{
		Repo:  repo,
		Cache: NewCache(repo, cfg),
		Node:  node,
	})
	return svc, repo
}

var testTenant = tenant.Tenant{AgencyID: "ag_1", UserID: "u_1"}

func TestCreateTriggerValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTrigger(ctx, testTenant, CreateTriggerInput{Title: "   "})
	require.Error(t, err)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = svc.CreateTrigger(ctx, testTenant, CreateTriggerInput{Title: "Birthday", Timezone: "Mars/Olympus"})
	require.Error(t, err)

	tr, err := svc.CreateTrigger(ctx, testTenant, CreateTriggerInput{Title: "Birthday", Timezone: "Asia/Jakarta"})
	require.NoError(t, err)
	require.Equal(t, StatusActive, tr.Status)
	require.Equal(t, int32(1), tr.Version)
}

func TestTriggerTenantIsolation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tr, err := svc.CreateTrigger(ctx, testTenant, CreateTriggerInput{Title: "Mine"})
	require.NoError(t, err)

	other := tenant.Tenant{AgencyID: "ag_2", UserID: "u_2"}
	_, err = svc.GetTrigger(ctx, other, tr.ID)
	require.Error(t, err)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestUpdateTriggerOptimisticVersioning(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tr, err := svc.CreateTrigger(ctx, testTenant, CreateTriggerInput{Title: "Birthday"})
	require.NoError(t, err)

	title := "Birthday greetings"
	updated, err := svc.UpdateTrigger(ctx, testTenant, tr.ID, UpdateTriggerInput{Title: &title, Version: 1})
	require.NoError(t, err)
	require.Equal(t, int32(2), updated.Version)

	// A writer still holding version 1 loses.
	_, err = svc.UpdateTrigger(ctx, testTenant, tr.ID, UpdateTriggerInput{Title: &title, Version: 1})
	require.Error(t, err)
	require.Equal(t, errutil.StatusPrecondition, errutil.StatusOf(err))
}

func TestFilterValidation(t *testing.T) {
	require.NoError(t, ValidateFilters([]FilterCondition{
		{Field: FieldBeforeDays, Value: "3"},
		{Field: FieldHasTag, Value: "vip"},
		{Field: FieldOnDay, Value: "09:30"},
	}))

	err := ValidateFilters([]FilterCondition{
		{Field: FieldBeforeDays, Value: "3"},
		{Field: FieldAfterDays, Value: "2"},
	})
	require.Error(t, err)

	err = ValidateFilters([]FilterCondition{
		{Field: FieldHasTag, Value: "vip"},
		{Field: FieldDoesntHaveTag, Value: "vip"},
	})
	require.Error(t, err)

	// Month names are as valid as numerals.
	require.NoError(t, ValidateFilters([]FilterCondition{{Field: FieldMonth, Value: "March"}}))
	require.NoError(t, ValidateFilters([]FilterCondition{{Field: FieldMonth, Value: "dec"}}))

	require.Error(t, ValidateFilters([]FilterCondition{{Field: FieldMonth, Value: "13"}}))
	require.Error(t, ValidateFilters([]FilterCondition{{Field: FieldMonth, Value: "Smarch"}}))
	require.Error(t, ValidateFilters([]FilterCondition{{Field: FieldDay, Value: "32"}}))
	require.Error(t, ValidateFilters([]FilterCondition{{Field: FieldOnDay, Value: "25:61"}}))
	require.Error(t, ValidateFilters([]FilterCondition{{Field: "bogus", Value: "x"}}))
}

func TestMonthNumber(t *testing.T) {
	for value, want := range map[string]int{"1": 1, "12": 12, "March": 3, "march": 3, "MAR": 3, " June ": 6} {
		n, ok := MonthNumber(value)
		require.True(t, ok, value)
		require.Equal(t, want, n, value)
	}
	_, ok := MonthNumber("Smarch")
	require.False(t, ok)
}

func TestAddEventConfigRejectsBadExpression(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tr, err := svc.CreateTrigger(ctx, testTenant, CreateTriggerInput{Title: "Keyword"})
	require.NoError(t, err)

	_, err = svc.AddEventConfig(ctx, testTenant, tr.ID, EventConfigInput{
		EventKey:   EventInboundKeyword,
		Expression: `message_text ==`,
		Active:     true,
	})
	require.Error(t, err)

	cfg, err := svc.AddEventConfig(ctx, testTenant, tr.ID, EventConfigInput{
		EventKey:   EventInboundKeyword,
		Expression: `message_text == "stop"`,
		Active:     true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, cfg.ID)
}

func TestListActiveEventConfigsScoping(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	active, err := svc.CreateTrigger(ctx, testTenant, CreateTriggerInput{Title: "Active"})
	require.NoError(t, err)
	_, err = svc.AddEventConfig(ctx, testTenant, active.ID, EventConfigInput{EventKey: EventBirthday, Active: true})
	require.NoError(t, err)

	paused, err := svc.CreateTrigger(ctx, testTenant, CreateTriggerInput{Title: "Paused"})
	require.NoError(t, err)
	_, err = svc.AddEventConfig(ctx, testTenant, paused.ID, EventConfigInput{EventKey: EventBirthday, Active: true})
	require.NoError(t, err)
	status := StatusPaused
	_, err = svc.UpdateTrigger(ctx, testTenant, paused.ID, UpdateTriggerInput{Status: &status, Version: 1})
	require.NoError(t, err)

	configs, err := repo.ListActiveEventConfigs(ctx, testTenant, EventBirthday)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	require.Equal(t, active.ID, configs[0].TriggerID)
	require.NotNil(t, configs[0].Trigger)
}

func TestDuplicateTrigger(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tr, err := svc.CreateTrigger(ctx, testTenant, CreateTriggerInput{Title: "Birthday"})
	require.NoError(t, err)
	ec, err := svc.AddEventConfig(ctx, testTenant, tr.ID, EventConfigInput{
		EventKey: EventBirthday,
		Filters:  []FilterCondition{{Field: FieldBeforeDays, Value: "3"}},
		Active:   true,
	})
	require.NoError(t, err)
	_, err = svc.AddActionConfig(ctx, testTenant, ec.ID, ActionConfigInput{
		Type:   ActionSendMessage,
		Config: []byte(`{"body":"Happy birthday {{name}}!"}`),
		Active: true,
	})
	require.NoError(t, err)

	dup, err := svc.Duplicate(ctx, testTenant, tr.ID)
	require.NoError(t, err)
	require.NotEqual(t, tr.ID, dup.ID)
	require.Equal(t, "Birthday (copy)", dup.Title)
	require.Equal(t, StatusPaused, dup.Status)
	require.Len(t, dup.EventConfigs, 1)
	require.NotEqual(t, ec.ID, dup.EventConfigs[0].ID)
	require.Len(t, dup.EventConfigs[0].ActionConfigs, 1)
	require.Equal(t, ec.FilterList(), dup.EventConfigs[0].FilterList())
}

func TestDeleteTriggerCascades(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	tr, err := svc.CreateTrigger(ctx, testTenant, CreateTriggerInput{Title: "Birthday"})
	require.NoError(t, err)
	ec, err := svc.AddEventConfig(ctx, testTenant, tr.ID, EventConfigInput{EventKey: EventBirthday, Active: true})
	require.NoError(t, err)
	ac, err := svc.AddActionConfig(ctx, testTenant, ec.ID, ActionConfigInput{Type: ActionOptOutContact, Active: true})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTrigger(ctx, testTenant, tr.ID))

	_, err = repo.GetEventConfig(ctx, ec.ID)
	require.Error(t, err)
	_, err = repo.GetActionConfig(ctx, ac.ID)
	require.Error(t, err)
}

func TestActionConfigDecode(t *testing.T) {
	ac := &ActionConfig{Type: ActionAddTag, Config: []byte(`{"tag_ids":["a","b"]}`)}
	decoded, err := ac.Decode()
	require.NoError(t, err)
	require.Equal(t, AddTagConfig{TagIDs: []string{"a", "b"}}, decoded)

	ac = &ActionConfig{Type: "teleport"}
	_, err = ac.Decode()
	require.Error(t, err)
}

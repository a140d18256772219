package discovery

import (
	"context"
	"strconv"
	"testing"
	"time"

	"pulsecrm/pkg/config"
	"pulsecrm/services/contact"
	"pulsecrm/services/eventqueue"
	"pulsecrm/services/execlog"
	"pulsecrm/services/tag"
	"pulsecrm/services/tenant"
	"pulsecrm/services/testutil"
	"pulsecrm/services/trigger"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeFlags struct{}

func (fakeFlags) Enabled(context.Context, string) bool { return false }

type scanHarness struct {
	db    *gorm.DB
	node  *snowflake.Node
	svc   *Service
	queue eventqueue.Repository
	logs  execlog.Repository
	rules *trigger.Service
}

var tn = tenant.Tenant{AgencyID: "ag_1", UserID: "u_1"}

func newScanHarness(t *testing.T) *scanHarness {
	t.Helper()

	db := testutil.NewTestDB(t,
		&tenant.Agency{}, &tenant.User{},
		&trigger.Trigger{}, &trigger.EventConfig{}, &trigger.ActionConfig{},
		&contact.Contact{}, &tag.Tag{}, &tag.ContactTag{},
		&eventqueue.Entry{}, &execlog.EventLog{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Engine.ConfigCacheTTL = time.Minute

	triggers := trigger.NewRepository(db)
	cache := trigger.NewCache(triggers, cfg)
	queue := eventqueue.NewRepository(db)
	logs := execlog.NewRepository(db, node)
	contacts := contact.NewStore(contact.StoreParams{DB: db, Node: node})

	svc := NewService(Params{
		Directory: tenant.NewDirectory(tenant.DirectoryParams{DB: db}),
		Triggers:  triggers,
		Contacts:  contacts,
		Queue:     queue,
		Manager:   eventqueue.NewManager(eventqueue.ManagerParams{Repo: queue, Cache: cache, Flags: fakeFlags{}, Node: node}),
		Logs:      logs,
		Node:      node,
	})

	return &scanHarness{
		db:    db,
		node:  node,
		svc:   svc,
		queue: queue,
		logs:  logs,
		rules: trigger.NewService(trigger.ServiceParams{Repo: triggers, Cache: cache, Node: node}),
	}
}

func (h *scanHarness) seedBirthdayConfig(t *testing.T, beforeDays string) (*trigger.Trigger, *trigger.EventConfig) {
	t.Helper()
	ctx := context.Background()

	tr, err := h.rules.CreateTrigger(ctx, tn, trigger.CreateTriggerInput{Title: "Birthday"})
	require.NoError(t, err)
	ec, err := h.rules.AddEventConfig(ctx, tn, tr.ID, trigger.EventConfigInput{
		EventKey: trigger.EventBirthday,
		Filters:  []trigger.FilterCondition{{Field: trigger.FieldBeforeDays, Value: beforeDays}},
		Active:   true,
	})
	require.NoError(t, err)
	return tr, ec
}

func (h *scanHarness) seedContactWithBirthday(t *testing.T, id string, birthday time.Time) {
	t.Helper()
	require.NoError(t, h.db.Create(&contact.Contact{
		ID: id, AgencyID: tn.AgencyID, UserID: tn.UserID,
		FirstName: "Ana", Number: "628111",
		Birthday: &birthday, Status: contact.StatusActive,
	}).Error)
}

func TestRunScanQueuesEligibleContacts(t *testing.T) {
	h := newScanHarness(t)
	ctx := context.Background()
	_, ec := h.seedBirthdayConfig(t, "3")

	inThree := time.Now().UTC().AddDate(-30, 0, 3)
	h.seedContactWithBirthday(t, "c_match", inThree)
	h.seedContactWithBirthday(t, "c_other", inThree.AddDate(0, 1, 0))

	require.NoError(t, h.svc.RunScan(ctx, tn))

	var entries []eventqueue.Entry
	require.NoError(t, h.db.Find(&entries).Error)
	require.Len(t, entries, 1)
	require.Equal(t, "c_match", entries[0].ContactID)
	require.Equal(t, ec.ID, *entries[0].EventConfigID)
	require.Equal(t, trigger.EventBirthday, entries[0].EventKey)

	payload := entries[0].DecodePayload()
	require.Equal(t, "Ana", payload.ContactName)
	require.Equal(t, "628111", payload.ContactNumber)
}

func TestRunScanIsIdempotent(t *testing.T) {
	h := newScanHarness(t)
	ctx := context.Background()
	tr, ec := h.seedBirthdayConfig(t, "0")

	today := time.Now().UTC().AddDate(-25, 0, 0)
	h.seedContactWithBirthday(t, "c_1", today)

	require.NoError(t, h.svc.RunScan(ctx, tn))
	require.NoError(t, h.svc.RunScan(ctx, tn))

	var count int64
	require.NoError(t, h.db.Model(&eventqueue.Entry{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	// Once processed and logged, a rerun the same day still queues nothing.
	var entry eventqueue.Entry
	require.NoError(t, h.db.First(&entry).Error)
	require.NoError(t, h.queue.MarkCompleted(ctx, entry.ID))
	require.NoError(t, h.logs.RecordEvent(ctx, &execlog.EventLog{
		AgencyID: tn.AgencyID, UserID: tn.UserID,
		TriggerID: tr.ID, EventConfigID: ec.ID, ContactID: "c_1",
		RunDate: execlog.RunDateOf(time.Now(), time.UTC),
		Status:  execlog.RunSuccess,
	}))

	require.NoError(t, h.svc.RunScan(ctx, tn))
	require.NoError(t, h.db.Model(&eventqueue.Entry{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRunScanSkipsUnsubscribedContacts(t *testing.T) {
	h := newScanHarness(t)
	ctx := context.Background()
	h.seedBirthdayConfig(t, "0")

	today := time.Now().UTC().AddDate(-25, 0, 0)
	require.NoError(t, h.db.Create(&contact.Contact{
		ID: "c_1", AgencyID: tn.AgencyID, UserID: tn.UserID,
		Number: "628111", Birthday: &today, Status: contact.StatusUnsubscribed,
	}).Error)

	require.NoError(t, h.svc.RunScan(ctx, tn))

	var count int64
	require.NoError(t, h.db.Model(&eventqueue.Entry{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRunScanHonorsTagCriteria(t *testing.T) {
	h := newScanHarness(t)
	ctx := context.Background()

	tr, err := h.rules.CreateTrigger(ctx, tn, trigger.CreateTriggerInput{Title: "VIP birthday"})
	require.NoError(t, err)
	_, err = h.rules.AddEventConfig(ctx, tn, tr.ID, trigger.EventConfigInput{
		EventKey: trigger.EventBirthday,
		Filters: []trigger.FilterCondition{
			{Field: trigger.FieldBeforeDays, Value: "0"},
			{Field: trigger.FieldHasTag, Value: "vip"},
		},
		Active: true,
	})
	require.NoError(t, err)

	today := time.Now().UTC().AddDate(-25, 0, 0)
	h.seedContactWithBirthday(t, "c_vip", today)
	h.seedContactWithBirthday(t, "c_plain", today)
	require.NoError(t, h.db.Create(&tag.ContactTag{ContactID: "c_vip", TagID: "vip"}).Error)

	require.NoError(t, h.svc.RunScan(ctx, tn))

	var entries []eventqueue.Entry
	require.NoError(t, h.db.Find(&entries).Error)
	require.Len(t, entries, 1)
	require.Equal(t, "c_vip", entries[0].ContactID)
}

func TestMonthDayTargetsLeapFallback(t *testing.T) {
	// Feb 28 and Mar 1 of a non-leap year also collect Feb-29 contacts.
	targets := monthDayTargets(time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC))
	require.Equal(t, []contact.MonthDay{{Month: 2, Day: 28}, {Month: 2, Day: 29}}, targets)

	targets = monthDayTargets(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, []contact.MonthDay{{Month: 3, Day: 1}, {Month: 2, Day: 29}}, targets)

	// A leap year needs no fallback on either day.
	targets = monthDayTargets(time.Date(2028, time.February, 28, 0, 0, 0, 0, time.UTC))
	require.Equal(t, []contact.MonthDay{{Month: 2, Day: 28}}, targets)
	targets = monthDayTargets(time.Date(2028, time.March, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, []contact.MonthDay{{Month: 3, Day: 1}}, targets)
}

func TestRunScanIdempotentAcrossDateLine(t *testing.T) {
	h := newScanHarness(t)
	ctx := context.Background()

	// UTC+14: the trigger's calendar day is often ahead of UTC's.
	kir, err := time.LoadLocation("Pacific/Kiritimati")
	require.NoError(t, err)

	tr, err := h.rules.CreateTrigger(ctx, tn, trigger.CreateTriggerInput{
		Title: "Birthday", Timezone: "Pacific/Kiritimati",
	})
	require.NoError(t, err)
	ec, err := h.rules.AddEventConfig(ctx, tn, tr.ID, trigger.EventConfigInput{
		EventKey: trigger.EventBirthday,
		Filters:  []trigger.FilterCondition{{Field: trigger.FieldBeforeDays, Value: "0"}},
		Active:   true,
	})
	require.NoError(t, err)

	today := time.Now().In(kir)
	birthday := time.Date(today.Year()-25, today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	h.seedContactWithBirthday(t, "c_1", birthday)

	require.NoError(t, h.svc.RunScan(ctx, tn))

	// Processing stamps the run date in the trigger's timezone; a same-day
	// rescan after completion must agree with it.
	var entry eventqueue.Entry
	require.NoError(t, h.db.First(&entry).Error)
	require.NoError(t, h.queue.MarkCompleted(ctx, entry.ID))
	require.NoError(t, h.logs.RecordEvent(ctx, &execlog.EventLog{
		AgencyID: tn.AgencyID, UserID: tn.UserID,
		TriggerID: tr.ID, EventConfigID: ec.ID, ContactID: "c_1",
		RunDate: execlog.RunDateOf(time.Now(), kir),
		Status:  execlog.RunSuccess,
	}))

	require.NoError(t, h.svc.RunScan(ctx, tn))

	var count int64
	require.NoError(t, h.db.Model(&eventqueue.Entry{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRunScanHonorsMonthDayPin(t *testing.T) {
	h := newScanHarness(t)
	ctx := context.Background()

	now := time.Now().UTC()
	otherMonth := now.AddDate(0, 1, 0).Month()

	tr, err := h.rules.CreateTrigger(ctx, tn, trigger.CreateTriggerInput{Title: "Pinned"})
	require.NoError(t, err)
	_, err = h.rules.AddEventConfig(ctx, tn, tr.ID, trigger.EventConfigInput{
		EventKey: trigger.EventBirthday,
		Filters: []trigger.FilterCondition{
			{Field: trigger.FieldBeforeDays, Value: "0"},
			{Field: trigger.FieldMonth, Value: strconv.Itoa(int(otherMonth))},
		},
		Active: true,
	})
	require.NoError(t, err)

	h.seedContactWithBirthday(t, "c_1", now.AddDate(-25, 0, 0))

	// The pinned month contradicts today, so the rule cannot fire.
	require.NoError(t, h.svc.RunScan(ctx, tn))

	var count int64
	require.NoError(t, h.db.Model(&eventqueue.Entry{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestScheduleTime(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	now := time.Date(2026, time.June, 10, 6, 0, 0, 0, loc)

	// Future send time schedules at that time today.
	at := scheduleTime(now, "09:30")
	require.Equal(t, time.Date(2026, time.June, 10, 9, 30, 0, 0, loc).UTC(), at)

	// Past send time and missing send time schedule immediately.
	require.Equal(t, now.UTC(), scheduleTime(now, "05:00"))
	require.Equal(t, now.UTC(), scheduleTime(now, ""))
}

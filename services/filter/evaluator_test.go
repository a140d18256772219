package filter

import (
	"testing"
	"time"

	"pulsecrm/services/trigger"

	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func cond(field, value string) trigger.FilterCondition {
	return trigger.FilterCondition{Field: field, Operator: trigger.OperatorEquals, Value: value}
}

func TestEvaluateEmptyFilterListPasses(t *testing.T) {
	res := Evaluate(Input{Now: time.Now()}, nil)
	require.True(t, res.Pass)
}

func TestEvaluateUnknownFieldFailsClosed(t *testing.T) {
	res := Evaluate(Input{Now: time.Now()}, []trigger.FilterCondition{cond("frobnicate", "x")})
	require.False(t, res.Pass)
	require.Contains(t, res.Reason, "unknown filter field")
}

func TestEvaluateUnknownOperatorFailsClosed(t *testing.T) {
	res := Evaluate(Input{Now: time.Now()}, []trigger.FilterCondition{
		{Field: trigger.FieldMonth, Operator: "gte", Value: "3"},
	})
	require.False(t, res.Pass)
	require.Contains(t, res.Reason, "unknown operator")
}

func TestEvaluateMonthAndDay(t *testing.T) {
	onDay := time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)
	in := Input{SubjectDate: date(1990, time.March, 15), Now: onDay}
	filters := []trigger.FilterCondition{
		cond(trigger.FieldDay, "15"),
		cond(trigger.FieldMonth, "March"),
	}

	require.True(t, Evaluate(in, filters).Pass)
	require.True(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldMonth, "3")}).Pass)
	require.True(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldMonth, "mar")}).Pass)
	require.False(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldMonth, "4")}).Pass)
	require.False(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldMonth, "Smarch")}).Pass)
	require.False(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldDay, "14")}).Pass)

	// A matching subject only fires on the day itself.
	for _, now := range []time.Time{
		time.Date(2024, time.May, 10, 9, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 16, 9, 0, 0, 0, time.UTC),
		time.Date(2024, time.April, 15, 9, 0, 0, 0, time.UTC),
	} {
		in := Input{SubjectDate: date(1990, time.March, 15), Now: now}
		require.False(t, Evaluate(in, filters).Pass, "passed on %s", now.Format("2006-01-02"))
	}
}

func TestEvaluateBeforeDaysExactOffset(t *testing.T) {
	now := time.Date(2026, time.June, 10, 9, 0, 0, 0, time.UTC)
	in := Input{SubjectDate: date(1990, time.June, 13), Now: now}

	require.True(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldBeforeDays, "3")}).Pass)
	// Two days out is not "3 days before"; the offset is exact, not a range.
	require.False(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldBeforeDays, "2")}).Pass)
	require.False(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldBeforeDays, "4")}).Pass)
}

func TestEvaluateAfterDaysExactOffset(t *testing.T) {
	now := time.Date(2026, time.June, 10, 9, 0, 0, 0, time.UTC)
	in := Input{SubjectDate: date(1985, time.June, 8), Now: now}

	require.True(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldAfterDays, "2")}).Pass)
	require.False(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldAfterDays, "1")}).Pass)
}

func TestEvaluateLeapDayFallback(t *testing.T) {
	// 2026 is not a leap year: a Feb-29 birthday matches on Feb 28 and Mar 1.
	subject := date(1996, time.February, 29)
	filters := []trigger.FilterCondition{cond(trigger.FieldBeforeDays, "0")}

	feb28 := time.Date(2026, time.February, 28, 8, 0, 0, 0, time.UTC)
	require.True(t, Evaluate(Input{SubjectDate: subject, Now: feb28}, filters).Pass)
	mar1 := time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)
	require.True(t, Evaluate(Input{SubjectDate: subject, Now: mar1}, filters).Pass)
	require.False(t, Evaluate(Input{SubjectDate: subject, Now: mar1.AddDate(0, 0, 1)}, filters).Pass)

	// In a leap year Feb 29 matches itself and neither neighbour.
	leapNow := time.Date(2028, time.February, 29, 8, 0, 0, 0, time.UTC)
	require.True(t, Evaluate(Input{SubjectDate: subject, Now: leapNow}, filters).Pass)
	require.False(t, Evaluate(Input{SubjectDate: subject, Now: leapNow.AddDate(0, 0, -1)}, filters).Pass)
	require.False(t, Evaluate(Input{SubjectDate: subject, Now: leapNow.AddDate(0, 0, 1)}, filters).Pass)
}

func TestEvaluateOnDayWindow(t *testing.T) {
	base := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	filters := []trigger.FilterCondition{cond(trigger.FieldOnDay, "10:00")}

	require.True(t, Evaluate(Input{Now: base}, filters).Pass)
	require.True(t, Evaluate(Input{Now: base.Add(29 * time.Minute)}, filters).Pass)
	require.True(t, Evaluate(Input{Now: base.Add(-30 * time.Minute)}, filters).Pass)
	require.False(t, Evaluate(Input{Now: base.Add(31 * time.Minute)}, filters).Pass)
	require.False(t, Evaluate(Input{Now: base.Add(-45 * time.Minute)}, filters).Pass)
}

func TestEvaluateOnDayUsesTriggerLocation(t *testing.T) {
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	// 03:00 UTC is 10:00 in Jakarta.
	now := time.Date(2026, time.May, 1, 3, 0, 0, 0, time.UTC)
	res := Evaluate(Input{Now: now, Location: jakarta},
		[]trigger.FilterCondition{cond(trigger.FieldOnDay, "10:00")})
	require.True(t, res.Pass)
}

func TestEvaluateTagFilters(t *testing.T) {
	in := Input{Now: time.Now(), Tags: []string{"vip", "newsletter"}}

	require.True(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldHasTag, "vip")}).Pass)
	require.False(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldHasTag, "churned")}).Pass)
	require.True(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldDoesntHaveTag, "churned")}).Pass)
	require.False(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldDoesntHaveTag, "vip")}).Pass)
}

func TestEvaluateKeywordMatchConditions(t *testing.T) {
	in := Input{Now: time.Now(), Payload: Payload{MessageText: "  Hello World  "}}

	require.True(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldKeyword, "hello world")}).Pass)
	require.False(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldKeyword, "hello")}).Pass)

	require.True(t, Evaluate(in, []trigger.FilterCondition{
		cond(trigger.FieldKeyword, "hello"),
		cond(trigger.FieldMatchCondition, "starts_with"),
	}).Pass)
	require.True(t, Evaluate(in, []trigger.FilterCondition{
		cond(trigger.FieldKeyword, "world"),
		cond(trigger.FieldMatchCondition, "ends_with"),
	}).Pass)
	require.True(t, Evaluate(in, []trigger.FilterCondition{
		cond(trigger.FieldKeyword, "lo wo"),
		cond(trigger.FieldMatchCondition, "contains"),
	}).Pass)
	require.False(t, Evaluate(in, []trigger.FilterCondition{
		cond(trigger.FieldKeyword, "hello"),
		cond(trigger.FieldMatchCondition, "regex"),
	}).Pass)
}

func TestEvaluateLifecycleFilters(t *testing.T) {
	created := Input{Now: time.Now(), Payload: Payload{Action: ActionCreated}}
	require.True(t, Evaluate(created, []trigger.FilterCondition{cond(trigger.FieldAction, "created")}).Pass)
	require.False(t, Evaluate(created, []trigger.FilterCondition{cond(trigger.FieldAction, "updated")}).Pass)

	updated := Input{Now: time.Now(), Payload: Payload{
		Action:        ActionUpdated,
		UpdatedFields: []string{"email", "birthday"},
	}}
	require.True(t, Evaluate(updated, []trigger.FilterCondition{
		cond(trigger.FieldUpdatedFields, "birthday,anniversary"),
	}).Pass)
	require.False(t, Evaluate(updated, []trigger.FilterCondition{
		cond(trigger.FieldUpdatedFields, "number"),
	}).Pass)
}

func TestEvaluateTagChangeFilters(t *testing.T) {
	added := Input{Now: time.Now(), Payload: Payload{TagID: "vip", TagAction: TagActionAdded}}

	require.True(t, Evaluate(added, []trigger.FilterCondition{cond(trigger.FieldTagAdded, "vip")}).Pass)
	require.True(t, Evaluate(added, []trigger.FilterCondition{cond(trigger.FieldTagAdded, "")}).Pass)
	require.False(t, Evaluate(added, []trigger.FilterCondition{cond(trigger.FieldTagAdded, "other")}).Pass)
	require.False(t, Evaluate(added, []trigger.FilterCondition{cond(trigger.FieldTagRemoved, "vip")}).Pass)
}

func TestEvaluateBroadcastFilter(t *testing.T) {
	in := Input{Now: time.Now(), Payload: Payload{BroadcastID: "b1"}}

	require.True(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldBroadcastID, "b1")}).Pass)
	require.False(t, Evaluate(in, []trigger.FilterCondition{cond(trigger.FieldBroadcastID, "b2")}).Pass)
}

func TestEvaluateConjunction(t *testing.T) {
	in := Input{
		SubjectDate: date(1990, time.June, 10),
		Now:         time.Date(2026, time.June, 10, 9, 0, 0, 0, time.UTC),
		Tags:        []string{"vip"},
	}
	filters := []trigger.FilterCondition{
		cond(trigger.FieldBeforeDays, "0"),
		cond(trigger.FieldHasTag, "vip"),
	}
	require.True(t, Evaluate(in, filters).Pass)

	filters = append(filters, cond(trigger.FieldDoesntHaveTag, "vip"))
	require.False(t, Evaluate(in, filters).Pass)
}

func TestEvaluateExpression(t *testing.T) {
	in := Input{Now: time.Now(), Payload: Payload{MessageText: "stop", ContactName: "Ana"}}

	require.True(t, EvaluateExpression(in, `message_text == "stop"`).Pass)
	require.False(t, EvaluateExpression(in, `message_text == "start"`).Pass)
	require.True(t, EvaluateExpression(in, "").Pass)

	// Non-boolean and broken expressions fail closed.
	require.False(t, EvaluateExpression(in, `contact_name`).Pass)
	require.False(t, EvaluateExpression(in, `nonexistent_var == 1`).Pass)
}

func TestScanCriteria(t *testing.T) {
	c := ScanCriteria([]trigger.FilterCondition{
		cond(trigger.FieldBeforeDays, "3"),
		cond(trigger.FieldOnDay, "09:30"),
		cond(trigger.FieldHasTag, "vip"),
		cond(trigger.FieldDoesntHaveTag, "churned"),
		cond(trigger.FieldMonth, "6"),
	})

	require.Equal(t, 3, c.OffsetDays)
	require.Equal(t, "09:30", c.OnDay)
	require.Equal(t, []string{"vip"}, c.HasTags)
	require.Equal(t, []string{"churned"}, c.NotTags)
	require.Equal(t, 6, c.Month)

	after := ScanCriteria([]trigger.FilterCondition{cond(trigger.FieldAfterDays, "2")})
	require.Equal(t, -2, after.OffsetDays)

	named := ScanCriteria([]trigger.FilterCondition{cond(trigger.FieldMonth, "June")})
	require.Equal(t, 6, named.Month)
}

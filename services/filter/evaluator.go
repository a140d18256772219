package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pulsecrm/pkg/celengine"
	"pulsecrm/services/trigger"
)

// onDayWindow is how far either side of an on_day time an event still counts
// as "on" it.
const onDayWindow = 30 * time.Minute

// Input is everything the evaluator may look at. It never touches storage.
type Input struct {
	// SubjectDate is the contact's birthday or anniversary for date-based
	// events; nil otherwise.
	SubjectDate *time.Time
	Now         time.Time
	Location    *time.Location
	Tags        []string
	Payload     Payload
}

type Result struct {
	Pass   bool
	Reason string
}

func pass() Result { return Result{Pass: true} }

func fail(format string, args ...any) Result {
	return Result{Pass: false, Reason: fmt.Sprintf(format, args...)}
}

// Evaluate applies every condition conjunctively. An empty list passes;
// unknown fields and operators fail closed.
func Evaluate(in Input, filters []trigger.FilterCondition) Result {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	now := in.Now.In(loc)

	for _, f := range filters {
		if f.Operator != "" && f.Operator != trigger.OperatorEquals {
			return fail("unknown operator %q", f.Operator)
		}

		var res Result
		switch f.Field {
		case trigger.FieldMonth:
			res = evalMonth(in.SubjectDate, now, f.Value)
		case trigger.FieldDay:
			res = evalDay(in.SubjectDate, now, f.Value)
		case trigger.FieldBeforeDays:
			res = evalOffset(in.SubjectDate, now, f.Value, true)
		case trigger.FieldAfterDays:
			res = evalOffset(in.SubjectDate, now, f.Value, false)
		case trigger.FieldOnDay:
			res = evalOnDay(now, f.Value)
		case trigger.FieldHasTag:
			res = evalHasTag(in.Tags, f.Value, true)
		case trigger.FieldDoesntHaveTag:
			res = evalHasTag(in.Tags, f.Value, false)
		case trigger.FieldKeyword:
			res = evalKeyword(in.Payload.MessageText, f.Value, matchCondition(filters))
		case trigger.FieldMatchCondition:
			// consumed by the keyword condition
			res = pass()
		case trigger.FieldAction:
			res = evalAction(in.Payload.Action, f.Value)
		case trigger.FieldUpdatedFields:
			res = evalUpdatedFields(in.Payload.UpdatedFields, f.Value)
		case trigger.FieldTagAdded:
			res = evalTagChange(in.Payload, TagActionAdded, f.Value)
		case trigger.FieldTagRemoved:
			res = evalTagChange(in.Payload, TagActionRemoved, f.Value)
		case trigger.FieldBroadcastID:
			res = evalBroadcast(in.Payload.BroadcastID, f.Value)
		default:
			return fail("unknown filter field %q", f.Field)
		}

		if !res.Pass {
			return res
		}
	}
	return pass()
}

// EvaluateExpression runs the optional CEL expression. Compile or eval
// failures fail closed.
func EvaluateExpression(in Input, expr string) Result {
	if expr == "" {
		return pass()
	}
	attrs := attributes(in)
	env, err := celengine.BuildCelEnvFromAttributes(attrs)
	if err != nil {
		return fail("expression env: %v", err)
	}
	ok, err := celengine.Evaluate(env, expr, attrs)
	if err != nil {
		return fail("expression: %v", err)
	}
	if !ok {
		return fail("expression evaluated false")
	}
	return pass()
}

func attributes(in Input) map[string]any {
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	updated := in.Payload.UpdatedFields
	if updated == nil {
		updated = []string{}
	}
	return map[string]any{
		"contact_name":   in.Payload.ContactName,
		"contact_number": in.Payload.ContactNumber,
		"message_text":   in.Payload.MessageText,
		"action":         in.Payload.Action,
		"tag_id":         in.Payload.TagID,
		"broadcast_id":   in.Payload.BroadcastID,
		"tags":           tags,
		"updated_fields": updated,
	}
}

func matchCondition(filters []trigger.FilterCondition) string {
	for _, f := range filters {
		if f.Field == trigger.FieldMatchCondition {
			return strings.ToLower(strings.TrimSpace(f.Value))
		}
	}
	return "exact"
}

// Month/day filters pin the subject date, but the event only fires on the
// day itself: today must match the subject's month/day as well.
func evalMonth(subject *time.Time, now time.Time, value string) Result {
	if subject == nil {
		return fail("month filter without a subject date")
	}
	n, ok := trigger.MonthNumber(value)
	if !ok {
		return fail("month value %q is not a month", value)
	}
	if int(subject.Month()) != n {
		return fail("subject month %d != %d", subject.Month(), n)
	}
	return requireToday(*subject, now)
}

func evalDay(subject *time.Time, now time.Time, value string) Result {
	if subject == nil {
		return fail("day filter without a subject date")
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fail("day value %q is not a number", value)
	}
	if subject.Day() != n {
		return fail("subject day %d != %d", subject.Day(), n)
	}
	return requireToday(*subject, now)
}

func requireToday(subject, now time.Time) Result {
	if matchesMonthDay(subject, now) {
		return pass()
	}
	return fail("subject %02d-%02d is not today (%02d-%02d)",
		subject.Month(), subject.Day(), now.Month(), now.Day())
}

// evalOffset checks that the subject's month/day falls exactly N days from
// today: ahead of today for before_days, behind for after_days.
func evalOffset(subject *time.Time, now time.Time, value string, before bool) Result {
	if subject == nil {
		return fail("offset filter without a subject date")
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fail("offset value %q is not a non-negative integer", value)
	}

	target := now.AddDate(0, 0, n)
	if !before {
		target = now.AddDate(0, 0, -n)
	}
	if matchesMonthDay(*subject, target) {
		return pass()
	}
	return fail("subject %02d-%02d is not %d days %s today",
		subject.Month(), subject.Day(), n, direction(before))
}

func direction(before bool) string {
	if before {
		return "after"
	}
	return "before"
}

// matchesMonthDay compares month/day with a Feb-29 fallback: in non-leap
// years a Feb-29 subject matches Feb 28 or Mar 1.
func matchesMonthDay(subject, target time.Time) bool {
	if int(subject.Month()) == int(target.Month()) && subject.Day() == target.Day() {
		return true
	}
	if subject.Month() == time.February && subject.Day() == 29 && !isLeapYear(target.Year()) {
		if target.Month() == time.February && target.Day() == 28 {
			return true
		}
		if target.Month() == time.March && target.Day() == 1 {
			return true
		}
	}
	return false
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func evalOnDay(now time.Time, value string) Result {
	at, err := time.Parse("15:04", value)
	if err != nil {
		return fail("on_day value %q is not HH:MM", value)
	}
	target := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	diff := now.Sub(target)
	if diff < 0 {
		diff = -diff
	}
	if diff > onDayWindow {
		return fail("now %s is outside the %s window around %s",
			now.Format("15:04"), onDayWindow, value)
	}
	return pass()
}

func evalHasTag(tags []string, tagID string, want bool) Result {
	found := false
	for _, t := range tags {
		if t == tagID {
			found = true
			break
		}
	}
	if found == want {
		return pass()
	}
	if want {
		return fail("contact is missing tag %s", tagID)
	}
	return fail("contact has excluded tag %s", tagID)
}

func evalKeyword(text, keyword, condition string) Result {
	msg := strings.ToLower(strings.TrimSpace(text))
	kw := strings.ToLower(strings.TrimSpace(keyword))

	var ok bool
	switch condition {
	case "", "exact":
		ok = msg == kw
	case "contains":
		ok = strings.Contains(msg, kw)
	case "starts_with":
		ok = strings.HasPrefix(msg, kw)
	case "ends_with":
		ok = strings.HasSuffix(msg, kw)
	default:
		return fail("unknown match condition %q", condition)
	}
	if !ok {
		return fail("message does not match keyword %q (%s)", keyword, condition)
	}
	return pass()
}

func evalAction(action, value string) Result {
	if !strings.EqualFold(action, value) {
		return fail("lifecycle action %q != %q", action, value)
	}
	return pass()
}

// evalUpdatedFields passes when any of the comma-separated field names was
// touched by the update.
func evalUpdatedFields(updated []string, value string) Result {
	wanted := strings.Split(value, ",")
	for _, w := range wanted {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		for _, u := range updated {
			if strings.EqualFold(u, w) {
				return pass()
			}
		}
	}
	return fail("none of %q were updated", value)
}

// evalTagChange passes when the event is the wanted tag action and, if the
// filter names a tag, it is that tag. An empty value matches any tag.
func evalTagChange(p Payload, wantAction, tagID string) Result {
	if p.TagAction != wantAction {
		return fail("tag action %q != %q", p.TagAction, wantAction)
	}
	if tagID != "" && p.TagID != tagID {
		return fail("tag %s != %s", p.TagID, tagID)
	}
	return pass()
}

func evalBroadcast(broadcastID, value string) Result {
	if value != "" && broadcastID != value {
		return fail("broadcast %s != %s", broadcastID, value)
	}
	return pass()
}

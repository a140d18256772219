package filter

import (
	"strconv"

	"pulsecrm/services/trigger"
)

// Criteria is the storage-friendly projection of a date-event filter set,
// used by the daily scan to query candidates instead of loading every
// contact through Evaluate.
type Criteria struct {
	// OffsetDays shifts the scan target from today: positive values look
	// ahead (before_days), negative look back (after_days).
	OffsetDays int
	// Month and Day pin the subject date explicitly; zero means unset.
	Month int
	Day   int
	// OnDay is the HH:MM schedule time, empty when the rule fires at scan
	// time.
	OnDay   string
	HasTags []string
	NotTags []string
}

// ScanCriteria extracts what the scan can push into the contact query. Fields
// the scan cannot pre-filter on are left to Evaluate at processing time.
func ScanCriteria(filters []trigger.FilterCondition) Criteria {
	var c Criteria
	for _, f := range filters {
		switch f.Field {
		case trigger.FieldBeforeDays:
			if n, err := strconv.Atoi(f.Value); err == nil && n > 0 {
				c.OffsetDays = n
			}
		case trigger.FieldAfterDays:
			if n, err := strconv.Atoi(f.Value); err == nil && n > 0 {
				c.OffsetDays = -n
			}
		case trigger.FieldMonth:
			if n, ok := trigger.MonthNumber(f.Value); ok {
				c.Month = n
			}
		case trigger.FieldDay:
			if n, err := strconv.Atoi(f.Value); err == nil {
				c.Day = n
			}
		case trigger.FieldOnDay:
			c.OnDay = f.Value
		case trigger.FieldHasTag:
			c.HasTags = append(c.HasTags, f.Value)
		case trigger.FieldDoesntHaveTag:
			c.NotTags = append(c.NotTags, f.Value)
		}
	}
	return c
}

package actionqueue

import (
	"context"

	"pulsecrm/services/filter"
	"pulsecrm/services/tenant"
	"pulsecrm/services/trigger"
)

// Result reports one executed action. Message is shown to the tenant in the
// notification feed.
type Result struct {
	Success bool
	Message string
}

// ExecutionContext bundles everything an executor may need for one entry.
type ExecutionContext struct {
	Entry   Entry
	Action  *trigger.ActionConfig
	Event   *trigger.EventConfig
	Trigger *trigger.Trigger
	Payload filter.Payload
	Tenant  tenant.Tenant
}

// Executor performs one action type. Implementations return a failed Result
// for business rejections and an error only for infrastructure faults; both
// mark the entry FAILED, but errors are also logged at error level.
type Executor interface {
	Execute(ctx context.Context, ec ExecutionContext) (Result, error)
}

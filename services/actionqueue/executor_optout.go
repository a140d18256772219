package actionqueue

import (
	"context"

	"pulsecrm/services/broadcast"
	"pulsecrm/services/contact"
)

type optOutExecutor struct {
	contacts   contact.Store
	broadcasts broadcast.Store
}

func newOptOutExecutor(contacts contact.Store, broadcasts broadcast.Store) Executor {
	return &optOutExecutor{contacts: contacts, broadcasts: broadcasts}
}

// Execute unsubscribes the contact entirely: contact status plus every live
// broadcast membership the tenant holds for them.
func (e *optOutExecutor) Execute(ctx context.Context, ec ExecutionContext) (Result, error) {
	if err := e.contacts.OptOut(ctx, ec.Tenant, ec.Entry.ContactID); err != nil {
		return Result{Message: "contact not found"}, nil
	}
	if _, err := e.broadcasts.UnsubscribeAllForContact(ctx, ec.Tenant, ec.Entry.ContactID); err != nil {
		return Result{}, err
	}

	_ = e.contacts.RecordActivity(ctx, &contact.Activity{
		AgencyID:  ec.Tenant.AgencyID,
		UserID:    ec.Tenant.UserID,
		ContactID: ec.Entry.ContactID,
		Kind:      "automation.opted_out",
		Detail:    ec.Trigger.Title,
	})
	return Result{Success: true, Message: "contact opted out"}, nil
}

package actionqueue

import (
	"context"
	"fmt"
	"strings"

	"pulsecrm/services/contact"
	"pulsecrm/services/messaging"
	"pulsecrm/services/tenant"
	"pulsecrm/services/trigger"
)

type sendMessageExecutor struct {
	gateway   messaging.Gateway
	contacts  contact.Store
	directory *tenant.Directory
}

func newSendMessageExecutor(gateway messaging.Gateway, contacts contact.Store, directory *tenant.Directory) Executor {
	return &sendMessageExecutor{gateway: gateway, contacts: contacts, directory: directory}
}

func (e *sendMessageExecutor) Execute(ctx context.Context, ec ExecutionContext) (Result, error) {
	raw, err := ec.Action.Decode()
	if err != nil {
		return Result{Message: "invalid send_message config"}, err
	}
	cfg := raw.(trigger.SendMessageConfig)

	user, err := e.directory.FindActive(ctx, ec.Tenant.UserID)
	if err != nil {
		return Result{}, err
	}
	if user == nil {
		return Result{Message: "owning user is no longer active"}, nil
	}

	c, err := e.contacts.Get(ctx, ec.Tenant, ec.Entry.ContactID)
	if err != nil {
		return Result{}, err
	}
	if c.Status != contact.StatusActive {
		return Result{Message: "contact is unsubscribed"}, nil
	}

	from := cfg.From
	if from == "" {
		from = user.SenderNumber
	}
	if from == "" {
		return Result{Message: "no sender number configured"}, nil
	}

	res, err := e.gateway.Send(ctx, messaging.SendRequest{
		From:        from,
		To:          c.Number,
		Body:        renderBody(cfg.Body, c),
		TemplateRef: cfg.TemplateRef,
	})
	if err != nil {
		return Result{}, err
	}
	if !res.Success {
		return Result{Message: fmt.Sprintf("gateway rejected message: %s", res.ErrorCode)}, nil
	}

	_ = e.contacts.RecordActivity(ctx, &contact.Activity{
		AgencyID:  ec.Tenant.AgencyID,
		UserID:    ec.Tenant.UserID,
		ContactID: c.ID,
		Kind:      "automation.message_sent",
		Detail:    ec.Trigger.Title,
	})
	return Result{Success: true, Message: fmt.Sprintf("message sent to %s", c.DisplayName())}, nil
}

// renderBody substitutes contact placeholders into the message body.
func renderBody(body string, c *contact.Contact) string {
	r := strings.NewReplacer(
		"{{name}}", c.DisplayName(),
		"{{first_name}}", c.FirstName,
		"{{last_name}}", c.LastName,
	)
	return r.Replace(body)
}

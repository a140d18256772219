package actionqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulsecrm/pkg/config"
	"pulsecrm/services/broadcast"
	"pulsecrm/services/contact"
	"pulsecrm/services/execlog"
	"pulsecrm/services/messaging"
	"pulsecrm/services/tag"
	"pulsecrm/services/tenant"
	"pulsecrm/services/trigger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var actionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trigger_actions_processed_total",
}, []string{"type", "status"})

// Registry dispatches claimed queue entries to the executor for their action
// type and reports outcomes to the tenant's notification feed.
type Registry struct {
	repo      Repository
	triggers  trigger.Repository
	logs      execlog.Repository
	sink      messaging.Sink
	directory *tenant.Directory
	executors map[trigger.ActionType]Executor

	batchSize       int
	pollInterval    time.Duration
	notifyThreshold int
	logger          *zap.Logger
}

type RegistryParams struct {
	fx.In

	Repo       Repository
	Triggers   trigger.Repository
	Logs       execlog.Repository
	Sink       messaging.Sink
	Gateway    messaging.Gateway
	Contacts   contact.Store
	Tags       tag.Store
	Broadcasts broadcast.Store
	Directory  *tenant.Directory
	Config     *config.Config
	Logger     *zap.Logger
}

func NewRegistry(p RegistryParams) *Registry {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		repo:      p.Repo,
		triggers:  p.Triggers,
		logs:      p.Logs,
		sink:      p.Sink,
		directory: p.Directory,
		executors: map[trigger.ActionType]Executor{
			trigger.ActionSendMessage:          newSendMessageExecutor(p.Gateway, p.Contacts, p.Directory),
			trigger.ActionAddTag:               newAddTagExecutor(p.Tags),
			trigger.ActionPauseBroadcast:       newPauseBroadcastExecutor(p.Broadcasts),
			trigger.ActionUnsubscribeBroadcast: newUnsubscribeBroadcastExecutor(p.Broadcasts),
			trigger.ActionOptOutContact:        newOptOutExecutor(p.Contacts, p.Broadcasts),
			trigger.ActionAddToBroadcast:       newAddToBroadcastExecutor(p.Broadcasts),
		},
		batchSize:       p.Config.Engine.ActionBatchSize,
		pollInterval:    p.Config.Engine.PollInterval,
		notifyThreshold: p.Config.Engine.NotifyBatchThreshold,
		logger:          logger,
	}
}

type groupKey struct {
	TriggerEventID string
	AgencyID       string
	UserID         string
}

type outcome struct {
	entry        Entry
	triggerTitle string
	result       Result
}

// ProcessBatch claims and executes one batch of due actions. Entries are
// grouped by the event firing that spawned them so a multi-action trigger
// produces one notification burst, batched past the threshold.
func (r *Registry) ProcessBatch(ctx context.Context) (int, error) {
	entries, err := r.repo.ClaimDue(ctx, time.Now().UTC(), r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	groups := make(map[groupKey][]Entry)
	var order []groupKey
	for _, e := range entries {
		k := groupKey{TriggerEventID: e.TriggerEventID, AgencyID: e.AgencyID, UserID: e.UserID}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	for _, k := range order {
		outcomes := make([]outcome, 0, len(groups[k]))
		for _, e := range groups[k] {
			outcomes = append(outcomes, r.processEntry(ctx, e))
		}
		r.notify(ctx, tenant.Tenant{AgencyID: k.AgencyID, UserID: k.UserID}, outcomes)
	}
	return len(entries), nil
}

// processEntry executes one entry in isolation: a panic or failure here
// marks that entry FAILED and never disturbs its siblings.
func (r *Registry) processEntry(ctx context.Context, e Entry) (out outcome) {
	out.entry = e
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("action executor panicked",
				zap.String("entry_id", e.ID),
				zap.Any("panic", rec),
			)
			out.result = Result{Message: fmt.Sprintf("panic: %v", rec)}
			r.finish(ctx, e, out)
		}
	}()

	action, err := r.triggers.GetActionConfig(ctx, e.ActionConfigID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			out.result = Result{Message: "action config no longer exists"}
		} else {
			out.result = Result{Message: err.Error()}
		}
		r.finish(ctx, e, out)
		return out
	}

	event, err := r.triggers.GetEventConfig(ctx, e.EventConfigID)
	if err != nil || event.Trigger == nil {
		out.result = Result{Message: "event config no longer exists"}
		r.finish(ctx, e, out)
		return out
	}
	out.triggerTitle = event.Trigger.Title

	if event.Trigger.Status != trigger.StatusActive {
		out.result = Result{Message: "trigger is no longer active"}
		r.finish(ctx, e, out)
		return out
	}

	// Every action requires a live owning user, whatever its type.
	user, err := r.directory.FindActive(ctx, e.UserID)
	if err != nil {
		out.result = Result{Message: err.Error()}
		r.finish(ctx, e, out)
		return out
	}
	if user == nil {
		out.result = Result{Message: "owning user is no longer active"}
		r.finish(ctx, e, out)
		return out
	}

	exec, ok := r.executors[e.ActionType]
	if !ok {
		out.result = Result{Message: fmt.Sprintf("no executor for action type %q", e.ActionType)}
		r.finish(ctx, e, out)
		return out
	}

	ec := ExecutionContext{
		Entry:   e,
		Action:  action,
		Event:   event,
		Trigger: event.Trigger,
		Payload: e.DecodePayload(),
		Tenant:  tenant.Tenant{AgencyID: e.AgencyID, UserID: e.UserID},
	}
	res, err := exec.Execute(ctx, ec)
	if err != nil {
		r.logger.Error("action execution failed",
			zap.String("entry_id", e.ID),
			zap.String("action_type", string(e.ActionType)),
			zap.Error(err),
		)
		if res.Message == "" {
			res.Message = err.Error()
		}
		res.Success = false
	}
	out.result = res
	r.finish(ctx, e, out)
	return out
}

func (r *Registry) finish(ctx context.Context, e Entry, out outcome) {
	status := execlog.RunFailed
	if out.result.Success {
		status = execlog.RunSuccess
		if err := r.repo.MarkCompleted(ctx, e.ID); err != nil {
			r.logger.Error("failed to mark action completed", zap.String("entry_id", e.ID), zap.Error(err))
		}
	} else {
		if err := r.repo.MarkFailed(ctx, e.ID, out.result.Message); err != nil {
			r.logger.Error("failed to mark action failed", zap.String("entry_id", e.ID), zap.Error(err))
		}
	}
	actionsProcessed.WithLabelValues(string(e.ActionType), string(status)).Inc()

	if err := r.logs.RecordAction(ctx, &execlog.ActionLog{
		AgencyID:      e.AgencyID,
		UserID:        e.UserID,
		ActionQueueID: e.ID,
		TriggerID:     e.TriggerID,
		ContactID:     e.ContactID,
		ActionType:    string(e.ActionType),
		Status:        status,
		Detail:        out.result.Message,
	}); err != nil {
		r.logger.Error("failed to record action log", zap.String("entry_id", e.ID), zap.Error(err))
	}
}

// notify sends one summary when a firing produced enough results to batch,
// otherwise one notification per result. Notification failures are logged
// and never affect entry status.
func (r *Registry) notify(ctx context.Context, tn tenant.Tenant, outcomes []outcome) {
	if len(outcomes) == 0 {
		return
	}

	title := ""
	succeeded := 0
	for _, o := range outcomes {
		if o.triggerTitle != "" {
			title = o.triggerTitle
		}
		if o.result.Success {
			succeeded++
		}
	}

	if len(outcomes) >= r.notifyThreshold {
		err := r.sink.Notify(ctx, tn.UserID, tn, "automation.batch", map[string]any{
			"trigger":   title,
			"total":     len(outcomes),
			"succeeded": succeeded,
			"failed":    len(outcomes) - succeeded,
		})
		if err != nil {
			r.logger.Warn("failed to publish batch notification", zap.Error(err))
		}
		return
	}

	for _, o := range outcomes {
		err := r.sink.Notify(ctx, tn.UserID, tn, "automation.executed", map[string]any{
			"trigger":     title,
			"contact_id":  o.entry.ContactID,
			"action_type": string(o.entry.ActionType),
			"success":     o.result.Success,
			"message":     o.result.Message,
		})
		if err != nil {
			r.logger.Warn("failed to publish notification", zap.Error(err))
		}
	}
}

// Run polls until the context ends.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil {
				r.logger.Error("action batch failed", zap.Error(err))
			}
		}
	}
}

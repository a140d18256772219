package eventqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulsecrm/pkg/config"
	"pulsecrm/services/actionqueue"
	"pulsecrm/services/contact"
	"pulsecrm/services/execlog"
	"pulsecrm/services/filter"
	"pulsecrm/services/tenant"
	"pulsecrm/services/trigger"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trigger_events_processed_total",
}, []string{"outcome"})

const (
	outcomeFired    = "fired"
	outcomeFiltered = "filtered"
	outcomeFanout   = "fanout"
	outcomeSkipped  = "skipped"
	outcomeFailed   = "failed"
)

// Processor drains the event queue: evaluates each claimed entry against its
// config and spawns action queue entries for the ones that pass.
type Processor struct {
	repo     Repository
	triggers trigger.Repository
	contacts contact.Store
	actions  actionqueue.Repository
	logs     execlog.Repository
	node     *snowflake.Node

	batchSize    int
	pollInterval time.Duration
	logger       *zap.Logger
}

type ProcessorParams struct {
	fx.In

	Repo     Repository
	Triggers trigger.Repository
	Contacts contact.Store
	Actions  actionqueue.Repository
	Logs     execlog.Repository
	Node     *snowflake.Node
	Config   *config.Config
	Logger   *zap.Logger
}

func NewProcessor(p ProcessorParams) *Processor {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		repo:         p.Repo,
		triggers:     p.Triggers,
		contacts:     p.Contacts,
		actions:      p.Actions,
		logs:         p.Logs,
		node:         p.Node,
		batchSize:    p.Config.Engine.EventBatchSize,
		pollInterval: p.Config.Engine.PollInterval,
		logger:       logger,
	}
}

// ProcessBatch claims and processes one batch of due entries. Each entry is
// handled in isolation; one bad row never blocks the rest of the batch.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	entries, err := p.repo.ClaimDue(ctx, time.Now().UTC(), p.batchSize)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		p.processEntry(ctx, e)
	}
	return len(entries), nil
}

func (p *Processor) processEntry(ctx context.Context, e Entry) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("event processing panicked",
				zap.String("entry_id", e.ID),
				zap.Any("panic", rec),
			)
			p.fail(ctx, e, fmt.Sprintf("panic: %v", rec))
		}
	}()

	if e.EventConfigID == nil {
		p.fanOut(ctx, e)
		return
	}

	cfg, err := p.triggers.GetEventConfig(ctx, *e.EventConfigID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p.fail(ctx, e, "event config no longer exists")
		} else {
			p.fail(ctx, e, err.Error())
		}
		return
	}
	if cfg.Trigger == nil {
		p.fail(ctx, e, "event config has no owning trigger")
		return
	}
	if cfg.Trigger.Status != trigger.StatusActive || !cfg.Active {
		p.complete(ctx, e, outcomeSkipped)
		return
	}

	c, err := p.contacts.Get(ctx, tenant.Tenant{AgencyID: e.AgencyID, UserID: e.UserID}, e.ContactID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p.fail(ctx, e, "contact no longer exists")
		} else {
			p.fail(ctx, e, err.Error())
		}
		return
	}

	tags, err := p.contacts.GetTags(ctx, c.ID)
	if err != nil {
		p.fail(ctx, e, err.Error())
		return
	}

	in := filter.Input{
		SubjectDate: subjectDate(c, cfg.EventKey),
		Now:         time.Now(),
		Location:    cfg.Trigger.Location(),
		Tags:        tags,
		Payload:     e.DecodePayload(),
	}

	res := filter.Evaluate(in, cfg.FilterList())
	if res.Pass {
		res = filter.EvaluateExpression(in, cfg.Expression)
	}
	if !res.Pass {
		p.recordEvent(ctx, e, cfg, execlog.RunFailed, res.Reason)
		if err := p.repo.MarkFailed(ctx, e.ID, res.Reason); err != nil {
			p.logger.Error("failed to mark event failed", zap.String("entry_id", e.ID), zap.Error(err))
		}
		eventsProcessed.WithLabelValues(outcomeFiltered).Inc()
		return
	}

	actions, err := p.triggers.ListActionConfigs(ctx, cfg.ID)
	if err != nil {
		p.fail(ctx, e, err.Error())
		return
	}
	if len(actions) == 0 {
		p.recordEvent(ctx, e, cfg, execlog.RunSuccess, "no actions configured")
		p.complete(ctx, e, outcomeFired)
		return
	}

	now := time.Now().UTC()
	queued := make([]actionqueue.Entry, 0, len(actions))
	for _, ac := range actions {
		queued = append(queued, actionqueue.Entry{
			ID:             p.node.Generate().String(),
			AgencyID:       e.AgencyID,
			UserID:         e.UserID,
			TriggerID:      cfg.TriggerID,
			TriggerEventID: e.ID,
			EventConfigID:  cfg.ID,
			ActionConfigID: ac.ID,
			ActionType:     ac.Type,
			ContactID:      e.ContactID,
			Status:         actionqueue.StatusPending,
			ScheduleAt:     now,
			Payload:        e.Payload,
		})
	}
	if err := p.actions.Insert(ctx, queued); err != nil {
		p.fail(ctx, e, err.Error())
		return
	}

	p.recordEvent(ctx, e, cfg, execlog.RunSuccess, fmt.Sprintf("queued %d action(s)", len(queued)))
	p.complete(ctx, e, outcomeFired)
}

// fanOut resolves a deferred entry into one child per active config and
// completes the parent. No matching configs is a quiet completion.
func (p *Processor) fanOut(ctx context.Context, e Entry) {
	tn := tenant.Tenant{AgencyID: e.AgencyID, UserID: e.UserID}
	configs, err := p.triggers.ListActiveEventConfigs(ctx, tn, e.EventKey)
	if err != nil {
		p.fail(ctx, e, err.Error())
		return
	}

	children := make([]Entry, 0, len(configs))
	for _, cfg := range configs {
		configID := cfg.ID
		children = append(children, Entry{
			ID:            p.node.Generate().String(),
			AgencyID:      e.AgencyID,
			UserID:        e.UserID,
			EventKey:      e.EventKey,
			EventConfigID: &configID,
			ParentID:      e.ID,
			ContactID:     e.ContactID,
			Status:        StatusPending,
			ScheduleAt:    e.ScheduleAt,
			Payload:       e.Payload,
		})
	}
	if err := p.repo.Insert(ctx, children); err != nil {
		p.fail(ctx, e, err.Error())
		return
	}

	if err := p.logs.RecordEvent(ctx, &execlog.EventLog{
		AgencyID:      e.AgencyID,
		UserID:        e.UserID,
		TriggerID:     "",
		EventConfigID: "",
		ContactID:     e.ContactID,
		RunDate:       execlog.RunDateOf(time.Now(), time.UTC),
		Status:        execlog.RunFanout,
		Detail:        fmt.Sprintf("fanned out to %d config(s)", len(children)),
	}); err != nil {
		p.logger.Error("failed to record fanout", zap.String("entry_id", e.ID), zap.Error(err))
	}
	p.complete(ctx, e, outcomeFanout)
}

func (p *Processor) complete(ctx context.Context, e Entry, outcome string) {
	if err := p.repo.MarkCompleted(ctx, e.ID); err != nil {
		p.logger.Error("failed to mark event completed", zap.String("entry_id", e.ID), zap.Error(err))
	}
	eventsProcessed.WithLabelValues(outcome).Inc()
}

func (p *Processor) fail(ctx context.Context, e Entry, reason string) {
	p.logger.Warn("event entry failed",
		zap.String("entry_id", e.ID),
		zap.String("event_key", string(e.EventKey)),
		zap.String("reason", reason),
	)
	if err := p.repo.MarkFailed(ctx, e.ID, reason); err != nil {
		p.logger.Error("failed to mark event failed", zap.String("entry_id", e.ID), zap.Error(err))
	}
	if e.EventConfigID != nil {
		p.recordEventRaw(ctx, e, *e.EventConfigID, "", time.UTC, execlog.RunFailed, reason)
	}
	eventsProcessed.WithLabelValues(outcomeFailed).Inc()
}

func (p *Processor) recordEvent(ctx context.Context, e Entry, cfg *trigger.EventConfig, status execlog.RunStatus, detail string) {
	p.recordEventRaw(ctx, e, cfg.ID, cfg.TriggerID, cfg.Trigger.Location(), status, detail)
}

// recordEventRaw stamps the run date in the trigger's timezone so the daily
// scan's HasRunToday dedup agrees with it across date lines.
func (p *Processor) recordEventRaw(ctx context.Context, e Entry, eventConfigID, triggerID string, loc *time.Location, status execlog.RunStatus, detail string) {
	if err := p.logs.RecordEvent(ctx, &execlog.EventLog{
		AgencyID:      e.AgencyID,
		UserID:        e.UserID,
		TriggerID:     triggerID,
		EventConfigID: eventConfigID,
		ContactID:     e.ContactID,
		RunDate:       execlog.RunDateOf(time.Now(), loc),
		Status:        status,
		Detail:        detail,
	}); err != nil {
		p.logger.Error("failed to record event log", zap.String("entry_id", e.ID), zap.Error(err))
	}
}

func subjectDate(c *contact.Contact, key trigger.EventKey) *time.Time {
	switch key {
	case trigger.EventBirthday:
		return c.SubjectDate(contact.FieldBirthday)
	case trigger.EventAnniversary:
		return c.SubjectDate(contact.FieldAnniversary)
	default:
		return nil
	}
}

// Run polls until the context ends.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("event batch failed", zap.Error(err))
			}
		}
	}
}

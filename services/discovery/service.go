package discovery

import (
	"context"
	"encoding/json"
	"time"

	"pulsecrm/services/contact"
	"pulsecrm/services/eventqueue"
	"pulsecrm/services/execlog"
	"pulsecrm/services/filter"
	"pulsecrm/services/tenant"
	"pulsecrm/services/trigger"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service is scheduled discovery: the daily scan that turns contact dates
// into queued events, plus the asynq handlers for both discovery paths.
type Service struct {
	directory *tenant.Directory
	triggers  trigger.Repository
	contacts  contact.Store
	queue     eventqueue.Repository
	manager   *eventqueue.Manager
	logs      execlog.Repository
	asynq     *asynq.Client
	node      *snowflake.Node
	logger    *zap.Logger
}

type Params struct {
	fx.In

	Directory *tenant.Directory
	Triggers  trigger.Repository
	Contacts  contact.Store
	Queue     eventqueue.Repository
	Manager   *eventqueue.Manager
	Logs      execlog.Repository
	Asynq     *asynq.Client
	Node      *snowflake.Node
	Logger    *zap.Logger
}

func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		directory: p.Directory,
		triggers:  p.Triggers,
		contacts:  p.Contacts,
		queue:     p.Queue,
		manager:   p.Manager,
		logs:      p.Logs,
		asynq:     p.Asynq,
		node:      p.Node,
		logger:    logger,
	}
}

// EnqueueAllScans fans one scan task out per active agency and privileged
// user. A failing agency is logged and skipped; the rest still scan.
func (s *Service) EnqueueAllScans(ctx context.Context) error {
	agencies, err := s.directory.ListActiveAgencies(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, agency := range agencies {
		agency := agency
		g.Go(func() error {
			users, err := s.directory.ListActivePrivilegedUsers(ctx, agency.ID)
			if err != nil {
				s.logger.Error("failed to list users for scan",
					zap.String("agency_id", agency.ID),
					zap.Error(err),
				)
				return nil
			}
			for _, u := range users {
				task, err := NewTenantScanTask(TenantScanPayload{AgencyID: agency.ID, UserID: u.ID})
				if err != nil {
					return err
				}
				if _, err := s.asynq.EnqueueContext(ctx, task, asynq.Queue("low")); err != nil {
					s.logger.Error("failed to enqueue tenant scan",
						zap.String("agency_id", agency.ID),
						zap.String("user_id", u.ID),
						zap.Error(err),
					)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("finished enqueueing tenant scans", zap.Int("agencies", len(agencies)))
	return nil
}

// HandleTenantScan is the asynq worker entry for one tenant's daily scan.
func (s *Service) HandleTenantScan(ctx context.Context, t *asynq.Task) error {
	var payload TenantScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		s.logger.Error("invalid tenant scan payload", zap.Error(err))
		return err
	}
	return s.RunScan(ctx, tenant.Tenant{AgencyID: payload.AgencyID, UserID: payload.UserID})
}

// HandleEventReceived is the asynq worker entry for realtime events.
func (s *Service) HandleEventReceived(ctx context.Context, t *asynq.Task) error {
	var payload EventReceivedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		s.logger.Error("invalid event payload", zap.Error(err))
		return err
	}
	tn := tenant.Tenant{AgencyID: payload.AgencyID, UserID: payload.UserID}
	return s.manager.EnqueueEvent(ctx, tn, payload.EventKey, payload.ContactID, payload.Payload)
}

// RunScan evaluates every active date-based config for the tenant and queues
// an event per eligible contact. Safe to rerun: contacts with a queued entry
// or a run recorded today are skipped.
func (s *Service) RunScan(ctx context.Context, tn tenant.Tenant) error {
	configs, err := s.triggers.ListActiveDateEventConfigs(ctx, tn)
	if err != nil {
		return err
	}

	total := 0
	for _, cfg := range configs {
		n, err := s.scanConfig(ctx, tn, cfg)
		if err != nil {
			s.logger.Error("scan failed for config",
				zap.String("agency_id", tn.AgencyID),
				zap.String("user_id", tn.UserID),
				zap.String("event_config_id", cfg.ID),
				zap.Error(err),
			)
			continue
		}
		total += n
	}

	s.logger.Info("tenant scan finished",
		zap.String("agency_id", tn.AgencyID),
		zap.String("user_id", tn.UserID),
		zap.Int("configs", len(configs)),
		zap.Int("queued", total),
	)
	return nil
}

func (s *Service) scanConfig(ctx context.Context, tn tenant.Tenant, cfg trigger.EventConfig) (int, error) {
	if cfg.Trigger == nil {
		return 0, nil
	}

	criteria := filter.ScanCriteria(cfg.FilterList())
	loc := cfg.Trigger.Location()
	now := time.Now().In(loc)
	target := now.AddDate(0, 0, criteria.OffsetDays)

	field := contact.FieldBirthday
	if cfg.EventKey == trigger.EventAnniversary {
		field = contact.FieldAnniversary
	}

	targets := monthDayTargets(target)
	if criteria.Month != 0 || criteria.Day != 0 {
		targets = pinTargets(targets, criteria.Month, criteria.Day)
		if len(targets) == 0 {
			return 0, nil
		}
	}

	candidates, err := s.contacts.FindEligible(ctx, tn, contact.EligibleQuery{
		Field:   field,
		Targets: targets,
		HasTags: criteria.HasTags,
		NotTags: criteria.NotTags,
	})
	if err != nil {
		return 0, err
	}

	scheduleAt := scheduleTime(now, criteria.OnDay)

	queued := 0
	for _, c := range candidates {
		exists, err := s.queue.ExistsQueued(ctx, tn, cfg.ID, c.ID)
		if err != nil {
			return queued, err
		}
		if exists {
			continue
		}
		ran, err := s.logs.HasRunToday(ctx, tn, cfg.TriggerID, cfg.ID, c.ID, now, loc)
		if err != nil {
			return queued, err
		}
		if ran {
			continue
		}

		configID := cfg.ID
		entry := eventqueue.Entry{
			ID:            s.node.Generate().String(),
			AgencyID:      tn.AgencyID,
			UserID:        tn.UserID,
			EventKey:      cfg.EventKey,
			EventConfigID: &configID,
			ContactID:     c.ID,
			Status:        eventqueue.StatusPending,
			ScheduleAt:    scheduleAt,
		}
		if err := entry.SetPayload(filter.Payload{
			ContactName:   c.DisplayName(),
			ContactNumber: c.Number,
		}); err != nil {
			return queued, err
		}
		if err := s.queue.Insert(ctx, []eventqueue.Entry{entry}); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// monthDayTargets expands the target date for the eligibility query. In
// non-leap years, Feb-29 contacts celebrate on Feb 28 and Mar 1.
func monthDayTargets(target time.Time) []contact.MonthDay {
	targets := []contact.MonthDay{{Month: int(target.Month()), Day: target.Day()}}
	if !leapYear(target.Year()) {
		feb28 := target.Month() == time.February && target.Day() == 28
		mar1 := target.Month() == time.March && target.Day() == 1
		if feb28 || mar1 {
			targets = append(targets, contact.MonthDay{Month: 2, Day: 29})
		}
	}
	return targets
}

// pinTargets drops scan targets that contradict an explicit month/day filter
// on the config; an empty result means the rule cannot fire today.
func pinTargets(targets []contact.MonthDay, month, day int) []contact.MonthDay {
	kept := targets[:0]
	for _, t := range targets {
		if month != 0 && t.Month != month {
			continue
		}
		if day != 0 && t.Day != day {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

func leapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// scheduleTime places the event at the rule's on_day time today, or now when
// the rule has no send time or the time has already passed.
func scheduleTime(now time.Time, onDay string) time.Time {
	if onDay == "" {
		return now.UTC()
	}
	at, err := time.Parse("15:04", onDay)
	if err != nil {
		return now.UTC()
	}
	scheduled := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	if scheduled.Before(now) {
		return now.UTC()
	}
	return scheduled.UTC()
}

package eventqueue

import (
	"context"
	"time"

	"pulsecrm/pkg/featureflags"
	"pulsecrm/services/filter"
	"pulsecrm/services/tenant"
	"pulsecrm/services/trigger"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// FlagDeferConfigResolution switches realtime enqueues to a single deferred
// entry resolved at processing time. The flag is read on every call so a
// toggle takes effect without a restart; flag lookups fail toward resolving
// now.
const FlagDeferConfigResolution = "engine_defer_config_resolution"

// Manager is the realtime discovery entry point.
type Manager struct {
	repo   Repository
	cache  *trigger.Cache
	flags  featureflags.FeatureFlag
	node   *snowflake.Node
	logger *zap.Logger
}

type ManagerParams struct {
	fx.In

	Repo   Repository
	Cache  *trigger.Cache
	Flags  featureflags.FeatureFlag
	Node   *snowflake.Node
	Logger *zap.Logger
}

func NewManager(p ManagerParams) *Manager {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{repo: p.Repo, cache: p.Cache, flags: p.Flags, node: p.Node, logger: logger}
}

// EnqueueEvent records an observed event for the tenant. With resolution
// deferred it writes one config-less entry; otherwise it resolves the
// tenant's active configs now and writes one entry per config. A tenant with
// no matching configs is a logged no-op, never an error.
func (m *Manager) EnqueueEvent(ctx context.Context, tn tenant.Tenant, key trigger.EventKey, contactID string, payload filter.Payload) error {
	now := time.Now().UTC()

	if m.flags.Enabled(ctx, FlagDeferConfigResolution) {
		entry := Entry{
			ID:         m.node.Generate().String(),
			AgencyID:   tn.AgencyID,
			UserID:     tn.UserID,
			EventKey:   key,
			ContactID:  contactID,
			Status:     StatusPending,
			ScheduleAt: now,
		}
		if err := entry.SetPayload(payload); err != nil {
			return err
		}
		return m.repo.Insert(ctx, []Entry{entry})
	}

	configs, err := m.cache.LoadActive(ctx, tn, key)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		m.logger.Debug("no active configs for event",
			zap.String("agency_id", tn.AgencyID),
			zap.String("user_id", tn.UserID),
			zap.String("event_key", string(key)),
		)
		return nil
	}

	entries := make([]Entry, 0, len(configs))
	for _, cfg := range configs {
		configID := cfg.ID
		entry := Entry{
			ID:            m.node.Generate().String(),
			AgencyID:      tn.AgencyID,
			UserID:        tn.UserID,
			EventKey:      key,
			EventConfigID: &configID,
			ContactID:     contactID,
			Status:        StatusPending,
			ScheduleAt:    now,
		}
		if err := entry.SetPayload(payload); err != nil {
			return err
		}
		entries = append(entries, entry)
	}
	return m.repo.Insert(ctx, entries)
}

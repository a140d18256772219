package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pulsecrm/pkg/config"
	"pulsecrm/services/tenant"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "trigger_config_cache_hits_total"})
	cacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "trigger_config_cache_miss_total"})
)

type ConfigSetKey struct {
	AgencyID string
	UserID   string
	EventKey EventKey
}

type cachedSet struct {
	configs   []EventConfig
	updatedAt time.Time
}

// Cache keeps the active event configs per (tenant, event key) so the
// realtime path does not hit the database on every incoming event.
// Loads are deduplicated with singleflight.
type Cache struct {
	repo  Repository
	mu    sync.RWMutex
	items map[ConfigSetKey]*cachedSet
	ttl   time.Duration
	group singleflight.Group
}

func NewCache(repo Repository, cfg *config.Config) *Cache {
	return &Cache{
		repo:  repo,
		items: make(map[ConfigSetKey]*cachedSet),
		ttl:   cfg.Engine.ConfigCacheTTL,
	}
}

// LoadActive returns the active event configs for the key, serving from the
// cache when fresh.
func (c *Cache) LoadActive(ctx context.Context, tn tenant.Tenant, key EventKey) ([]EventConfig, error) {
	k := ConfigSetKey{AgencyID: tn.AgencyID, UserID: tn.UserID, EventKey: key}

	c.mu.RLock()
	v, ok := c.items[k]
	c.mu.RUnlock()
	if ok && (c.ttl <= 0 || time.Since(v.updatedAt) <= c.ttl) {
		cacheHits.Inc()
		return v.configs, nil
	}
	cacheMiss.Inc()

	flightKey := fmt.Sprintf("%s:%s:%s", k.AgencyID, k.UserID, k.EventKey)
	res, err, _ := c.group.Do(flightKey, func() (any, error) {
		configs, err := c.repo.ListActiveEventConfigs(ctx, tn, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.items[k] = &cachedSet{configs: configs, updatedAt: time.Now()}
		c.mu.Unlock()
		return configs, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]EventConfig), nil
}

// Invalidate drops every cached set for the tenant. Called on any trigger or
// config mutation.
func (c *Cache) Invalidate(tn tenant.Tenant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if k.AgencyID == tn.AgencyID && k.UserID == tn.UserID {
			delete(c.items, k)
		}
	}
}

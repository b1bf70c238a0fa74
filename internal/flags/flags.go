// Package flags holds the process-wide feature flag snapshot. Reads are
// served from memory; the snapshot is reloaded from the database on a
// ticker and immediately when another instance publishes a change on the
// Redis invalidation channel. Unknown flags read as disabled.
package flags

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/repo"
)

// Flag names.
const (
	WebhooksEnabled            = "webhooks_enabled"
	PaymentProcessingEnabled   = "payment_processing_enabled"
	ReservationEnabled         = "reservation_enabled"
	FulfillmentEnabled         = "fulfillment_enabled"
	AutoFulfillEnabled         = "auto_fulfill_enabled"
	ProviderFulfillmentEnabled = "provider_fulfillment_enabled"
	NotificationsEnabled       = "notifications_enabled"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "keyshop:flags"

// ErrUnknownFlag is returned by Set for a name that was never seeded.
var ErrUnknownFlag = errors.New("unknown feature flag")

// Defaults returns the seed rows, all enabled.
func Defaults() []domain.FeatureFlag {
	return []domain.FeatureFlag{
		{Name: WebhooksEnabled, Enabled: true, Category: "ingestion", Description: "Accept provider webhooks"},
		{Name: PaymentProcessingEnabled, Enabled: true, Category: "pipeline", Description: "Apply payment webhooks to orders"},
		{Name: ReservationEnabled, Enabled: true, Category: "pipeline", Description: "Reserve inventory for paid orders"},
		{Name: FulfillmentEnabled, Enabled: true, Category: "pipeline", Description: "Deliver keys for reserved orders"},
		{Name: AutoFulfillEnabled, Enabled: true, Category: "pipeline", Description: "Finalize self-hosted keys right after reservation"},
		{Name: ProviderFulfillmentEnabled, Enabled: true, Category: "pipeline", Description: "Request reservations from the fulfillment provider"},
		{Name: NotificationsEnabled, Enabled: true, Category: "notifications", Description: "Publish delivery events"},
	}
}

// Gate is safe for concurrent use.
type Gate struct {
	DB      *gorm.DB
	Redis   *redis.Client // nil disables cross-instance invalidation
	Channel string

	mu       sync.RWMutex
	snap     map[string]bool
	loadedAt time.Time
}

// New returns a gate with an empty snapshot; call Seed or Reload before use.
func New(db *gorm.DB, rdb *redis.Client, channel string) *Gate {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Gate{DB: db, Redis: rdb, Channel: channel, snap: map[string]bool{}}
}

// Seed inserts the default flags that do not exist yet and reloads.
// Existing rows keep their operator-set values.
func (g *Gate) Seed(ctx context.Context) error {
	if err := repo.SeedFeatureFlags(ctx, g.DB, Defaults()); err != nil {
		return err
	}
	return g.Reload(ctx)
}

// Reload replaces the snapshot with the current table contents.
func (g *Gate) Reload(ctx context.Context) error {
	rows, err := repo.ListFeatureFlags(ctx, g.DB)
	if err != nil {
		return err
	}
	next := make(map[string]bool, len(rows))
	for _, f := range rows {
		next[f.Name] = f.Enabled
	}
	g.mu.Lock()
	g.snap = next
	g.loadedAt = time.Now().UTC()
	g.mu.Unlock()
	return nil
}

// Enabled reports the snapshot value of name; unknown names are false.
func (g *Gate) Enabled(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snap[name]
}

// Snapshot returns a copy of the current values.
func (g *Gate) Snapshot() map[string]bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]bool, len(g.snap))
	for k, v := range g.snap {
		out[k] = v
	}
	return out
}

// List returns the stored flag rows with their descriptions.
func (g *Gate) List(ctx context.Context) ([]domain.FeatureFlag, error) {
	return repo.ListFeatureFlags(ctx, g.DB)
}

// LoadedAt is when the snapshot was last refreshed.
func (g *Gate) LoadedAt() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.loadedAt
}

// Set persists a toggle, refreshes the local snapshot and tells the other
// instances to reload. A failed publish is logged; peers still converge on
// their next tick.
func (g *Gate) Set(ctx context.Context, name string, enabled bool) error {
	if err := repo.SetFeatureFlag(ctx, g.DB, name, enabled); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUnknownFlag
		}
		return err
	}
	if err := g.Reload(ctx); err != nil {
		return err
	}
	if g.Redis != nil {
		if err := g.Redis.Publish(ctx, g.Channel, name).Err(); err != nil {
			log.Warn().Err(err).Str("flag", name).Msg("flag invalidation publish failed")
		}
	}
	log.Info().Str("flag", name).Bool("enabled", enabled).Msg("feature flag updated")
	return nil
}

// Run keeps the snapshot fresh until ctx is cancelled: a reload every
// interval, plus one per invalidation message when Redis is configured.
func (g *Gate) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	var msgs <-chan *redis.Message
	if g.Redis != nil {
		sub := g.Redis.Subscribe(ctx, g.Channel)
		defer sub.Close()
		msgs = sub.Channel()
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			log.Debug().Str("flag", m.Payload).Msg("flag invalidation received")
		}
		if err := g.Reload(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("feature flag reload failed")
		}
	}
}

// Package app assembles the fulfillment pipeline from configuration: store,
// key vault, flag gate, job queue, notifier, provider client and the
// application services on top of them. The CLI and the HTTP router tests
// share this wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/config"
	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/flags"
	"github.com/tbourn/keyshop-fulfillment/internal/http/handlers"
	"github.com/tbourn/keyshop-fulfillment/internal/keyvault"
	"github.com/tbourn/keyshop-fulfillment/internal/notify"
	"github.com/tbourn/keyshop-fulfillment/internal/observability"
	"github.com/tbourn/keyshop-fulfillment/internal/provider"
	"github.com/tbourn/keyshop-fulfillment/internal/queue"
	"github.com/tbourn/keyshop-fulfillment/internal/services"
)

// App holds the wired components. Fields are exported for commands that
// drive a single piece (sweep, replay).
type App struct {
	Config   config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Flags    *flags.Gate
	Queue    *queue.Pool
	Vault    *keyvault.Vault
	Notifier notify.Notifier
	Provider *provider.Client

	Inventory   *services.InventoryService
	Orders      *services.OrderService
	Fulfillment *services.FulfillmentService
	Webhooks    *services.WebhookService
	Pricing     *services.PricingService
}

// Option overrides a collaborator New would otherwise build from config.
type Option func(*options)

type options struct {
	notifier notify.Notifier
	redis    *redis.Client
}

// WithNotifier replaces the Kafka/log notifier selection.
func WithNotifier(n notify.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithRedis supplies the Redis client used for flag invalidation.
func WithRedis(rdb *redis.Client) Option { return func(o *options) { o.redis = rdb } }

// New wires the pipeline on an already opened and migrated db. The master
// key must be set; webhook secrets may be empty, in which case every
// callback of that source fails verification.
func New(cfg config.Config, db *gorm.DB, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	vault, err := keyvault.New(cfg.Fulfillment.VaultMasterKey)
	if err != nil {
		return nil, fmt.Errorf("key vault: %w", err)
	}

	rdb := o.redis
	if rdb == nil && cfg.Messaging.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Messaging.RedisAddr})
	}

	n := o.notifier
	if n == nil {
		if len(cfg.Messaging.KafkaBrokers) > 0 {
			kn, err := notify.NewKafka(cfg.Messaging.KafkaBrokers, cfg.Messaging.KafkaTopic)
			if err != nil {
				return nil, fmt.Errorf("kafka notifier: %w", err)
			}
			n = kn
		} else {
			n = notify.LogNotifier{}
		}
	}

	gate := flags.New(db, rdb, cfg.Messaging.RedisChannel)
	pool := queue.New(db, cfg.Queue)
	prov := provider.New(cfg.Fulfillment.ProviderBaseURL, cfg.Fulfillment.ProviderAPIKey, cfg.Fulfillment.ProviderTimeout)

	inv := services.NewInventoryService(db, vault, cfg.Fulfillment.ReservationTTL)
	orders := &services.OrderService{
		DB:            db,
		Queue:         pool,
		Inventory:     inv,
		Vault:         vault,
		PaymentWindow: cfg.Fulfillment.PaymentWindow,
	}
	ful := &services.FulfillmentService{
		DB:        db,
		Orders:    orders,
		Inventory: inv,
		Flags:     gate,
		Provider:  prov,
		Notifier:  n,
		Queue:     pool,
		Vault:     vault,
	}
	hooks := &services.WebhookService{
		DB:        db,
		Queue:     pool,
		Flags:     gate,
		Processor: ful,
		Secrets: map[string]string{
			domain.SourcePayment:     cfg.Webhooks.PaymentSecret,
			domain.SourceFulfillment: cfg.Webhooks.FulfillmentSecret,
		},
	}
	ful.Register(pool, hooks)

	return &App{
		Config:      cfg,
		DB:          db,
		Redis:       rdb,
		Flags:       gate,
		Queue:       pool,
		Vault:       vault,
		Notifier:    n,
		Provider:    prov,
		Inventory:   inv,
		Orders:      orders,
		Fulfillment: ful,
		Webhooks:    hooks,
		Pricing:     &services.PricingService{DB: db},
	}, nil
}

// Handlers returns the service set the HTTP layer calls.
func (a *App) Handlers() handlers.Deps {
	return handlers.Deps{
		Webhooks: a.Webhooks,
		Orders:   a.Orders,
		Catalog:  a.Inventory,
		Pricing:  a.Pricing,
		Flags:    a.Flags,
	}
}

// Start seeds and loads the flag snapshot. Call it before serving traffic.
func (a *App) Start(ctx context.Context) error {
	if err := a.Flags.Seed(ctx); err != nil {
		return fmt.Errorf("seed flags: %w", err)
	}
	return a.Flags.Reload(ctx)
}

// SweepReport summarizes one sweeper pass.
type SweepReport struct {
	services.SweepResult
	ExpiredOrders int `json:"expired_orders"`
}

// Sweep runs one pass: expired reservations are released, keys past their
// validity retired, and unpaid orders past the payment window expired.
func (a *App) Sweep(ctx context.Context) (rep SweepReport, err error) {
	ctx, span := observability.Tracer("sweeper").Start(ctx, "sweep")
	defer func() {
		span.SetAttributes(
			attribute.Int("sweep.released", rep.Released),
			attribute.Int("sweep.key_expired", rep.KeyExpired),
			attribute.Int("sweep.expired_orders", rep.ExpiredOrders),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	res, err := a.Inventory.SweepExpired(ctx)
	rep.SweepResult = res
	if err != nil {
		return rep, fmt.Errorf("sweep reservations: %w", err)
	}
	n, err := a.Orders.ExpireUnpaid(ctx)
	rep.ExpiredOrders = n
	if err != nil {
		return rep, fmt.Errorf("expire unpaid orders: %w", err)
	}
	return rep, nil
}

// Run drives the background side until ctx is cancelled: queue workers, the
// flag reloader and the periodic sweeper. It returns once all three stopped.
func (a *App) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		a.Queue.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.Flags.Run(ctx, a.Config.Fulfillment.FlagsReloadInterval)
	}()
	go func() {
		defer wg.Done()
		a.runSweeper(ctx)
	}()
	wg.Wait()
}

func (a *App) runSweeper(ctx context.Context) {
	interval := a.Config.Fulfillment.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	logger := log.With().Str("component", "sweeper").Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		rep, err := a.Sweep(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error().Err(err).Msg("sweep failed")
			}
			continue
		}
		if rep.Released > 0 || rep.KeyExpired > 0 || rep.ExpiredOrders > 0 {
			logger.Info().
				Int("released", rep.Released).
				Int("key_expired", rep.KeyExpired).
				Int("expired_orders", rep.ExpiredOrders).
				Msg("sweep")
		}
	}
}

// Close releases the notifier and the Redis client.
func (a *App) Close() error {
	var errs []error
	if a.Notifier != nil {
		errs = append(errs, a.Notifier.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}

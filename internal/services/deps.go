package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/keyvault"
	"github.com/tbourn/keyshop-fulfillment/internal/provider"
	"github.com/tbourn/keyshop-fulfillment/internal/repo"
)

// Job kinds handled by the pipeline.
const (
	JobWebhookProcess = "webhook.process"
	JobOrderAdvance   = "order.advance"
)

// webhookJob is the payload of a webhook.process job.
type webhookJob struct {
	LogID string `json:"log_id"`
}

// orderJob is the payload of an order.advance job.
type orderJob struct {
	OrderID string `json:"order_id"`
}

func webhookDedupeKey(logID string) string { return "webhook:" + logID }
func orderDedupeKey(orderID string) string { return "order:" + orderID }

// KeySealer encrypts key material at rest. *keyvault.Vault implements it.
type KeySealer interface {
	Seal(plaintext []byte) (keyvault.Sealed, error)
	Open(s keyvault.Sealed) ([]byte, error)
}

// FlagReader answers feature flag lookups. *flags.Gate implements it.
type FlagReader interface {
	Enabled(name string) bool
}

// JobQueue enqueues background work, optionally inside a transaction.
// *queue.Pool implements it.
type JobQueue interface {
	Enqueue(ctx context.Context, tx *gorm.DB, kind, dedupeKey string, payload any) (*domain.Job, error)
	Wake()
}

// ProviderClient requests reservations from the fulfillment provider.
// *provider.Client implements it.
type ProviderClient interface {
	Reserve(ctx context.Context, req provider.ReservationRequest) (*provider.Reservation, error)
}

func isNotFound(err error) bool { return errors.Is(err, repo.ErrNotFound) }

func isConflict(err error) bool { return errors.Is(err, repo.ErrConflict) }

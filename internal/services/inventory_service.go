// Package services – InventoryService
//
// This file implements the reservation lifecycle of self-hosted inventory:
// FIFO reservation by guarded update, release on TTL expiry or cancellation,
// the periodic sweeper, and Finalize, the single irreversible step that
// decrypts a key and marks the item sold. Every item transition moves the
// product stock counters inside the same transaction.
package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/keyvault"
	"github.com/tbourn/keyshop-fulfillment/internal/observability"
	"github.com/tbourn/keyshop-fulfillment/internal/repo"
)

const sweepBatch = 100

var errDecrypt = errors.New("decrypt")

// InventoryService owns inventory item state.
type InventoryService struct {
	DB    *gorm.DB
	Vault KeySealer

	// TTL is how long a reservation holds an item.
	TTL time.Duration
	// MaxReserveRetries bounds retries after losing the reservation guard.
	MaxReserveRetries int

	Now func() time.Time
}

// NewInventoryService returns a service with a 30 minute reservation TTL
// when ttl is not positive.
func NewInventoryService(db *gorm.DB, vault KeySealer, ttl time.Duration) *InventoryService {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &InventoryService{
		DB:                db,
		Vault:             vault,
		TTL:               ttl,
		MaxReserveRetries: 8,
		Now:               func() time.Time { return time.Now().UTC() },
	}
}

func (s *InventoryService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// KeyRef returns the delivery reference of a self-hosted inventory item.
func KeyRef(itemID string) string { return "inv:" + itemID }

// Reserve holds the oldest available item of productID for orderID.
func (s *InventoryService) Reserve(ctx context.Context, productID, orderID string) (*domain.InventoryItem, error) {
	return s.reserve(ctx, productID, orderID, "", nil)
}

// ReserveForItem reserves an item for one order item and links it, only
// while the order is in one of statuses.
func (s *InventoryService) ReserveForItem(ctx context.Context, orderID, orderItemID, productID string, statuses ...string) (*domain.InventoryItem, error) {
	return s.reserve(ctx, productID, orderID, orderItemID, statuses)
}

func (s *InventoryService) reserve(ctx context.Context, productID, orderID, orderItemID string, statuses []string) (*domain.InventoryItem, error) {
	tr := otel.Tracer("services/InventoryService")
	ctx, span := tr.Start(ctx, "Reserve", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.String("order.id", orderID),
	))
	defer span.End()

	retries := s.MaxReserveRetries
	if retries <= 0 {
		retries = 8
	}
	for attempt := 0; attempt < retries; attempt++ {
		var item *domain.InventoryItem
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.now()
			if orderItemID != "" {
				if err := repo.TouchOrder(ctx, tx, orderID, statuses...); err != nil {
					if isConflict(err) {
						return ErrOrderConflict
					}
					return err
				}
			}
			if err := repo.ReserveOldestAvailable(ctx, tx, productID, orderID, now, s.TTL); err != nil {
				return err
			}
			it, err := repo.LatestUnlinkedReservation(ctx, tx, productID, orderID)
			if err != nil {
				return fmt.Errorf("read back reservation: %v", err)
			}
			if err := repo.MoveStock(ctx, tx, productID, domain.ItemAvailable, domain.ItemReserved, 1); err != nil {
				return err
			}
			if orderItemID != "" {
				if err := repo.LinkOrderItemInventory(ctx, tx, orderItemID, &it.ID); err != nil {
					return err
				}
			}
			item = it
			return nil
		})
		switch {
		case err == nil:
			observability.ReservationsTotal.WithLabelValues("reserved").Inc()
			span.SetAttributes(attribute.String("item.id", item.ID))
			return item, nil
		case isNotFound(err):
			observability.ReservationsTotal.WithLabelValues("insufficient").Inc()
			return nil, ErrInsufficientStock
		case isConflict(err) || repo.IsBusy(err):
			observability.ReservationsTotal.WithLabelValues("conflict").Inc()
			if !sleepCtx(ctx, contentionDelay(attempt)) {
				return nil, ctx.Err()
			}
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("reserve %s: %w", productID, repo.ErrConflict)
}

// Release returns a reserved item to available. It is used for order
// cancellation and by operators; TTL expiry goes through SweepExpired.
func (s *InventoryService) Release(ctx context.Context, itemID string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.ReleaseReservation(ctx, tx, itemID, "", nil); err != nil {
			if isConflict(err) {
				return fmt.Errorf("%w: %s", ErrItemNotReserved, itemID)
			}
			return err
		}
		it, err := repo.GetInventoryItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if err := repo.MoveStock(ctx, tx, it.ProductID, domain.ItemReserved, domain.ItemAvailable, 1); err != nil {
			return err
		}
		return repo.UnlinkInventoryItem(ctx, tx, itemID)
	})
}

// releaseForOrder releases every reservation held by orderID inside tx and
// clears the order's inventory links. It returns how many were released.
func (s *InventoryService) releaseForOrder(ctx context.Context, tx *gorm.DB, orderID string) (int, error) {
	items, err := repo.ListReservationsForOrder(ctx, tx, orderID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, it := range items {
		if err := repo.ReleaseReservation(ctx, tx, it.ID, orderID, nil); err != nil {
			if isConflict(err) {
				continue
			}
			return n, err
		}
		if err := repo.MoveStock(ctx, tx, it.ProductID, domain.ItemReserved, domain.ItemAvailable, 1); err != nil {
			return n, err
		}
		n++
	}
	return n, repo.UnlinkOrderInventory(ctx, tx, orderID)
}

// SweepResult reports one sweeper pass.
type SweepResult struct {
	Released   int `json:"released"`
	KeyExpired int `json:"key_expired"`
}

// SweepExpired releases reservations past their deadline and retires
// available items whose key validity ended. A release loses against a
// Finalize that committed first: the guard requires the item to still be
// reserved.
func (s *InventoryService) SweepExpired(ctx context.Context) (SweepResult, error) {
	tr := otel.Tracer("services/InventoryService")
	ctx, span := tr.Start(ctx, "SweepExpired")
	defer span.End()

	var out SweepResult
	now := s.now()

	for {
		items, err := repo.ListExpiredReservations(ctx, s.DB, now, sweepBatch)
		if err != nil {
			return out, err
		}
		for _, it := range items {
			released := false
			err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := repo.ReleaseReservation(ctx, tx, it.ID, "", &now); err != nil {
					if isConflict(err) {
						return nil
					}
					return err
				}
				if err := repo.MoveStock(ctx, tx, it.ProductID, domain.ItemReserved, domain.ItemAvailable, 1); err != nil {
					return err
				}
				released = true
				return repo.UnlinkInventoryItem(ctx, tx, it.ID)
			})
			if err != nil {
				return out, err
			}
			if released {
				out.Released++
				observability.SweptReservations.Inc()
				log.Info().Str("item_id", it.ID).Str("product_id", it.ProductID).Msg("reservation expired")
			}
		}
		if len(items) < sweepBatch {
			break
		}
	}

	for {
		items, err := repo.ListKeyExpiredAvailable(ctx, s.DB, now, sweepBatch)
		if err != nil {
			return out, err
		}
		for _, it := range items {
			moved := false
			err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := repo.MarkItemStatus(ctx, tx, it.ID, domain.ItemAvailable, domain.ItemExpired); err != nil {
					if isConflict(err) {
						return nil
					}
					return err
				}
				moved = true
				return repo.MoveStock(ctx, tx, it.ProductID, domain.ItemAvailable, domain.ItemExpired, 1)
			})
			if err != nil {
				return out, err
			}
			if moved {
				out.KeyExpired++
			}
		}
		if len(items) < sweepBatch {
			break
		}
	}

	span.SetAttributes(attribute.Int("released", out.Released), attribute.Int("key_expired", out.KeyExpired))
	return out, nil
}

// FinalizeResult is the outcome of Finalize. Plaintext is only set on the
// call that performed the decryption; a repeated call for the same order
// returns the key reference with Cached set.
type FinalizeResult struct {
	ItemID    string `json:"item_id"`
	OrderID   string `json:"order_id"`
	KeyRef    string `json:"key_ref"`
	Cached    bool   `json:"cached"`
	Plaintext []byte `json:"-"`
}

// Finalize marks a reservation sold and decrypts its key, once. When an
// order item is linked to the inventory item, the key is sealed onto it and
// the order must still be fulfilling.
//
// Errors: ErrSoldToOtherOrder, ErrReservationLost, ErrDecryptionFailed (the
// item is then invalid and unlinked), ErrOrderConflict.
func (s *InventoryService) Finalize(ctx context.Context, itemID, orderID string) (*FinalizeResult, error) {
	tr := otel.Tracer("services/InventoryService")
	ctx, span := tr.Start(ctx, "Finalize", trace.WithAttributes(
		attribute.String("item.id", itemID),
		attribute.String("order.id", orderID),
	))
	defer span.End()

	var res *FinalizeResult
	err := withBusyRetry(ctx, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.now()
			// the guarded write comes first so the transaction holds the
			// write lock before it reads
			if err := repo.MarkItemSold(ctx, tx, itemID, orderID, now); err != nil {
				return err
			}
			it, err := repo.GetInventoryItem(ctx, tx, itemID)
			if err != nil {
				return err
			}
			pt, err := s.Vault.Open(keyvault.Sealed{Ciphertext: it.Ciphertext, IV: it.IV, Tag: it.AuthTag})
			if err != nil {
				return errDecrypt
			}
			if err := repo.MoveStock(ctx, tx, it.ProductID, domain.ItemReserved, domain.ItemSold, 1); err != nil {
				return err
			}

			ref := KeyRef(itemID)
			oi, err := repo.GetOrderItemByInventory(ctx, tx, orderID, itemID)
			switch {
			case err == nil:
				if err := repo.TouchOrder(ctx, tx, orderID, domain.OrderFulfilling); err != nil {
					if isConflict(err) {
						return ErrOrderConflict
					}
					return err
				}
				sealed, err := s.Vault.Seal(pt)
				if err != nil {
					return err
				}
				if err := repo.DeliverOrderItem(ctx, tx, oi.ID, ref, sealed.Ciphertext, sealed.IV, sealed.Tag, now); err != nil {
					return err
				}
			case !isNotFound(err):
				return err
			}
			res = &FinalizeResult{ItemID: itemID, OrderID: orderID, KeyRef: ref, Plaintext: pt}
			return nil
		})
	})

	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, errDecrypt):
		return nil, s.invalidate(ctx, itemID, orderID)
	case isConflict(err):
		return s.finalizeOutcome(ctx, itemID, orderID)
	case isNotFound(err):
		return nil, ErrReservationLost
	default:
		return nil, err
	}
}

// finalizeOutcome explains why the sold guard did not match.
func (s *InventoryService) finalizeOutcome(ctx context.Context, itemID, orderID string) (*FinalizeResult, error) {
	it, err := repo.GetInventoryItem(ctx, s.DB, itemID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrReservationLost
		}
		return nil, err
	}
	if it.Status != domain.ItemSold {
		return nil, ErrReservationLost
	}
	if it.SoldToOrderID == nil || *it.SoldToOrderID != orderID {
		return nil, ErrSoldToOtherOrder
	}
	return &FinalizeResult{ItemID: itemID, OrderID: orderID, KeyRef: KeyRef(itemID), Cached: true}, nil
}

// invalidate retires an item whose ciphertext failed authentication.
func (s *InventoryService) invalidate(ctx context.Context, itemID, orderID string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkItemStatus(ctx, tx, itemID, domain.ItemReserved, domain.ItemInvalid); err != nil {
			return err
		}
		it, err := repo.GetInventoryItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if err := repo.MoveStock(ctx, tx, it.ProductID, domain.ItemReserved, domain.ItemInvalid, 1); err != nil {
			return err
		}
		return repo.UnlinkInventoryItem(ctx, tx, itemID)
	})
	if err != nil && !isConflict(err) {
		return err
	}
	observability.DecryptFailures.Inc()
	log.Error().Str("item_id", itemID).Str("order_id", orderID).Msg("inventory item failed decryption; marked invalid")
	return ErrDecryptionFailed
}

// UploadKey is one plaintext key to store.
type UploadKey struct {
	Key          string     `json:"key"`
	KeyExpiresAt *time.Time `json:"key_expires_at,omitempty"`
}

// UploadResult reports an upload batch.
type UploadResult struct {
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Skipped    int      `json:"skipped"`
	ItemIDs    []string `json:"item_ids"`
}

// Upload encrypts and stores keys for a self-hosted product. Keys already
// uploaded for the product (same hash) and blank lines are skipped. Upload
// order is preserved as FIFO order.
func (s *InventoryService) Upload(ctx context.Context, productID string, keys []UploadKey) (*UploadResult, error) {
	tr := otel.Tracer("services/InventoryService")
	ctx, span := tr.Start(ctx, "Upload", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("keys", len(keys)),
	))
	defer span.End()

	p, err := repo.GetProduct(ctx, s.DB, productID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	if p.SourceType != domain.SourceSelfHosted {
		return nil, fmt.Errorf("%w: inventory upload requires a self-hosted product", ErrInvalidProduct)
	}

	out := &UploadResult{ItemIDs: []string{}}
	base := s.now()
	for i, k := range keys {
		plain := strings.TrimSpace(k.Key)
		if plain == "" {
			out.Skipped++
			continue
		}
		sealed, err := s.Vault.Seal([]byte(plain))
		if err != nil {
			return out, err
		}
		it := &domain.InventoryItem{
			ProductID:    productID,
			Ciphertext:   sealed.Ciphertext,
			IV:           sealed.IV,
			AuthTag:      sealed.Tag,
			Status:       domain.ItemAvailable,
			KeyExpiresAt: k.KeyExpiresAt,
			ItemHash:     keyvault.Hash([]byte(plain)),
			UploadedAt:   base.Add(time.Duration(i) * time.Microsecond),
		}
		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := repo.InsertInventoryItem(ctx, tx, it); err != nil {
				return err
			}
			return repo.MoveStock(ctx, tx, productID, "", domain.ItemAvailable, 1)
		})
		switch {
		case err == nil:
			out.Inserted++
			out.ItemIDs = append(out.ItemIDs, it.ID)
		case errors.Is(err, repo.ErrDuplicate):
			out.Duplicates++
		default:
			return out, err
		}
	}
	log.Info().Str("product_id", productID).Int("inserted", out.Inserted).Int("duplicates", out.Duplicates).Msg("inventory uploaded")
	return out, nil
}

// StockReport compares the product counters with a recount of its items.
type StockReport struct {
	ProductID  string           `json:"product_id"`
	Counters   map[string]int64 `json:"counters"`
	Actual     map[string]int64 `json:"actual"`
	Consistent bool             `json:"consistent"`
}

// Stock returns the counters and the recomputed per-status counts.
func (s *InventoryService) Stock(ctx context.Context, productID string) (*StockReport, error) {
	p, err := repo.GetProduct(ctx, s.DB, productID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	actual, err := repo.ItemCountsByStatus(ctx, s.DB, productID)
	if err != nil {
		return nil, err
	}
	counters := repo.CountersByStatus(p)
	consistent := true
	for status, n := range actual {
		if counters[status] != n {
			consistent = false
			break
		}
	}
	return &StockReport{ProductID: productID, Counters: counters, Actual: actual, Consistent: consistent}, nil
}

// UpsertProduct validates and stores catalog fields of a product. Price and
// stock counters are owned by the pipeline and left untouched.
func (s *InventoryService) UpsertProduct(ctx context.Context, p *domain.Product) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Category = strings.TrimSpace(p.Category)
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidProduct)
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	case len(p.Currency) != 3:
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidProduct)
	case p.CostMinor < 0:
		return fmt.Errorf("%w: cost_minor must be >= 0", ErrInvalidProduct)
	case p.SourceType != domain.SourceSelfHosted && p.SourceType != domain.SourceProvider:
		return fmt.Errorf("%w: source_type must be self_hosted or provider", ErrInvalidProduct)
	case p.SourceType == domain.SourceProvider && strings.TrimSpace(p.ProviderOfferID) == "":
		return fmt.Errorf("%w: provider products need provider_offer_id", ErrInvalidProduct)
	}
	return repo.UpsertProduct(ctx, s.DB, p)
}

// ListProducts returns a page of products.
func (s *InventoryService) ListProducts(ctx context.Context, offset, limit int) ([]domain.Product, int64, error) {
	return repo.ListProducts(ctx, s.DB, offset, limit)
}

// contentionDelay is a short jittered pause between reservation retries.
func contentionDelay(attempt int) time.Duration {
	base := time.Duration(attempt+1) * 2 * time.Millisecond
	return base + time.Duration(rand.Int64N(int64(base)))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// withBusyRetry reruns fn while SQLite reports a transient lock error.
func withBusyRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if err = fn(); !repo.IsBusy(err) {
			return err
		}
		if !sleepCtx(ctx, contentionDelay(attempt)) {
			return ctx.Err()
		}
	}
	return err
}

// Package services – OrderService
//
// This file implements the order state machine operations: checkout
// creation, guarded status transitions, admin cancellation, the manual
// fulfillment retry, delivered key lookup and expiry of unpaid orders.
// Allowed edges are declared in domain.CanTransition; every write here is a
// conditional update on the current status.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
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

// Checkout limits.
const (
	MaxUnitsPerLine  = 10
	MaxUnitsPerOrder = 20
)

// OrderService owns order lifecycle operations.
type OrderService struct {
	DB        *gorm.DB
	Queue     JobQueue
	Inventory *InventoryService
	Vault     KeySealer

	// PaymentWindow is how long an order may wait for payment.
	PaymentWindow time.Duration

	Now func() time.Time
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// OrderLine is one product and quantity of a checkout request.
type OrderLine struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity"`
}

// CreateOrderInput is a checkout request.
type CreateOrderInput struct {
	Email string      `json:"email" binding:"required"`
	Items []OrderLine `json:"items" binding:"required"`
}

// Create validates a checkout request against the catalog and stores the
// order awaiting payment. Each unit becomes its own order item. Prices are
// taken from the products at creation time.
func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "Create")
	defer span.End()

	email := strings.TrimSpace(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email || len(email) > 255 {
		return nil, fmt.Errorf("%w: email is not a valid address", ErrInvalidOrder)
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidOrder)
	}

	qty := map[string]int{}
	units := 0
	for _, l := range in.Items {
		id := strings.TrimSpace(l.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: product_id is required", ErrInvalidOrder)
		}
		if l.Quantity < 1 || l.Quantity > MaxUnitsPerLine {
			return nil, fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidOrder, MaxUnitsPerLine)
		}
		qty[id] += l.Quantity
		units += l.Quantity
	}
	if units > MaxUnitsPerOrder {
		return nil, fmt.Errorf("%w: at most %d units per order", ErrInvalidOrder, MaxUnitsPerOrder)
	}

	ids := make([]string, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	products, err := repo.GetProducts(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	if len(products) != len(ids) {
		return nil, fmt.Errorf("%w: unknown product in order", ErrProductNotFound)
	}

	// Lines are charged the stored product price. Rules change prices only
	// through Reprice, so a quote and a checkout never disagree mid-order.
	o := &domain.Order{Email: email, Status: domain.OrderCreated}
	var items []domain.OrderItem
	for i, p := range products {
		if !p.Published || p.PriceMinor <= 0 {
			return nil, fmt.Errorf("%w: product %s is not for sale", ErrInvalidOrder, p.ID)
		}
		if i == 0 {
			o.SourceType, o.Currency = p.SourceType, p.Currency
		} else if p.SourceType != o.SourceType || p.Currency != o.Currency {
			return nil, fmt.Errorf("%w: products must share source type and currency", ErrInvalidOrder)
		}
		for n := 0; n < qty[p.ID]; n++ {
			items = append(items, domain.OrderItem{ProductID: p.ID, UnitPriceMinor: p.PriceMinor})
			o.TotalMinor += p.PriceMinor
		}
	}
	if o.SourceType == domain.SourceProvider && len(items) != 1 {
		return nil, fmt.Errorf("%w: provider orders hold exactly one key", ErrInvalidOrder)
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateOrder(ctx, tx, o, items); err != nil {
			return err
		}
		if err := s.Transition(ctx, tx, o.ID, domain.OrderCreated, domain.OrderAwaitingPayment, nil); err != nil {
			return err
		}
		o.Status = domain.OrderAwaitingPayment
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.Int("items", len(items)))
	log.Info().Str("order_id", o.ID).Int64("total_minor", o.TotalMinor).Str("currency", o.Currency).Msg("order created")
	return o, nil
}

// Get returns an order with its items.
func (s *OrderService) Get(ctx context.Context, id string) (*domain.Order, error) {
	o, err := repo.GetOrderWithItems(ctx, s.DB, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

// Transition moves order id from one status to another inside tx. It
// returns ErrInvalidTransition for an edge the state machine does not allow
// and an error matching both ErrOrderConflict and repo.ErrConflict when the
// order was no longer in from.
func (s *OrderService) Transition(ctx context.Context, tx *gorm.DB, id, from, to string, extra map[string]any) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if err := repo.TransitionOrder(ctx, tx, id, from, to, extra); err != nil {
		if isConflict(err) {
			return fmt.Errorf("%w: %w", ErrOrderConflict, err)
		}
		return err
	}
	observability.OrderTransitions.WithLabelValues(from, to).Inc()
	trace.SpanFromContext(ctx).AddEvent("order.transition", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("from", from),
		attribute.String("to", to),
	))
	return nil
}

// Cancel moves a non-terminal order to cancelled and releases its
// reservations in the same transaction.
func (s *OrderService) Cancel(ctx context.Context, id, reason string) (*domain.Order, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "Cancel", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by admin"
	}
	for attempt := 0; attempt < 3; attempt++ {
		o, err := repo.GetOrder(ctx, s.DB, id)
		if err != nil {
			if isNotFound(err) {
				return nil, ErrOrderNotFound
			}
			return nil, err
		}
		if domain.IsTerminal(o.Status) {
			return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
		}
		released := 0
		err = withBusyRetry(ctx, func() error {
			return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				now := s.now()
				if err := s.Transition(ctx, tx, id, o.Status, domain.OrderCancelled, map[string]any{
					"cancelled_at":   now,
					"failure_reason": reason,
				}); err != nil {
					return err
				}
				n, err := s.Inventory.releaseForOrder(ctx, tx, id)
				released = n
				return err
			})
		})
		if isConflict(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Info().Str("order_id", id).Str("from", o.Status).Int("released", released).Msg("order cancelled")
		return s.Get(ctx, id)
	}
	return nil, ErrOrderConflict
}

// RetryFulfillment moves a fulfillment_failed order back to fulfilling and
// enqueues it. It is the only edge out of a terminal status.
func (s *OrderService) RetryFulfillment(ctx context.Context, id string) (*domain.Order, error) {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Transition(ctx, tx, id, domain.OrderFulfillmentFailed, domain.OrderFulfilling, map[string]any{
			"failure_reason": "",
		}); err != nil {
			return err
		}
		_, err := s.Queue.Enqueue(ctx, tx, JobOrderAdvance, orderDedupeKey(id), orderJob{OrderID: id})
		return err
	})
	if err != nil {
		if isConflict(err) {
			if _, gerr := repo.GetOrder(ctx, s.DB, id); isNotFound(gerr) {
				return nil, ErrOrderNotFound
			}
			return nil, fmt.Errorf("%w: order is not fulfillment_failed", ErrInvalidTransition)
		}
		return nil, err
	}
	s.Queue.Wake()
	log.Info().Str("order_id", id).Msg("fulfillment retry requested")
	return s.Get(ctx, id)
}

// DeliveredKey is one decrypted key of a fulfilled order.
type DeliveredKey struct {
	OrderItemID string `json:"order_item_id"`
	ProductID   string `json:"product_id"`
	KeyRef      string `json:"key_ref"`
	Key         string `json:"key"`
}

// Keys returns the delivered keys of a fulfilled order to the customer who
// placed it. A wrong email reads as an unknown order.
func (s *OrderService) Keys(ctx context.Context, id, email string) ([]DeliveredKey, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(strings.TrimSpace(email), o.Email) {
		return nil, ErrOrderNotFound
	}
	if o.Status != domain.OrderFulfilled {
		return nil, ErrOrderNotFulfilled
	}
	out := make([]DeliveredKey, 0, len(o.Items))
	for _, it := range o.Items {
		if !it.Delivered() {
			continue
		}
		pt, err := s.Vault.Open(keyvault.Sealed{Ciphertext: it.SealedKey, IV: it.SealedIV, Tag: it.SealedTag})
		if err != nil {
			return nil, fmt.Errorf("open delivered key %s: %w", it.ID, err)
		}
		out = append(out, DeliveredKey{OrderItemID: it.ID, ProductID: it.ProductID, KeyRef: it.KeyRef, Key: string(pt)})
	}
	return out, nil
}

// ExpireUnpaid moves orders still awaiting payment after PaymentWindow to
// expired and returns how many moved.
func (s *OrderService) ExpireUnpaid(ctx context.Context) (int, error) {
	if s.PaymentWindow <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.PaymentWindow)
	n := 0
	for {
		orders, err := repo.ListOrdersByStatusBefore(ctx, s.DB, domain.OrderAwaitingPayment, cutoff, sweepBatch)
		if err != nil {
			return n, err
		}
		moved := 0
		for _, o := range orders {
			err := s.Transition(ctx, s.DB, o.ID, domain.OrderAwaitingPayment, domain.OrderExpired, map[string]any{
				"failure_reason": "payment window elapsed",
			})
			if err != nil && !isConflict(err) {
				return n, err
			}
			if err == nil {
				moved++
			}
		}
		n += moved
		if len(orders) < sweepBatch || moved == 0 {
			break
		}
	}
	if n > 0 {
		log.Info().Int("expired", n).Msg("unpaid orders expired")
	}
	return n, nil
}

// Counts returns how many orders sit in each status.
func (s *OrderService) Counts(ctx context.Context) (map[string]int64, error) {
	return repo.CountOrdersByStatus(ctx, s.DB)
}

// fail moves an order to a failure status from whatever non-terminal status
// it is in, recording reason. It is a no-op for terminal orders.
func (s *OrderService) fail(ctx context.Context, id, to, reason string) error {
	for attempt := 0; attempt < 3; attempt++ {
		o, err := repo.GetOrder(ctx, s.DB, id)
		if err != nil {
			return err
		}
		if domain.IsTerminal(o.Status) {
			return nil
		}
		if !domain.CanTransition(o.Status, to) {
			log.Warn().Str("order_id", id).Str("from", o.Status).Str("to", to).Str("reason", reason).
				Msg("order failure not applicable from current status")
			return nil
		}
		err = withBusyRetry(ctx, func() error {
			return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := s.Transition(ctx, tx, id, o.Status, to, map[string]any{"failure_reason": reason}); err != nil {
					return err
				}
				_, err := s.Inventory.releaseForOrder(ctx, tx, id)
				return err
			})
		})
		if errors.Is(err, repo.ErrConflict) {
			continue
		}
		if err == nil {
			log.Warn().Str("order_id", id).Str("from", o.Status).Str("to", to).Str("reason", reason).Msg("order failed")
		}
		return err
	}
	return ErrOrderConflict
}

// Package services – FulfillmentService
//
// FulfillmentService drives an order from payment confirmation to
// fulfilled. It runs inside queue workers: order.advance jobs call Advance,
// and the webhook processor hands verified payment and fulfillment callbacks
// to HandlePayment and HandleFulfillment.
//
// Each step re-reads the order and applies one guarded transition, so a job
// that runs twice, or concurrently with a replayed webhook, performs every
// side effect at most once. A disabled pipeline flag defers the job instead
// of failing it.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/flags"
	"github.com/tbourn/keyshop-fulfillment/internal/notify"
	"github.com/tbourn/keyshop-fulfillment/internal/observability"
	"github.com/tbourn/keyshop-fulfillment/internal/provider"
	"github.com/tbourn/keyshop-fulfillment/internal/queue"
	"github.com/tbourn/keyshop-fulfillment/internal/repo"
)

// maxAdvanceSteps bounds the transitions one Advance call may apply.
const maxAdvanceSteps = 16

// Result actions stored on processed webhook logs.
const (
	ActionConfirmed = "payment_confirmed"
	ActionFailed    = "order_failed"
	ActionDelivered = "delivered"
	ActionIgnored   = "ignored"
)

// ProcessResult is the cached outcome of a processed webhook.
type ProcessResult struct {
	Action  string `json:"action"`
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// FulfillmentService runs the order pipeline.
type FulfillmentService struct {
	DB        *gorm.DB
	Orders    *OrderService
	Inventory *InventoryService
	Flags     FlagReader
	Provider  ProviderClient
	Notifier  notify.Notifier
	Queue     JobQueue
	Vault     KeySealer

	// MaxSwaps bounds how many replacement items one order item may consume
	// after decryption failures or lost reservations.
	MaxSwaps int
}

func (s *FulfillmentService) now() time.Time { return s.Orders.now() }

func (s *FulfillmentService) gate(name string) error {
	if s.Flags != nil && s.Flags.Enabled(name) {
		return nil
	}
	return queue.Defer(fmt.Errorf("%w: %s", ErrFeatureDisabled, name))
}

// Register wires the pipeline job handlers and the failure hook into pool.
func (s *FulfillmentService) Register(pool *queue.Pool, webhooks *WebhookService) {
	pool.Register(JobOrderAdvance, func(ctx context.Context, job *domain.Job) error {
		var p orderJob
		if err := queue.Decode(job, &p); err != nil {
			return err
		}
		return s.Advance(ctx, p.OrderID)
	})
	pool.Register(JobWebhookProcess, webhooks.Process)
	pool.OnFailure = s.OnJobFailed
}

// Advance applies every transition currently possible for an order. It
// returns nil when the order is terminal or waiting on something external
// (payment, the provider webhook).
func (s *FulfillmentService) Advance(ctx context.Context, orderID string) error {
	tr := otel.Tracer("services/FulfillmentService")
	ctx, span := tr.Start(ctx, "Advance", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	for step := 0; step < maxAdvanceSteps; step++ {
		o, err := repo.GetOrderWithItems(ctx, s.DB, orderID)
		if err != nil {
			if isNotFound(err) {
				return queue.Permanent(ErrOrderNotFound)
			}
			return err
		}

		var done bool
		switch o.Status {
		case domain.OrderPaymentConfirmed:
			if err = s.gate(flags.ReservationEnabled); err == nil {
				err = s.Orders.Transition(ctx, s.DB, o.ID, o.Status, domain.OrderReserving, nil)
			}
		case domain.OrderReserving:
			if o.SourceType == domain.SourceProvider {
				err = s.reserveProvider(ctx, o)
			} else {
				err = s.reserveSelfHosted(ctx, o)
			}
		case domain.OrderReserved:
			err = s.gate(flags.FulfillmentEnabled)
			if err == nil && o.SourceType == domain.SourceSelfHosted {
				err = s.gate(flags.AutoFulfillEnabled)
			}
			if err == nil {
				err = s.Orders.Transition(ctx, s.DB, o.ID, o.Status, domain.OrderFulfilling, nil)
			}
		case domain.OrderFulfilling:
			if o.SourceType == domain.SourceProvider {
				done = true
			} else {
				err = s.fulfillSelfHosted(ctx, o)
			}
		default:
			done = true
		}

		switch {
		case err == nil && done:
			span.SetAttributes(attribute.String("order.status", o.Status))
			return nil
		case err == nil, isConflict(err), errors.Is(err, ErrOrderConflict):
			continue
		default:
			return err
		}
	}
	return fmt.Errorf("advance %s: too many steps", orderID)
}

func (s *FulfillmentService) reserveSelfHosted(ctx context.Context, o *domain.Order) error {
	for _, it := range o.Items {
		if it.InventoryItemID != nil || it.Delivered() {
			continue
		}
		_, err := s.Inventory.ReserveForItem(ctx, o.ID, it.ID, it.ProductID, domain.OrderReserving)
		if errors.Is(err, ErrInsufficientStock) {
			return s.Orders.fail(ctx, o.ID, domain.OrderReservationFailed,
				fmt.Sprintf("%s: product %s", ErrInsufficientStock, it.ProductID))
		}
		if err != nil {
			return err
		}
	}
	return s.Orders.Transition(ctx, s.DB, o.ID, domain.OrderReserving, domain.OrderReserved, nil)
}

func (s *FulfillmentService) reserveProvider(ctx context.Context, o *domain.Order) error {
	if o.ReservationID != nil {
		return s.Orders.Transition(ctx, s.DB, o.ID, domain.OrderReserving, domain.OrderReserved, nil)
	}
	if err := s.gate(flags.ProviderFulfillmentEnabled); err != nil {
		return err
	}
	if s.Provider == nil || len(o.Items) == 0 {
		return queue.Permanent(provider.ErrNotConfigured)
	}
	p, err := repo.GetProduct(ctx, s.DB, o.Items[0].ProductID)
	if err != nil {
		return err
	}

	res, err := s.Provider.Reserve(ctx, provider.ReservationRequest{
		OfferID:  p.ProviderOfferID,
		OrderID:  o.ID,
		Quantity: len(o.Items),
	})
	switch {
	case errors.Is(err, provider.ErrRejected):
		return s.Orders.fail(ctx, o.ID, domain.OrderReservationFailed, err.Error())
	case errors.Is(err, provider.ErrNotConfigured):
		return queue.Permanent(err)
	case err != nil:
		return err
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.SetOrderReservation(ctx, tx, o.ID, res.ReservationID); err != nil {
			return err
		}
		return s.Orders.Transition(ctx, tx, o.ID, domain.OrderReserving, domain.OrderReserved, nil)
	})
}

func (s *FulfillmentService) fulfillSelfHosted(ctx context.Context, o *domain.Order) error {
	maxSwaps := s.MaxSwaps
	if maxSwaps <= 0 {
		maxSwaps = 3
	}
	for _, it := range o.Items {
		if it.Delivered() {
			continue
		}
		itemID := it.InventoryItemID
		for swaps := 0; ; {
			if itemID == nil {
				inv, err := s.Inventory.ReserveForItem(ctx, o.ID, it.ID, it.ProductID, domain.OrderFulfilling)
				if errors.Is(err, ErrInsufficientStock) {
					msg := fmt.Sprintf("no replacement stock for product %s", it.ProductID)
					s.alert(ctx, "out_of_stock", o.ID, "", msg)
					return s.Orders.fail(ctx, o.ID, domain.OrderFulfillmentFailed, msg)
				}
				if err != nil {
					return err
				}
				itemID = &inv.ID
			}

			_, err := s.Inventory.Finalize(ctx, *itemID, o.ID)
			if err == nil {
				break
			}
			switch {
			case errors.Is(err, ErrDecryptionFailed):
				s.alert(ctx, "decryption_failed", o.ID, *itemID, "inventory item failed decryption and was marked invalid")
			case errors.Is(err, ErrReservationLost), errors.Is(err, ErrSoldToOtherOrder):
				if lerr := repo.LinkOrderItemInventory(ctx, s.DB, it.ID, nil); lerr != nil {
					return lerr
				}
				log.Warn().Str("order_id", o.ID).Str("item_id", *itemID).Err(err).Msg("reservation lost; reserving another item")
			default:
				return err
			}
			swaps++
			if swaps > maxSwaps {
				msg := fmt.Sprintf("gave up on order item %s after %d replacement items", it.ID, swaps)
				s.alert(ctx, "fulfillment_failed", o.ID, "", msg)
				return s.Orders.fail(ctx, o.ID, domain.OrderFulfillmentFailed, msg)
			}
			itemID = nil
		}
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Orders.Transition(ctx, tx, o.ID, domain.OrderFulfilling, domain.OrderFulfilled, map[string]any{
			"fulfilled_at": s.now(),
		}); err != nil {
			return err
		}
		items, err := repo.ListOrderItems(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if !it.Delivered() {
				return fmt.Errorf("order item %s not delivered: %w", it.ID, repo.ErrConflict)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notifyFulfilled(ctx, o.ID)
	return nil
}

// HandlePayment applies a verified payment callback. Non-final statuses
// (waiting, confirming, partially_paid) are ignored.
func (s *FulfillmentService) HandlePayment(ctx context.Context, ev PaymentEvent) (*ProcessResult, error) {
	tr := otel.Tracer("services/FulfillmentService")
	ctx, span := tr.Start(ctx, "HandlePayment", trace.WithAttributes(
		attribute.String("order.id", ev.OrderID),
		attribute.String("payment.status", ev.PaymentStatus),
	))
	defer span.End()

	o, err := repo.GetOrder(ctx, s.DB, ev.OrderID)
	if err != nil {
		if isNotFound(err) {
			return nil, queue.Permanent(fmt.Errorf("%w: %s", ErrOrderNotFound, ev.OrderID))
		}
		return nil, err
	}
	res := &ProcessResult{OrderID: o.ID}

	switch strings.ToLower(strings.TrimSpace(ev.PaymentStatus)) {
	case "finished":
		if o.Status != domain.OrderAwaitingPayment {
			res.Action, res.Status = ActionIgnored, o.Status
			return res, nil
		}
		if err := s.gate(flags.PaymentProcessingEnabled); err != nil {
			return nil, err
		}
		if !paymentMatches(o, ev) {
			if err := s.Orders.fail(ctx, o.ID, domain.OrderPaymentFailed, ErrPaymentMismatch.Error()); err != nil {
				return nil, err
			}
			res.Action, res.Status, res.Reason = ActionFailed, domain.OrderPaymentFailed, ErrPaymentMismatch.Error()
			return res, nil
		}
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.Orders.Transition(ctx, tx, o.ID, domain.OrderAwaitingPayment, domain.OrderPaymentConfirmed, map[string]any{
				"paid_at":    s.now(),
				"payment_id": string(ev.PaymentID),
			}); err != nil {
				return err
			}
			_, err := s.Queue.Enqueue(ctx, tx, JobOrderAdvance, orderDedupeKey(o.ID), orderJob{OrderID: o.ID})
			return err
		})
		if err != nil {
			return nil, err
		}
		s.Queue.Wake()
		log.Info().Str("order_id", o.ID).Str("payment_id", string(ev.PaymentID)).Msg("payment confirmed")
		res.Action, res.Status = ActionConfirmed, domain.OrderPaymentConfirmed
		return res, nil

	case "failed", "refunded":
		return s.failFromCallback(ctx, o, domain.OrderPaymentFailed, "payment "+strings.ToLower(ev.PaymentStatus))
	case "expired":
		return s.failFromCallback(ctx, o, domain.OrderExpired, "payment expired")
	default:
		res.Action, res.Status = ActionIgnored, o.Status
		return res, nil
	}
}

// paymentMatches compares the paid price with the order total. Amounts are
// major units with two decimals.
func paymentMatches(o *domain.Order, ev PaymentEvent) bool {
	if !ev.PriceAmount.Valid {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(ev.PriceCurrency), o.Currency) {
		return false
	}
	return ev.PriceAmount.Decimal.Shift(2).Equal(decimal.NewFromInt(o.TotalMinor))
}

// HandleFulfillment applies a verified fulfillment provider callback.
func (s *FulfillmentService) HandleFulfillment(ctx context.Context, ev FulfillmentEvent) (*ProcessResult, error) {
	tr := otel.Tracer("services/FulfillmentService")
	ctx, span := tr.Start(ctx, "HandleFulfillment", trace.WithAttributes(
		attribute.String("reservation.id", ev.ReservationID),
		attribute.String("fulfillment.status", ev.Status),
	))
	defer span.End()

	o, err := repo.GetOrderByReservation(ctx, s.DB, ev.ReservationID)
	if err != nil {
		if isNotFound(err) {
			return nil, queue.Permanent(fmt.Errorf("%w: reservation %s", ErrOrderNotFound, ev.ReservationID))
		}
		return nil, err
	}
	res := &ProcessResult{OrderID: o.ID}

	switch strings.ToLower(strings.TrimSpace(ev.Status)) {
	case "ready", "delivered", "completed":
		if o.Status == domain.OrderFulfilled {
			res.Action, res.Status = ActionIgnored, o.Status
			return res, nil
		}
		if o.Status != domain.OrderReserved && o.Status != domain.OrderFulfilling {
			return nil, queue.Permanent(fmt.Errorf("%w: order is %s", ErrStaleFulfillment, o.Status))
		}
		if err := s.gate(flags.FulfillmentEnabled); err != nil {
			return nil, err
		}
		key := strings.TrimSpace(ev.Key)
		if key == "" {
			return nil, queue.Permanent(fmt.Errorf("%w: fulfillment without key", ErrUnparseablePayload))
		}
		sealed, err := s.Vault.Seal([]byte(key))
		if err != nil {
			return nil, err
		}

		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.now()
			if o.Status == domain.OrderReserved {
				if err := s.Orders.Transition(ctx, tx, o.ID, domain.OrderReserved, domain.OrderFulfilling, nil); err != nil {
					return err
				}
			}
			if err := s.Orders.Transition(ctx, tx, o.ID, domain.OrderFulfilling, domain.OrderFulfilled, map[string]any{
				"fulfilled_at": now,
			}); err != nil {
				return err
			}
			items, err := repo.ListOrderItems(ctx, tx, o.ID)
			if err != nil {
				return err
			}
			for _, it := range items {
				if it.Delivered() {
					continue
				}
				return repo.DeliverOrderItem(ctx, tx, it.ID, "prov:"+ev.ReservationID, sealed.Ciphertext, sealed.IV, sealed.Tag, now)
			}
			return fmt.Errorf("order %s has no undelivered item", o.ID)
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("order_id", o.ID).Str("reservation_id", ev.ReservationID).Msg("provider key delivered")
		s.notifyFulfilled(ctx, o.ID)
		res.Action, res.Status = ActionDelivered, domain.OrderFulfilled
		return res, nil

	case "failed", "cancelled", "canceled", "rejected":
		s.alert(ctx, "provider_fulfillment_failed", o.ID, "", "provider reported "+ev.Status)
		return s.failFromCallback(ctx, o, domain.OrderFulfillmentFailed, "provider reported "+strings.ToLower(ev.Status))
	default:
		res.Action, res.Status = ActionIgnored, o.Status
		return res, nil
	}
}

func (s *FulfillmentService) failFromCallback(ctx context.Context, o *domain.Order, to, reason string) (*ProcessResult, error) {
	res := &ProcessResult{OrderID: o.ID}
	if !domain.CanTransition(o.Status, to) {
		res.Action, res.Status = ActionIgnored, o.Status
		return res, nil
	}
	if err := s.Orders.fail(ctx, o.ID, to, reason); err != nil {
		return nil, err
	}
	res.Action, res.Status, res.Reason = ActionFailed, to, reason
	return res, nil
}

// OnJobFailed is the queue failure hook. A failed order job fails its
// order. A failed webhook job records the error on its log; when a
// fulfillment callback ran out of retries its order fails as well.
func (s *FulfillmentService) OnJobFailed(ctx context.Context, job *domain.Job, jerr error) {
	logger := log.With().Str("job_id", job.ID).Str("kind", job.Kind).Logger()
	switch job.Kind {
	case JobOrderAdvance:
		var p orderJob
		if err := queue.Decode(job, &p); err != nil {
			logger.Error().Err(err).Msg("failed job payload")
			return
		}
		reason := jerr.Error()
		if errors.Is(jerr, ErrMaxRetriesExceeded) {
			reason = "fulfillment retries exhausted: " + reason
		}
		if err := s.Orders.fail(ctx, p.OrderID, domain.OrderFulfillmentFailed, reason); err != nil {
			logger.Error().Err(err).Str("order_id", p.OrderID).Msg("mark order fulfillment_failed")
		}
		s.alert(ctx, "fulfillment_failed", p.OrderID, "", reason)

	case JobWebhookProcess:
		var p webhookJob
		if err := queue.Decode(job, &p); err != nil {
			logger.Error().Err(err).Msg("failed job payload")
			return
		}
		if err := repo.UpdateWebhookLog(ctx, s.DB, p.LogID, map[string]any{"error": jerr.Error()}); err != nil {
			logger.Error().Err(err).Str("log_id", p.LogID).Msg("record webhook error")
		}
		if !errors.Is(jerr, ErrMaxRetriesExceeded) {
			return
		}
		rec, err := repo.GetWebhookLog(ctx, s.DB, p.LogID)
		if err != nil || rec.Source != domain.SourceFulfillment {
			return
		}
		o, err := repo.GetOrderByReservation(ctx, s.DB, rec.ExternalID)
		if err != nil {
			return
		}
		if err := s.Orders.fail(ctx, o.ID, domain.OrderFulfillmentFailed, jerr.Error()); err != nil {
			logger.Error().Err(err).Str("order_id", o.ID).Msg("mark order fulfillment_failed")
		}
		s.alert(ctx, "fulfillment_failed", o.ID, "", jerr.Error())
	}
}

func (s *FulfillmentService) notifyFulfilled(ctx context.Context, orderID string) {
	if s.Notifier == nil || s.Flags == nil || !s.Flags.Enabled(flags.NotificationsEnabled) {
		observability.NotificationsTotal.WithLabelValues("skipped").Inc()
		return
	}
	o, err := repo.GetOrderWithItems(ctx, s.DB, orderID)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("load order for notification")
		observability.NotificationsTotal.WithLabelValues("error").Inc()
		return
	}
	ev := notify.DeliveryEvent{
		Type:       notify.TypeOrderFulfilled,
		OrderID:    o.ID,
		Email:      o.Email,
		SourceType: o.SourceType,
		Items:      make([]notify.DeliveredItem, 0, len(o.Items)),
	}
	if o.FulfilledAt != nil {
		ev.FulfilledAt = *o.FulfilledAt
	}
	for _, it := range o.Items {
		ev.Items = append(ev.Items, notify.DeliveredItem{OrderItemID: it.ID, ProductID: it.ProductID, KeyRef: it.KeyRef})
	}
	if err := s.Notifier.OrderFulfilled(ctx, ev); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("publish delivery event")
		observability.NotificationsTotal.WithLabelValues("error").Inc()
		return
	}
	observability.NotificationsTotal.WithLabelValues("sent").Inc()
}

func (s *FulfillmentService) alert(ctx context.Context, kind, orderID, itemID, msg string) {
	log.Error().Str("alert", kind).Str("order_id", orderID).Str("item_id", itemID).Msg(msg)
	if s.Notifier == nil {
		return
	}
	a := notify.Alert{
		Type:      notify.TypeAdminAlert,
		Kind:      kind,
		OrderID:   orderID,
		ItemID:    itemID,
		Message:   msg,
		CreatedAt: s.now(),
	}
	if err := s.Notifier.AdminAlert(ctx, a); err != nil {
		log.Error().Err(err).Str("alert", kind).Msg("publish admin alert")
	}
}

// Package services implements the fulfillment pipeline: webhook ingestion,
// the order state machine, inventory reservation, key delivery and pricing.
// This file centralizes the service-level error values so that callers can
// match them with errors.Is.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer; customers never see the wrapped internal cause.
package services

import (
	"errors"

	"github.com/tbourn/keyshop-fulfillment/internal/queue"
)

// Webhook errors.
var (
	// ErrSignatureInvalid rejects a callback whose HMAC does not verify. No
	// business logic runs for it.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrDuplicateWebhook marks a redelivery of an already processed event.
	// It is an idempotent success, not a failure.
	ErrDuplicateWebhook = errors.New("webhook already processed")

	// ErrUnparseablePayload is returned for bodies without a usable event key.
	ErrUnparseablePayload = errors.New("webhook payload could not be parsed")

	// ErrUnknownSource is returned for a webhook source with no secret.
	ErrUnknownSource = errors.New("unknown webhook source")

	// ErrWebhookNotFound is returned by replay for an unknown log id.
	ErrWebhookNotFound = errors.New("webhook log not found")

	// ErrReplayNotAllowed refuses to replay a log whose signature never
	// verified.
	ErrReplayNotAllowed = errors.New("webhook signature was never verified")
)

// Pipeline errors.
var (
	// ErrInsufficientStock means no available item could be reserved.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrDecryptionFailed means an inventory item failed authentication; the
	// item has been marked invalid.
	ErrDecryptionFailed = errors.New("inventory item decryption failed")

	// ErrSoldToOtherOrder is returned by Finalize for an item already sold to
	// a different order.
	ErrSoldToOtherOrder = errors.New("inventory item sold to another order")

	// ErrReservationLost is returned by Finalize when the item is no longer
	// reserved for the order, e.g. the sweeper released it.
	ErrReservationLost = errors.New("reservation no longer held by order")

	// ErrItemNotReserved is returned by Release for an item that is not
	// reserved.
	ErrItemNotReserved = errors.New("inventory item is not reserved")

	// ErrMaxRetriesExceeded moves an order to fulfillment_failed.
	ErrMaxRetriesExceeded = queue.ErrMaxRetriesExceeded

	// ErrFeatureDisabled defers work while a pipeline flag is off.
	ErrFeatureDisabled = errors.New("feature disabled")

	// ErrStaleFulfillment rejects a fulfillment callback for an order that is
	// not waiting for one.
	ErrStaleFulfillment = errors.New("order is not awaiting fulfillment")

	// ErrPaymentMismatch rejects a payment whose amount or currency differs
	// from the order.
	ErrPaymentMismatch = errors.New("payment does not match order total")
)

// Order errors.
var (
	// ErrOrderNotFound is returned for an unknown order id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidTransition rejects a status change the state machine does
	// not allow.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrOrderConflict is returned when the order changed concurrently and
	// the operation could not be applied.
	ErrOrderConflict = errors.New("order changed concurrently")

	// ErrInvalidOrder wraps checkout validation failures.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrOrderNotFulfilled is returned when keys are requested too early.
	ErrOrderNotFulfilled = errors.New("order is not fulfilled")
)

// Catalog and pricing errors.
var (
	// ErrProductNotFound is returned for an unknown product id.
	ErrProductNotFound = errors.New("product not found")

	// ErrInvalidProduct wraps product validation failures.
	ErrInvalidProduct = errors.New("invalid product")

	// ErrRuleNotFound is returned for an unknown pricing rule id.
	ErrRuleNotFound = errors.New("pricing rule not found")

	// ErrRuleExists is returned when a rule for the same scope already exists.
	ErrRuleExists = errors.New("pricing rule already exists for scope")

	// ErrInvalidRule wraps pricing rule validation failures.
	ErrInvalidRule = errors.New("invalid pricing rule")
)

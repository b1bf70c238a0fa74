package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
)

// FlexibleID accepts a JSON string or number. The payment provider sends
// payment ids as numbers on some endpoints and strings on others.
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = FlexibleID(n.String())
	return nil
}

// PaymentEvent is the payment provider callback body.
type PaymentEvent struct {
	PaymentID     FlexibleID          `json:"payment_id"`
	OrderID       string              `json:"order_id"`
	PaymentStatus string              `json:"payment_status"`
	PriceAmount   decimal.NullDecimal `json:"price_amount"`
	PriceCurrency string              `json:"price_currency"`
	PayAmount     decimal.NullDecimal `json:"pay_amount"`
	PayCurrency   string              `json:"pay_currency"`
	ActuallyPaid  decimal.NullDecimal `json:"actually_paid"`
}

// FulfillmentEvent is the fulfillment provider callback body.
type FulfillmentEvent struct {
	ReservationID string `json:"reservationId"`
	Status        string `json:"status"`
	Key           string `json:"key"`
}

var errMissingKey = errors.New("event key is missing")

// eventKey is the idempotency key of a callback.
type eventKey struct {
	ExternalID  string
	WebhookType string
	OrderID     string
	PaymentID   string
}

// parseEventKey extracts the idempotency key from a raw body. On failure it
// returns the synthetic key of an unparseable payload together with the
// parse error.
func parseEventKey(source string, raw []byte) (eventKey, error) {
	var (
		k   eventKey
		err error
	)
	switch source {
	case domain.SourcePayment:
		var ev PaymentEvent
		if err = json.Unmarshal(raw, &ev); err == nil {
			k = eventKey{
				ExternalID:  string(ev.PaymentID),
				WebhookType: webhookType(source, ev.PaymentStatus),
				OrderID:     strings.TrimSpace(ev.OrderID),
				PaymentID:   string(ev.PaymentID),
			}
			if k.ExternalID == "" || strings.TrimSpace(ev.PaymentStatus) == "" {
				err = errMissingKey
			}
		}
	case domain.SourceFulfillment:
		var ev FulfillmentEvent
		if err = json.Unmarshal(raw, &ev); err == nil {
			k = eventKey{
				ExternalID:  strings.TrimSpace(ev.ReservationID),
				WebhookType: webhookType(source, ev.Status),
			}
			if k.ExternalID == "" || strings.TrimSpace(ev.Status) == "" {
				err = errMissingKey
			}
		}
	default:
		return eventKey{}, ErrUnknownSource
	}
	if err != nil {
		sum := sha256.Sum256(raw)
		return eventKey{
			ExternalID:  "unparsed:" + hex.EncodeToString(sum[:]),
			WebhookType: source + ".unparsed",
		}, err
	}
	return k, nil
}

func webhookType(source, status string) string {
	return source + "." + strings.ToLower(strings.TrimSpace(status))
}

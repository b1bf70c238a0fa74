// Package provider is the REST client for the key-fulfillment provider.
// The marketplace asks the provider to reserve a key for an order; the key
// itself arrives later on the signed fulfillment webhook.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrUnavailable covers network failures and 5xx/429 answers; callers
	// should retry.
	ErrUnavailable = errors.New("fulfillment provider unavailable")
	// ErrRejected is a 4xx answer, e.g. the offer is out of stock.
	ErrRejected = errors.New("fulfillment provider rejected the request")
	// ErrNotConfigured is returned when no base URL was set.
	ErrNotConfigured = errors.New("fulfillment provider is not configured")
)

// ReservationRequest asks for one key of an offer.
type ReservationRequest struct {
	OfferID  string `json:"offerId"`
	OrderID  string `json:"orderId"`
	Quantity int    `json:"quantity"`
}

// Reservation is the provider's answer.
type Reservation struct {
	ReservationID string `json:"reservationId"`
	Status        string `json:"status"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client talks to the provider API. It does not retry; the job queue owns
// retries.
type Client struct {
	http *resty.Client
}

// New builds a client for baseURL authenticated with apiKey.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetHeader("X-Api-Key", apiKey)
	}
	return &Client{http: c}
}

// Configured reports whether a base URL was set.
func (c *Client) Configured() bool {
	return c != nil && c.http.BaseURL != ""
}

// Reserve requests a reservation and returns its id.
func (c *Client) Reserve(ctx context.Context, req ReservationRequest) (*Reservation, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	var out Reservation
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.OrderID).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/reservations")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return nil, classify(resp.StatusCode(), apiErr)
	}
	if out.ReservationID == "" {
		return nil, fmt.Errorf("%w: empty reservation id", ErrUnavailable)
	}
	return &out, nil
}

func classify(status int, e apiError) error {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %d %s", ErrUnavailable, status, msg)
	}
	return fmt.Errorf("%w: %d %s %s", ErrRejected, status, e.Code, msg)
}

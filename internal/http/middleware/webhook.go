// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file captures provider callbacks before they reach a handler. The
// signature covers the exact bytes on the wire, so the body is read once,
// unparsed, and stashed together with the signature header:
//   - read the raw body (WebhookBody)
//   - read the signature header value (WebhookSignature)
//
// Oversized signature headers are rejected here so no storage is touched for
// them. A missing or malformed signature is passed through: ingestion still
// records the callback as unverified.
package middleware

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Default signature headers of the two providers.
const (
	HeaderPaymentSignature     = "X-Payment-Provider-Signature"
	HeaderFulfillmentSignature = "X-Fulfillment-Provider-Signature"
)

const (
	ctxKeyWebhookBody = "webhook.body"
	ctxKeyWebhookSig  = "webhook.signature"
)

// WebhookOptions configures WebhookCapture.
type WebhookOptions struct {
	// Header carries the hex HMAC. Empty defaults to HeaderPaymentSignature.
	Header string
	// MaxSignatureLen caps the header length. Values <= 0 default to 256.
	MaxSignatureLen int
}

// WebhookBody returns the raw body stashed by WebhookCapture.
func WebhookBody(c *gin.Context) ([]byte, bool) {
	v, ok := c.Get(ctxKeyWebhookBody)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// WebhookSignature returns the signature header stashed by WebhookCapture.
func WebhookSignature(c *gin.Context) string {
	return c.GetString(ctxKeyWebhookSig)
}

// WebhookCapture reads the body and the signature header of a callback.
//
// Behavior:
//   - Signature longer than MaxSignatureLen: 401 invalid_signature.
//   - Body over the request size limit: 413.
//   - Unreadable body: 400.
//   - Otherwise both values are stashed and the next handler runs.
func WebhookCapture(opts WebhookOptions) gin.HandlerFunc {
	header := opts.Header
	if header == "" {
		header = HeaderPaymentSignature
	}
	maxLen := opts.MaxSignatureLen
	if maxLen <= 0 {
		maxLen = 256
	}

	return func(c *gin.Context) {
		sig := strings.TrimSpace(c.GetHeader(header))
		if len(sig) > maxLen {
			abortJSON(c, http.StatusUnauthorized, "invalid_signature", "signature header too long")
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				abortJSON(c, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
				return
			}
			abortJSON(c, http.StatusBadRequest, "bad_request", "unreadable request body")
			return
		}

		c.Set(ctxKeyWebhookBody, body)
		c.Set(ctxKeyWebhookSig, sig)
		c.Next()
	}
}

func abortJSON(c *gin.Context, status int, code, msg string) {
	rid, _ := c.Get(requestIDKey)
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": asString(rid),
		"code":       code,
		"message":    msg,
	})
}

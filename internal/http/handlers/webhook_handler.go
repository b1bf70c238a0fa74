// Webhook HTTP handlers.
//
// Provider callbacks:
//   - POST /webhooks/payment-provider
//   - POST /webhooks/fulfillment-provider
//
// Operator endpoints over the idempotency log:
//   - GET  /admin/webhooks
//   - GET  /admin/webhooks/{id}
//   - POST /admin/webhooks/{id}/replay
//   - POST /admin/webhooks/replay
package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/http/middleware"
	"github.com/tbourn/keyshop-fulfillment/internal/repo"
	"github.com/tbourn/keyshop-fulfillment/internal/services"
)

// maxBulkReplay caps the ids accepted by one bulk replay request.
const maxBulkReplay = 500

// WebhookAck is returned to providers for an accepted or duplicate callback.
type WebhookAck struct {
	Outcome string `json:"outcome" example:"accepted"`
	LogID   string `json:"log_id"  example:"0b6f7c8e-0a51-4a52-9a8e-0a9f1c3f1b11"`
}

// ListWebhooksResponse wraps a page of log rows.
type ListWebhooksResponse struct {
	Webhooks   []domain.WebhookLog `json:"webhooks"`
	Pagination Pagination          `json:"pagination"`
}

// BulkReplayRequest lists log ids to replay.
type BulkReplayRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// BulkReplayResponse reports one result per distinct id.
type BulkReplayResponse struct {
	Results []services.ReplayResult `json:"results"`
}

// PaymentWebhook godoc
// @ID          paymentWebhook
// @Summary     Payment provider callback
// @Description Verifies the HMAC-SHA512 signature over the raw body, records the callback in the idempotency log and queues it for processing.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Payment-Provider-Signature  header  string  true  "Lowercase hex HMAC-SHA512 of the raw body"
//
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse  "Unparseable payload"
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid signature"
// @Failure     503  {object}  handlers.ErrorResponse  "Webhooks disabled"
// @Router      /webhooks/payment-provider [post]
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	h.ingest(c, domain.SourcePayment)
}

// FulfillmentWebhook godoc
// @ID          fulfillmentWebhook
// @Summary     Fulfillment provider callback
// @Description Verifies the signature, records the reservation update and queues it for processing.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Fulfillment-Provider-Signature  header  string  true  "Lowercase hex HMAC-SHA512 of the raw body"
//
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse  "Unparseable payload"
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid signature"
// @Failure     503  {object}  handlers.ErrorResponse  "Webhooks disabled"
// @Router      /webhooks/fulfillment-provider [post]
func (h *Handlers) FulfillmentWebhook(c *gin.Context) {
	h.ingest(c, domain.SourceFulfillment)
}

func (h *Handlers) ingest(c *gin.Context, source string) {
	body, captured := middleware.WebhookBody(c)
	if !captured {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body")
			return
		}
		body = raw
	}

	out, err := h.hooks.Ingest(c.Request.Context(), source, body, middleware.WebhookSignature(c))
	if err != nil {
		if out != nil {
			c.Header("X-Webhook-Log-ID", out.LogID)
		}
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, WebhookAck{Outcome: out.Outcome, LogID: out.LogID})
}

// ListWebhooks godoc
// @ID          listWebhooks
// @Summary     List webhook log entries (paginated)
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
//
// @Param       type             query  string  false  "Webhook type, e.g. payment.finished"
// @Param       source           query  string  false  "payment or fulfillment"
// @Param       external_id      query  string  false  "Provider event id"
// @Param       processed        query  bool    false  "Processed filter"
// @Param       signature_valid  query  bool    false  "Signature filter"
// @Param       page             query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size        query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListWebhooksResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /api/v1/admin/webhooks [get]
func (h *Handlers) ListWebhooks(c *gin.Context) {
	page := clampPagination(c)
	f := repo.WebhookLogFilter{
		WebhookType:    strings.TrimSpace(c.Query("type")),
		Source:         strings.TrimSpace(c.Query("source")),
		ExternalID:     strings.TrimSpace(c.Query("external_id")),
		Processed:      boolQuery(c, "processed"),
		SignatureValid: boolQuery(c, "signature_valid"),
	}
	rows, total, err := h.hooks.ListLogs(c.Request.Context(), f, page)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListWebhooksResponse{Webhooks: rows, Pagination: newPagination(page, total)})
}

// GetWebhook godoc
// @ID          getWebhook
// @Summary     Get one webhook log entry
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       id   path  string  true  "Log id"
// @Success     200  {object}  domain.WebhookLog
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /api/v1/admin/webhooks/{id} [get]
func (h *Handlers) GetWebhook(c *gin.Context) {
	rec, err := h.hooks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// ReplayWebhook godoc
// @ID          replayWebhook
// @Summary     Replay a verified webhook
// @Description Resets the entry to unprocessed and queues it again. Entries whose signature never verified cannot be replayed.
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       id   path  string  true  "Log id"
// @Success     202  {object}  domain.WebhookLog
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Replay not allowed"
// @Router      /api/v1/admin/webhooks/{id}/replay [post]
func (h *Handlers) ReplayWebhook(c *gin.Context) {
	rec, err := h.hooks.Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, rec)
}

// BulkReplayWebhooks godoc
// @ID          bulkReplayWebhooks
// @Summary     Replay many webhooks
// @Description Replays each id independently and reports per-id results.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    AdminToken
// @Param       body  body  handlers.BulkReplayRequest  true  "Log ids"
// @Success     200  {object}  handlers.BulkReplayResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /api/v1/admin/webhooks/replay [post]
func (h *Handlers) BulkReplayWebhooks(c *gin.Context) {
	var req BulkReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.IDs) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ids required")
		return
	}
	if len(req.IDs) > maxBulkReplay {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "too many ids")
		return
	}
	ok(c, http.StatusOK, BulkReplayResponse{Results: h.hooks.BulkReplay(c.Request.Context(), req.IDs)})
}

// Package services – WebhookService
//
// This file implements webhook ingestion for the two provider callbacks.
// Ingest runs on the request path and stays short: it derives the event
// key, records the callback in the idempotency log, verifies the signature
// and, when valid, enqueues a webhook.process job in the same transaction
// that stores the verified payload. Business logic runs later in Process.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/flags"
	"github.com/tbourn/keyshop-fulfillment/internal/observability"
	"github.com/tbourn/keyshop-fulfillment/internal/queue"
	"github.com/tbourn/keyshop-fulfillment/internal/repo"
	"github.com/tbourn/keyshop-fulfillment/internal/signature"
	"github.com/tbourn/keyshop-fulfillment/internal/utils"
)

// WebhookProcessor applies verified callbacks. *FulfillmentService
// implements it.
type WebhookProcessor interface {
	HandlePayment(ctx context.Context, ev PaymentEvent) (*ProcessResult, error)
	HandleFulfillment(ctx context.Context, ev FulfillmentEvent) (*ProcessResult, error)
}

// WebhookService ingests, replays and processes provider callbacks.
type WebhookService struct {
	DB        *gorm.DB
	Queue     JobQueue
	Flags     FlagReader
	Processor WebhookProcessor

	// Secrets maps a source to its HMAC secret.
	Secrets map[string]string
}

// Ingest outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
)

// LogOutcome is what ingestion did with a callback.
type LogOutcome struct {
	Outcome string             `json:"outcome"`
	LogID   string             `json:"log_id"`
	Log     *domain.WebhookLog `json:"-"`
}

// Ingest records and verifies one callback. The returned outcome is set
// whenever a log row exists, also alongside an error.
//
// Errors: ErrUnknownSource, ErrSignatureInvalid, ErrUnparseablePayload,
// ErrFeatureDisabled. A redelivery of a processed event returns the
// duplicate outcome with a nil error.
func (s *WebhookService) Ingest(ctx context.Context, source string, rawBody []byte, signatureHex string) (*LogOutcome, error) {
	tr := otel.Tracer("services/WebhookService")
	ctx, span := tr.Start(ctx, "Ingest", trace.WithAttributes(attribute.String("webhook.source", source)))
	defer span.End()

	secret, ok := s.Secrets[source]
	if !ok {
		return nil, ErrUnknownSource
	}

	key, perr := parseEventKey(source, rawBody)
	if errors.Is(perr, ErrUnknownSource) {
		return nil, perr
	}
	span.SetAttributes(
		attribute.String("webhook.external_id", key.ExternalID),
		attribute.String("webhook.type", key.WebhookType),
	)

	rec, err := s.lookupOrInsert(ctx, source, key, rawBody)
	if err != nil {
		return nil, err
	}
	out := &LogOutcome{LogID: rec.ID, Log: rec}
	if rec.Processed {
		observability.WebhooksTotal.WithLabelValues(source, "duplicate").Inc()
		out.Outcome = OutcomeDuplicate
		return out, nil
	}

	valid := signature.Verify(rawBody, signatureHex, secret)
	fields := map[string]any{}
	if valid {
		// the stored body must be the one that verified, replay trusts it
		fields["signature_valid"] = true
		fields["raw_payload"] = string(rawBody)
		fields["error"] = ""
		if key.OrderID != "" {
			fields["order_id"] = key.OrderID
		}
		if key.PaymentID != "" {
			fields["payment_id"] = key.PaymentID
		}
	} else {
		// a previous valid delivery is not downgraded by a forged one
		fields["error"] = ErrSignatureInvalid.Error()
	}
	if err := repo.UpdateWebhookLog(ctx, s.DB, rec.ID, fields); err != nil {
		return out, err
	}
	if !valid {
		observability.WebhooksTotal.WithLabelValues(source, "invalid_signature").Inc()
		log.Warn().Str("log_id", rec.ID).Str("source", source).Msg("webhook signature invalid")
		return out, ErrSignatureInvalid
	}

	if perr != nil {
		observability.WebhooksTotal.WithLabelValues(source, "unparseable").Inc()
		if err := repo.UpdateWebhookLog(ctx, s.DB, rec.ID, map[string]any{"error": ErrUnparseablePayload.Error() + ": " + perr.Error()}); err != nil {
			log.Error().Err(err).Str("log_id", rec.ID).Msg("record unparseable webhook")
		}
		return out, fmt.Errorf("%w: %v", ErrUnparseablePayload, perr)
	}

	if s.Flags == nil || !s.Flags.Enabled(flags.WebhooksEnabled) {
		observability.WebhooksTotal.WithLabelValues(source, "disabled").Inc()
		return out, fmt.Errorf("%w: %s", ErrFeatureDisabled, flags.WebhooksEnabled)
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.Queue.Enqueue(ctx, tx, JobWebhookProcess, webhookDedupeKey(rec.ID), webhookJob{LogID: rec.ID})
		return err
	})
	if err != nil {
		observability.WebhooksTotal.WithLabelValues(source, "error").Inc()
		return out, err
	}
	s.Queue.Wake()

	observability.WebhooksTotal.WithLabelValues(source, "accepted").Inc()
	out.Outcome = OutcomeAccepted
	return out, nil
}

// lookupOrInsert finds the log row for key, bumping its attempt count, or
// inserts a new one. A lost insert race falls back to the lookup.
func (s *WebhookService) lookupOrInsert(ctx context.Context, source string, key eventKey, raw []byte) (*domain.WebhookLog, error) {
	for attempt := 0; attempt < 2; attempt++ {
		rec, err := repo.FindWebhookLog(ctx, s.DB, key.ExternalID, key.WebhookType)
		switch {
		case err == nil:
			if rec.Processed {
				return rec, nil
			}
			n, err := repo.BumpWebhookAttempt(ctx, s.DB, rec.ID)
			if err != nil {
				return nil, err
			}
			rec.AttemptCount = n
			return rec, nil
		case !isNotFound(err):
			return nil, err
		}

		rec = &domain.WebhookLog{
			ExternalID:  key.ExternalID,
			WebhookType: key.WebhookType,
			Source:      source,
			RawPayload:  string(raw),
		}
		if key.OrderID != "" {
			rec.OrderID = &key.OrderID
		}
		if key.PaymentID != "" {
			rec.PaymentID = &key.PaymentID
		}
		err = repo.CreateWebhookLog(ctx, s.DB, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("webhook log %s/%s: %w", key.ExternalID, key.WebhookType, repo.ErrConflict)
}

// Replay re-enqueues a log whose signature verified at some point. The
// stored payload is trusted and not re-verified.
func (s *WebhookService) Replay(ctx context.Context, id string) (*domain.WebhookLog, error) {
	rec, err := repo.GetWebhookLog(ctx, s.DB, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrWebhookNotFound
		}
		return nil, err
	}
	if !rec.SignatureValid {
		return nil, ErrReplayNotAllowed
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdateWebhookLog(ctx, tx, id, map[string]any{
			"processed":     false,
			"processed_at":  nil,
			"error":         "",
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}); err != nil {
			return err
		}
		_, err := s.Queue.Enqueue(ctx, tx, JobWebhookProcess, webhookDedupeKey(id), webhookJob{LogID: id})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Queue.Wake()
	log.Info().Str("log_id", id).Str("type", rec.WebhookType).Msg("webhook replay enqueued")
	return repo.GetWebhookLog(ctx, s.DB, id)
}

// ReplayResult is the per-id outcome of BulkReplay.
type ReplayResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// BulkReplay replays each id independently and reports every outcome.
func (s *WebhookService) BulkReplay(ctx context.Context, ids []string) []ReplayResult {
	out := make([]ReplayResult, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.Replay(ctx, id); err != nil {
			out = append(out, ReplayResult{ID: id, Error: err.Error()})
			continue
		}
		out = append(out, ReplayResult{ID: id, OK: true})
	}
	return out
}

// ListLogs returns a page of logs matching f and the total match count.
func (s *WebhookService) ListLogs(ctx context.Context, f repo.WebhookLogFilter, page utils.Page) ([]domain.WebhookLog, int64, error) {
	return repo.ListWebhookLogs(ctx, s.DB, f, page.Offset(), page.PageSize)
}

// Get returns one log row.
func (s *WebhookService) Get(ctx context.Context, id string) (*domain.WebhookLog, error) {
	rec, err := repo.GetWebhookLog(ctx, s.DB, id)
	if err != nil && isNotFound(err) {
		return nil, ErrWebhookNotFound
	}
	return rec, err
}

// Process is the webhook.process job handler. It hands the stored payload
// to the processor and caches the outcome on the log. A permanent error is
// cached as well, so redeliveries do not re-run it.
func (s *WebhookService) Process(ctx context.Context, job *domain.Job) error {
	var p webhookJob
	if err := queue.Decode(job, &p); err != nil {
		return err
	}
	rec, err := repo.GetWebhookLog(ctx, s.DB, p.LogID)
	if err != nil {
		if isNotFound(err) {
			return queue.Permanent(ErrWebhookNotFound)
		}
		return err
	}
	if rec.Processed {
		return nil
	}
	if !rec.SignatureValid {
		return queue.Permanent(ErrSignatureInvalid)
	}

	var (
		res   *ProcessResult
		perr  error
		order *string
	)
	switch rec.Source {
	case domain.SourcePayment:
		var ev PaymentEvent
		if err := json.Unmarshal([]byte(rec.RawPayload), &ev); err != nil {
			perr = queue.Permanent(fmt.Errorf("%w: %v", ErrUnparseablePayload, err))
			break
		}
		res, perr = s.Processor.HandlePayment(ctx, ev)
	case domain.SourceFulfillment:
		var ev FulfillmentEvent
		if err := json.Unmarshal([]byte(rec.RawPayload), &ev); err != nil {
			perr = queue.Permanent(fmt.Errorf("%w: %v", ErrUnparseablePayload, err))
			break
		}
		res, perr = s.Processor.HandleFulfillment(ctx, ev)
	default:
		perr = queue.Permanent(ErrUnknownSource)
	}

	logger := log.With().Str("log_id", rec.ID).Str("type", rec.WebhookType).Logger()
	switch {
	case perr == nil:
		raw, err := json.Marshal(res)
		if err != nil {
			return err
		}
		if res.OrderID != "" {
			order = &res.OrderID
		}
		if _, err := repo.MarkWebhookProcessed(ctx, s.DB, rec.ID, datatypes.JSON(raw), order, ""); err != nil {
			return err
		}
		logger.Info().Str("action", res.Action).Str("order_id", res.OrderID).Msg("webhook processed")
		return nil
	case queue.IsPermanent(perr):
		if _, err := repo.MarkWebhookProcessed(ctx, s.DB, rec.ID, nil, nil, perr.Error()); err != nil {
			logger.Error().Err(err).Msg("cache permanent webhook failure")
		}
		logger.Warn().Err(perr).Msg("webhook rejected")
		return perr
	default:
		if err := repo.UpdateWebhookLog(ctx, s.DB, rec.ID, map[string]any{"error": perr.Error()}); err != nil {
			logger.Error().Err(err).Msg("record webhook error")
		}
		return perr
	}
}

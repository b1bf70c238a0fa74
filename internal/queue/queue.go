// Package queue runs durable background jobs stored in the relational
// database. Producers enqueue jobs (optionally inside their own
// transaction); a pool of workers claims due jobs with a guarded UPDATE,
// dispatches them to the handler registered for their kind and settles the
// outcome: done, retried with exponential backoff, deferred without
// consuming an attempt, or failed.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/config"
	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/observability"
	"github.com/tbourn/keyshop-fulfillment/internal/repo"
)

// ErrMaxRetriesExceeded wraps the last handler error once a job has used up
// its attempts.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Handler processes one claimed job. Returning nil completes it; wrap the
// error with Defer or Permanent to change how it is settled.
type Handler func(ctx context.Context, job *domain.Job) error

// FailureHook is called after a job is settled as failed. err wraps
// ErrMaxRetriesExceeded when the attempts ran out.
type FailureHook func(ctx context.Context, job *domain.Job, err error)

type deferredError struct{ err error }

func (e *deferredError) Error() string { return "deferred: " + e.err.Error() }
func (e *deferredError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Defer marks err as a soft condition: the job is re-queued with backoff
// and the attempt is not counted.
func Defer(err error) error {
	if err == nil {
		return nil
	}
	return &deferredError{err: err}
}

// Permanent marks err as not retryable: the job fails immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsDeferred reports whether err was wrapped with Defer.
func IsDeferred(err error) bool {
	var d *deferredError
	return errors.As(err, &d)
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Pool is the worker pool over the jobs table.
type Pool struct {
	DB     *gorm.DB
	Policy RetryPolicy

	Workers      int
	PollInterval time.Duration
	// JobTimeout bounds a single handler run.
	JobTimeout time.Duration
	// StaleAfter is how long a running job may stay locked before another
	// pool assumes its worker died and returns it to pending.
	StaleAfter time.Duration

	OnFailure FailureHook

	mu       sync.RWMutex
	handlers map[string]Handler
	wake     chan struct{}
	now      func() time.Time
}

// New builds a pool from the queue configuration.
func New(db *gorm.DB, cfg config.QueueConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Pool{
		DB:           db,
		Policy:       NewRetryPolicy(cfg.BaseDelay, cfg.MaxDelay, cfg.MaxAttempts),
		Workers:      workers,
		PollInterval: poll,
		JobTimeout:   30 * time.Second,
		StaleAfter:   5 * time.Minute,
		handlers:     map[string]Handler{},
		wake:         make(chan struct{}, 1),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Register binds h to jobs of the given kind. Registering twice replaces.
func (p *Pool) Register(kind string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

func (p *Pool) handler(kind string) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[kind]
	return h, ok
}

// Enqueue inserts a job through tx, which may be an open transaction. An
// empty dedupeKey disables deduplication. When an active job already holds
// the key, the existing job is returned with a nil error.
//
// Callers that enqueue inside a transaction should call Wake after commit.
func (p *Pool) Enqueue(ctx context.Context, tx *gorm.DB, kind, dedupeKey string, payload any) (*domain.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: encode payload: %w", err)
	}
	j := &domain.Job{
		Kind:        kind,
		Payload:     raw,
		MaxAttempts: p.Policy.MaxAttempts,
		RunAt:       p.now(),
	}
	if dedupeKey != "" {
		j.DedupeKey = &dedupeKey
	}
	got, err := repo.EnqueueJob(ctx, tx, j)
	if errors.Is(err, repo.ErrDuplicate) && got != nil {
		return got, nil
	}
	return got, err
}

// Submit enqueues on the pool's own handle and wakes a worker.
func (p *Pool) Submit(ctx context.Context, kind, dedupeKey string, payload any) (*domain.Job, error) {
	j, err := p.Enqueue(ctx, p.DB, kind, dedupeKey, payload)
	if err == nil {
		p.Wake()
	}
	return j, err
}

// Wake nudges one idle worker to poll now instead of at the next tick.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run starts the workers and a stale-lock janitor, and blocks until ctx is
// cancelled and every in-flight job has settled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.janitor(ctx)
	}()
	log.Info().Int("workers", p.Workers).Dur("poll", p.PollInterval).Msg("queue started")
	wg.Wait()
	log.Info().Msg("queue stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	t := time.NewTicker(p.PollInterval)
	defer t.Stop()
	for {
		// drain everything that is due before sleeping again
		for ctx.Err() == nil {
			ran, err := p.RunOnce(ctx)
			if err != nil {
				if !repo.IsBusy(err) {
					log.Error().Err(err).Int("worker", id).Msg("queue claim failed")
				}
				break
			}
			if !ran {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-p.wake:
		}
	}
}

func (p *Pool) janitor(ctx context.Context) {
	if p.StaleAfter <= 0 {
		return
	}
	t := time.NewTicker(p.StaleAfter / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.RecoverStaleJobs(ctx, p.DB, p.now().Add(-p.StaleAfter))
			if err != nil {
				log.Error().Err(err).Msg("recover stale jobs")
			} else if n > 0 {
				log.Warn().Int64("jobs", n).Msg("recovered stale jobs")
				p.Wake()
			}
		}
	}
}

// RunOnce claims and processes at most one due job. It reports whether a
// job was run.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	job, err := repo.ClaimJob(ctx, p.DB, token, p.now())
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p.process(ctx, job, token)
	return true, nil
}

// Drain runs due jobs until none are left or ctx is done. Useful for
// one-shot CLI commands and tests.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	n := 0
	for ctx.Err() == nil {
		ran, err := p.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !ran {
			return n, nil
		}
		n++
	}
	return n, ctx.Err()
}

func (p *Pool) process(ctx context.Context, job *domain.Job, token string) {
	ctx, span := observability.Tracer("queue").Start(ctx, "queue.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", job.Kind),
		attribute.Int("job.attempt", job.Attempts),
	)

	logger := log.With().Str("job_id", job.ID).Str("kind", job.Kind).Int("attempt", job.Attempts).Logger()

	h, ok := p.handler(job.Kind)
	if !ok {
		err := fmt.Errorf("no handler for kind %q", job.Kind)
		p.settle(ctx, job, token, Permanent(err), logger)
		return
	}

	runCtx := ctx
	if p.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := h(runCtx, job)
	observability.JobDuration.WithLabelValues(job.Kind).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	p.settle(ctx, job, token, err, logger)
}

func (p *Pool) settle(ctx context.Context, job *domain.Job, token string, herr error, logger zerolog.Logger) {
	// settle on a context that survives shutdown so a finished run is never
	// left locked
	sctx := context.WithoutCancel(ctx)
	now := p.now()

	var outcome string
	var err error
	switch {
	case herr == nil:
		outcome = "done"
		err = repo.CompleteJob(sctx, p.DB, job.ID, token)

	case IsDeferred(herr):
		outcome = "deferred"
		delay := p.Policy.Delay(job.Deferrals + 1)
		err = repo.DeferJob(sctx, p.DB, job.ID, token, now.Add(delay), herr.Error())
		logger.Info().Err(herr).Dur("delay", delay).Msg("job deferred")

	case IsPermanent(herr):
		outcome = "failed"
		err = repo.FailJob(sctx, p.DB, job.ID, token, herr.Error())
		logger.Error().Err(herr).Msg("job failed permanently")
		p.fail(sctx, job, herr)

	case job.Attempts >= p.maxAttempts(job):
		outcome = "failed"
		ferr := fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, herr)
		err = repo.FailJob(sctx, p.DB, job.ID, token, ferr.Error())
		logger.Error().Err(herr).Msg("job exhausted its retries")
		p.fail(sctx, job, ferr)

	default:
		outcome = "retry"
		delay := p.Policy.Delay(job.Attempts)
		err = repo.RetryJob(sctx, p.DB, job.ID, token, now.Add(delay), herr.Error())
		logger.Warn().Err(herr).Dur("delay", delay).Msg("job will retry")
	}

	observability.JobsTotal.WithLabelValues(job.Kind, outcome).Inc()
	if err != nil {
		logger.Error().Err(err).Str("outcome", outcome).Msg("settle job")
	}
}

func (p *Pool) maxAttempts(job *domain.Job) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	return p.Policy.MaxAttempts
}

func (p *Pool) fail(ctx context.Context, job *domain.Job, err error) {
	if p.OnFailure != nil {
		p.OnFailure(ctx, job, err)
	}
}

// Decode unmarshals a job payload into v.
func Decode(job *domain.Job, v any) error {
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return Permanent(fmt.Errorf("queue: decode %s payload: %w", job.Kind, err))
	}
	return nil
}

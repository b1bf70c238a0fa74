package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/config"
	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/repo"
)

func newQueueDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

// fakeClock lets tests jump past retry delays.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestPool(t *testing.T, maxAttempts int) (*Pool, *fakeClock) {
	t.Helper()
	p := New(newQueueDB(t), config.QueueConfig{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  maxAttempts,
		BaseDelay:    time.Second,
		MaxDelay:     8 * time.Second,
	})
	clk := &fakeClock{now: time.Now().UTC()}
	p.now = clk.Now
	return p, clk
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := NewRetryPolicy(time.Second, 10*time.Second, 4)
	want := map[int]time.Duration{
		0:  time.Second,
		1:  time.Second,
		2:  2 * time.Second,
		3:  4 * time.Second,
		4:  8 * time.Second,
		5:  10 * time.Second,
		20: 10 * time.Second,
	}
	for attempt, d := range want {
		if got := p.Delay(attempt); got != d {
			t.Fatalf("Delay(%d) = %v; want %v", attempt, got, d)
		}
	}
	sched := p.Schedule()
	if len(sched) != 3 || sched[0] != time.Second || sched[2] != 4*time.Second {
		t.Fatalf("Schedule = %v", sched)
	}
}

func TestNewRetryPolicy_Defaults(t *testing.T) {
	p := NewRetryPolicy(0, 0, 0)
	if p.Base != 2*time.Second || p.Max != 5*time.Minute || p.MaxAttempts != 5 {
		t.Fatalf("defaults = %+v", p)
	}
	if p := NewRetryPolicy(time.Minute, time.Second, 1); p.Max != time.Minute {
		t.Fatalf("max below base should be raised, got %+v", p)
	}
}

func TestErrorWrappers(t *testing.T) {
	base := errors.New("boom")
	if Defer(nil) != nil || Permanent(nil) != nil {
		t.Fatalf("nil should stay nil")
	}
	d := Defer(base)
	if !IsDeferred(d) || IsPermanent(d) || !errors.Is(d, base) {
		t.Fatalf("Defer wrapper broken: %v", d)
	}
	p := Permanent(base)
	if !IsPermanent(p) || IsDeferred(p) || !errors.Is(p, base) {
		t.Fatalf("Permanent wrapper broken: %v", p)
	}
}

func TestSubmit_Completes(t *testing.T) {
	p, _ := newTestPool(t, 3)
	ctx := context.Background()

	var got struct{ OrderID string }
	p.Register("t.ok", func(ctx context.Context, j *domain.Job) error {
		return Decode(j, &got)
	})
	job, err := p.Submit(ctx, "t.ok", "order:o1", map[string]string{"OrderID": "o1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	n, err := p.Drain(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Drain n=%d err=%v", n, err)
	}
	if got.OrderID != "o1" {
		t.Fatalf("payload not decoded: %+v", got)
	}
	j, _ := repo.GetJob(ctx, p.DB, job.ID)
	if j.Status != domain.JobDone || j.DedupeKey != nil || j.Attempts != 1 {
		t.Fatalf("unexpected job after completion: %+v", j)
	}
}

func TestEnqueue_DedupesActiveJobs(t *testing.T) {
	p, _ := newTestPool(t, 3)
	ctx := context.Background()

	a, err := p.Submit(ctx, "t.any", "k1", nil)
	if err != nil {
		t.Fatalf("Submit a: %v", err)
	}
	b, err := p.Submit(ctx, "t.any", "k1", nil)
	if err != nil {
		t.Fatalf("Submit b: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same job for same dedupe key, got %s and %s", a.ID, b.ID)
	}
	c, _ := p.Submit(ctx, "t.any", "", nil)
	d, _ := p.Submit(ctx, "t.any", "", nil)
	if c.ID == d.ID {
		t.Fatalf("jobs without a key must not dedupe")
	}
}

func TestRetry_ThenExhausted(t *testing.T) {
	p, clk := newTestPool(t, 3)
	ctx := context.Background()

	var calls int32
	p.Register("t.fail", func(context.Context, *domain.Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("provider down")
	})
	var hookErr error
	var hookJob string
	p.OnFailure = func(_ context.Context, j *domain.Job, err error) {
		hookJob, hookErr = j.ID, err
	}

	job, _ := p.Submit(ctx, "t.fail", "x", nil)

	for i := 1; i <= 3; i++ {
		if n, err := p.Drain(ctx); err != nil || n != 1 {
			t.Fatalf("run %d: n=%d err=%v", i, n, err)
		}
		// not due again until the backoff elapses
		if n, _ := p.Drain(ctx); n != 0 {
			t.Fatalf("run %d: job ran again before its delay", i)
		}
		clk.Advance(p.Policy.Max + time.Second)
	}

	if calls != 3 {
		t.Fatalf("handler ran %d times; want 3", calls)
	}
	j, _ := repo.GetJob(ctx, p.DB, job.ID)
	if j.Status != domain.JobFailed || j.Attempts != 3 || j.DedupeKey != nil {
		t.Fatalf("unexpected exhausted job: %+v", j)
	}
	if hookJob != job.ID || !errors.Is(hookErr, ErrMaxRetriesExceeded) {
		t.Fatalf("OnFailure not called with ErrMaxRetriesExceeded: job=%s err=%v", hookJob, hookErr)
	}
}

func TestDefer_DoesNotConsumeAttempts(t *testing.T) {
	p, clk := newTestPool(t, 2)
	ctx := context.Background()

	var calls int32
	p.Register("t.defer", func(context.Context, *domain.Job) error {
		if atomic.AddInt32(&calls, 1) <= 3 {
			return Defer(errors.New("flag off"))
		}
		return nil
	})
	job, _ := p.Submit(ctx, "t.defer", "", nil)

	for i := 0; i < 4; i++ {
		if n, err := p.Drain(ctx); err != nil || n != 1 {
			t.Fatalf("run %d: n=%d err=%v", i, n, err)
		}
		clk.Advance(p.Policy.Max + time.Second)
	}
	j, _ := repo.GetJob(ctx, p.DB, job.ID)
	if j.Status != domain.JobDone || j.Attempts != 1 || j.Deferrals != 3 {
		t.Fatalf("deferrals must not spend the retry budget: %+v", j)
	}
}

func TestPermanent_FailsImmediately(t *testing.T) {
	p, _ := newTestPool(t, 5)
	ctx := context.Background()

	p.Register("t.perm", func(context.Context, *domain.Job) error {
		return Permanent(errors.New("bad payload"))
	})
	var hookErr error
	p.OnFailure = func(_ context.Context, _ *domain.Job, err error) { hookErr = err }

	job, _ := p.Submit(ctx, "t.perm", "", nil)
	if _, err := p.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	j, _ := repo.GetJob(ctx, p.DB, job.ID)
	if j.Status != domain.JobFailed || j.Attempts != 1 {
		t.Fatalf("unexpected job: %+v", j)
	}
	if hookErr == nil || errors.Is(hookErr, ErrMaxRetriesExceeded) {
		t.Fatalf("permanent failure should reach the hook unwrapped, got %v", hookErr)
	}
}

func TestUnknownKind_Fails(t *testing.T) {
	p, _ := newTestPool(t, 5)
	ctx := context.Background()

	job, _ := p.Submit(ctx, "t.nobody", "", nil)
	if _, err := p.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	j, _ := repo.GetJob(ctx, p.DB, job.ID)
	if j.Status != domain.JobFailed {
		t.Fatalf("job without handler should fail, got %s", j.Status)
	}
}

func TestDecode_BadPayloadIsPermanent(t *testing.T) {
	var v struct{ A int }
	err := Decode(&domain.Job{Kind: "k", Payload: []byte(`{"A":"x"}`)}, &v)
	if err == nil || !IsPermanent(err) {
		t.Fatalf("expected permanent decode error, got %v", err)
	}
}

func TestRun_WorkersProcessEachJobOnce(t *testing.T) {
	p := New(newQueueDB(t), config.QueueConfig{Workers: 4, PollInterval: 20 * time.Millisecond, MaxAttempts: 3})
	ctx, cancel := context.WithCancel(context.Background())

	const jobs = 20
	var mu sync.Mutex
	seen := map[string]int{}
	done := make(chan struct{})
	p.Register("t.count", func(_ context.Context, j *domain.Job) error {
		mu.Lock()
		defer mu.Unlock()
		seen[j.ID]++
		if len(seen) == jobs {
			close(done)
		}
		return nil
	})

	stopped := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(stopped)
	}()

	for i := 0; i < jobs; i++ {
		if _, err := p.Submit(context.Background(), "t.count", "", i); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		t.Fatalf("timed out; processed %d of %d", n, jobs)
	}
	cancel()
	<-stopped

	mu.Lock()
	defer mu.Unlock()
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("job %s processed %d times", id, n)
		}
	}
	counts, _ := repo.CountJobsByStatus(context.Background(), p.DB)
	if counts[domain.JobDone] != jobs {
		t.Fatalf("done = %d; want %d (%v)", counts[domain.JobDone], jobs, counts)
	}
}

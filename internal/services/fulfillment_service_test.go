package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/flags"
	"github.com/tbourn/keyshop-fulfillment/internal/provider"
	"github.com/tbourn/keyshop-fulfillment/internal/queue"
	"github.com/tbourn/keyshop-fulfillment/internal/repo"
)

func TestPipeline_SelfHosted_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	ids := f.upload(t, "p1", "KEY-A", "KEY-B")

	o := f.createOrder(t, "p1", 1)
	if o.Status != domain.OrderAwaitingPayment || o.TotalMinor != 1000 {
		t.Fatalf("unexpected new order: %+v", o)
	}

	out, err := f.ingest(t, domain.SourcePayment, paymentBody(t, o.ID, "pay-1", "finished", "10.00"))
	if err != nil || out.Outcome != OutcomeAccepted {
		t.Fatalf("Ingest: %+v %v", out, err)
	}
	f.drain(t)

	got := f.order(t, o.ID)
	if got.Status != domain.OrderFulfilled || got.FulfilledAt == nil || got.PaidAt == nil {
		t.Fatalf("order not fulfilled: %+v", got)
	}
	if got.PaymentID == nil || *got.PaymentID != "pay-1" {
		t.Fatalf("payment id not recorded: %v", got.PaymentID)
	}
	if got.Items[0].KeyRef != "inv:"+ids[0] {
		t.Fatalf("FIFO violated: key ref %q; want inv:%s", got.Items[0].KeyRef, ids[0])
	}

	keys, err := f.orders.Keys(ctx, o.ID, "BUYER@example.com")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0].Key != "KEY-A" {
		t.Fatalf("delivered keys = %+v", keys)
	}
	f.assertStock(t, "p1", map[string]int64{domain.ItemSold: 1, domain.ItemAvailable: 1})

	ev := f.notifier.deliveries()
	if len(ev) != 1 || ev[0].OrderID != o.ID || ev[0].Items[0].KeyRef != got.Items[0].KeyRef {
		t.Fatalf("delivery events = %+v", ev)
	}

	rec, err := repo.GetWebhookLog(ctx, f.db, out.LogID)
	if err != nil {
		t.Fatalf("GetWebhookLog: %v", err)
	}
	if !rec.Processed || !strings.Contains(string(rec.Result), ActionConfirmed) {
		t.Fatalf("log not processed with cached result: %+v", rec)
	}
}

func TestPipeline_ReplayedWebhook_SingleTransitionAndFinalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	f.upload(t, "p1", "KEY-A", "KEY-B", "KEY-C")
	o := f.createOrder(t, "p1", 1)
	body := paymentBody(t, o.ID, "pay-1", "finished", "10.00")

	// concurrent redeliveries before any processing
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ingest(t, domain.SourcePayment, body); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Ingest: %v", err)
	}
	if n := countJobs(t, f.db, JobWebhookProcess); n != 1 {
		t.Fatalf("webhook jobs = %d; want 1", n)
	}
	f.drain(t)

	// sequential redeliveries and admin replays after processing
	for i := 0; i < 3; i++ {
		out, err := f.ingest(t, domain.SourcePayment, body)
		if err != nil || out.Outcome != OutcomeDuplicate {
			t.Fatalf("redelivery %d: %+v %v", i, out, err)
		}
	}
	rec, err := repo.FindWebhookLog(ctx, f.db, "pay-1", "payment.finished")
	if err != nil {
		t.Fatalf("FindWebhookLog: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.hooks.Replay(ctx, rec.ID); err != nil {
			t.Fatalf("Replay: %v", err)
		}
		f.drain(t)
	}

	if n, _ := repo.CountWebhookLogs(ctx, f.db, "pay-1", "payment.finished"); n != 1 {
		t.Fatalf("log rows = %d; want 1", n)
	}
	if opens := f.vault.opens.Load(); opens != 1 {
		t.Fatalf("decryptions = %d; want exactly one finalize", opens)
	}
	got := f.order(t, o.ID)
	if got.Status != domain.OrderFulfilled {
		t.Fatalf("status = %s", got.Status)
	}
	f.assertStock(t, "p1", map[string]int64{domain.ItemSold: 1, domain.ItemAvailable: 2})
	if n := len(f.notifier.deliveries()); n != 1 {
		t.Fatalf("delivery events = %d; want 1", n)
	}
	if n := countJobs(t, f.db, JobOrderAdvance); n != 1 {
		t.Fatalf("order jobs = %d; want 1 (payment transition happened once)", n)
	}
}

func TestPipeline_DecryptFailure_SwapsItem(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	ids := f.upload(t, "p1", "KEY-A", "KEY-B")
	if err := f.db.Model(&domain.InventoryItem{}).Where("id = ?", ids[0]).
		UpdateColumn("auth_tag", []byte("0123456789abcdef")).Error; err != nil {
		t.Fatalf("corrupt item: %v", err)
	}

	o := f.createOrder(t, "p1", 1)
	if _, err := f.ingest(t, domain.SourcePayment, paymentBody(t, o.ID, "pay-1", "finished", "10.00")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	f.drain(t)

	got := f.order(t, o.ID)
	if got.Status != domain.OrderFulfilled || got.Items[0].KeyRef != "inv:"+ids[1] {
		t.Fatalf("expected fulfillment from the second item: %+v", got)
	}
	f.assertStock(t, "p1", map[string]int64{domain.ItemInvalid: 1, domain.ItemSold: 1})
	if kinds := f.notifier.alertKinds(); len(kinds) != 1 || kinds[0] != "decryption_failed" {
		t.Fatalf("alerts = %v", kinds)
	}
}

func TestPipeline_InsufficientStock_ReservationFailed(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 500)
	f.upload(t, "p1", "ONLY-ONE")

	o := f.createOrder(t, "p1", 2)
	if _, err := f.ingest(t, domain.SourcePayment, paymentBody(t, o.ID, "pay-1", "finished", "10.00")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	f.drain(t)

	got := f.order(t, o.ID)
	if got.Status != domain.OrderReservationFailed || !strings.Contains(got.FailureReason, "insufficient stock") {
		t.Fatalf("unexpected order: %+v", got)
	}
	// the partial reservation is given back
	f.assertStock(t, "p1", map[string]int64{domain.ItemAvailable: 1, domain.ItemReserved: 0})
}

func TestPipeline_Provider_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "pp", domain.SourceProvider, 2500)
	o := f.createOrder(t, "pp", 1)

	if _, err := f.ingest(t, domain.SourcePayment, paymentBody(t, o.ID, "pay-9", "finished", "25.00")); err != nil {
		t.Fatalf("Ingest payment: %v", err)
	}
	f.drain(t)

	got := f.order(t, o.ID)
	if got.Status != domain.OrderFulfilling || got.ReservationID == nil || *got.ReservationID != "res-1" {
		t.Fatalf("provider order should wait in fulfilling: %+v", got)
	}

	body := fulfillmentBody(t, "res-1", "ready", "PROV-KEY-1")
	if _, err := f.ingest(t, domain.SourceFulfillment, body); err != nil {
		t.Fatalf("Ingest fulfillment: %v", err)
	}
	f.drain(t)

	got = f.order(t, o.ID)
	if got.Status != domain.OrderFulfilled || got.Items[0].KeyRef != "prov:res-1" {
		t.Fatalf("unexpected order: %+v", got)
	}
	keys, err := f.orders.Keys(ctx, o.ID, testEmail)
	if err != nil || len(keys) != 1 || keys[0].Key != "PROV-KEY-1" {
		t.Fatalf("Keys = %+v, %v", keys, err)
	}

	out, err := f.ingest(t, domain.SourceFulfillment, body)
	if err != nil || out.Outcome != OutcomeDuplicate {
		t.Fatalf("redelivery: %+v %v", out, err)
	}
	if f.provider.calls != 1 {
		t.Fatalf("provider reserve calls = %d", f.provider.calls)
	}
	if n := len(f.notifier.deliveries()); n != 1 {
		t.Fatalf("delivery events = %d", n)
	}
}

func TestPipeline_ProviderRejects_ReservationFailed(t *testing.T) {
	f := newFixture(t)
	f.provider.err = provider.ErrRejected
	f.seedProduct(t, "pp", domain.SourceProvider, 2500)
	o := f.createOrder(t, "pp", 1)

	if _, err := f.ingest(t, domain.SourcePayment, paymentBody(t, o.ID, "pay-9", "finished", "25")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	f.drain(t)
	if got := f.order(t, o.ID); got.Status != domain.OrderReservationFailed {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestHandleFulfillment_StaleOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "pp", domain.SourceProvider, 2500)
	o := f.createOrder(t, "pp", 1)
	if err := repo.SetOrderReservation(ctx, f.db, o.ID, "res-stale"); err != nil {
		t.Fatalf("SetOrderReservation: %v", err)
	}
	if _, err := f.orders.Cancel(ctx, o.ID, ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	_, err := f.ful.HandleFulfillment(ctx, FulfillmentEvent{ReservationID: "res-stale", Status: "ready", Key: "K"})
	if !errors.Is(err, ErrStaleFulfillment) || !queue.IsPermanent(err) {
		t.Fatalf("expected permanent ErrStaleFulfillment, got %v", err)
	}

	_, err = f.ful.HandleFulfillment(ctx, FulfillmentEvent{ReservationID: "nope", Status: "ready", Key: "K"})
	if !errors.Is(err, ErrOrderNotFound) || !queue.IsPermanent(err) {
		t.Fatalf("expected permanent ErrOrderNotFound, got %v", err)
	}
}

func TestHandlePayment_AmountMismatch(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	f.upload(t, "p1", "KEY-A")
	o := f.createOrder(t, "p1", 1)

	if _, err := f.ingest(t, domain.SourcePayment, paymentBody(t, o.ID, "pay-1", "finished", "9.99")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	f.drain(t)

	got := f.order(t, o.ID)
	if got.Status != domain.OrderPaymentFailed || got.FailureReason != ErrPaymentMismatch.Error() {
		t.Fatalf("unexpected order: %+v", got)
	}
	f.assertStock(t, "p1", map[string]int64{domain.ItemAvailable: 1})
}

func TestHandlePayment_NonFinalStatusesIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	o := f.createOrder(t, "p1", 1)

	for _, status := range []string{"waiting", "confirming", "partially_paid"} {
		res, err := f.ful.HandlePayment(ctx, PaymentEvent{OrderID: o.ID, PaymentID: "pay-1", PaymentStatus: status})
		if err != nil || res.Action != ActionIgnored {
			t.Fatalf("%s: %+v %v", status, res, err)
		}
	}
	res, err := f.ful.HandlePayment(ctx, PaymentEvent{OrderID: o.ID, PaymentID: "pay-1", PaymentStatus: "expired"})
	if err != nil || res.Status != domain.OrderExpired {
		t.Fatalf("expired: %+v %v", res, err)
	}
	if _, err := f.ful.HandlePayment(ctx, PaymentEvent{OrderID: "missing", PaymentStatus: "finished"}); !queue.IsPermanent(err) {
		t.Fatalf("unknown order must be permanent, got %v", err)
	}
}

func TestAdvance_DefersWhileFlagDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	f.upload(t, "p1", "KEY-A")
	o := f.createOrder(t, "p1", 1)

	// keep the deferred job parked until the test releases it
	f.pool.Policy = queue.NewRetryPolicy(time.Hour, time.Hour, 3)
	if err := f.gate.Set(ctx, flags.ReservationEnabled, false); err != nil {
		t.Fatalf("Set flag: %v", err)
	}
	if _, err := f.ingest(t, domain.SourcePayment, paymentBody(t, o.ID, "pay-1", "finished", "10.00")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	f.drain(t)

	if got := f.order(t, o.ID); got.Status != domain.OrderPaymentConfirmed {
		t.Fatalf("status = %s; want payment_confirmed", got.Status)
	}
	var job domain.Job
	if err := f.db.Where("kind = ?", JobOrderAdvance).First(&job).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != domain.JobPending || job.Deferrals != 1 || job.Attempts != 0 {
		t.Fatalf("job should be deferred without using an attempt: %+v", job)
	}

	if err := f.gate.Set(ctx, flags.ReservationEnabled, true); err != nil {
		t.Fatalf("Set flag: %v", err)
	}
	if err := f.db.Model(&domain.Job{}).Where("id = ?", job.ID).
		UpdateColumn("run_at", time.Now().UTC().Add(-time.Second)).Error; err != nil {
		t.Fatalf("release job: %v", err)
	}
	f.drain(t)
	if got := f.order(t, o.ID); got.Status != domain.OrderFulfilled {
		t.Fatalf("status = %s; want fulfilled", got.Status)
	}
}

func TestRetryFulfillment_AfterStockRunsOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	ids := f.upload(t, "p1", "BROKEN")
	if err := f.db.Model(&domain.InventoryItem{}).Where("id = ?", ids[0]).
		UpdateColumn("ciphertext", []byte("garbage")).Error; err != nil {
		t.Fatalf("corrupt item: %v", err)
	}
	o := f.createOrder(t, "p1", 1)
	if _, err := f.ingest(t, domain.SourcePayment, paymentBody(t, o.ID, "pay-1", "finished", "10.00")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	f.drain(t)

	if got := f.order(t, o.ID); got.Status != domain.OrderFulfillmentFailed {
		t.Fatalf("status = %s; want fulfillment_failed", got.Status)
	}

	f.upload(t, "p1", "FRESH")
	got, err := f.orders.RetryFulfillment(ctx, o.ID)
	if err != nil || got.Status != domain.OrderFulfilling {
		t.Fatalf("RetryFulfillment: %+v %v", got, err)
	}
	f.drain(t)

	keys, err := f.orders.Keys(ctx, o.ID, testEmail)
	if err != nil || len(keys) != 1 || keys[0].Key != "FRESH" {
		t.Fatalf("Keys = %+v, %v", keys, err)
	}
	if _, err := f.orders.RetryFulfillment(ctx, o.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("retry of fulfilled order: %v", err)
	}
}

func TestOnJobFailed_ExhaustionFailsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	o := f.createOrder(t, "p1", 1)
	if err := f.db.Model(&domain.Order{}).Where("id = ?", o.ID).UpdateColumn("status", domain.OrderFulfilling).Error; err != nil {
		t.Fatalf("force status: %v", err)
	}

	job := &domain.Job{ID: "j1", Kind: JobOrderAdvance, Payload: []byte(`{"order_id":"` + o.ID + `"}`)}
	f.ful.OnJobFailed(ctx, job, errors.Join(ErrMaxRetriesExceeded, errors.New("db down")))

	got := f.order(t, o.ID)
	if got.Status != domain.OrderFulfillmentFailed || !strings.Contains(got.FailureReason, "retries exhausted") {
		t.Fatalf("unexpected order: %+v", got)
	}
	if kinds := f.notifier.alertKinds(); len(kinds) != 1 || kinds[0] != "fulfillment_failed" {
		t.Fatalf("alerts = %v", kinds)
	}
}

func TestOnJobFailed_PaymentConfirmedOrderIsNotStranded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	o := f.createOrder(t, "p1", 1)
	if err := f.db.Model(&domain.Order{}).Where("id = ?", o.ID).UpdateColumn("status", domain.OrderPaymentConfirmed).Error; err != nil {
		t.Fatalf("force status: %v", err)
	}

	job := &domain.Job{ID: "j1", Kind: JobOrderAdvance, Payload: []byte(`{"order_id":"` + o.ID + `"}`)}
	f.ful.OnJobFailed(ctx, job, errors.Join(ErrMaxRetriesExceeded, errors.New("db down")))

	got := f.order(t, o.ID)
	if got.Status != domain.OrderFulfillmentFailed {
		t.Fatalf("status = %s; want fulfillment_failed", got.Status)
	}

	f.upload(t, "p1", "KEY-1")
	if _, err := f.orders.RetryFulfillment(ctx, o.ID); err != nil {
		t.Fatalf("RetryFulfillment: %v", err)
	}
	f.drain(t)
	if got := f.order(t, o.ID); got.Status != domain.OrderFulfilled {
		t.Fatalf("status after retry = %s; want fulfilled", got.Status)
	}
}

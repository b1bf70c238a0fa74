package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/flags"
	"github.com/tbourn/keyshop-fulfillment/internal/queue"
)

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	f.seedProduct(t, "p2", domain.SourceSelfHosted, 500)
	f.seedProduct(t, "pp", domain.SourceProvider, 2000)
	f.seedProduct(t, "free", domain.SourceSelfHosted, 0)

	cases := []struct {
		name string
		in   CreateOrderInput
		want error
	}{
		{"bad email", CreateOrderInput{Email: "not-an-email", Items: []OrderLine{{ProductID: "p1", Quantity: 1}}}, ErrInvalidOrder},
		{"no items", CreateOrderInput{Email: testEmail}, ErrInvalidOrder},
		{"zero quantity", CreateOrderInput{Email: testEmail, Items: []OrderLine{{ProductID: "p1"}}}, ErrInvalidOrder},
		{"line too large", CreateOrderInput{Email: testEmail, Items: []OrderLine{{ProductID: "p1", Quantity: MaxUnitsPerLine + 1}}}, ErrInvalidOrder},
		{"order too large", CreateOrderInput{Email: testEmail, Items: []OrderLine{
			{ProductID: "p1", Quantity: 10}, {ProductID: "p2", Quantity: 10}, {ProductID: "p1", Quantity: 1},
		}}, ErrInvalidOrder},
		{"unknown product", CreateOrderInput{Email: testEmail, Items: []OrderLine{{ProductID: "ghost", Quantity: 1}}}, ErrProductNotFound},
		{"unpriced product", CreateOrderInput{Email: testEmail, Items: []OrderLine{{ProductID: "free", Quantity: 1}}}, ErrInvalidOrder},
		{"mixed sources", CreateOrderInput{Email: testEmail, Items: []OrderLine{{ProductID: "p1", Quantity: 1}, {ProductID: "pp", Quantity: 1}}}, ErrInvalidOrder},
		{"provider quantity", CreateOrderInput{Email: testEmail, Items: []OrderLine{{ProductID: "pp", Quantity: 2}}}, ErrInvalidOrder},
	}
	for _, tc := range cases {
		if _, err := f.orders.Create(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	o, err := f.orders.Create(ctx, CreateOrderInput{Email: testEmail, Items: []OrderLine{
		{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}, {ProductID: "p1", Quantity: 1},
	}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got := f.order(t, o.ID)
	if got.Status != domain.OrderAwaitingPayment || got.TotalMinor != 3500 || len(got.Items) != 4 || got.Currency != "EUR" {
		t.Fatalf("unexpected order: status=%s total=%d items=%d currency=%s", got.Status, got.TotalMinor, len(got.Items), got.Currency)
	}
}

func TestCancel_ReleasesReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pool.Policy = queue.NewRetryPolicy(time.Hour, time.Hour, 3)
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	f.upload(t, "p1", "A", "B", "C")
	if err := f.gate.Set(ctx, flags.AutoFulfillEnabled, false); err != nil {
		t.Fatalf("Set flag: %v", err)
	}

	o := f.createOrder(t, "p1", 2)
	if _, err := f.ingest(t, domain.SourcePayment, paymentBody(t, o.ID, "pay-1", "finished", "20.00")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	f.drain(t)
	if got := f.order(t, o.ID); got.Status != domain.OrderReserved {
		t.Fatalf("status = %s; want reserved", got.Status)
	}
	f.assertStock(t, "p1", map[string]int64{domain.ItemReserved: 2, domain.ItemAvailable: 1})

	got, err := f.orders.Cancel(ctx, o.ID, "")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != domain.OrderCancelled || got.CancelledAt == nil || got.FailureReason != "cancelled by admin" {
		t.Fatalf("unexpected cancelled order: %+v", got)
	}
	for _, it := range got.Items {
		if it.InventoryItemID != nil {
			t.Fatalf("order item %s still linked to %s", it.ID, *it.InventoryItemID)
		}
	}
	f.assertStock(t, "p1", map[string]int64{domain.ItemReserved: 0, domain.ItemAvailable: 3})

	if _, err := f.orders.Cancel(ctx, o.ID, "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Cancel: %v", err)
	}
	if _, err := f.orders.Cancel(ctx, "missing", ""); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("Cancel unknown: %v", err)
	}
}

func TestKeys_Access(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	f.upload(t, "p1", "KEY-1")
	o := f.createOrder(t, "p1", 1)

	if _, err := f.orders.Keys(ctx, o.ID, testEmail); !errors.Is(err, ErrOrderNotFulfilled) {
		t.Fatalf("keys before payment: %v", err)
	}

	if _, err := f.ingest(t, domain.SourcePayment, paymentBody(t, o.ID, "pay-1", "finished", "10.00")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	f.drain(t)

	if _, err := f.orders.Keys(ctx, o.ID, "someone@example.com"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("keys with wrong email: %v", err)
	}
	keys, err := f.orders.Keys(ctx, o.ID, "  BUYER@example.com ")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0].Key != "KEY-1" || keys[0].ProductID != "p1" {
		t.Fatalf("unexpected keys: %+v", keys)
	}
}

func TestExpireUnpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	f.upload(t, "p1", "A")
	stale := f.createOrder(t, "p1", 1)
	paid := f.createOrder(t, "p1", 1)
	if _, err := f.ingest(t, domain.SourcePayment, paymentBody(t, paid.ID, "pay-1", "finished", "10.00")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	f.drain(t)

	if n, err := f.orders.ExpireUnpaid(ctx); err != nil || n != 0 {
		t.Fatalf("fresh orders must not expire: %d %v", n, err)
	}

	f.orders.Now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	n, err := f.orders.ExpireUnpaid(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ExpireUnpaid = %d, %v; want 1", n, err)
	}
	if got := f.order(t, stale.ID); got.Status != domain.OrderExpired {
		t.Fatalf("stale status = %s", got.Status)
	}
	if got := f.order(t, paid.ID); got.Status != domain.OrderFulfilled {
		t.Fatalf("paid status = %s", got.Status)
	}
}

func TestRetryFulfillment_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	o := f.createOrder(t, "p1", 1)

	if _, err := f.orders.RetryFulfillment(ctx, o.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("retry from awaiting_payment: %v", err)
	}
	if _, err := f.orders.RetryFulfillment(ctx, "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("retry unknown order: %v", err)
	}
}

func TestCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", domain.SourceSelfHosted, 1000)
	f.createOrder(t, "p1", 1)
	o := f.createOrder(t, "p1", 1)
	if _, err := f.orders.Cancel(ctx, o.ID, "test"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	counts, err := f.orders.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[domain.OrderAwaitingPayment] != 1 || counts[domain.OrderCancelled] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

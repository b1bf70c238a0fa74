package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/config"
	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/flags"
	"github.com/tbourn/keyshop-fulfillment/internal/keyvault"
	"github.com/tbourn/keyshop-fulfillment/internal/notify"
	"github.com/tbourn/keyshop-fulfillment/internal/provider"
	"github.com/tbourn/keyshop-fulfillment/internal/queue"
	"github.com/tbourn/keyshop-fulfillment/internal/repo"
	"github.com/tbourn/keyshop-fulfillment/internal/signature"
)

const (
	testPaymentSecret     = "pay-secret"
	testFulfillmentSecret = "fulfil-secret"
	testEmail             = "buyer@example.com"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "services.db"))
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

// countingVault counts decryptions of a real vault.
type countingVault struct {
	*keyvault.Vault
	opens atomic.Int64
}

func (v *countingVault) Open(s keyvault.Sealed) ([]byte, error) {
	v.opens.Add(1)
	return v.Vault.Open(s)
}

type recordingNotifier struct {
	mu        sync.Mutex
	delivered []notify.DeliveryEvent
	alerts    []notify.Alert
}

func (n *recordingNotifier) OrderFulfilled(_ context.Context, ev notify.DeliveryEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, ev)
	return nil
}

func (n *recordingNotifier) AdminAlert(_ context.Context, a notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) deliveries() []notify.DeliveryEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.DeliveryEvent(nil), n.delivered...)
}

func (n *recordingNotifier) alertKinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.alerts))
	for _, a := range n.alerts {
		out = append(out, a.Kind)
	}
	return out
}

type stubProvider struct {
	mu    sync.Mutex
	calls int
	res   *provider.Reservation
	err   error
}

func (p *stubProvider) Reserve(_ context.Context, req provider.ReservationRequest) (*provider.Reservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.res, nil
}

type fixture struct {
	db       *gorm.DB
	vault    *countingVault
	gate     *flags.Gate
	pool     *queue.Pool
	inv      *InventoryService
	orders   *OrderService
	ful      *FulfillmentService
	hooks    *WebhookService
	pricing  *PricingService
	notifier *recordingNotifier
	provider *stubProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := newServiceDB(t)

	v, err := keyvault.New("test-master-key")
	if err != nil {
		t.Fatalf("keyvault.New: %v", err)
	}
	cv := &countingVault{Vault: v}

	gate := flags.New(db, nil, "")
	if err := gate.Seed(ctx); err != nil {
		t.Fatalf("Seed flags: %v", err)
	}

	pool := queue.New(db, config.QueueConfig{
		Workers:      2,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	})

	inv := NewInventoryService(db, cv, 30*time.Minute)
	orders := &OrderService{DB: db, Queue: pool, Inventory: inv, Vault: cv, PaymentWindow: time.Hour}
	n := &recordingNotifier{}
	prov := &stubProvider{res: &provider.Reservation{ReservationID: "res-1", Status: "pending"}}
	ful := &FulfillmentService{
		DB:        db,
		Orders:    orders,
		Inventory: inv,
		Flags:     gate,
		Provider:  prov,
		Notifier:  n,
		Queue:     pool,
		Vault:     cv,
	}
	hooks := &WebhookService{
		DB:        db,
		Queue:     pool,
		Flags:     gate,
		Processor: ful,
		Secrets: map[string]string{
			domain.SourcePayment:     testPaymentSecret,
			domain.SourceFulfillment: testFulfillmentSecret,
		},
	}
	ful.Register(pool, hooks)

	return &fixture{
		db: db, vault: cv, gate: gate, pool: pool,
		inv: inv, orders: orders, ful: ful, hooks: hooks,
		pricing:  &PricingService{DB: db},
		notifier: n, provider: prov,
	}
}

func (f *fixture) seedProduct(t *testing.T, id, source string, priceMinor int64) {
	t.Helper()
	p := &domain.Product{
		ID:           id,
		Name:         "Product " + id,
		Category:     "Games",
		SourceType:   source,
		Currency:     "EUR",
		CostMinor:    priceMinor * 9 / 10,
		PriceMinor:   priceMinor,
		Published:    true,
		PriceVersion: 1,
	}
	if source == domain.SourceProvider {
		p.ProviderOfferID = "offer-" + id
	}
	if err := repo.UpsertProduct(context.Background(), f.db, p); err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func (f *fixture) upload(t *testing.T, productID string, keys ...string) []string {
	t.Helper()
	in := make([]UploadKey, 0, len(keys))
	for _, k := range keys {
		in = append(in, UploadKey{Key: k})
	}
	res, err := f.inv.Upload(context.Background(), productID, in)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return res.ItemIDs
}

func (f *fixture) createOrder(t *testing.T, productID string, qty int) *domain.Order {
	t.Helper()
	o, err := f.orders.Create(context.Background(), CreateOrderInput{
		Email: testEmail,
		Items: []OrderLine{{ProductID: productID, Quantity: qty}},
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	return o
}

func paymentBody(t *testing.T, orderID, paymentID, status, amount string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"payment_id":     paymentID,
		"order_id":       orderID,
		"payment_status": status,
		"price_amount":   amount,
		"price_currency": "eur",
		"pay_amount":     "0.0004",
		"pay_currency":   "btc",
		"actually_paid":  "0.0004",
	})
	if err != nil {
		t.Fatalf("marshal payment: %v", err)
	}
	return b
}

func fulfillmentBody(t *testing.T, reservationID, status, key string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"reservationId": reservationID, "status": status, "key": key})
	if err != nil {
		t.Fatalf("marshal fulfillment: %v", err)
	}
	return b
}

func (f *fixture) ingest(t *testing.T, source string, body []byte) (*LogOutcome, error) {
	t.Helper()
	secret := testPaymentSecret
	if source == domain.SourceFulfillment {
		secret = testFulfillmentSecret
	}
	return f.hooks.Ingest(context.Background(), source, body, signature.Sign(body, secret))
}

func (f *fixture) drain(t *testing.T) int {
	t.Helper()
	n, err := f.pool.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	return n
}

func (f *fixture) order(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := repo.GetOrderWithItems(context.Background(), f.db, id)
	if err != nil {
		t.Fatalf("GetOrderWithItems: %v", err)
	}
	return o
}

func (f *fixture) assertStock(t *testing.T, productID string, want map[string]int64) {
	t.Helper()
	rep, err := f.inv.Stock(context.Background(), productID)
	if err != nil {
		t.Fatalf("Stock: %v", err)
	}
	if !rep.Consistent {
		t.Fatalf("counters %v diverge from items %v", rep.Counters, rep.Actual)
	}
	for status, n := range want {
		if rep.Actual[status] != n {
			t.Fatalf("stock[%s] = %d; want %d (all: %v)", status, rep.Actual[status], n, rep.Actual)
		}
	}
}

func countJobs(t *testing.T, db *gorm.DB, kind string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Job{}).Where("kind = ?", kind).Count(&n).Error; err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	return n
}

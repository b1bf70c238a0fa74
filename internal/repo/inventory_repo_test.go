package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
)

func seedProductWithItems(t *testing.T, db *gorm.DB, productID string, n int) []domain.InventoryItem {
	t.Helper()
	ctx := context.Background()
	if err := UpsertProduct(ctx, db, &domain.Product{ID: productID, Name: "P " + productID, Currency: "EUR", CostMinor: 1000}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	base := time.Now().UTC().Add(-time.Hour)
	items := make([]domain.InventoryItem, 0, n)
	for i := 0; i < n; i++ {
		it := domain.InventoryItem{
			ProductID:  productID,
			Ciphertext: []byte("c"), IV: []byte("iv"), AuthTag: []byte("tag"),
			ItemHash:   fmt.Sprintf("%s-hash-%d", productID, i),
			UploadedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := InsertInventoryItem(ctx, db, &it); err != nil {
			t.Fatalf("seed item: %v", err)
		}
		items = append(items, it)
	}
	if err := MoveStock(ctx, db, productID, "", domain.ItemAvailable, n); err != nil {
		t.Fatalf("seed counters: %v", err)
	}
	return items
}

func TestInsertInventoryItem_DuplicateHash(t *testing.T) {
	db := newRepoDB(t)
	items := seedProductWithItems(t, db, "p1", 1)

	dup := domain.InventoryItem{ProductID: "p1", Ciphertext: []byte("x"), IV: []byte("y"), AuthTag: []byte("z"), ItemHash: items[0].ItemHash}
	if err := InsertInventoryItem(context.Background(), db, &dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestReserveOldestAvailable_FIFO_AndExhaustion(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	items := seedProductWithItems(t, db, "p1", 2)
	now := time.Now().UTC()

	if err := ReserveOldestAvailable(ctx, db, "p1", "o1", now, 30*time.Minute); err != nil {
		t.Fatalf("reserve 1: %v", err)
	}
	got, err := LatestUnlinkedReservation(ctx, db, "p1", "o1")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.ID != items[0].ID {
		t.Fatalf("expected oldest item %s, got %s", items[0].ID, got.ID)
	}
	if got.ExpiresAt == nil || got.ExpiresAt.Sub(now) != 30*time.Minute {
		t.Fatalf("expires_at not now+ttl: %v", got.ExpiresAt)
	}

	if err := ReserveOldestAvailable(ctx, db, "p1", "o2", now, time.Minute); err != nil {
		t.Fatalf("reserve 2: %v", err)
	}
	if err := ReserveOldestAvailable(ctx, db, "p1", "o3", now, time.Minute); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound when exhausted, got %v", err)
	}
}

func TestReserveOldestAvailable_SkipsKeyExpired(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	items := seedProductWithItems(t, db, "p1", 2)
	past := time.Now().UTC().Add(-time.Minute)
	if err := db.Model(&domain.InventoryItem{}).Where("id = ?", items[0].ID).Update("key_expires_at", past).Error; err != nil {
		t.Fatalf("set key expiry: %v", err)
	}

	if err := ReserveOldestAvailable(ctx, db, "p1", "o1", time.Now().UTC(), time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	got, _ := LatestUnlinkedReservation(ctx, db, "p1", "o1")
	if got.ID != items[1].ID {
		t.Fatalf("expected the non-expired item, got %s", got.ID)
	}
	stale, err := ListKeyExpiredAvailable(ctx, db, time.Now().UTC(), 10)
	if err != nil || len(stale) != 1 || stale[0].ID != items[0].ID {
		t.Fatalf("ListKeyExpiredAvailable: %+v err=%v", stale, err)
	}
}

func TestLatestUnlinkedReservation_SkipsLinkedItems(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	seedProductWithItems(t, db, "p1", 2)

	o := &domain.Order{Email: "a@b.c", Status: domain.OrderReserving, TotalMinor: 2, Currency: "EUR", SourceType: domain.SourceSelfHosted}
	items := []domain.OrderItem{{ProductID: "p1", UnitPriceMinor: 1}, {ProductID: "p1", UnitPriceMinor: 1}}
	if err := CreateOrder(ctx, db, o, items); err != nil {
		t.Fatalf("create order: %v", err)
	}

	now := time.Now().UTC()
	if err := ReserveOldestAvailable(ctx, db, "p1", o.ID, now, time.Minute); err != nil {
		t.Fatalf("reserve 1: %v", err)
	}
	first, _ := LatestUnlinkedReservation(ctx, db, "p1", o.ID)
	if err := LinkOrderItemInventory(ctx, db, o.Items[0].ID, &first.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := ReserveOldestAvailable(ctx, db, "p1", o.ID, now.Add(time.Millisecond), time.Minute); err != nil {
		t.Fatalf("reserve 2: %v", err)
	}
	second, err := LatestUnlinkedReservation(ctx, db, "p1", o.ID)
	if err != nil || second.ID == first.ID {
		t.Fatalf("expected a different unlinked item, got %+v err=%v", second, err)
	}
}

func TestReleaseAndSold_Guards(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	seedProductWithItems(t, db, "p1", 1)
	now := time.Now().UTC()

	if err := ReserveOldestAvailable(ctx, db, "p1", "o1", now, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	it, _ := LatestUnlinkedReservation(ctx, db, "p1", "o1")

	// wrong holder and not-yet-expired releases lose their guard
	if err := ReleaseReservation(ctx, db, it.ID, "o2", nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("release by other order: want ErrConflict, got %v", err)
	}
	early := now
	if err := ReleaseReservation(ctx, db, it.ID, "", &early); !errors.Is(err, ErrConflict) {
		t.Fatalf("release before deadline: want ErrConflict, got %v", err)
	}
	if err := MarkItemSold(ctx, db, it.ID, "o2", now); !errors.Is(err, ErrConflict) {
		t.Fatalf("sell to other order: want ErrConflict, got %v", err)
	}

	if err := MarkItemSold(ctx, db, it.ID, "o1", now); err != nil {
		t.Fatalf("sell: %v", err)
	}
	// a release after a committed sale loses
	late := now.Add(time.Hour)
	if err := ReleaseReservation(ctx, db, it.ID, "", &late); !errors.Is(err, ErrConflict) {
		t.Fatalf("release after sale: want ErrConflict, got %v", err)
	}
	got, _ := GetInventoryItem(ctx, db, it.ID)
	if got.Status != domain.ItemSold || got.SoldToOrderID == nil || *got.SoldToOrderID != "o1" {
		t.Fatalf("unexpected item: %+v", got)
	}
}

func TestListExpiredReservations(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	seedProductWithItems(t, db, "p1", 2)
	now := time.Now().UTC()

	if err := ReserveOldestAvailable(ctx, db, "p1", "o1", now.Add(-time.Hour), time.Minute); err != nil {
		t.Fatalf("reserve expired: %v", err)
	}
	if err := ReserveOldestAvailable(ctx, db, "p1", "o2", now, time.Hour); err != nil {
		t.Fatalf("reserve live: %v", err)
	}
	expired, err := ListExpiredReservations(ctx, db, now, 10)
	if err != nil || len(expired) != 1 || *expired[0].ReservedForOrderID != "o1" {
		t.Fatalf("expected one expired reservation for o1, got %+v err=%v", expired, err)
	}
	if err := ReleaseReservation(ctx, db, expired[0].ID, "", &now); err != nil {
		t.Fatalf("release expired: %v", err)
	}
	if res, _ := ListReservationsForOrder(ctx, db, "o1"); len(res) != 0 {
		t.Fatalf("o1 should hold nothing after release")
	}
}

func TestMoveStock_AndCounts(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	seedProductWithItems(t, db, "p1", 3)

	if err := MoveStock(ctx, db, "p1", domain.ItemAvailable, domain.ItemReserved, 1); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := MoveStock(ctx, db, "p1", "x", "y", 1); err == nil {
		t.Fatalf("expected error for unknown statuses")
	}
	if err := MoveStock(ctx, db, "missing", domain.ItemAvailable, domain.ItemSold, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing product, got %v", err)
	}
	p, _ := GetProduct(ctx, db, "p1")
	counters := CountersByStatus(p)
	if counters[domain.ItemAvailable] != 2 || counters[domain.ItemReserved] != 1 {
		t.Fatalf("counters unexpected: %+v", counters)
	}

	counts, err := ItemCountsByStatus(ctx, db, "p1")
	if err != nil {
		t.Fatalf("ItemCountsByStatus: %v", err)
	}
	// counters were moved without an item transition, so rows disagree here
	if counts[domain.ItemAvailable] != 3 || counts[domain.ItemReserved] != 0 || counts[domain.ItemSold] != 0 {
		t.Fatalf("counts unexpected: %+v", counts)
	}
}

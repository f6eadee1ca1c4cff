package reporting

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cartpulse/cartpulse/internal/models"
	"github.com/cartpulse/cartpulse/internal/storage"
)

func TestRate(t *testing.T) {
	tests := []struct {
		num, den int64
		want     float64
	}{
		{0, 0, 0},
		{5, 0, 0},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{1, 1, 100},
		{3, 4, 75},
	}
	for _, tc := range tests {
		if got := rate(tc.num, tc.den); got != tc.want {
			t.Errorf("rate(%d, %d) = %v, want %v", tc.num, tc.den, got, tc.want)
		}
	}
}

func seed(t *testing.T, store *storage.MemoryStore, typ models.EventType, day time.Time, country, countryName string, productID int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		e := &models.RawEvent{
			Type:        typ,
			SessionID:   "s",
			IPAddress:   "ip",
			ProductID:   productID,
			CountryCode: country,
			CountryName: countryName,
			CreatedAt:   day,
		}
		if typ == models.EventPurchase {
			e.OrderID = fmt.Sprintf("ord-%s-%d-%d", country, productID, i)
		}
		if _, err := store.SaveEvent(context.Background(), e); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
}

func TestGetStatsDerivedMetrics(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2026, 5, 13, 12, 0, 0, 0, time.UTC)

	seed(t, store, models.EventVisitor, now, "DE", "Germany", 0, 4)
	seed(t, store, models.EventVisitor, now, "FR", "France", 0, 1)

	seed(t, store, models.EventAddToCart, now, "DE", "Germany", 7, 3)
	seed(t, store, models.EventCheckout, now, "DE", "Germany", 7, 2)
	seed(t, store, models.EventPurchase, now, "DE", "Germany", 7, 1)

	catalog := NewStaticCatalog(map[int64]string{7: "Blue Mug"})
	svc := NewService(store, catalog, nil, func() time.Time { return now }, zap.NewNop())

	report, err := svc.GetStats(context.Background(), "today", "", "")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	if report.Store.Visitors != 5 {
		t.Errorf("visitors = %d, want 5", report.Store.Visitors)
	}
	if report.Store.ATCRate != 60 {
		t.Errorf("atc_rate = %v, want 60", report.Store.ATCRate)
	}
	if report.Store.CheckoutRate != 66.67 {
		t.Errorf("checkout_rate = %v, want 66.67", report.Store.CheckoutRate)
	}
	if report.Store.PurchaseRate != 50 {
		t.Errorf("purchase_rate = %v, want 50", report.Store.PurchaseRate)
	}

	if len(report.Products) != 1 {
		t.Fatalf("got %d products, want 1", len(report.Products))
	}
	if report.Products[0].ProductName != "Blue Mug" {
		t.Errorf("product name = %q, want %q", report.Products[0].ProductName, "Blue Mug")
	}

	if len(report.Countries) != 2 {
		t.Fatalf("got %d countries, want 2", len(report.Countries))
	}
	// Sorted by visitors descending: DE first with 4 of 5.
	if report.Countries[0].CountryCode != "DE" || report.Countries[0].VisitorsPercentage != 80 {
		t.Errorf("top country = %+v, want DE at 80%%", report.Countries[0])
	}
	if report.Countries[1].VisitorsPercentage != 20 {
		t.Errorf("FR share = %v, want 20", report.Countries[1].VisitorsPercentage)
	}
}

func TestGetStatsProductPlaceholderName(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2026, 5, 13, 12, 0, 0, 0, time.UTC)
	seed(t, store, models.EventAddToCart, now, "DE", "Germany", 99, 1)

	svc := NewService(store, nil, nil, func() time.Time { return now }, zap.NewNop())

	report, err := svc.GetStats(context.Background(), "today", "", "")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if len(report.Products) != 1 || report.Products[0].ProductName != "Product #99" {
		t.Errorf("products = %+v, want placeholder name", report.Products)
	}
}

func TestGetStatsEmptyRangeIsZeroedNotError(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2026, 5, 13, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, nil, nil, func() time.Time { return now }, zap.NewNop())

	report, err := svc.GetStats(context.Background(), "last_30_days", "", "")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if report.Store.Visitors != 0 || report.Store.ATCRate != 0 || report.Store.PurchaseRate != 0 {
		t.Errorf("empty range stats = %+v, want all zero", report.Store)
	}
	if report.Products == nil || report.Countries == nil {
		t.Error("product/country slices are nil, want empty")
	}
}

func TestGetStatsBadTimeframeDegradesToToday(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2026, 5, 13, 12, 0, 0, 0, time.UTC)
	seed(t, store, models.EventVisitor, now, "DE", "Germany", 0, 1)

	svc := NewService(store, nil, nil, func() time.Time { return now }, zap.NewNop())

	report, err := svc.GetStats(context.Background(), "fortnight", "", "")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if report.Timeframe != "today" || report.Store.Visitors != 1 {
		t.Errorf("report = %s with %d visitors, want today with 1", report.Timeframe, report.Store.Visitors)
	}
}

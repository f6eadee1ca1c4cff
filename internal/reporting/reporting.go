package reporting

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/internal/models"
	"github.com/cartpulse/cartpulse/internal/storage"
)

// Report is the display-ready statistics answer for one timeframe.
type Report struct {
	Timeframe string                `json:"timeframe"`
	StartDate string                `json:"start_date"`
	EndDate   string                `json:"end_date"`
	Store     models.StoreStats     `json:"store"`
	Products  []models.ProductStats `json:"products"`
	Countries []models.CountryStats `json:"countries"`
}

// Service answers statistics queries by resolving the timeframe, reading
// the rollups and deriving the funnel rates.
type Service struct {
	store   storage.Store
	catalog ProductCatalog
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *zap.Logger
}

// NewService creates a reporting service.
func NewService(store storage.Store, catalog ProductCatalog, m *metrics.Metrics, now func() time.Time, logger *zap.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if catalog == nil {
		catalog = NewStaticCatalog(nil)
	}
	return &Service{
		store:   store,
		catalog: catalog,
		metrics: m,
		now:     now,
		logger:  logger,
	}
}

// GetStats builds the report for the named timeframe. Bad timeframe names
// and malformed custom dates degrade to today rather than erroring; only
// a store failure is surfaced.
func (s *Service) GetStats(ctx context.Context, timeframe, fromDate, toDate string) (*Report, error) {
	started := s.now()

	tf, startDate, endDate := Resolve(started, timeframe, fromDate, toDate)

	result, err := s.store.GetStats(ctx, startDate, endDate)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Timeframe: string(tf),
		StartDate: startDate,
		EndDate:   endDate,
		Store:     deriveStoreStats(result.Store),
		Products:  make([]models.ProductStats, 0, len(result.Products)),
		Countries: make([]models.CountryStats, 0, len(result.Countries)),
	}

	for _, p := range result.Products {
		p.ProductName = s.productName(ctx, p.ProductID)
		p.ATCRate = rate(p.AddToCart, p.Visitors)
		p.CheckoutRate = rate(p.Checkouts, p.AddToCart)
		p.PurchaseRate = rate(p.Purchases, p.Checkouts)
		report.Products = append(report.Products, p)
	}

	var totalVisitors int64
	for _, c := range result.Countries {
		totalVisitors += c.Visitors
	}
	for _, c := range result.Countries {
		c.VisitorsPercentage = rate(c.Visitors, totalVisitors)
		report.Countries = append(report.Countries, c)
	}

	if s.metrics != nil {
		s.metrics.RecordStats(string(tf), s.now().Sub(started))
	}
	return report, nil
}

func (s *Service) productName(ctx context.Context, productID int64) string {
	name, err := s.catalog.GetName(ctx, productID)
	if err != nil || name == "" {
		return placeholderName(productID)
	}
	return name
}

func deriveStoreStats(c models.Counters) models.StoreStats {
	return models.StoreStats{
		Counters:     c,
		ATCRate:      rate(c.AddToCart, c.Visitors),
		CheckoutRate: rate(c.Checkouts, c.AddToCart),
		PurchaseRate: rate(c.Purchases, c.Checkouts),
	}
}

// rate returns 100*num/den rounded to two decimals, and 0 when the
// denominator is zero.
func rate(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(100*float64(num)/float64(den)*100) / 100
}

package models

// ===========================================
// REPORTING READ MODELS
// ===========================================

// StoreStats holds store-wide totals plus derived funnel rates.
type StoreStats struct {
	Counters
	ATCRate      float64 `json:"atc_rate"`
	CheckoutRate float64 `json:"checkout_rate"`
	PurchaseRate float64 `json:"purchase_rate"`
}

// ProductStats holds per-product totals summed across countries and dates.
type ProductStats struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Counters
	ATCRate      float64 `json:"atc_rate"`
	CheckoutRate float64 `json:"checkout_rate"`
	PurchaseRate float64 `json:"purchase_rate"`
}

// CountryStats holds per-country totals plus the country's share of all
// visitors in the requested range.
type CountryStats struct {
	CountryCode string `json:"country_code"`
	CountryName string `json:"country_name"`
	Counters
	VisitorsPercentage float64 `json:"visitors_percentage"`
}

// StatsResult is the raw aggregate read returned by the store; derived
// rates are computed by the reporting layer.
type StatsResult struct {
	Store     Counters       `json:"store"`
	Products  []ProductStats `json:"products"`
	Countries []CountryStats `json:"countries"`
}

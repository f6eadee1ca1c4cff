package models

// ===========================================
// ROLLUPS
// ===========================================

// Counters holds the four per-key event counters shared by both rollups.
type Counters struct {
	Visitors  int64 `json:"visitors"`
	AddToCart int64 `json:"add_to_cart"`
	Checkouts int64 `json:"checkouts"`
	Purchases int64 `json:"purchases"`
}

// Apply increments the counter mapped to the given event type. Unknown
// types are a no-op; they cannot occur after validation.
func (c *Counters) Apply(t EventType) {
	switch t {
	case EventVisitor:
		c.Visitors++
	case EventAddToCart:
		c.AddToCart++
	case EventCheckout:
		c.Checkouts++
	case EventPurchase:
		c.Purchases++
	}
}

// Add accumulates another counter set into c.
func (c *Counters) Add(o Counters) {
	c.Visitors += o.Visitors
	c.AddToCart += o.AddToCart
	c.Checkouts += o.Checkouts
	c.Purchases += o.Purchases
}

// CounterColumn maps an event type to its rollup column name.
func CounterColumn(t EventType) (string, bool) {
	switch t {
	case EventVisitor:
		return "visitors", true
	case EventAddToCart:
		return "add_to_cart", true
	case EventCheckout:
		return "checkouts", true
	case EventPurchase:
		return "purchases", true
	}
	return "", false
}

// DailyRollup is the aggregate row keyed by (date, country code). At most
// one row exists per key; counters only increment. The denormalized
// country name is first-writer-wins.
type DailyRollup struct {
	Date        string `json:"date"`
	CountryCode string `json:"country_code"`
	CountryName string `json:"country_name"`
	Counters
}

// ProductRollup is the aggregate row keyed by (product, date, country
// code), with the same invariants as DailyRollup. Rows exist only for
// events carrying a positive product id.
type ProductRollup struct {
	ProductID   int64  `json:"product_id"`
	Date        string `json:"date"`
	CountryCode string `json:"country_code"`
	CountryName string `json:"country_name"`
	Counters
}

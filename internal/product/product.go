// Package product holds the tracked-product data model together with the
// pure price-history logic: summary statistics and merging a fresh listing
// into a stored record.
package product

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation is one recorded price. Position in a history is the
// chronological order; ObservedAt is informational.
type PriceObservation struct {
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Watcher is a user asking to be notified about a product.
type Watcher struct {
	Email string `json:"email"`
}

// TrackedProduct is a catalog entry whose price is monitored across runs.
// URL is the identity; ID is assigned by storage.
type TrackedProduct struct {
	ID            int64              `json:"id"`
	URL           string             `json:"url"`
	Title         string             `json:"title"`
	Currency      string             `json:"currency"`
	Image         string             `json:"image"`
	Description   string             `json:"description"`
	CurrentPrice  decimal.Decimal    `json:"current_price"`
	OriginalPrice decimal.Decimal    `json:"original_price"`
	InStock       bool               `json:"in_stock"`
	PriceHistory  []PriceObservation `json:"price_history"`
	LowestPrice   decimal.Decimal    `json:"lowest_price"`
	HighestPrice  decimal.Decimal    `json:"highest_price"`
	AveragePrice  decimal.Decimal    `json:"average_price"`
	DiscountRate  decimal.Decimal    `json:"discount_rate"`
	Watchers      []Watcher          `json:"watchers"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Emails returns the watcher addresses in stored order.
func (p TrackedProduct) Emails() []string {
	out := make([]string, 0, len(p.Watchers))
	for _, w := range p.Watchers {
		out = append(out, w.Email)
	}
	return out
}

// HasWatcher reports whether email already watches the product.
func (p TrackedProduct) HasWatcher(email string) bool {
	for _, w := range p.Watchers {
		if w.Email == email {
			return true
		}
	}
	return false
}

// Listing is the current state of a product page as returned by the fetch
// collaborator. It carries no history.
type Listing struct {
	URL           string
	Title         string
	Currency      string
	Image         string
	Description   string
	CurrentPrice  decimal.Decimal
	OriginalPrice decimal.Decimal
	DiscountRate  decimal.Decimal // percent, zero when the page shows none
	InStock       bool
}

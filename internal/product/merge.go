package product

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// New builds the first stored state of a URL from its first successful fetch.
func New(url string, l Listing, at time.Time) TrackedProduct {
	p := TrackedProduct{URL: url, CreatedAt: at}
	return Merge(p, l, at)
}

// Merge appends the listing's current price to the existing history and
// rebuilds the derived statistics. The listing is authoritative for current
// attributes; the stored record is authoritative for identity, history and
// watchers. existing is not modified.
func Merge(existing TrackedProduct, l Listing, at time.Time) TrackedProduct {
	history := make([]PriceObservation, 0, len(existing.PriceHistory)+1)
	history = append(history, existing.PriceHistory...)
	history = append(history, PriceObservation{Price: l.CurrentPrice, ObservedAt: at})

	// history holds at least the new observation.
	stats, _ := ComputeStats(history)

	watchers := make([]Watcher, len(existing.Watchers))
	copy(watchers, existing.Watchers)

	created := existing.CreatedAt
	if created.IsZero() {
		created = at
	}

	return TrackedProduct{
		ID:            existing.ID,
		URL:           existing.URL,
		Title:         l.Title,
		Currency:      l.Currency,
		Image:         l.Image,
		Description:   l.Description,
		CurrentPrice:  l.CurrentPrice,
		OriginalPrice: originalPrice(l),
		InStock:       l.InStock,
		PriceHistory:  history,
		LowestPrice:   stats.Lowest,
		HighestPrice:  stats.Highest,
		AveragePrice:  stats.Average,
		DiscountRate:  discountRate(l),
		Watchers:      watchers,
		CreatedAt:     created,
		UpdatedAt:     at,
	}
}

func originalPrice(l Listing) decimal.Decimal {
	if l.OriginalPrice.IsPositive() {
		return l.OriginalPrice
	}
	return l.CurrentPrice
}

// discountRate prefers the percentage printed on the page and falls back to
// the gap between list and current price, rounded to a whole percent.
func discountRate(l Listing) decimal.Decimal {
	if l.DiscountRate.IsPositive() {
		return l.DiscountRate
	}
	orig := l.OriginalPrice
	if !orig.IsPositive() || !l.CurrentPrice.LessThan(orig) {
		return decimal.Zero
	}
	return orig.Sub(l.CurrentPrice).Div(orig).Mul(hundred).Round(0)
}

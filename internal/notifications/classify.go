package notifications

import (
	"github.com/albapepper/pricewise/internal/product"
)

// Classify decides which single category, if any, the transition from
// previous to updated falls into. First match wins:
//
//	back in stock > new record low > >=50% below peak > cheaper than last run
func Classify(previous, updated product.TrackedProduct) (Category, bool) {
	switch {
	case !previous.InStock && updated.InStock:
		return CategoryBackInStock, true
	case isNewLow(previous, updated):
		return CategoryLowestPriceEver, true
	case meetsThreshold(updated):
		return CategoryThresholdDiscount, true
	case updated.CurrentPrice.LessThan(previous.CurrentPrice):
		return CategoryPriceDrop, true
	}
	return "", false
}

// NewEvent classifies the transition and addresses it to the updated
// record's watchers. No event is produced for a product nobody watches.
func NewEvent(previous, updated product.TrackedProduct) (Event, bool) {
	if len(updated.Watchers) == 0 {
		return Event{}, false
	}
	cat, ok := Classify(previous, updated)
	if !ok {
		return Event{}, false
	}
	return Event{
		Product:    SummaryOf(updated),
		Category:   cat,
		Recipients: updated.Emails(),
	}, true
}

// SummaryOf extracts the notification fields of a product.
func SummaryOf(p product.TrackedProduct) Summary {
	return Summary{
		ProductID:    p.ID,
		URL:          p.URL,
		Title:        p.Title,
		Image:        p.Image,
		Currency:     p.Currency,
		CurrentPrice: p.CurrentPrice,
		LowestPrice:  p.LowestPrice,
		HighestPrice: p.HighestPrice,
	}
}

// isNewLow requires the record low to have been set by this run, not tied
// with one from an earlier run. A previous state without history has no
// record to beat.
func isNewLow(previous, updated product.TrackedProduct) bool {
	if len(previous.PriceHistory) == 0 {
		return false
	}
	return updated.CurrentPrice.Equal(updated.LowestPrice) &&
		updated.LowestPrice.LessThan(previous.LowestPrice)
}

func meetsThreshold(updated product.TrackedProduct) bool {
	if !updated.HighestPrice.IsPositive() {
		return false
	}
	off := updated.HighestPrice.Sub(updated.CurrentPrice).Div(updated.HighestPrice)
	return off.GreaterThanOrEqual(discountThreshold)
}

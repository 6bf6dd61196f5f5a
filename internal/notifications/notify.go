// Package notifications classifies price movements of tracked products and
// emails the product's watchers.
//
// Pipeline: classify (previous, updated) → build event → render template →
// deliver to all watchers of the product in one mail.
package notifications

import (
	"errors"

	"github.com/shopspring/decimal"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Category is the reason a watcher is alerted. At most one per product per run.
type Category string

const (
	CategoryBackInStock       Category = "back_in_stock"
	CategoryLowestPriceEver   Category = "lowest_price_ever"
	CategoryThresholdDiscount Category = "threshold_discount"
	CategoryPriceDrop         Category = "price_drop"

	// CategoryWelcome is sent on subscription, never by the classifier.
	CategoryWelcome Category = "welcome"
)

// Fraction below the historical peak that qualifies as a threshold discount.
var discountThreshold = decimal.RequireFromString("0.5")

// Titles longer than this are shortened in welcome subjects.
const shortTitleLen = 20

var (
	// ErrDelivery wraps every failure of the delivery collaborator.
	ErrDelivery = errors.New("notification delivery failed")

	// ErrDeliveryDisabled is returned by Send when no sender is configured.
	// Nothing was delivered, but nothing failed either.
	ErrDeliveryDisabled = errors.New("email delivery disabled")
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Summary is the product information a notification carries.
type Summary struct {
	ProductID    int64
	URL          string
	Title        string
	Image        string
	Currency     string
	CurrentPrice decimal.Decimal
	LowestPrice  decimal.Decimal
	HighestPrice decimal.Decimal
}

// Event is a classified notification for one product. It lives for the
// duration of a run and is never persisted.
type Event struct {
	Product    Summary
	Category   Category
	Recipients []string
}

// Payload is a rendered message ready for delivery.
type Payload struct {
	Subject string
	Body    string // HTML
}

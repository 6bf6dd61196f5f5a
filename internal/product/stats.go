package product

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrEmptyHistory is returned when statistics are requested for a product
// that has no observations. Every merge appends before computing, so hitting
// this means a caller skipped the merge.
var ErrEmptyHistory = errors.New("empty price history")

// Stats summarises a price history.
type Stats struct {
	Lowest  decimal.Decimal
	Highest decimal.Decimal
	Average decimal.Decimal
}

// ComputeStats returns the lowest, highest and mean price of history.
func ComputeStats(history []PriceObservation) (Stats, error) {
	if len(history) == 0 {
		return Stats{}, ErrEmptyHistory
	}

	lowest := history[0].Price
	highest := history[0].Price
	sum := decimal.Zero
	for _, o := range history {
		if o.Price.LessThan(lowest) {
			lowest = o.Price
		}
		if o.Price.GreaterThan(highest) {
			highest = o.Price
		}
		sum = sum.Add(o.Price)
	}

	return Stats{
		Lowest:  lowest,
		Highest: highest,
		Average: sum.Div(decimal.NewFromInt(int64(len(history)))),
	}, nil
}

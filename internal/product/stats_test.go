package product

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func prices(vals ...string) []PriceObservation {
	out := make([]PriceObservation, len(vals))
	for i, v := range vals {
		out[i] = PriceObservation{Price: decimal.RequireFromString(v)}
	}
	return out
}

func TestComputeStats(t *testing.T) {
	tests := []struct {
		name                     string
		history                  []PriceObservation
		lowest, highest, average string
	}{
		{"single", prices("19.99"), "19.99", "19.99", "19.99"},
		{"two", prices("100", "90"), "90", "100", "95"},
		{"cents", prices("0.10", "0.20", "0.30"), "0.1", "0.3", "0.2"},
		{"unordered", prices("50", "10", "40", "30"), "10", "50", "32.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ComputeStats(tt.history)
			if err != nil {
				t.Fatalf("ComputeStats: %v", err)
			}
			if !s.Lowest.Equal(decimal.RequireFromString(tt.lowest)) {
				t.Errorf("lowest = %s, want %s", s.Lowest, tt.lowest)
			}
			if !s.Highest.Equal(decimal.RequireFromString(tt.highest)) {
				t.Errorf("highest = %s, want %s", s.Highest, tt.highest)
			}
			if !s.Average.Equal(decimal.RequireFromString(tt.average)) {
				t.Errorf("average = %s, want %s", s.Average, tt.average)
			}
		})
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	if _, err := ComputeStats(nil); !errors.Is(err, ErrEmptyHistory) {
		t.Fatalf("err = %v, want ErrEmptyHistory", err)
	}
	if s, err := ComputeStats([]PriceObservation{}); !errors.Is(err, ErrEmptyHistory) || !s.Lowest.IsZero() {
		t.Fatalf("ComputeStats(empty) = %+v, %v; want zero stats, ErrEmptyHistory", s, err)
	}
}

func TestComputeStatsBounds(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		n := 1 + r.IntN(40)
		history := make([]PriceObservation, n)
		for j := range history {
			// prices with two decimal places in [0.01, 10000.00]
			history[j] = PriceObservation{Price: decimal.New(int64(1+r.IntN(1_000_000)), -2), ObservedAt: time.Unix(int64(j), 0)}
		}

		s, err := ComputeStats(history)
		if err != nil {
			t.Fatalf("ComputeStats: %v", err)
		}
		for _, o := range history {
			if o.Price.LessThan(s.Lowest) || o.Price.GreaterThan(s.Highest) {
				t.Fatalf("observation %s outside [%s, %s]", o.Price, s.Lowest, s.Highest)
			}
		}
		if s.Average.LessThan(s.Lowest) || s.Average.GreaterThan(s.Highest) {
			t.Fatalf("average %s outside [%s, %s]", s.Average, s.Lowest, s.Highest)
		}
	}
}

package currency

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Rate is one fetched exchange-rate sample. Append-only time series;
// the newest row is the current rate.
type Rate struct {
	ID        int64
	Pair      string
	Value     decimal.Decimal
	Source    string
	FetchedAt time.Time
}

// Age returns how stale the sample is.
func (r *Rate) Age(now time.Time) time.Duration {
	return now.Sub(r.FetchedAt)
}

// RateRepository stores the series and serves the latest sample.
type RateRepository interface {
	Create(ctx context.Context, rate *Rate) error

	// Latest returns the most recent rate for a pair, nil if none.
	Latest(ctx context.Context, pair string) (*Rate, error)
}

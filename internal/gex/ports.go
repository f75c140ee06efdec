package gex

import (
	"context"
	"time"
)

// ChainReader returns the latest quote per contract for a symbol and
// expiration. Implementations exclude contracts with gamma <= 0 and count,
// rather than return, contracts last updated more than maxStaleness ago.
// A maxStaleness of zero disables the staleness filter.
type ChainReader interface {
	LatestContracts(ctx context.Context, symbol string, expiration time.Time, maxStaleness time.Duration) (ChainSnapshot, error)
}

// Quote is an underlying price observation.
type Quote struct {
	Price float64
	AsOf  time.Time
}

// PriceSource returns the most recent underlying quote. It returns an error
// matching ErrNoData when nothing is known for the symbol.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (Quote, error)
}

// MetricsWriter persists one metrics record per MetricsKey. Writing the same
// key twice must leave one record holding the latest values.
type MetricsWriter interface {
	UpsertGEXMetrics(ctx context.Context, m *GEXMetrics) error
}

// HistoryReader reads persisted metrics. MetricsHistory is ordered by
// timestamp ascending. LatestMetrics returns ErrNoData on an empty history.
type HistoryReader interface {
	MetricsHistory(ctx context.Context, symbol string, since time.Time) ([]GEXMetrics, error)
	LatestMetrics(ctx context.Context, symbol string) (*GEXMetrics, error)
}

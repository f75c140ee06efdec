// Package memory is a process-local store holding the latest quote per
// contract, the latest underlying price per symbol and the metrics history.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/zerogex/internal/gex"
)

// Store implements gex.ChainReader, gex.PriceSource, gex.MetricsWriter and
// gex.HistoryReader. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	quotes  map[gex.ContractKey]gex.OptionContractQuote
	prices  map[string]gex.Quote
	metrics map[string][]gex.GEXMetrics // symbol -> ordered by timestamp, expiration
	now     func() time.Time
}

func New() *Store {
	return &Store{
		quotes:  make(map[gex.ContractKey]gex.OptionContractQuote),
		prices:  make(map[string]gex.Quote),
		metrics: make(map[string][]gex.GEXMetrics),
		now:     time.Now,
	}
}

// SetClock replaces the clock used for staleness checks.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// UpsertQuotes stores quotes, keeping only the most recently updated row per
// contract. Older ticks are dropped.
func (s *Store) UpsertQuotes(_ context.Context, quotes ...gex.OptionContractQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range quotes {
		q.Expiration = gex.DateOf(q.Expiration, nil)
		key := q.Key()
		if cur, ok := s.quotes[key]; ok && cur.LastUpdated.After(q.LastUpdated) {
			continue
		}
		s.quotes[key] = q
	}
	return nil
}

// SetPrice records an underlying quote if it is newer than the current one.
func (s *Store) SetPrice(symbol string, price float64, asOf time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.prices[symbol]; ok && cur.AsOf.After(asOf) {
		return
	}
	s.prices[symbol] = gex.Quote{Price: price, AsOf: asOf}
}

// LatestContracts implements gex.ChainReader.
func (s *Store) LatestContracts(_ context.Context, symbol string, expiration time.Time, maxStaleness time.Duration) (gex.ChainSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp := expiration.Format(gex.DateLayout)
	cutoff := s.now().Add(-maxStaleness)

	var snap gex.ChainSnapshot
	for key, q := range s.quotes {
		if key.Symbol != symbol || key.Expiration != exp || !(q.Gamma > 0) {
			continue
		}
		if maxStaleness > 0 && q.LastUpdated.Before(cutoff) {
			snap.StaleCount++
			continue
		}
		snap.Contracts = append(snap.Contracts, q)
	}

	sort.Slice(snap.Contracts, func(i, j int) bool {
		a, b := snap.Contracts[i], snap.Contracts[j]
		if c := a.Strike.Cmp(b.Strike); c != 0 {
			return c < 0
		}
		return a.Type < b.Type
	})
	return snap, nil
}

// LatestPrice implements gex.PriceSource.
func (s *Store) LatestPrice(_ context.Context, symbol string) (gex.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.prices[symbol]
	if !ok {
		return gex.Quote{}, gex.ErrNoData
	}
	return q, nil
}

// UpsertGEXMetrics implements gex.MetricsWriter. A record with an existing
// key replaces the stored one.
func (s *Store) UpsertGEXMetrics(_ context.Context, m *gex.GEXMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertLocked(*m)
	return nil
}

func (s *Store) insertLocked(m gex.GEXMetrics) {
	rows := s.metrics[m.Symbol]
	key := m.Key()
	for i := range rows {
		if rows[i].Key() == key {
			rows[i] = m
			return
		}
	}

	i := sort.Search(len(rows), func(i int) bool {
		return after(&rows[i], &m)
	})
	rows = append(rows, gex.GEXMetrics{})
	copy(rows[i+1:], rows[i:])
	rows[i] = m
	s.metrics[m.Symbol] = rows
}

// after orders records by timestamp, then expiration.
func after(a, b *gex.GEXMetrics) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.Expiration.After(b.Expiration)
}

// MetricsHistory implements gex.HistoryReader. Records at or after since are
// returned in timestamp order, ties by expiration.
func (s *Store) MetricsHistory(_ context.Context, symbol string, since time.Time) ([]gex.GEXMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.metrics[symbol]
	i := sort.Search(len(rows), func(i int) bool {
		return !rows[i].Timestamp.Before(since)
	})
	out := make([]gex.GEXMetrics, len(rows)-i)
	copy(out, rows[i:])
	return out, nil
}

// LatestMetrics implements gex.HistoryReader. When several expirations share
// the newest timestamp, the furthest expiration wins.
func (s *Store) LatestMetrics(_ context.Context, symbol string) (*gex.GEXMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.metrics[symbol]
	if len(rows) == 0 {
		return nil, gex.ErrNoData
	}
	m := rows[len(rows)-1]
	return &m, nil
}

// AllMetrics returns every stored record grouped by symbol in timestamp
// order. Symbols are sorted.
func (s *Store) AllMetrics() []gex.GEXMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.metrics))
	for sym := range s.metrics {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var out []gex.GEXMetrics
	for _, sym := range symbols {
		out = append(out, s.metrics[sym]...)
	}
	return out
}

// LoadMetrics bulk inserts records using upsert semantics.
func (s *Store) LoadMetrics(rows []gex.GEXMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range rows {
		s.insertLocked(m)
	}
}

// Close is a no-op.
func (s *Store) Close() {}

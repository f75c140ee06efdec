// Package postgres stores chain quotes and GEX metrics in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/gex"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

// New connects and verifies the connection with a ping.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{pool: pool, logger: logger, now: time.Now}, nil
}

// SetClock replaces the clock used for staleness checks.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) staleBefore(maxStaleness time.Duration) time.Time {
	return s.now().Add(-maxStaleness)
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

const latestContractsSQL = `
SELECT DISTINCT ON (strike, option_type)
    symbol, strike, expiration, option_type, open_interest, volume,
    gamma, delta, vega, implied_volatility, COALESCE(underlying_price, 0), last_updated
FROM options_quotes
WHERE symbol = $1
    AND expiration = $2
    AND gamma IS NOT NULL
    AND gamma > 0
ORDER BY strike, option_type, last_updated DESC`

// LatestContracts implements gex.ChainReader.
func (s *Store) LatestContracts(ctx context.Context, symbol string, expiration time.Time, maxStaleness time.Duration) (gex.ChainSnapshot, error) {
	rows, err := s.pool.Query(ctx, latestContractsSQL, symbol, expiration)
	if err != nil {
		return gex.ChainSnapshot{}, fmt.Errorf("querying contracts: %w", err)
	}
	defer rows.Close()

	cutoff := s.staleBefore(maxStaleness)
	var snap gex.ChainSnapshot
	for rows.Next() {
		var (
			q     gex.OptionContractQuote
			typ   string
			gamma *float64
		)
		if err := rows.Scan(&q.Symbol, &q.Strike, &q.Expiration, &typ, &q.OpenInterest, &q.Volume,
			&gamma, &q.Delta, &q.Vega, &q.ImpliedVolatility, &q.UnderlyingPrice, &q.LastUpdated); err != nil {
			return gex.ChainSnapshot{}, fmt.Errorf("scanning contract: %w", err)
		}
		q.Type = gex.OptionType(typ)
		if gamma != nil {
			q.Gamma = *gamma
		}
		if maxStaleness > 0 && q.LastUpdated.Before(cutoff) {
			snap.StaleCount++
			continue
		}
		snap.Contracts = append(snap.Contracts, q)
	}
	if err := rows.Err(); err != nil {
		return gex.ChainSnapshot{}, fmt.Errorf("reading contracts: %w", err)
	}

	if len(snap.Contracts) == 0 {
		s.logger.Debug("no eligible contracts",
			zap.String("symbol", symbol),
			zap.String("expiration", expiration.Format(gex.DateLayout)),
			zap.Int("stale", snap.StaleCount),
		)
	}
	return snap, nil
}

const upsertQuoteSQL = `
INSERT INTO options_quotes
    (symbol, strike, expiration, option_type, open_interest, volume,
     gamma, delta, vega, implied_volatility, underlying_price, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (symbol, strike, expiration, option_type) DO UPDATE SET
    open_interest = EXCLUDED.open_interest,
    volume = EXCLUDED.volume,
    gamma = EXCLUDED.gamma,
    delta = EXCLUDED.delta,
    vega = EXCLUDED.vega,
    implied_volatility = EXCLUDED.implied_volatility,
    underlying_price = EXCLUDED.underlying_price,
    last_updated = EXCLUDED.last_updated
WHERE EXCLUDED.last_updated >= options_quotes.last_updated`

// UpsertQuotes writes quotes in one batch, keeping the newest row per
// contract.
func (s *Store) UpsertQuotes(ctx context.Context, quotes ...gex.OptionContractQuote) error {
	batch := &pgx.Batch{}
	for _, q := range quotes {
		var gamma *float64
		if q.Gamma > 0 {
			g := q.Gamma
			gamma = &g
		}
		batch.Queue(upsertQuoteSQL, q.Symbol, q.Strike, gex.DateOf(q.Expiration, nil), string(q.Type),
			q.OpenInterest, q.Volume, gamma, q.Delta, q.Vega, q.ImpliedVolatility, q.UnderlyingPrice, q.LastUpdated)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range quotes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upserting quote: %w", err)
		}
	}
	return nil
}

// SetPrice records an underlying quote.
func (s *Store) SetPrice(ctx context.Context, symbol string, price float64, asOf time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO underlying_quotes (symbol, as_of, price) VALUES ($1, $2, $3)
ON CONFLICT (symbol, as_of) DO UPDATE SET price = EXCLUDED.price`, symbol, asOf, price)
	if err != nil {
		return fmt.Errorf("inserting price: %w", err)
	}
	return nil
}

// LatestPrice implements gex.PriceSource.
func (s *Store) LatestPrice(ctx context.Context, symbol string) (gex.Quote, error) {
	var q gex.Quote
	err := s.pool.QueryRow(ctx,
		`SELECT price, as_of FROM underlying_quotes WHERE symbol = $1 ORDER BY as_of DESC LIMIT 1`,
		symbol,
	).Scan(&q.Price, &q.AsOf)
	if errors.Is(err, pgx.ErrNoRows) {
		return gex.Quote{}, gex.ErrNoData
	}
	if err != nil {
		return gex.Quote{}, fmt.Errorf("querying price: %w", err)
	}
	return q, nil
}

const upsertMetricsSQL = `
INSERT INTO gex_metrics
    (timestamp, symbol, expiration, underlying_price,
     total_gamma_exposure, call_gamma, put_gamma, net_gex,
     call_volume, put_volume, call_oi, put_oi, total_contracts,
     max_gamma_strike, max_gamma_value, gamma_flip_point, max_pain,
     put_call_ratio, vanna_exposure, charm_exposure)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (timestamp, symbol, expiration) DO UPDATE SET
    underlying_price = EXCLUDED.underlying_price,
    total_gamma_exposure = EXCLUDED.total_gamma_exposure,
    call_gamma = EXCLUDED.call_gamma,
    put_gamma = EXCLUDED.put_gamma,
    net_gex = EXCLUDED.net_gex,
    call_volume = EXCLUDED.call_volume,
    put_volume = EXCLUDED.put_volume,
    call_oi = EXCLUDED.call_oi,
    put_oi = EXCLUDED.put_oi,
    total_contracts = EXCLUDED.total_contracts,
    max_gamma_strike = EXCLUDED.max_gamma_strike,
    max_gamma_value = EXCLUDED.max_gamma_value,
    gamma_flip_point = EXCLUDED.gamma_flip_point,
    max_pain = EXCLUDED.max_pain,
    put_call_ratio = EXCLUDED.put_call_ratio,
    vanna_exposure = EXCLUDED.vanna_exposure,
    charm_exposure = EXCLUDED.charm_exposure`

// UpsertGEXMetrics implements gex.MetricsWriter.
func (s *Store) UpsertGEXMetrics(ctx context.Context, m *gex.GEXMetrics) error {
	_, err := s.pool.Exec(ctx, upsertMetricsSQL,
		m.Timestamp, m.Symbol, m.Expiration, m.UnderlyingPrice,
		m.TotalGammaExposure, m.CallGamma, m.PutGamma, m.NetGEX,
		m.CallVolume, m.PutVolume, m.CallOI, m.PutOI, m.TotalContracts,
		m.MaxGammaStrike, m.MaxGammaValue, m.GammaFlipPoint, m.MaxPain,
		m.PutCallRatio, m.VannaExposure, m.CharmExposure,
	)
	if err != nil {
		return fmt.Errorf("upserting metrics: %w", err)
	}
	s.logger.Debug("metrics stored",
		zap.String("symbol", m.Symbol),
		zap.Time("timestamp", m.Timestamp),
	)
	return nil
}

const metricsColumns = `
    timestamp, symbol, expiration, underlying_price,
    total_gamma_exposure, call_gamma, put_gamma, net_gex,
    call_volume, put_volume, call_oi, put_oi, total_contracts,
    max_gamma_strike, max_gamma_value, gamma_flip_point, max_pain,
    put_call_ratio, vanna_exposure, charm_exposure`

// MetricsHistory implements gex.HistoryReader.
func (s *Store) MetricsHistory(ctx context.Context, symbol string, since time.Time) ([]gex.GEXMetrics, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+metricsColumns+` FROM gex_metrics WHERE symbol = $1 AND timestamp >= $2 ORDER BY timestamp ASC, expiration ASC`,
		symbol, since,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []gex.GEXMetrics
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return out, nil
}

// LatestMetrics implements gex.HistoryReader.
func (s *Store) LatestMetrics(ctx context.Context, symbol string) (*gex.GEXMetrics, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+metricsColumns+` FROM gex_metrics WHERE symbol = $1 ORDER BY timestamp DESC, expiration DESC LIMIT 1`,
		symbol,
	)
	m, err := scanMetrics(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gex.ErrNoData
	}
	return m, err
}

func scanMetrics(row pgx.Row) (*gex.GEXMetrics, error) {
	var (
		m       gex.GEXMetrics
		maxPain decimal.NullDecimal
	)
	err := row.Scan(
		&m.Timestamp, &m.Symbol, &m.Expiration, &m.UnderlyingPrice,
		&m.TotalGammaExposure, &m.CallGamma, &m.PutGamma, &m.NetGEX,
		&m.CallVolume, &m.PutVolume, &m.CallOI, &m.PutOI, &m.TotalContracts,
		&m.MaxGammaStrike, &m.MaxGammaValue, &m.GammaFlipPoint, &maxPain,
		&m.PutCallRatio, &m.VannaExposure, &m.CharmExposure,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning metrics: %w", err)
	}
	if maxPain.Valid {
		m.MaxPain = maxPain.Decimal
	}
	return &m, nil
}

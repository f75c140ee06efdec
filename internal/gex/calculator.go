package gex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Config controls a Calculator.
type Config struct {
	ContractMultiplier float64
	// MaxStaleness is passed to the ChainReader; zero disables the filter.
	MaxStaleness time.Duration
	// TimestampGranularity truncates the record timestamp so repeated passes
	// within one tick share a persistence key.
	TimestampGranularity time.Duration
	// Location decides what "today" means for the default expiration.
	Location *time.Location
	Now      func() time.Time
}

// DefaultConfig returns the settings used for SPY 0DTE.
func DefaultConfig() Config {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Config{
		ContractMultiplier:   DefaultContractMultiplier,
		MaxStaleness:         time.Hour,
		TimestampGranularity: time.Minute,
		Location:             loc,
		Now:                  time.Now,
	}
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.ContractMultiplier <= 0 {
		c.ContractMultiplier = def.ContractMultiplier
	}
	if c.TimestampGranularity <= 0 {
		c.TimestampGranularity = def.TimestampGranularity
	}
	if c.Location == nil {
		c.Location = def.Location
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Request selects what to calculate. A nil Price falls back to the price
// source; a zero Expiration means today's expiration.
type Request struct {
	Symbol     string
	Price      *float64
	Expiration time.Time
}

// Result is the output of one calculation pass.
type Result struct {
	Metrics *GEXMetrics
	Profile []StrikeGammaProfile
}

// Calculator turns a chain snapshot into a persisted GEXMetrics record.
// It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	chain  ChainReader
	prices PriceSource
	writer MetricsWriter
	cfg    Config
	logger *zap.Logger
}

// NewCalculator creates a Calculator. prices may be nil, in which case the
// underlying price of the most recently updated contract is used.
func NewCalculator(chain ChainReader, prices PriceSource, writer MetricsWriter, cfg Config, logger *zap.Logger) *Calculator {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{
		chain:  chain,
		prices: prices,
		writer: writer,
		cfg:    cfg,
		logger: logger,
	}
}

// Today returns today's expiration date in the configured location.
func (c *Calculator) Today() time.Time {
	return DateOf(c.cfg.Now(), c.cfg.Location)
}

// CalculateCurrentGEX fetches the latest chain, computes metrics and writes
// exactly one record. Nothing is written when any step fails.
func (c *Calculator) CalculateCurrentGEX(ctx context.Context, req Request) (*Result, error) {
	ts := c.cfg.Now().UTC().Truncate(c.cfg.TimestampGranularity)
	expiration := req.Expiration
	if expiration.IsZero() {
		expiration = c.Today()
	} else {
		expiration = DateOf(expiration, nil)
	}

	fail := func(err error) error {
		return &CalcError{Op: "calculate", Symbol: req.Symbol, Expiration: expiration, At: ts, Err: err}
	}

	if req.Symbol == "" {
		return nil, fail(ErrInvalidSymbol)
	}
	if req.Price != nil && !validPrice(*req.Price) {
		return nil, fail(fmt.Errorf("%w: %v", ErrInvalidPrice, *req.Price))
	}

	snap, err := c.chain.LatestContracts(ctx, req.Symbol, expiration, c.cfg.MaxStaleness)
	if err != nil {
		return nil, fail(fmt.Errorf("fetching chain: %w", err))
	}

	contracts := eligible(snap.Contracts)
	if len(contracts) == 0 {
		if snap.StaleCount > 0 {
			c.logger.Warn("chain is stale",
				zap.String("symbol", req.Symbol),
				zap.Int("stale", snap.StaleCount),
			)
			return nil, fail(ErrStaleData)
		}
		return nil, fail(ErrNoData)
	}

	price, err := c.resolvePrice(ctx, req, contracts)
	if err != nil {
		return nil, fail(err)
	}

	metrics, profile := Compute(req.Symbol, expiration, ts, price, contracts, c.cfg.ContractMultiplier)
	if err := metrics.Validate(); err != nil {
		return nil, fail(err)
	}

	if err := c.writer.UpsertGEXMetrics(ctx, metrics); err != nil {
		return nil, fail(fmt.Errorf("writing metrics: %w", err))
	}

	fields := []zap.Field{
		zap.String("symbol", metrics.Symbol),
		zap.String("expiration", metrics.Expiration.Format(DateLayout)),
		zap.Int("contracts", len(contracts)),
		zap.Float64("price", price),
		zap.Float64("totalGEX", metrics.TotalGammaExposure),
		zap.Float64("netGEX", metrics.NetGEX),
		zap.String("maxGammaStrike", metrics.MaxGammaStrike.String()),
		zap.String("regime", string(metrics.GammaRegime())),
	}
	if metrics.GammaFlipPoint != nil {
		fields = append(fields, zap.Float64("flipPoint", *metrics.GammaFlipPoint))
	}
	c.logger.Info("gex calculated", fields...)

	return &Result{Metrics: metrics, Profile: profile}, nil
}

func (c *Calculator) resolvePrice(ctx context.Context, req Request, contracts []OptionContractQuote) (float64, error) {
	if req.Price != nil {
		return *req.Price, nil
	}

	if c.prices == nil {
		latest := contracts[0]
		for _, q := range contracts[1:] {
			if q.LastUpdated.After(latest.LastUpdated) {
				latest = q
			}
		}
		if !validPrice(latest.UnderlyingPrice) {
			return 0, fmt.Errorf("%w: no underlying price in chain", ErrInvalidPrice)
		}
		c.logger.Debug("using price from chain", zap.Float64("price", latest.UnderlyingPrice))
		return latest.UnderlyingPrice, nil
	}

	quote, err := c.prices.LatestPrice(ctx, req.Symbol)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return 0, fmt.Errorf("%w: no underlying quote", ErrInvalidPrice)
		}
		return 0, fmt.Errorf("fetching price: %w", err)
	}
	if !validPrice(quote.Price) {
		return 0, fmt.Errorf("%w: latest quote %v", ErrInvalidPrice, quote.Price)
	}
	return quote.Price, nil
}

// Compute is the pure aggregation behind CalculateCurrentGEX. contracts must
// already be eligible and spot must be positive.
func Compute(symbol string, expiration, ts time.Time, spot float64, contracts []OptionContractQuote, multiplier float64) (*GEXMetrics, []StrikeGammaProfile) {
	m := &GEXMetrics{
		Timestamp:       ts,
		Symbol:          symbol,
		Expiration:      expiration,
		UnderlyingPrice: spot,
	}

	for i := range contracts {
		q := &contracts[i]
		exp := Exposure(q.Gamma, q.OpenInterest, multiplier, spot)
		switch q.Type {
		case Call:
			m.CallGamma += exp
			m.CallVolume += q.Volume
			m.CallOI += q.OpenInterest
		case Put:
			m.PutGamma += exp
			m.PutVolume += q.Volume
			m.PutOI += q.OpenInterest
		}

		if !present(q.Delta) {
			continue
		}
		m.CharmExposure += Exposure(q.Gamma*(*q.Delta), q.OpenInterest, multiplier, spot)
		if present(q.Vega) {
			m.VannaExposure += Exposure((*q.Vega)*(*q.Delta), q.OpenInterest, multiplier, spot)
		}
	}

	m.TotalGammaExposure = m.CallGamma + m.PutGamma
	m.NetGEX = m.CallGamma - m.PutGamma
	m.TotalContracts = m.CallOI + m.PutOI
	if m.CallVolume > 0 {
		ratio := float64(m.PutVolume) / float64(m.CallVolume)
		m.PutCallRatio = &ratio
	}

	profile := BuildProfile(contracts, spot, multiplier)
	m.MaxGammaStrike, m.MaxGammaValue = MaxGammaStrike(profile)
	m.GammaFlipPoint = GammaFlipPoint(profile)
	m.MaxPain = MaxPain(contracts, multiplier)

	return m, profile
}

func eligible(contracts []OptionContractQuote) []OptionContractQuote {
	out := make([]OptionContractQuote, 0, len(contracts))
	for _, q := range contracts {
		if q.Gamma > 0 && !math.IsInf(q.Gamma, 0) && q.OpenInterest >= 0 {
			out = append(out, q)
		}
	}
	return out
}

func validPrice(p float64) bool {
	return p > 0 && IsFinite(p)
}

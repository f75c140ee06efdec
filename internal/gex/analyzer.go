package gex

import (
	"context"
	"fmt"
	"iter"
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AnalyzerConfig controls an Analyzer.
type AnalyzerConfig struct {
	ContractMultiplier float64
	MaxStaleness       time.Duration
	// NearMoneyBand is the fractional distance from spot within which
	// contracts feed the implied volatility proxy.
	NearMoneyBand float64
	// HorizonDays is the expected move horizon in trading days.
	HorizonDays        float64
	TradingDaysPerYear float64
	Now                func() time.Time
}

// DefaultAnalyzerConfig returns a 1 trading day horizon with a 2% band.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		ContractMultiplier: DefaultContractMultiplier,
		MaxStaleness:       time.Hour,
		NearMoneyBand:      0.02,
		HorizonDays:        1,
		TradingDaysPerYear: 252,
		Now:                time.Now,
	}
}

// Analyzer answers read-only questions over persisted metrics and the
// latest chain snapshot.
type Analyzer struct {
	history HistoryReader
	chain   ChainReader
	cfg     AnalyzerConfig
	logger  *zap.Logger
}

// NewAnalyzer creates an Analyzer. Zero config fields take their defaults.
func NewAnalyzer(history HistoryReader, chain ChainReader, cfg AnalyzerConfig, logger *zap.Logger) *Analyzer {
	def := DefaultAnalyzerConfig()
	if cfg.ContractMultiplier <= 0 {
		cfg.ContractMultiplier = def.ContractMultiplier
	}
	if cfg.NearMoneyBand <= 0 {
		cfg.NearMoneyBand = def.NearMoneyBand
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = def.HorizonDays
	}
	if cfg.TradingDaysPerYear <= 0 {
		cfg.TradingDaysPerYear = def.TradingDaysPerYear
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{history: history, chain: chain, cfg: cfg, logger: logger}
}

// SummarizeCurrentState returns the most recent metrics and its regime.
func (a *Analyzer) SummarizeCurrentState(ctx context.Context, symbol string) (*Summary, error) {
	latest, err := a.latest(ctx, "summarize", symbol)
	if err != nil {
		return nil, err
	}

	regime := latest.GammaRegime()
	s := &Summary{
		Metrics:     *latest,
		Regime:      regime,
		RegimeLabel: regime.Label(),
	}
	if latest.GammaFlipPoint != nil {
		d := latest.UnderlyingPrice - *latest.GammaFlipPoint
		s.DistanceToFlip = &d
	}
	return s, nil
}

// FindKeyGammaLevels rebuilds the strike profile from the latest snapshot
// and returns strikes whose total gamma is at least thresholdMillions * 1e6.
// Support strikes have positive net gamma and sit at or below spot;
// resistance strikes sit above spot. Both lists are ordered nearest first.
func (a *Analyzer) FindKeyGammaLevels(ctx context.Context, symbol string, thresholdMillions float64) (*KeyLevels, error) {
	if thresholdMillions < 0 || math.IsNaN(thresholdMillions) {
		return nil, &CalcError{Op: "key levels", Symbol: symbol, At: a.cfg.Now(), Err: ErrInvalidThreshold}
	}
	latest, err := a.latest(ctx, "key levels", symbol)
	if err != nil {
		return nil, err
	}

	contracts, err := a.snapshot(ctx, "key levels", latest)
	if err != nil {
		return nil, err
	}

	spot := latest.UnderlyingPrice
	spotDec := decimal.NewFromFloat(spot)
	threshold := thresholdMillions * 1e6

	levels := &KeyLevels{
		Symbol:     symbol,
		Spot:       spot,
		Threshold:  threshold,
		Support:    []decimal.Decimal{},
		Resistance: []decimal.Decimal{},
	}
	for _, p := range BuildProfile(contracts, spot, a.cfg.ContractMultiplier) {
		if p.TotalGamma < threshold {
			continue
		}
		if p.Strike.GreaterThan(spotDec) {
			levels.Resistance = append(levels.Resistance, p.Strike)
		} else if p.NetGamma > 0 {
			levels.Support = append(levels.Support, p.Strike)
		}
	}
	byProximity(levels.Support, spotDec)
	byProximity(levels.Resistance, spotDec)

	a.logger.Debug("key levels found",
		zap.String("symbol", symbol),
		zap.Int("support", len(levels.Support)),
		zap.Int("resistance", len(levels.Resistance)),
	)
	return levels, nil
}

// AnalyzeGammaRegimeChanges fetches the metrics of the trailing window and
// returns the regime transitions within it.
func (a *Analyzer) AnalyzeGammaRegimeChanges(ctx context.Context, symbol string, window time.Duration) (iter.Seq[RegimeTransition], error) {
	now := a.cfg.Now()
	rows, err := a.history.MetricsHistory(ctx, symbol, now.Add(-window))
	if err != nil {
		return nil, &CalcError{Op: "regime changes", Symbol: symbol, At: now, Err: fmt.Errorf("fetching history: %w", err)}
	}
	return Transitions(rows), nil
}

// Transitions yields one event each time IsPositiveGammaRegime flips between
// consecutive records. rows must be ordered by timestamp ascending and are
// not modified. The sequence can be ranged over any number of times.
func Transitions(rows []GEXMetrics) iter.Seq[RegimeTransition] {
	return func(yield func(RegimeTransition) bool) {
		for i := 1; i < len(rows); i++ {
			prev, cur := &rows[i-1], &rows[i]
			if prev.IsPositiveGammaRegime() == cur.IsPositiveGammaRegime() {
				continue
			}
			t := RegimeTransition{
				Timestamp: cur.Timestamp,
				From:      prev.GammaRegime(),
				To:        cur.GammaRegime(),
				Price:     cur.UnderlyingPrice,
				NetGEX:    cur.NetGEX,
			}
			if !yield(t) {
				return
			}
		}
	}
}

// CalculateExpectedMove estimates a symmetric range around spot from the
// mean implied volatility of near-the-money contracts and the two-tailed
// normal quantile of confidence.
func (a *Analyzer) CalculateExpectedMove(ctx context.Context, symbol string, confidence float64) (*ExpectedMove, error) {
	if !(confidence > 0 && confidence < 1) {
		return nil, &CalcError{Op: "expected move", Symbol: symbol, At: a.cfg.Now(),
			Err: fmt.Errorf("%w: got %v", ErrInvalidConfidence, confidence)}
	}

	latest, err := a.latest(ctx, "expected move", symbol)
	if err != nil {
		return nil, err
	}
	contracts, err := a.snapshot(ctx, "expected move", latest)
	if err != nil {
		return nil, err
	}

	spot := latest.UnderlyingPrice
	iv, err := a.impliedVolProxy(contracts, spot)
	if err != nil {
		return nil, &CalcError{Op: "expected move", Symbol: symbol, Expiration: latest.Expiration, At: latest.Timestamp, Err: err}
	}

	z := stats.NormPpf(1-(1-confidence)/2, 0, 1)
	move := iv * math.Sqrt(a.cfg.HorizonDays/a.cfg.TradingDaysPerYear) * z

	return &ExpectedMove{
		Symbol:            symbol,
		Spot:              spot,
		Confidence:        confidence,
		ImpliedVolatility: iv,
		ZScore:            z,
		MovePct:           move,
		ExpectedLow:       spot * (1 - move),
		ExpectedHigh:      spot * (1 + move),
	}, nil
}

// impliedVolProxy averages the IV of contracts within the near-money band.
// When the band is empty it falls back to the strike nearest spot.
func (a *Analyzer) impliedVolProxy(contracts []OptionContractQuote, spot float64) (float64, error) {
	var band stats.Float64Data
	nearest := math.Inf(1)
	var atNearest stats.Float64Data

	for _, q := range contracts {
		if q.ImpliedVolatility == nil || *q.ImpliedVolatility <= 0 {
			continue
		}
		iv := *q.ImpliedVolatility
		dist := math.Abs(q.Strike.InexactFloat64() - spot)
		if dist/spot <= a.cfg.NearMoneyBand {
			band = append(band, iv)
		}
		switch {
		case dist < nearest:
			nearest = dist
			atNearest = stats.Float64Data{iv}
		case dist == nearest:
			atNearest = append(atNearest, iv)
		}
	}

	if len(band) == 0 {
		band = atNearest
	}
	if len(band) == 0 {
		return 0, fmt.Errorf("%w: no implied volatility in snapshot", ErrNoData)
	}
	return stats.Mean(band)
}

func (a *Analyzer) latest(ctx context.Context, op, symbol string) (*GEXMetrics, error) {
	if symbol == "" {
		return nil, &CalcError{Op: op, At: a.cfg.Now(), Err: ErrInvalidSymbol}
	}
	m, err := a.history.LatestMetrics(ctx, symbol)
	if err != nil {
		return nil, &CalcError{Op: op, Symbol: symbol, At: a.cfg.Now(), Err: err}
	}
	return m, nil
}

func (a *Analyzer) snapshot(ctx context.Context, op string, latest *GEXMetrics) ([]OptionContractQuote, error) {
	fail := func(err error) error {
		return &CalcError{Op: op, Symbol: latest.Symbol, Expiration: latest.Expiration, At: latest.Timestamp, Err: err}
	}
	snap, err := a.chain.LatestContracts(ctx, latest.Symbol, latest.Expiration, a.cfg.MaxStaleness)
	if err != nil {
		return nil, fail(fmt.Errorf("fetching chain: %w", err))
	}
	contracts := eligible(snap.Contracts)
	if len(contracts) == 0 {
		if snap.StaleCount > 0 {
			return nil, fail(ErrStaleData)
		}
		return nil, fail(ErrNoData)
	}
	return contracts, nil
}

func byProximity(strikes []decimal.Decimal, spot decimal.Decimal) {
	sort.SliceStable(strikes, func(i, j int) bool {
		di := strikes[i].Sub(spot).Abs()
		dj := strikes[j].Sub(spot).Abs()
		if c := di.Cmp(dj); c != 0 {
			return c < 0
		}
		return strikes[i].LessThan(strikes[j])
	})
}

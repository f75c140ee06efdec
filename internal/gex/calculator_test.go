package gex_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/zerogex/internal/gex"
	"github.com/dgnsrekt/zerogex/internal/store/memory"
)

var (
	testNow = time.Date(2025, 1, 17, 15, 0, 30, 0, time.UTC)
	testExp = time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)
)

func ptr(v float64) *float64 { return &v }

func quote(strike float64, typ gex.OptionType, gamma float64, oi, volume int64) gex.OptionContractQuote {
	return gex.OptionContractQuote{
		Symbol:          "SPY",
		Strike:          decimal.NewFromFloat(strike),
		Expiration:      testExp,
		Type:            typ,
		OpenInterest:    oi,
		Volume:          volume,
		Gamma:           gamma,
		UnderlyingPrice: 602,
		LastUpdated:     testNow.Add(-time.Minute),
	}
}

func scenarioChain() []gex.OptionContractQuote {
	return []gex.OptionContractQuote{
		quote(600, gex.Call, 0.05, 1000, 100),
		quote(600, gex.Put, 0.04, 1200, 300),
		quote(605, gex.Call, 0.03, 500, 50),
	}
}

func newCalculator(t *testing.T, store *memory.Store) *gex.Calculator {
	t.Helper()
	store.SetClock(func() time.Time { return testNow })
	cfg := gex.DefaultConfig()
	cfg.Now = func() time.Time { return testNow }
	return gex.NewCalculator(store, store, store, cfg, nil)
}

func TestCalculateCurrentGEX_Scenario(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.UpsertQuotes(ctx, scenarioChain()...))
	calc := newCalculator(t, store)

	res, err := calc.CalculateCurrentGEX(ctx, gex.Request{Symbol: "SPY", Price: ptr(602), Expiration: testExp})
	require.NoError(t, err)
	m := res.Metrics

	scale := 100 * 602.0 * 602.0 * 0.01
	assert.InEpsilon(t, (0.05*1000+0.04*1200+0.03*500)*scale, m.TotalGammaExposure, 1e-12)
	assert.InEpsilon(t, (0.05*1000-0.04*1200+0.03*500)*scale, m.NetGEX, 1e-12)
	assert.Equal(t, m.CallGamma+m.PutGamma, m.TotalGammaExposure)
	assert.Equal(t, m.CallGamma-m.PutGamma, m.NetGEX)
	assert.True(t, m.MaxGammaStrike.Equal(decimal.NewFromInt(600)))
	assert.InEpsilon(t, (0.05*1000+0.04*1200)*scale, m.MaxGammaValue, 1e-12)
	assert.Nil(t, m.GammaFlipPoint, "cumulative net gamma never changes sign")
	require.NotNil(t, m.PutCallRatio)
	assert.InDelta(t, 2.0, *m.PutCallRatio, 1e-12)
	assert.Equal(t, int64(1500), m.CallOI)
	assert.Equal(t, int64(1200), m.PutOI)
	assert.Equal(t, int64(2700), m.TotalContracts)
	assert.True(t, m.MaxPain.Equal(decimal.NewFromInt(600)))
	assert.True(t, m.IsPositiveGammaRegime())
	assert.Equal(t, gex.RegimePositive, m.GammaRegime())
	assert.Equal(t, testNow.Truncate(time.Minute), m.Timestamp)

	require.Len(t, res.Profile, 2)
	assert.True(t, res.Profile[0].Strike.Equal(decimal.NewFromInt(600)))
	assert.Equal(t, int64(1000), res.Profile[0].CallOI)
	assert.Equal(t, int64(1200), res.Profile[0].PutOI)

	stored, err := store.LatestMetrics(ctx, "SPY")
	require.NoError(t, err)
	assert.Equal(t, m.NetGEX, stored.NetGEX)
}

func TestCalculateCurrentGEX_EmptyChain(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	calc := newCalculator(t, store)

	_, err := calc.CalculateCurrentGEX(ctx, gex.Request{Symbol: "SPY", Price: ptr(602), Expiration: testExp})
	require.Error(t, err)
	assert.ErrorIs(t, err, gex.ErrNoData)
	assert.NotErrorIs(t, err, gex.ErrStaleData)

	var calcErr *gex.CalcError
	require.True(t, errors.As(err, &calcErr))
	assert.Equal(t, "SPY", calcErr.Symbol)
	assert.Equal(t, testExp, calcErr.Expiration)
	assert.Contains(t, err.Error(), "2025-01-17")

	_, err = store.LatestMetrics(ctx, "SPY")
	assert.ErrorIs(t, err, gex.ErrNoData, "nothing is written on failure")
}

func TestCalculateCurrentGEX_StaleChain(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	q := quote(600, gex.Call, 0.05, 1000, 10)
	q.LastUpdated = testNow.Add(-2 * time.Hour)
	require.NoError(t, store.UpsertQuotes(ctx, q))
	calc := newCalculator(t, store)

	_, err := calc.CalculateCurrentGEX(ctx, gex.Request{Symbol: "SPY", Price: ptr(602), Expiration: testExp})
	assert.ErrorIs(t, err, gex.ErrStaleData)
	assert.ErrorIs(t, err, gex.ErrNoData)
}

func TestCalculateCurrentGEX_IgnoresNonPositiveGamma(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.UpsertQuotes(ctx,
		quote(600, gex.Call, 0, 1000, 10),
		quote(600, gex.Put, -0.01, 1000, 10),
	))
	calc := newCalculator(t, store)

	_, err := calc.CalculateCurrentGEX(ctx, gex.Request{Symbol: "SPY", Price: ptr(602), Expiration: testExp})
	assert.ErrorIs(t, err, gex.ErrNoData)
}

func TestCalculateCurrentGEX_InvalidPrice(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.UpsertQuotes(ctx, scenarioChain()...))
	calc := newCalculator(t, store)

	for _, p := range []float64{0, -1} {
		_, err := calc.CalculateCurrentGEX(ctx, gex.Request{Symbol: "SPY", Price: ptr(p), Expiration: testExp})
		assert.ErrorIs(t, err, gex.ErrInvalidPrice, "price %v", p)
	}

	// no explicit price and nothing in the price source
	_, err := calc.CalculateCurrentGEX(ctx, gex.Request{Symbol: "SPY", Expiration: testExp})
	assert.ErrorIs(t, err, gex.ErrInvalidPrice)

	_, err = store.LatestMetrics(ctx, "SPY")
	assert.ErrorIs(t, err, gex.ErrNoData)
}

func TestCalculateCurrentGEX_PriceFallback(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.UpsertQuotes(ctx, scenarioChain()...))
	store.SetPrice("SPY", 601.5, testNow.Add(-time.Second))
	calc := newCalculator(t, store)

	res, err := calc.CalculateCurrentGEX(ctx, gex.Request{Symbol: "SPY", Expiration: testExp})
	require.NoError(t, err)
	assert.Equal(t, 601.5, res.Metrics.UnderlyingPrice)
}

func TestCalculateCurrentGEX_PriceFromChainWithoutSource(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.SetClock(func() time.Time { return testNow })
	require.NoError(t, store.UpsertQuotes(ctx, scenarioChain()...))

	cfg := gex.DefaultConfig()
	cfg.Now = func() time.Time { return testNow }
	calc := gex.NewCalculator(store, nil, store, cfg, nil)

	res, err := calc.CalculateCurrentGEX(ctx, gex.Request{Symbol: "SPY", Expiration: testExp})
	require.NoError(t, err)
	assert.Equal(t, 602.0, res.Metrics.UnderlyingPrice)
}

func TestCalculateCurrentGEX_DefaultExpirationIsTodayInNewYork(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.UpsertQuotes(ctx, scenarioChain()...))
	calc := newCalculator(t, store)

	assert.Equal(t, testExp, calc.Today())
	res, err := calc.CalculateCurrentGEX(ctx, gex.Request{Symbol: "SPY", Price: ptr(602)})
	require.NoError(t, err)
	assert.Equal(t, testExp, res.Metrics.Expiration)
}

func TestCalculateCurrentGEX_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.UpsertQuotes(ctx, scenarioChain()...))
	calc := newCalculator(t, store)

	_, err := calc.CalculateCurrentGEX(ctx, gex.Request{Symbol: "SPY", Price: ptr(602), Expiration: testExp})
	require.NoError(t, err)
	_, err = calc.CalculateCurrentGEX(ctx, gex.Request{Symbol: "SPY", Price: ptr(603), Expiration: testExp})
	require.NoError(t, err)

	rows, err := store.MetricsHistory(ctx, "SPY", time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 603.0, rows[0].UnderlyingPrice)
}

func TestCalculateCurrentGEX_RequiresSymbol(t *testing.T) {
	calc := newCalculator(t, memory.New())
	_, err := calc.CalculateCurrentGEX(context.Background(), gex.Request{Price: ptr(602)})
	assert.ErrorIs(t, err, gex.ErrInvalidSymbol)
}

type failingWriter struct{ err error }

func (w failingWriter) UpsertGEXMetrics(context.Context, *gex.GEXMetrics) error { return w.err }

func TestCalculateCurrentGEX_PropagatesWriteError(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.SetClock(func() time.Time { return testNow })
	require.NoError(t, store.UpsertQuotes(ctx, scenarioChain()...))

	boom := errors.New("connection reset")
	cfg := gex.DefaultConfig()
	cfg.Now = func() time.Time { return testNow }
	calc := gex.NewCalculator(store, store, failingWriter{err: boom}, cfg, nil)

	_, err := calc.CalculateCurrentGEX(ctx, gex.Request{Symbol: "SPY", Price: ptr(602), Expiration: testExp})
	assert.ErrorIs(t, err, boom)
}

func TestCompute_VannaCharmSkipMissingGreeks(t *testing.T) {
	full := quote(600, gex.Call, 0.05, 1000, 0)
	full.Delta = ptr(0.5)
	full.Vega = ptr(0.2)
	deltaOnly := quote(605, gex.Put, 0.02, 400, 0)
	deltaOnly.Delta = ptr(-0.3)
	bare := quote(610, gex.Call, 0.01, 100, 0)

	m, _ := gex.Compute("SPY", testExp, testNow, 600, []gex.OptionContractQuote{full, deltaOnly, bare}, 100)

	scale := 100 * 600.0 * 600.0 * 0.01
	assert.InEpsilon(t, 0.2*0.5*1000*scale, m.VannaExposure, 1e-12)
	assert.InEpsilon(t, (0.05*0.5*1000+0.02*-0.3*400)*scale, m.CharmExposure, 1e-12)
	assert.InEpsilon(t, (0.05*1000+0.02*400+0.01*100)*scale, m.TotalGammaExposure, 1e-12)
}

func TestCompute_NonFiniteGreeksCountAsMissing(t *testing.T) {
	full := quote(600, gex.Call, 0.05, 1000, 0)
	full.Delta = ptr(0.5)
	full.Vega = ptr(0.2)
	nanDelta := quote(605, gex.Put, 0.02, 400, 0)
	nanDelta.Delta = ptr(math.NaN())
	nanDelta.Vega = ptr(0.1)
	infVega := quote(610, gex.Call, 0.01, 100, 0)
	infVega.Delta = ptr(0.2)
	infVega.Vega = ptr(math.Inf(1))

	m, _ := gex.Compute("SPY", testExp, testNow, 600, []gex.OptionContractQuote{full, nanDelta, infVega}, 100)

	scale := 100 * 600.0 * 600.0 * 0.01
	assert.InEpsilon(t, 0.2*0.5*1000*scale, m.VannaExposure, 1e-12)
	assert.InEpsilon(t, (0.05*0.5*1000+0.01*0.2*100)*scale, m.CharmExposure, 1e-12)
	assert.InEpsilon(t, (0.05*1000+0.02*400+0.01*100)*scale, m.TotalGammaExposure, 1e-12)
	assert.NoError(t, m.Validate())
}

func TestCompute_PutCallRatioNilWithoutCallVolume(t *testing.T) {
	chain := []gex.OptionContractQuote{
		quote(600, gex.Call, 0.05, 1000, 0),
		quote(600, gex.Put, 0.04, 1200, 300),
	}
	m, _ := gex.Compute("SPY", testExp, testNow, 600, chain, 100)
	assert.Nil(t, m.PutCallRatio)
}

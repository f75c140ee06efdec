package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/gex"
	"github.com/dgnsrekt/zerogex/internal/metrics"
	"github.com/dgnsrekt/zerogex/internal/server"
	"github.com/dgnsrekt/zerogex/internal/store/memory"
)

var (
	testNow = time.Date(2025, 1, 17, 15, 0, 30, 0, time.UTC)
	testExp = time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)
)

type capturePublisher struct{ got []*gex.GEXMetrics }

func (p *capturePublisher) Publish(m *gex.GEXMetrics) { p.got = append(p.got, m) }

func ptr(v float64) *float64 { return &v }

func quote(strike int64, typ gex.OptionType, oi int64, gamma float64) gex.OptionContractQuote {
	return gex.OptionContractQuote{
		Symbol:            "SPY",
		Strike:            decimal.NewFromInt(strike),
		Expiration:        testExp,
		Type:              typ,
		OpenInterest:      oi,
		Volume:            100,
		Gamma:             gamma,
		Delta:             ptr(0.5),
		ImpliedVolatility: ptr(0.16),
		UnderlyingPrice:   600,
		LastUpdated:       testNow.Add(-time.Minute),
	}
}

type fixture struct {
	store   *memory.Store
	pub     *capturePublisher
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	store.SetClock(func() time.Time { return testNow })
	require.NoError(t, store.UpsertQuotes(context.Background(),
		quote(595, gex.Put, 2000, 0.03),
		quote(600, gex.Call, 1000, 0.05),
		quote(600, gex.Put, 500, 0.05),
		quote(605, gex.Call, 1500, 0.02),
	))
	store.SetPrice("SPY", 600, testNow)

	calcCfg := gex.DefaultConfig()
	calcCfg.Now = func() time.Time { return testNow }
	calc := gex.NewCalculator(store, store, store, calcCfg, zap.NewNop())

	anCfg := gex.DefaultAnalyzerConfig()
	anCfg.Now = func() time.Time { return testNow }
	analyzer := gex.NewAnalyzer(store, store, anCfg, zap.NewNop())

	reg := prometheus.NewRegistry()
	recorder := metrics.New(reg)
	pub := &capturePublisher{}
	srv := server.NewServer(calc, analyzer, store, pub, recorder, server.Options{
		ThresholdMillions: 0,
		Confidence:        0.68,
		Now:               func() time.Time { return testNow },
	}, zap.NewNop())

	return &fixture{
		store:   store,
		pub:     pub,
		handler: server.NewRouter(srv, server.Streams{}, reg, recorder, zap.NewNop()),
	}
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSummary_NoDataIs404(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/gex/SPY/summary")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "no data")
}

func TestCalculateThenSummary(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/gex/spy/calculate")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	calc := decode[struct {
		Metrics gex.GEXMetrics           `json:"metrics"`
		Profile []gex.StrikeGammaProfile `json:"profile"`
	}](t, rec)
	assert.Equal(t, "SPY", calc.Metrics.Symbol)
	assert.Len(t, calc.Profile, 3)
	require.Len(t, f.pub.got, 1)

	rec = f.do(t, http.MethodGet, "/v1/gex/SPY/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[gex.Summary](t, rec)
	assert.Equal(t, calc.Metrics.NetGEX, summary.Metrics.NetGEX)
	assert.Equal(t, calc.Metrics.GammaRegime(), summary.Regime)

	rec = f.do(t, http.MethodGet, "/v1/gex/SPY/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]gex.GEXMetrics](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/v1/gex/SPY/levels?threshold=0")
	require.Equal(t, http.StatusOK, rec.Code)
	levels := decode[gex.KeyLevels](t, rec)
	assert.NotEmpty(t, levels.Resistance)

	rec = f.do(t, http.MethodGet, "/v1/gex/SPY/expected-move?confidence=0.95")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	move := decode[gex.ExpectedMove](t, rec)
	assert.InDelta(t, 0.16, move.ImpliedVolatility, 1e-9)
	assert.Less(t, move.ExpectedLow, 600.0)
	assert.Greater(t, move.ExpectedHigh, 600.0)
}

func TestCalculate_InvalidPriceIs400(t *testing.T) {
	f := newFixture(t)
	for _, p := range []string{"-1", "0", "abc"} {
		rec := f.do(t, http.MethodPost, "/v1/gex/SPY/calculate?price="+p)
		assert.Equal(t, http.StatusBadRequest, rec.Code, p)
	}
	assert.Empty(t, f.store.AllMetrics())
}

func TestExpectedMove_InvalidConfidenceIs400(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/gex/SPY/expected-move?confidence=1.5")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidSymbolIs400(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/gex/"+strings.Repeat("A", 12)+"/summary")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegimes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, net := range []float64{5e6, -3e6} {
		m := gex.GEXMetrics{
			Timestamp:       testNow.Add(time.Duration(i-10) * time.Minute),
			Symbol:          "SPY",
			Expiration:      testExp,
			UnderlyingPrice: 600,
			NetGEX:          net,
		}
		require.NoError(t, f.store.UpsertGEXMetrics(ctx, &m))
	}

	rec := f.do(t, http.MethodGet, "/v1/gex/SPY/regimes?window=1h")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Transitions []gex.RegimeTransition `json:"transitions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Transitions, 1)
	assert.Equal(t, gex.RegimeNegative, body.Transitions[0].To)

	rec = f.do(t, http.MethodGet, "/v1/gex/SPY/regimes?window=-1h")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/gex/SPY/calculate")

	rec := f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `zerogex_calculations_total{symbol="SPY"} 1`)
	assert.Contains(t, body, `zerogex_http_requests_total{code="200",route="/v1/gex/{symbol}/calculate"} 1`)
}

package greeks

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/zerogex/internal/gex"
)

var (
	now = time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC) // 10:00 New York
	exp = time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC)
)

func TestCalculate_PutCallRelations(t *testing.T) {
	p := New(DefaultRiskFreeRate, DefaultDividendYield)
	call := p.Calculate(600, 600, exp, gex.Call, 0.2, now)
	put := p.Calculate(600, 600, exp, gex.Put, 0.2, now)

	tte := p.TimeToExpiration(now, exp)
	assert.InDelta(t, math.Exp(-DefaultDividendYield*tte), call.Delta-put.Delta, 1e-5)
	assert.Equal(t, call.Gamma, put.Gamma)
	assert.Equal(t, call.Vega, put.Vega)
	assert.Greater(t, call.Delta, 0.5)
	assert.Less(t, put.Delta, 0.0)
	assert.Greater(t, call.Gamma, 0.0)
	assert.Less(t, call.Theta, 0.0)
	assert.Greater(t, call.Rho, 0.0)
	assert.Less(t, put.Rho, 0.0)
}

func TestCalculate_Expired(t *testing.T) {
	p := New(DefaultRiskFreeRate, DefaultDividendYield)
	after := time.Date(2025, 2, 21, 22, 0, 0, 0, time.UTC) // 17:00 New York

	assert.Equal(t, Greeks{Delta: 1}, p.Calculate(610, 600, exp, gex.Call, 0.2, after))
	assert.Equal(t, Greeks{}, p.Calculate(590, 600, exp, gex.Call, 0.2, after))
	assert.Equal(t, Greeks{Delta: -1}, p.Calculate(590, 600, exp, gex.Put, 0.2, after))
}

func TestCalculate_MinimumTimeNearClose(t *testing.T) {
	p := New(DefaultRiskFreeRate, DefaultDividendYield)
	late := time.Date(2025, 2, 21, 20, 59, 0, 0, time.UTC) // one minute before close
	g := p.Calculate(600, 600, exp, gex.Call, 0.2, late)
	assert.False(t, math.IsInf(g.Gamma, 0))
	assert.Greater(t, g.Gamma, 0.0)
}

func TestTimeToExpiration(t *testing.T) {
	p := New(DefaultRiskFreeRate, DefaultDividendYield)
	// 10:00 to 16:00 on the same day
	sameDay := time.Date(2025, 2, 21, 15, 0, 0, 0, time.UTC)
	assert.InDelta(t, 6*3600/secondsPerYear, p.TimeToExpiration(sameDay, exp), 1e-12)
	assert.Equal(t, 0.0, p.TimeToExpiration(exp.AddDate(0, 0, 1), exp))
}

func TestImpliedVolatility_RoundTrip(t *testing.T) {
	p := New(DefaultRiskFreeRate, DefaultDividendYield)
	price := p.Price(600, 605, exp, gex.Call, 0.25, now)

	iv, err := p.ImpliedVolatility(price, 600, 605, exp, gex.Call, now)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, iv, 1e-4)

	_, err = p.ImpliedVolatility(1e6, 600, 605, exp, gex.Call, now)
	assert.ErrorIs(t, err, ErrNoSolution)
}

func TestFill(t *testing.T) {
	p := New(DefaultRiskFreeRate, DefaultDividendYield)
	iv := 0.2
	q := gex.OptionContractQuote{
		Strike:            decimal.NewFromInt(600),
		Expiration:        exp,
		Type:              gex.Call,
		ImpliedVolatility: &iv,
		UnderlyingPrice:   600,
	}
	filled := p.Fill(q, now)
	assert.Greater(t, filled.Gamma, 0.0)
	require.NotNil(t, filled.Delta)
	require.NotNil(t, filled.Vega)

	// nothing to derive from
	bare := gex.OptionContractQuote{Strike: decimal.NewFromInt(600), Type: gex.Put}
	assert.Equal(t, bare, p.Fill(bare, now))
}

package gex

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(strike float64, net, total float64) StrikeGammaProfile {
	return StrikeGammaProfile{Strike: decimal.NewFromFloat(strike), NetGamma: net, TotalGamma: total}
}

func TestGammaFlipPoint_SingleCrossing(t *testing.T) {
	profile := []StrikeGammaProfile{
		row(590, 10, 10),
		row(595, -30, 30),
		row(600, -5, 5),
	}
	flip := GammaFlipPoint(profile)
	require.NotNil(t, flip)
	// cumulative: +10 at 590, -20 at 595
	assert.InDelta(t, 590+5*10.0/30.0, *flip, 1e-9)
	assert.Greater(t, *flip, 590.0)
	assert.Less(t, *flip, 595.0)
}

func TestGammaFlipPoint_SameSignIsNil(t *testing.T) {
	assert.Nil(t, GammaFlipPoint([]StrikeGammaProfile{row(590, 5, 5), row(595, -2, 2), row(600, 1, 1)}))
	assert.Nil(t, GammaFlipPoint([]StrikeGammaProfile{row(590, -5, 5), row(595, -1, 1)}))
	assert.Nil(t, GammaFlipPoint([]StrikeGammaProfile{row(590, 5, 5)}))
	assert.Nil(t, GammaFlipPoint(nil))
}

func TestGammaFlipPoint_SkipsExactZero(t *testing.T) {
	profile := []StrikeGammaProfile{
		row(590, 10, 10),
		row(595, -10, 10), // cumulative exactly zero
		row(600, -10, 10),
	}
	flip := GammaFlipPoint(profile)
	require.NotNil(t, flip)
	assert.InDelta(t, 595.0, *flip, 1e-9)
}

func TestMaxGammaStrike_TieTakesSmallestStrike(t *testing.T) {
	profile := []StrikeGammaProfile{row(595, 0, 40), row(600, 0, 50), row(605, 0, 50)}
	strike, value := MaxGammaStrike(profile)
	assert.True(t, strike.Equal(decimal.NewFromInt(600)))
	assert.Equal(t, 50.0, value)
}

func TestBuildProfile_GroupsByStrike(t *testing.T) {
	contracts := []OptionContractQuote{
		{Strike: decimal.RequireFromString("600.0"), Type: Call, Gamma: 0.01, OpenInterest: 10, Volume: 3},
		{Strike: decimal.RequireFromString("600"), Type: Put, Gamma: 0.02, OpenInterest: 20, Volume: 4},
		{Strike: decimal.RequireFromString("599.5"), Type: Put, Gamma: 0.03, OpenInterest: 5, Volume: 1},
	}
	profile := BuildProfile(contracts, 600, 100)
	require.Len(t, profile, 2)
	assert.Equal(t, "599.5", profile[0].Strike.String())

	p := profile[1]
	scale := 100 * 600.0 * 600.0 * 0.01
	assert.InEpsilon(t, 0.01*10*scale, p.CallGamma, 1e-12)
	assert.InEpsilon(t, 0.02*20*scale, p.PutGamma, 1e-12)
	assert.Equal(t, p.CallGamma-p.PutGamma, p.NetGamma)
	assert.Equal(t, p.CallGamma+p.PutGamma, p.TotalGamma)
	assert.Equal(t, int64(3), p.CallVolume)
	assert.Equal(t, int64(4), p.PutVolume)
}

func TestMaxPain(t *testing.T) {
	contracts := []OptionContractQuote{
		{Strike: decimal.NewFromInt(590), Type: Put, OpenInterest: 1000},
		{Strike: decimal.NewFromInt(600), Type: Call, OpenInterest: 500},
		{Strike: decimal.NewFromInt(600), Type: Put, OpenInterest: 100},
		{Strike: decimal.NewFromInt(610), Type: Call, OpenInterest: 1000},
	}
	// settle 590: puts pay 0 + 10*100, calls 0         -> 1000*100
	// settle 600: puts pay 0, calls 0                  -> 0
	// settle 610: calls pay 10*500, puts 0             -> 5000*100
	assert.Equal(t, "600", MaxPain(contracts, 100).String())
}

func TestParseOptionType(t *testing.T) {
	for in, want := range map[string]OptionType{"call": Call, "C": Call, " PUT ": Put, "p": Put} {
		got, err := ParseOptionType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseOptionType("straddle")
	assert.Error(t, err)
}

func TestMetricsValidate(t *testing.T) {
	m := &GEXMetrics{Symbol: "SPY"}
	assert.Error(t, m.Validate())

	ts := time.Date(2025, 1, 17, 15, 0, 0, 0, time.UTC)
	ok := &GEXMetrics{Timestamp: ts, Symbol: "SPY", Expiration: ts, UnderlyingPrice: 600}
	assert.NoError(t, ok.Validate())

	bad := *ok
	bad.CharmExposure = math.NaN()
	assert.ErrorContains(t, bad.Validate(), "charm_exposure")

	bad = *ok
	flip := math.Inf(-1)
	bad.GammaFlipPoint = &flip
	assert.ErrorContains(t, bad.Validate(), "gamma_flip_point")
}

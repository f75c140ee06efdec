package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/zerogex/internal/gex"
)

func sampleMetrics() gex.GEXMetrics {
	flip := 601.25
	return gex.GEXMetrics{
		Timestamp:          time.Date(2025, 1, 17, 15, 0, 0, 0, time.UTC),
		Symbol:             "SPY",
		Expiration:         time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
		UnderlyingPrice:    600,
		TotalGammaExposure: 1_234_567_890,
		CallGamma:          1_000_000_000,
		PutGamma:           234_567_890,
		NetGEX:             765_432_110,
		MaxGammaStrike:     decimal.NewFromInt(600),
		GammaFlipPoint:     &flip,
		MaxPain:            decimal.RequireFromString("597.5"),
	}
}

func TestMillions(t *testing.T) {
	assert.Equal(t, "$1,234.57M", Millions(1_234_567_890))
	assert.Equal(t, "-$3.00M", Millions(-3e6))
	assert.Equal(t, "$0.00M", Millions(0))
	assert.Equal(t, "$6,012.50", Price(6012.5))
}

func TestWriteMetrics(t *testing.T) {
	var buf bytes.Buffer
	m := sampleMetrics()
	WriteMetrics(&buf, &m)

	out := buf.String()
	assert.Contains(t, out, "$765.43M")
	assert.Contains(t, out, "$601.25")
	assert.Contains(t, out, "597.5")
	assert.Contains(t, out, "n/a", "nil put/call ratio")
}

func TestWriteKeyLevels_UnevenColumns(t *testing.T) {
	var buf bytes.Buffer
	WriteKeyLevels(&buf, &gex.KeyLevels{
		Symbol:     "SPY",
		Spot:       600,
		Threshold:  50e6,
		Support:    []decimal.Decimal{decimal.NewFromInt(598), decimal.NewFromInt(595)},
		Resistance: []decimal.Decimal{decimal.NewFromInt(605)},
	})

	out := buf.String()
	assert.Contains(t, out, "threshold $50.00M")
	assert.Contains(t, out, "595")
	assert.Contains(t, out, "605")
}

func TestWriteTransitions_Empty(t *testing.T) {
	var buf bytes.Buffer
	WriteTransitions(&buf, "SPY", nil)
	assert.Equal(t, "SPY: no regime changes\n", buf.String())
}

func TestExportHistory(t *testing.T) {
	rows := []gex.GEXMetrics{sampleMetrics(), sampleMetrics()}
	rows[1].Timestamp = rows[1].Timestamp.Add(time.Minute)
	rows[1].NetGEX = -3e6
	rows[1].GammaFlipPoint = nil

	var buf bytes.Buffer
	require.NoError(t, ExportHistory(&buf, rows))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "timestamp,symbol,expiration,"))

	var back []*HistoryRow
	require.NoError(t, gocsv.UnmarshalString(buf.String(), &back))
	require.Len(t, back, 2)
	assert.Equal(t, "601.25", back[0].GammaFlipPoint)
	assert.Equal(t, "positive", back[0].Regime)
	assert.Equal(t, "", back[1].GammaFlipPoint)
	assert.Equal(t, "negative", back[1].Regime)
	assert.Equal(t, "2025-01-17", back[1].Expiration)
}

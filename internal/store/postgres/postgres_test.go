package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/gex"
)

// Runs against a real database when ZEROGEX_TEST_DSN is set.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("ZEROGEX_TEST_DSN")
	if dsn == "" {
		t.Skip("ZEROGEX_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))

	_, err = s.pool.Exec(ctx, `DELETE FROM gex_metrics WHERE symbol = 'ZZTEST';
DELETE FROM options_quotes WHERE symbol = 'ZZTEST';
DELETE FROM underlying_quotes WHERE symbol = 'ZZTEST'`)
	require.NoError(t, err)
	return s
}

func TestStore_StalenessUsesInjectedClock(t *testing.T) {
	s := &Store{now: time.Now}
	fixed := time.Date(2025, 1, 17, 15, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })
	assert.Equal(t, fixed.Add(-time.Hour), s.staleBefore(time.Hour))
}

func TestStore_MetricsUpsertIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	flip := 601.25
	m := &gex.GEXMetrics{
		Timestamp:       time.Now().UTC().Truncate(time.Minute),
		Symbol:          "ZZTEST",
		Expiration:      gex.DateOf(time.Now(), nil),
		UnderlyingPrice: 600,
		NetGEX:          5e6,
		MaxGammaStrike:  decimal.RequireFromString("600.5"),
		MaxPain:         decimal.NewFromInt(600),
		GammaFlipPoint:  &flip,
	}
	require.NoError(t, s.UpsertGEXMetrics(ctx, m))
	m.NetGEX = -3e6
	require.NoError(t, s.UpsertGEXMetrics(ctx, m))

	rows, err := s.MetricsHistory(ctx, "ZZTEST", time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, -3e6, rows[0].NetGEX)
	assert.Equal(t, "600.5", rows[0].MaxGammaStrike.String())
	require.NotNil(t, rows[0].GammaFlipPoint)
	assert.Equal(t, flip, *rows[0].GammaFlipPoint)
	assert.Nil(t, rows[0].PutCallRatio)

	latest, err := s.LatestMetrics(ctx, "ZZTEST")
	require.NoError(t, err)
	assert.Equal(t, -3e6, latest.NetGEX)
}

func TestStore_LatestContractsAndPrice(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LatestPrice(ctx, "ZZTEST")
	assert.ErrorIs(t, err, gex.ErrNoData)

	exp := gex.DateOf(time.Now(), nil)
	fresh := gex.OptionContractQuote{
		Symbol: "ZZTEST", Strike: decimal.NewFromInt(600), Expiration: exp, Type: gex.Call,
		OpenInterest: 10, Gamma: 0.05, UnderlyingPrice: 600, LastUpdated: time.Now(),
	}
	stale := fresh
	stale.Type = gex.Put
	stale.LastUpdated = time.Now().Add(-2 * time.Hour)
	noGamma := fresh
	noGamma.Strike = decimal.NewFromInt(605)
	noGamma.Gamma = 0

	require.NoError(t, s.UpsertQuotes(ctx, fresh, stale, noGamma))
	require.NoError(t, s.SetPrice(ctx, "ZZTEST", 600.5, time.Now()))

	snap, err := s.LatestContracts(ctx, "ZZTEST", exp, time.Hour)
	require.NoError(t, err)
	require.Len(t, snap.Contracts, 1)
	assert.Equal(t, 1, snap.StaleCount)
	assert.Equal(t, gex.Call, snap.Contracts[0].Type)

	// Three hours on, both remaining rows are stale.
	s.SetClock(func() time.Time { return time.Now().Add(3 * time.Hour) })
	snap, err = s.LatestContracts(ctx, "ZZTEST", exp, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, snap.Contracts)
	assert.Equal(t, 2, snap.StaleCount)
	s.SetClock(time.Now)

	q, err := s.LatestPrice(ctx, "ZZTEST")
	require.NoError(t, err)
	assert.Equal(t, 600.5, q.Price)
}

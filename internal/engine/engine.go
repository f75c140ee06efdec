// Package engine assembles the calculator, analyzer and store from config.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/config"
	"github.com/dgnsrekt/zerogex/internal/gex"
	"github.com/dgnsrekt/zerogex/internal/greeks"
	"github.com/dgnsrekt/zerogex/internal/store"
)

type Engine struct {
	Store      store.Store
	Calculator *gex.Calculator
	Analyzer   *gex.Analyzer
	Greeks     *greeks.Provider
	Expiration time.Time // zero means today
}

// Options overrides parts of the configuration, mostly for tests.
type Options struct {
	Now func() time.Time
}

// New opens the configured store and builds the calculator and analyzer on
// top of it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Engine, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	expiration, err := cfg.ExpirationDate()
	if err != nil {
		return nil, err
	}

	provider := greeks.New(cfg.Greeks.RiskFreeRate, cfg.Greeks.DividendYield)

	st, err := store.Open(ctx, cfg.Store, provider, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}
	// Stores judge staleness against the same clock as the calculator.
	if c, ok := st.(interface{ SetClock(func() time.Time) }); ok {
		c.SetClock(opts.Now)
	}

	calc := gex.NewCalculator(st, st, st, gex.Config{
		ContractMultiplier:   cfg.GEX.ContractMultiplier,
		MaxStaleness:         cfg.GEX.MaxStaleness,
		TimestampGranularity: cfg.GEX.TimestampGranularity,
		Location:             cfg.Location(),
		Now:                  opts.Now,
	}, logger.Named("calculator"))

	analyzer := gex.NewAnalyzer(st, st, gex.AnalyzerConfig{
		ContractMultiplier: cfg.GEX.ContractMultiplier,
		MaxStaleness:       cfg.GEX.MaxStaleness,
		NearMoneyBand:      cfg.GEX.NearMoneyBand,
		HorizonDays:        cfg.GEX.HorizonDays,
		TradingDaysPerYear: 252,
		Now:                opts.Now,
	}, logger.Named("analyzer"))

	return &Engine{
		Store:      st,
		Calculator: calc,
		Analyzer:   analyzer,
		Greeks:     provider,
		Expiration: expiration,
	}, nil
}

func (e *Engine) Close() {
	e.Store.Close()
}

// Package scheduler runs GEX calculations on a fixed interval during market
// hours.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/zerogex/internal/gex"
	"github.com/dgnsrekt/zerogex/internal/metrics"
	"github.com/dgnsrekt/zerogex/internal/notify"
)

// Calculator is the part of gex.Calculator the runner needs.
type Calculator interface {
	CalculateCurrentGEX(ctx context.Context, req gex.Request) (*gex.Result, error)
}

// Publisher receives every stored metrics record.
type Publisher interface {
	Publish(m *gex.GEXMetrics)
}

// failureAlertAfter is the number of consecutive failures for one symbol
// before a failure notification goes out.
const failureAlertAfter = 3

// Options configures a Runner.
type Options struct {
	Symbols         []string
	Expiration      time.Time // zero means today
	Interval        time.Duration
	MarketHoursOnly bool
	RatePerSecond   float64
	Workers         int
	StatsEvery      int
	Now             func() time.Time
}

// Stats counts calculation outcomes since the runner started.
type Stats struct {
	Cycles      int
	Skipped     int
	Succeeded   int
	Failed      int
	Transitions int
}

// Runner periodically calculates GEX for every configured symbol.
type Runner struct {
	calc      Calculator
	clock     *MarketClock
	notifier  notify.Notifier
	publisher Publisher
	recorder  *metrics.Recorder
	opts      Options
	batch     *Batch
	logger    *zap.Logger

	mu       sync.Mutex
	last     map[string]*gex.GEXMetrics
	failures map[string]int
	stats    Stats
}

// NewRunner creates a Runner. notifier, publisher and recorder may be nil.
func NewRunner(calc Calculator, clock *MarketClock, notifier notify.Notifier, publisher Publisher, recorder *metrics.Recorder, opts Options, logger *zap.Logger) *Runner {
	if notifier == nil {
		notifier = &notify.NoopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StatsEvery <= 0 {
		opts.StatsEvery = 10
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Runner{
		calc:      calc,
		clock:     clock,
		notifier:  notifier,
		publisher: publisher,
		recorder:  recorder,
		opts:      opts,
		batch:     NewBatch(calc, opts.Workers, rate.NewLimiter(limit, 1)),
		logger:    logger,
		last:      make(map[string]*gex.GEXMetrics),
		failures:  make(map[string]int),
	}
}

// Run blocks, calculating once immediately and then on every tick, until
// ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("scheduler started",
		zap.Strings("symbols", r.opts.Symbols),
		zap.Duration("interval", r.opts.Interval),
		zap.Bool("marketHoursOnly", r.opts.MarketHoursOnly),
	)

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logStats()
			r.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs one cycle over all symbols. It returns false when the
// cycle was skipped because the market is closed.
func (r *Runner) RunOnce(ctx context.Context) bool {
	now := r.opts.Now()
	if r.opts.MarketHoursOnly && r.clock != nil && !r.clock.IsMarketOpen(now) {
		r.mu.Lock()
		r.stats.Skipped++
		r.mu.Unlock()
		r.logger.Debug("market closed, skipping cycle", zap.Time("now", now))
		return false
	}

	start := time.Now()
	results, summary := r.batch.Execute(ctx, gex.Request{Expiration: r.opts.Expiration}, r.opts.Symbols)
	if r.recorder != nil {
		r.recorder.RecordLatency("cycle", time.Since(start).Seconds())
	}
	for _, res := range results {
		r.handle(ctx, res)
	}
	r.logger.Debug("cycle complete",
		zap.Int("success", summary.Success),
		zap.Int("noData", summary.NoData),
		zap.Int("failed", summary.Failed),
	)

	r.mu.Lock()
	r.stats.Cycles++
	cycles := r.stats.Cycles
	r.mu.Unlock()
	if cycles%r.opts.StatsEvery == 0 {
		r.logStats()
	}
	return true
}

func (r *Runner) handle(ctx context.Context, res SymbolResult) {
	symbol := res.Symbol
	if res.Err != nil {
		r.handleFailure(ctx, symbol, res.Err)
		return
	}

	m := res.Result.Metrics
	r.mu.Lock()
	prev := r.last[symbol]
	r.last[symbol] = m
	delete(r.failures, symbol)
	r.stats.Succeeded++
	r.mu.Unlock()

	if r.recorder != nil {
		r.recorder.RecordCalculation(m)
	}
	if r.publisher != nil {
		r.publisher.Publish(m)
	}

	if prev != nil && prev.IsPositiveGammaRegime() != m.IsPositiveGammaRegime() {
		t := gex.RegimeTransition{
			Timestamp: m.Timestamp,
			From:      prev.GammaRegime(),
			To:        m.GammaRegime(),
			Price:     m.UnderlyingPrice,
			NetGEX:    m.NetGEX,
		}
		r.mu.Lock()
		r.stats.Transitions++
		r.mu.Unlock()
		r.logger.Info("gamma regime changed",
			zap.String("symbol", symbol),
			zap.String("from", t.From.Label()),
			zap.String("to", t.To.Label()),
			zap.Float64("price", t.Price),
		)
		if err := r.notifier.SendRegimeChange(ctx, symbol, t); err != nil {
			r.logger.Warn("regime notification failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

func (r *Runner) handleFailure(ctx context.Context, symbol string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	r.mu.Lock()
	r.failures[symbol]++
	n := r.failures[symbol]
	r.stats.Failed++
	r.mu.Unlock()

	if r.recorder != nil {
		r.recorder.RecordError("calculate", metrics.ErrorKind(err))
	}

	// Missing data is routine before the open and after expiration.
	if errors.Is(err, gex.ErrNoData) {
		r.logger.Warn("no data for calculation", zap.String("symbol", symbol), zap.Error(err))
	} else {
		r.logger.Error("calculation failed", zap.String("symbol", symbol), zap.Error(err))
	}

	if n == failureAlertAfter {
		if nerr := r.notifier.SendFailure(ctx, symbol, n, err); nerr != nil {
			r.logger.Warn("failure notification failed", zap.String("symbol", symbol), zap.Error(nerr))
		}
	}
}

// Stats returns a copy of the counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Last returns the most recent metrics calculated for symbol.
func (r *Runner) Last(symbol string) (*gex.GEXMetrics, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.last[symbol]
	return m, ok
}

func (r *Runner) logStats() {
	s := r.Stats()
	r.logger.Info("scheduler stats",
		zap.Int("cycles", s.Cycles),
		zap.Int("skipped", s.Skipped),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Int("transitions", s.Transitions),
	)
}

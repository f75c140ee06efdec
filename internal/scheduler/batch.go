package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/dgnsrekt/zerogex/internal/gex"
)

// SymbolResult is the outcome of one symbol's calculation.
type SymbolResult struct {
	Symbol string
	Result *gex.Result
	Err    error
}

// BatchResult tallies a batch of calculations.
type BatchResult struct {
	Total   int
	Success int
	NoData  int
	Failed  int
	Errors  []string
}

// Batch calculates several symbols with a fixed number of workers. A
// shared limiter caps how fast calculations start across workers.
type Batch struct {
	calc    Calculator
	workers int
	limiter *rate.Limiter
}

// NewBatch creates a Batch. A nil limiter means no rate limit.
func NewBatch(calc Calculator, workers int, limiter *rate.Limiter) *Batch {
	if workers < 1 {
		workers = 1
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Batch{calc: calc, workers: workers, limiter: limiter}
}

// Execute runs req once per symbol. Results keep the order of symbols;
// symbols not reached before ctx was cancelled carry ctx.Err().
func (b *Batch) Execute(ctx context.Context, req gex.Request, symbols []string) ([]SymbolResult, *BatchResult) {
	summary := &BatchResult{Total: len(symbols)}
	results := make([]SymbolResult, len(symbols))
	if len(symbols) == 0 {
		return results, summary
	}

	jobs := make(chan int, len(symbols))
	for i, sym := range symbols {
		results[i] = SymbolResult{Symbol: sym, Err: context.Canceled}
		jobs <- i
	}
	close(jobs)

	// Start workers
	var wg sync.WaitGroup
	for w := 0; w < min(b.workers, len(symbols)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := b.limiter.Wait(ctx); err != nil {
					results[i].Err = err
					continue
				}
				r := req
				r.Symbol = symbols[i]
				res, err := b.calc.CalculateCurrentGEX(ctx, r)
				results[i].Result, results[i].Err = res, err
			}
		}()
	}
	wg.Wait()

	// Collect results
	for _, r := range results {
		switch {
		case r.Err == nil:
			summary.Success++
		case errors.Is(r.Err, gex.ErrNoData):
			summary.NoData++
		default:
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", r.Symbol, r.Err))
		}
	}
	return results, summary
}

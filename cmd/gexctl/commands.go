package main

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/fileio"
	"github.com/dgnsrekt/zerogex/internal/gex"
	"github.com/dgnsrekt/zerogex/internal/greeks"
	"github.com/dgnsrekt/zerogex/internal/report"
	"github.com/dgnsrekt/zerogex/internal/scheduler"
)

func calculateCmd() *cobra.Command {
	var (
		price      float64
		expiration string
		profile    bool
	)

	cmd := &cobra.Command{
		Use:   "calculate [SYMBOL...]",
		Short: "Calculate and store GEX for the current chain",
		Long: `Calculate gamma exposure from the latest chain snapshot and store one
metrics record per symbol. Without arguments, every configured symbol is
calculated.

Examples:
  gexctl calculate SPY
  gexctl calculate SPY --price 600.25 --profile`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			symbols := args
			if len(symbols) == 0 {
				symbols = cfg.Symbols
			}

			req := gex.Request{Expiration: e.Expiration}
			if cmd.Flags().Changed("price") {
				req.Price = &price
			}
			if expiration != "" {
				if req.Expiration, err = gex.ParseDate(expiration); err != nil {
					return err
				}
			}

			for i := range symbols {
				symbols[i] = strings.ToUpper(symbols[i])
			}
			batch := scheduler.NewBatch(e.Calculator, cfg.Scheduler.Workers, nil)
			results, summary := batch.Execute(cmd.Context(), req, symbols)
			for _, r := range results {
				if r.Err != nil {
					logger.Error("calculation failed", zap.String("symbol", r.Symbol), zap.Error(r.Err))
					continue
				}
				if jsonOutput {
					if err := printJSON(r.Result); err != nil {
						return err
					}
					continue
				}
				report.Heading(os.Stdout, r.Symbol)
				report.WriteMetrics(os.Stdout, r.Result.Metrics)
				if profile {
					report.WriteProfile(os.Stdout, r.Result.Profile)
				}
			}
			failed := summary.NoData + summary.Failed
			if failed > 0 {
				return fmt.Errorf("%d of %d calculations failed", failed, len(symbols))
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&price, "price", 0, "underlying price override")
	cmd.Flags().StringVar(&expiration, "expiration", "", "expiration date YYYY-MM-DD (default: configured)")
	cmd.Flags().BoolVar(&profile, "profile", false, "print the per-strike gamma profile")

	return cmd
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary SYMBOL",
		Short: "Show the latest stored metrics and regime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			s, err := e.Analyzer.SummarizeCurrentState(cmd.Context(), strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(s)
			}
			report.WriteSummary(os.Stdout, s)
			return nil
		},
	}
}

func levelsCmd() *cobra.Command {
	var threshold float64

	cmd := &cobra.Command{
		Use:   "levels SYMBOL",
		Short: "List support and resistance strikes by gamma concentration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if !cmd.Flags().Changed("threshold") {
				threshold = cfg.GEX.KeyLevelThresholdM
			}
			k, err := e.Analyzer.FindKeyGammaLevels(cmd.Context(), strings.ToUpper(args[0]), threshold)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(k)
			}
			report.WriteKeyLevels(os.Stdout, k)
			return nil
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum total gamma per strike, in millions (default: configured)")
	return cmd
}

func regimeCmd() *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "regime SYMBOL",
		Short: "List gamma regime changes in a trailing window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			symbol := strings.ToUpper(args[0])
			seq, err := e.Analyzer.AnalyzeGammaRegimeChanges(cmd.Context(), symbol, window)
			if err != nil {
				return err
			}
			transitions := slices.Collect(seq)
			if jsonOutput {
				return printJSON(transitions)
			}
			report.WriteTransitions(os.Stdout, symbol, transitions)
			return nil
		},
	}

	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "trailing window")
	return cmd
}

func expectedMoveCmd() *cobra.Command {
	var confidence float64

	cmd := &cobra.Command{
		Use:   "expected-move SYMBOL",
		Short: "Estimate the expected price range from near-the-money IV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if !cmd.Flags().Changed("confidence") {
				confidence = cfg.GEX.Confidence
			}
			m, err := e.Analyzer.CalculateExpectedMove(cmd.Context(), strings.ToUpper(args[0]), confidence)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(m)
			}
			report.WriteExpectedMove(os.Stdout, m)
			return nil
		},
	}

	cmd.Flags().Float64Var(&confidence, "confidence", 0.68, "confidence level in (0, 1)")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		window time.Duration
		out    string
	)

	cmd := &cobra.Command{
		Use:   "export SYMBOL",
		Short: "Export stored metrics history as CSV",
		Long: `Export stored metrics history as CSV. Output ending in .zst is
compressed with zstd.

Examples:
  gexctl export SPY --window 72h --out spy.csv
  gexctl export SPY --out spy.csv.zst`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			symbol := strings.ToUpper(args[0])
			var since time.Time
			if window > 0 {
				since = time.Now().Add(-window)
			}
			rows, err := e.Store.MetricsHistory(cmd.Context(), symbol, since)
			if err != nil {
				return err
			}

			w, err := fileio.Create(out)
			if err != nil {
				return err
			}
			if err := report.ExportHistory(w, rows); err != nil {
				_ = w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
			logger.Info("history exported", zap.String("symbol", symbol), zap.Int("rows", len(rows)), zap.String("out", out))
			return nil
		},
	}

	cmd.Flags().DurationVar(&window, "window", 0, "only rows newer than this (default: all)")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output path, - for stdout")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import CHAIN.csv...",
		Short: "Load chain CSV exports into the configured store",
		Long: `Load chain CSV exports into the configured store. Rows with implied
volatility but no Greeks get Black-Scholes Greeks filled in. Files ending
in .zst are decompressed.

Columns: symbol, strike, expiration, option_type, open_interest, volume,
gamma, delta, vega, implied_volatility, underlying_price, last_updated`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			var total int
			for _, path := range args {
				n, err := e.Store.ImportChain(cmd.Context(), path)
				if err != nil {
					return err
				}
				total += n
			}
			fmt.Printf("imported %d quotes from %d files\n", total, len(args))
			return nil
		},
	}
}

func greeksCmd() *cobra.Command {
	var (
		spot, strike, iv, price float64
		rate, dividend          float64
		expiration, optType     string
	)

	cmd := &cobra.Command{
		Use:   "greeks",
		Short: "Compute Black-Scholes Greeks for one contract",
		Long: `Compute Black-Scholes Greeks for one contract. With --price instead of
--iv, the implied volatility is solved first.

Examples:
  gexctl greeks --spot 600 --strike 605 --expiration 2025-01-17 --type call --iv 0.15
  gexctl greeks --spot 600 --strike 595 --expiration 2025-01-17 --type put --price 1.25`,
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := gex.ParseOptionType(optType)
			if err != nil {
				return err
			}
			exp, err := gex.ParseDate(expiration)
			if err != nil {
				return err
			}

			p := greeks.New(rate, dividend)
			now := time.Now()
			if price > 0 {
				if iv, err = p.ImpliedVolatility(price, spot, strike, exp, typ, now); err != nil {
					return err
				}
			}
			if iv <= 0 {
				return fmt.Errorf("one of --iv or --price is required")
			}

			g := p.Calculate(spot, strike, exp, typ, iv, now)
			if jsonOutput {
				return printJSON(struct {
					IV float64 `json:"implied_volatility"`
					greeks.Greeks
				}{iv, g})
			}
			fmt.Printf("IV     %.4f\nDelta  %.6f\nGamma  %.8f\nTheta  %.6f\nVega   %.6f\nRho    %.6f\n",
				iv, g.Delta, g.Gamma, g.Theta, g.Vega, g.Rho)
			return nil
		},
	}

	cmd.Flags().Float64Var(&spot, "spot", 0, "underlying price")
	cmd.Flags().Float64Var(&strike, "strike", 0, "strike price")
	cmd.Flags().Float64Var(&iv, "iv", 0, "implied volatility (0.15 = 15%)")
	cmd.Flags().Float64Var(&price, "price", 0, "option price to solve IV from")
	cmd.Flags().Float64Var(&rate, "rate", greeks.DefaultRiskFreeRate, "risk-free rate")
	cmd.Flags().Float64Var(&dividend, "dividend", greeks.DefaultDividendYield, "dividend yield")
	cmd.Flags().StringVar(&expiration, "expiration", time.Now().Format(gex.DateLayout), "expiration date YYYY-MM-DD")
	cmd.Flags().StringVar(&optType, "type", "call", "call or put")
	_ = cmd.MarkFlagRequired("spot")
	_ = cmd.MarkFlagRequired("strike")

	return cmd
}

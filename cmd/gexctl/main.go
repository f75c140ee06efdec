package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/config"
	"github.com/dgnsrekt/zerogex/internal/engine"
	"github.com/dgnsrekt/zerogex/internal/logging"
)

var (
	cfgFile    string
	envFile    string
	verbose    bool
	jsonOutput bool
	logger     *zap.Logger
	cfg        *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "gexctl",
		Short:         "Calculate and inspect 0DTE gamma exposure",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading %s: %w", envFile, err)
			}

			// Commands that need no configuration
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "greeks" {
				var err error
				logger, err = logging.New("gexctl", verbose, nil)
				return err
			}

			// Load config
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}

			// Setup logger with config
			logger, err = logging.New("gexctl", verbose, &cfg.Logging)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("ZEROGEX_CONFIG"), "config file path (or set ZEROGEX_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")

	rootCmd.AddCommand(
		calculateCmd(),
		summaryCmd(),
		levelsCmd(),
		regimeCmd(),
		expectedMoveCmd(),
		exportCmd(),
		importCmd(),
		greeksCmd(),
	)

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

func openEngine(ctx context.Context) (*engine.Engine, error) {
	return engine.New(ctx, cfg, logger, engine.Options{})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

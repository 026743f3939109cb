// boxbot - consolidation breakout trading bot
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tradeforge/boxbot/pkg/backtest"
	"github.com/tradeforge/boxbot/pkg/config"
	"github.com/tradeforge/boxbot/pkg/feed"
	"github.com/tradeforge/boxbot/pkg/persistence"
	"github.com/tradeforge/boxbot/pkg/stats"
	"github.com/tradeforge/boxbot/pkg/types"
)

var (
	version = "0.1.0"

	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "boxbot",
		Short: "Consolidation breakout trading bot",
		Long: `boxbot detects consolidation ranges in OHLCV bars, confirms breakouts
with configurable filters, and plans risk-sized trades. It runs either as a
backtest over historical bars or as a live session against a bar stream.`,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to JSON or YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level: debug, info, warn, error")

	rootCmd.AddCommand(backtestCmd())
	rootCmd.AddCommand(liveCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("boxbot version %s\n", version)
		},
	}
}

func backtestCmd() *cobra.Command {
	var (
		csvPath string
		persist bool
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay historical bars from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			bars, err := feed.LoadCSV(csvPath)
			if err != nil {
				return fmt.Errorf("loading bars: %w", err)
			}
			logger.Info("Loaded bars", "count", len(bars), "path", csvPath)

			runner := backtest.NewRunner(cfg, logger)
			summary, err := runner.Run(bars)
			if err != nil {
				return fmt.Errorf("backtest: %w", err)
			}

			out, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if persist {
				return persistRun(cmd.Context(), cfg, logger, "backtest", bars[0].Timestamp, bars[len(bars)-1].Timestamp, summary, runner.Positions())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "Path to OHLCV CSV file (required)")
	cmd.Flags().BoolVar(&persist, "persist", false, "Save the run and its positions to Postgres")
	cmd.MarkFlagRequired("csv") //nolint:errcheck
	return cmd
}

// loadConfig loads the layered config and builds the process logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Service.LogLevel = logLevel
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.Service.LogLevel),
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// persistRun writes the run summary and positions to Postgres.
func persistRun(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	mode string,
	periodStart, periodEnd time.Time,
	summary stats.Summary,
	positions []types.Position,
) error {
	client, err := persistence.NewClient(ctx, cfg.Database.ConnString(), logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer client.Close()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	runID, count, err := client.Persist(ctx, persistence.RunRecord{
		Symbol:      cfg.Feed.Symbol,
		Interval:    cfg.Feed.BarInterval,
		Mode:        mode,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Summary:     summary,
		ConfigJSON:  cfgJSON,
	}, positions)
	if err != nil {
		return err
	}

	logger.Info("Run persisted", "run_id", runID, "positions", count)
	return nil
}

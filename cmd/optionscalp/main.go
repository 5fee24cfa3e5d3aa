// Command optionscalp runs the option scalping engine: the live/replay
// session server, headless backtests, the live-versus-replay parity check
// and a synthetic data seeder.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"optionscalp/config"
	"optionscalp/internal/logger"
	"optionscalp/internal/markethours"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()
	var logCloser io.Closer

	root := &cobra.Command{
		Use:   "optionscalp",
		Short: "Index option scalping engine",
		Long: `optionscalp evaluates intraday setups on an index and its ATM call and put,
opens paper trades with fixed stop/target offsets and reports PnL. The same
session logic runs against the live feed and against stored history.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetString("log-level"); v != "" {
				cfg.LogLevel = v
			}
			level, err := logger.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			_, logCloser = logger.Init(logger.Options{Service: "optionscalp", Level: level, File: cfg.LogFile})
			return markethours.AddHolidays(cfg.ExtraHolidays...)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close()
			}
		},
	}

	root.AddCommand(newServeCmd(cfg))
	root.AddCommand(newBacktestCmd(cfg))
	root.AddCommand(newParityCmd(cfg))
	root.AddCommand(newSeedCmd(cfg))
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, "SQLite bar database")
	root.PersistentFlags().StringVar(&cfg.StrategiesPath, "strategies", cfg.StrategiesPath, "Strategy table (YAML)")
	return root
}

var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "optionscalp %s\n", version)
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"optionscalp/config"
	"optionscalp/internal/session"
	sqlitestore "optionscalp/internal/store/sqlite"
)

func addDayFlags(cmd *cobra.Command, f *dayFlags) {
	cmd.Flags().StringVar(&f.Underlying, "underlying", "NIFTY", "Underlying used to resolve the index and ATM legs")
	cmd.Flags().StringVar(&f.Index, "index", "", "Index symbol (resolved from the instrument master when empty)")
	cmd.Flags().StringVar(&f.CE, "ce", "", "Call leg symbol (ATM at the open when empty)")
	cmd.Flags().StringVar(&f.PE, "pe", "", "Put leg symbol (ATM at the open when empty)")
	cmd.Flags().StringVar(&f.Date, "date", "", "Trading day YYYY-MM-DD (latest stored day when empty)")
}

func newBacktestCmd(cfg *config.Config) *cobra.Command {
	var (
		f       dayFlags
		asJSON  bool
		journal string
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay one stored day headlessly and print the report",
		Example: `  optionscalp backtest --date 2025-01-06
  optionscalp backtest --index "Nifty 50" --ce NIFTY09JAN2524000CE --pe NIFTY09JAN2524000PE --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reader, err := sqlitestore.NewReader(cfg.SQLitePath)
			if err != nil {
				return err
			}
			defer reader.Close()

			d, err := loadDay(ctx, cfg, reader, f)
			if err != nil {
				return err
			}
			scfg, err := sessionConfig(cfg, "backtest-"+d.Date, session.ModeReplay, d)
			if err != nil {
				return err
			}
			if journal != "" {
				j, err := sqlitestore.NewJournal(journal)
				if err != nil {
					return err
				}
				defer j.Close()
				scfg.Sink = session.JournalSink{Store: j}
			}

			rep, err := session.Backtest(ctx, scfg, d.Tape)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			fmt.Fprintf(out, "%s %s / %s / %s\n", d.Date, d.Index, d.CE, d.PE)
			fmt.Fprint(out, session.FormatReport(rep))
			return nil
		},
	}
	addDayFlags(cmd, &f)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().StringVar(&journal, "journal", "", "Also journal trades to this SQLite file")
	return cmd
}

func newParityCmd(cfg *config.Config) *cobra.Command {
	var f dayFlags
	cmd := &cobra.Command{
		Use:   "parity",
		Short: "Run a stored day as bars and as ticks and diff the trades",
		Long: `parity replays one day twice through fresh sessions: once bar by bar and once
as the tick stream a live feed would have produced for it. Both runs must open
the same trades at the same times and prices; any difference is printed and
the command fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reader, err := sqlitestore.NewReader(cfg.SQLitePath)
			if err != nil {
				return err
			}
			defer reader.Close()

			d, err := loadDay(ctx, cfg, reader, f)
			if err != nil {
				return err
			}
			scfg, err := sessionConfig(cfg, "parity-"+d.Date, session.ModeReplay, d)
			if err != nil {
				return err
			}

			res, err := session.RunParity(ctx, scfg, d.Tape)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s / %s / %s\n", d.Date, d.Index, d.CE, d.PE)
			fmt.Fprint(out, session.FormatReport(res.Replay))
			fmt.Fprint(out, session.FormatReport(res.Live))
			if !res.OK() {
				fmt.Fprintf(out, "MISMATCH\n  %s\n", strings.Join(res.Diffs, "\n  "))
				return fmt.Errorf("parity: %d differences", len(res.Diffs))
			}
			fmt.Fprintf(out, "OK: %d trades match\n", len(res.Replay.Trades))
			return nil
		},
	}
	addDayFlags(cmd, &f)
	return cmd
}

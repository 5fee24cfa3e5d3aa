package session

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"optionscalp/internal/model"
	"optionscalp/internal/portfolio"
)

// Report is the end-of-session summary.
type Report struct {
	Session    string                    `json:"session"`
	PnL        model.PnLSnapshot         `json:"pnl"`
	Strategies []portfolio.StrategyStats `json:"strategies"`
	Trades     []model.Trade             `json:"trades"`
}

func buildReport(id string, trades []model.Trade, prices map[string]float64) Report {
	return Report{
		Session:    id,
		PnL:        portfolio.Compute(trades, prices),
		Strategies: portfolio.ByStrategy(trades),
		Trades:     trades,
	}
}

// Backtest replays tape headlessly through a fresh session built from cfg
// and returns the final report.
func Backtest(ctx context.Context, cfg Config, tape []model.Candle) (Report, error) {
	if len(tape) == 0 {
		return Report{}, ErrNoData
	}
	s, err := New(cfg)
	if err != nil {
		return Report{}, err
	}
	for _, c := range tape {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		if err := s.Advance(ctx, BarEvent(c)); err != nil {
			return Report{}, err
		}
	}
	return s.Finish(ctx), nil
}

// ParityTicks turns a bar tape into the tick stream a live feed would have
// produced for it: one tick per bar at the close, timestamped at the bar
// open, with cumulative volume and the bar itself as the running OHLCV of
// its minute.
func ParityTicks(tape []model.Candle) []model.Tick {
	cum := make(map[string]int64)
	ticks := make([]model.Tick, 0, len(tape))
	for _, c := range tape {
		c := c
		cum[c.Symbol] += c.Volume
		ticks = append(ticks, model.Tick{
			Symbol:    c.Symbol,
			Price:     c.Close,
			CumVolume: cum[c.Symbol],
			TS:        c.OpenTime,
			Bar:       &c,
		})
	}
	return ticks
}

// ParityResult is the outcome of RunParity.
type ParityResult struct {
	Replay Report
	Live   Report
	Diffs  []string
}

// OK reports whether both runs produced the same trades.
func (r ParityResult) OK() bool { return len(r.Diffs) == 0 }

// RunParity runs tape once as bars and once as ticks through two fresh
// sessions built from cfg, and diffs the resulting trade lists.
func RunParity(ctx context.Context, cfg Config, tape []model.Candle) (ParityResult, error) {
	var res ParityResult
	if len(tape) == 0 {
		return res, ErrNoData
	}

	replayCfg := cfg
	replayCfg.ID = cfg.ID + "-replay"
	replayCfg.Mode = ModeReplay
	rep, err := Backtest(ctx, replayCfg, tape)
	if err != nil {
		return res, fmt.Errorf("replay run: %w", err)
	}
	res.Replay = rep

	liveCfg := cfg
	liveCfg.ID = cfg.ID + "-live"
	liveCfg.Mode = ModeLive
	live, err := New(liveCfg)
	if err != nil {
		return res, err
	}
	for _, t := range ParityTicks(tape) {
		if err := live.Advance(ctx, TickEvent(t)); err != nil {
			return res, fmt.Errorf("live run: %w", err)
		}
	}
	res.Live = live.Finish(ctx)
	res.Diffs = DiffTrades(res.Replay.Trades, res.Live.Trades)
	return res, nil
}

// DiffTrades compares two trade lists keyed by strategy, symbol and entry
// time. Entry price, exit reason, exit time and exit price must agree, with
// prices within 0.01. It returns one line per mismatch.
func DiffTrades(a, b []model.Trade) []string {
	key := func(t model.Trade) string {
		return t.Strategy + "|" + t.Symbol + "|" + t.EntryTime.UTC().Format(time.RFC3339)
	}
	index := func(ts []model.Trade) map[string]model.Trade {
		m := make(map[string]model.Trade, len(ts))
		for _, t := range ts {
			m[key(t)] = t
		}
		return m
	}
	ma, mb := index(a), index(b)

	var diffs []string
	for k, ta := range ma {
		tb, ok := mb[k]
		if !ok {
			diffs = append(diffs, "only in replay: "+k)
			continue
		}
		if math.Abs(ta.EntryPrice-tb.EntryPrice) > 0.01 {
			diffs = append(diffs, fmt.Sprintf("entry price %s: %.2f vs %.2f", k, ta.EntryPrice, tb.EntryPrice))
		}
		if ta.ExitReason != tb.ExitReason {
			diffs = append(diffs, fmt.Sprintf("exit reason %s: %q vs %q", k, ta.ExitReason, tb.ExitReason))
		}
		if !ta.ExitTime.Equal(tb.ExitTime) {
			diffs = append(diffs, fmt.Sprintf("exit time %s: %s vs %s", k,
				ta.ExitTime.UTC().Format(time.RFC3339), tb.ExitTime.UTC().Format(time.RFC3339)))
		}
		if math.Abs(ta.ExitPrice-tb.ExitPrice) > 0.01 {
			diffs = append(diffs, fmt.Sprintf("exit price %s: %.2f vs %.2f", k, ta.ExitPrice, tb.ExitPrice))
		}
	}
	for k := range mb {
		if _, ok := ma[k]; !ok {
			diffs = append(diffs, "only in live: "+k)
		}
	}
	sort.Strings(diffs)
	return diffs
}

// FormatReport renders a report as a plain-text table.
func FormatReport(r Report) string {
	var b strings.Builder
	p := r.PnL
	fmt.Fprintf(&b, "session %s\n", r.Session)
	fmt.Fprintf(&b, "trades %d  closed %d  wins %d  losses %d  win rate %.2f%%\n",
		p.TotalTrades, p.TotalClosed, p.WinCount, p.LossCount, p.WinRate)
	fmt.Fprintf(&b, "realized %.2f  unrealized %.2f  total %.2f  max drawdown %.2f\n",
		p.RealizedPnL, p.UnrealizedPnL, p.TotalPnL, p.MaxDrawdown)
	for _, s := range r.Strategies {
		fmt.Fprintf(&b, "  %-26s trades %3d  wins %3d  pnl %9.2f\n", s.Strategy, s.Trades, s.Wins, s.PnL)
	}
	return b.String()
}

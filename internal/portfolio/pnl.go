// Package portfolio computes PnL statistics over paper trades and enforces
// the daily risk limits consulted before a trade is opened.
package portfolio

import (
	"sort"

	"github.com/shopspring/decimal"

	"optionscalp/internal/model"
)

// Compute aggregates trades into a snapshot. Open trades are marked at
// prices[symbol]; an open trade with no price contributes zero.
// Sums are carried in decimal and rounded to 2 dp at the end.
func Compute(trades []model.Trade, prices map[string]float64) model.PnLSnapshot {
	var (
		snap       model.PnLSnapshot
		realized   = decimal.Zero
		unrealized = decimal.Zero
		winSum     = decimal.Zero
		lossSum    = decimal.Zero
		closed     []model.Trade
	)
	snap.TotalTrades = len(trades)

	for _, t := range trades {
		if t.Status != model.TradeClosed {
			snap.OpenTrades++
			if p, ok := prices[t.Symbol]; ok {
				unrealized = unrealized.Add(decimal.NewFromFloat(p).Sub(decimal.NewFromFloat(t.EntryPrice)))
			}
			continue
		}
		closed = append(closed, t)
		pnl := decimal.NewFromFloat(t.PnL)
		realized = realized.Add(pnl)
		if pnl.IsPositive() {
			snap.WinCount++
			winSum = winSum.Add(pnl)
		} else {
			snap.LossCount++
			lossSum = lossSum.Add(pnl.Abs())
		}
	}
	snap.TotalClosed = len(closed)

	snap.RealizedPnL = round2(realized)
	snap.UnrealizedPnL = round2(unrealized)
	snap.TotalPnL = round2(realized.Add(unrealized))
	snap.MaxDrawdown = round2(maxDrawdown(closed))
	if snap.WinCount > 0 {
		snap.AvgWin = round2(winSum.Div(decimal.NewFromInt(int64(snap.WinCount))))
	}
	if snap.LossCount > 0 {
		snap.AvgLoss = round2(lossSum.Div(decimal.NewFromInt(int64(snap.LossCount))))
	}
	if snap.TotalClosed > 0 {
		rate := decimal.NewFromInt(int64(snap.WinCount)).
			Div(decimal.NewFromInt(int64(snap.TotalClosed))).
			Mul(decimal.NewFromInt(100))
		snap.WinRate = round2(rate)
	}
	return snap
}

// maxDrawdown is the largest peak-to-current drop of the cumulative
// closed-PnL curve, trades ordered by exit time.
func maxDrawdown(closed []model.Trade) decimal.Decimal {
	sorted := make([]model.Trade, len(closed))
	copy(sorted, closed)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExitTime.Before(sorted[j].ExitTime)
	})

	cum, peak, maxDD := decimal.Zero, decimal.Zero, decimal.Zero
	for _, t := range sorted {
		cum = cum.Add(decimal.NewFromFloat(t.PnL))
		if cum.GreaterThan(peak) {
			peak = cum
		}
		if dd := peak.Sub(cum); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// StrategyStats is the per-strategy line of a backtest report.
type StrategyStats struct {
	Strategy string  `json:"strategy"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	PnL      float64 `json:"pnl"`
}

// ByStrategy groups closed trades by strategy, sorted by name.
func ByStrategy(trades []model.Trade) []StrategyStats {
	acc := make(map[string]*StrategyStats)
	sums := make(map[string]decimal.Decimal)
	for _, t := range trades {
		if t.Status != model.TradeClosed {
			continue
		}
		s, ok := acc[t.Strategy]
		if !ok {
			s = &StrategyStats{Strategy: t.Strategy}
			acc[t.Strategy] = s
			sums[t.Strategy] = decimal.Zero
		}
		s.Trades++
		if t.PnL > 0 {
			s.Wins++
		}
		sums[t.Strategy] = sums[t.Strategy].Add(decimal.NewFromFloat(t.PnL))
	}

	out := make([]StrategyStats, 0, len(acc))
	for name, s := range acc {
		s.PnL = round2(sums[name])
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out
}

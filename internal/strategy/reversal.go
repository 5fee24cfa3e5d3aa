package strategy

import (
	"math"

	"optionscalp/internal/indicator"
	"optionscalp/internal/model"
)

// rsiScalper arms when RSI(14) leaves the 30/70 band and fires on the
// first candle that turns with RSI.
type rsiScalper struct {
	base
	dir model.Direction
}

func (d *rsiScalper) CheckSetup(cs []model.Candle, _ model.Sentiment, v *Vars) *Proposal {
	if len(cs) < 15 {
		return nil
	}
	rsi := indicator.RSISeries(model.Closes(cs), 14)
	now, before := indicator.Last(rsi), indicator.Prev(rsi)
	if !indicator.Valid(now) {
		return nil
	}
	c := last(cs)

	if d.dir == model.Long {
		if now < 30 {
			v.SetFlag("oversold")
		}
		if v.Flag("oversold") && c.Bullish() && now > before {
			v.Clear()
			return &Proposal{
				Direction:  model.Long,
				EntryPrice: c.Close,
				StopLoss:   c.Low,
				Target:     c.Close + 30,
				Reason:     "RSI Oversold reversal.",
			}
		}
		return nil
	}

	if now > 70 {
		v.SetFlag("overbought")
	}
	if v.Flag("overbought") && c.Bearish() && now < before {
		v.Clear()
		return &Proposal{
			Direction:  model.Short,
			EntryPrice: c.Close,
			StopLoss:   c.High,
			Target:     c.Close - 30,
			Reason:     "RSI Overbought reversal.",
		}
	}
	return nil
}

// snapReversal looks for a pin bar (wick at least 40% of the range) and
// fires when a later close breaks the pin's far end.
type snapReversal struct {
	base
	dir model.Direction
}

func (d *snapReversal) CheckSetup(cs []model.Candle, _ model.Sentiment, v *Vars) *Proposal {
	if len(cs) < 21 {
		return nil
	}
	c := last(cs)
	size := c.Range()

	if d.dir == model.Long {
		wick := math.Min(c.Open, c.Close) - c.Low
		if size > 0 && wick/size >= 0.4 && float64(c.Volume) > 1.2*avgVolume(cs, 20) {
			v.Set("snap_high", c.High)
		}
		sh, ok := v.Get("snap_high")
		if ok && c.Close > sh {
			v.Clear()
			return &Proposal{
				Direction:  model.Long,
				EntryPrice: c.Close,
				StopLoss:   c.Low,
				Target:     c.Close + 40,
				Reason:     "Pin bar reversal (Bullish).",
			}
		}
		return nil
	}

	wick := c.High - math.Max(c.Open, c.Close)
	if size > 0 && wick/size >= 0.4 {
		v.Set("snap_low", c.Low)
	}
	sl, ok := v.Get("snap_low")
	if ok && c.Close < sl {
		v.Clear()
		return &Proposal{
			Direction:  model.Short,
			EntryPrice: c.Close,
			StopLoss:   c.High,
			Target:     c.Close - 40,
			Reason:     "Pin bar reversal (Bearish).",
		}
	}
	return nil
}

type roundLevelRejectionShort struct{ base }

func (d *roundLevelRejectionShort) CheckSetup(cs []model.Candle, _ model.Sentiment, v *Vars) *Proposal {
	if len(cs) < 2 {
		return nil
	}
	c := last(cs)
	level := math.RoundToEven(c.Close/100) * 100
	if math.Abs(c.Close-level) <= 50 {
		v.Set("round_level", level)
	}
	if v.Has("round_level") && c.Close < prev(cs).Low {
		v.Clear()
		return &Proposal{
			Direction:  model.Short,
			EntryPrice: c.Close,
			StopLoss:   c.High,
			Target:     c.Close - 50,
			Reason:     "Rejection from round psychological level.",
		}
	}
	return nil
}

// sampleTrendReversal shorts an overextended move: close beyond
// MA20 + 2*ATR14 on heavy volume, then a close under the prior low.
type sampleTrendReversal struct{ base }

func (d *sampleTrendReversal) CheckSetup(cs []model.Candle, _ model.Sentiment, v *Vars) *Proposal {
	if len(cs) < 21 {
		return nil
	}
	c := last(cs)
	ma20 := indicator.Last(indicator.SMASeries(model.Closes(cs), 20))
	atr := indicator.Last(indicator.ATRSeries(cs, 14))
	if c.Close > ma20+2*atr && c.Volume > 50000 {
		v.SetFlag("overextended")
	}
	if v.Flag("overextended") && c.Close < prev(cs).Low {
		v.Clear()
		return &Proposal{
			Direction:  model.Short,
			EntryPrice: c.Close,
			StopLoss:   c.High,
			Target:     c.Close - 100,
			Reason:     "Overextended trend reversal.",
		}
	}
	return nil
}

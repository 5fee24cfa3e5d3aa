package strategy

import (
	"optionscalp/internal/indicator"
	"optionscalp/internal/markethours"
	"optionscalp/internal/model"
)

// smartTrendIndex follows the MA20 side when OI buildup agrees and volume
// is above average.
type smartTrendIndex struct {
	base
	dir model.Direction
}

func (d *smartTrendIndex) CheckSetup(cs []model.Candle, s model.Sentiment, _ *Vars) *Proposal {
	if len(cs) < 21 {
		return nil
	}
	c := last(cs)
	ma20 := indicator.Last(indicator.SMASeries(model.Closes(cs), 20))
	heavy := float64(c.Volume) > avgVolume(cs, 20)

	if d.dir == model.Long {
		if s.BuildupIn(model.BuildupLong, model.BuildupShortCovering) && c.Close > ma20 && heavy {
			return &Proposal{
				Direction:  model.Long,
				EntryPrice: c.Close,
				StopLoss:   c.Low,
				Target:     c.Close + 60,
				Reason:     "Bullish trend with EMA/VWAP support.",
			}
		}
		return nil
	}
	if s.BuildupIn(model.BuildupShort, model.BuildupLongUnwinding) && c.Close < ma20 && heavy {
		return &Proposal{
			Direction:  model.Short,
			EntryPrice: c.Close,
			StopLoss:   c.High,
			Target:     c.Close - 60,
			Reason:     "Bearish trend with EMA/VWAP resistance.",
		}
	}
	return nil
}

type vwapEMAGate struct {
	base
	dir model.Direction
}

func (d *vwapEMAGate) CheckSetup(cs []model.Candle, _ model.Sentiment, _ *Vars) *Proposal {
	if len(cs) < 21 {
		return nil
	}
	c := last(cs)
	vwap := indicator.Last(indicator.VWAPSeries(cs))
	ema9 := indicator.Last(indicator.EMASeries(model.Closes(cs), 9))
	if !indicator.Valid(vwap) || !indicator.Valid(ema9) {
		return nil
	}
	if float64(c.Volume) <= 1.5*avgVolume(cs, 20) {
		return nil
	}
	if d.dir == model.Long && c.Close > vwap && c.Close > ema9 {
		return &Proposal{
			Direction:  model.Long,
			EntryPrice: c.Close,
			StopLoss:   ema9,
			Target:     c.Close + 40,
			Reason:     "Price above VWAP and EMA9 with volume.",
		}
	}
	if d.dir == model.Short && c.Close < vwap && c.Close < ema9 {
		return &Proposal{
			Direction:  model.Short,
			EntryPrice: c.Close,
			StopLoss:   ema9,
			Target:     c.Close - 40,
			Reason:     "Price below VWAP and EMA9 with volume.",
		}
	}
	return nil
}

// institutionalDemandLong marks a demand block at a fresh 50-bar low on
// heavy volume, waits for a retest of its lower 30%, then buys the
// breakout above the block.
type institutionalDemandLong struct{ base }

func (d *institutionalDemandLong) CheckSetup(cs []model.Candle, _ model.Sentiment, v *Vars) *Proposal {
	if len(cs) < 51 {
		return nil
	}
	c := last(cs)
	low50 := indicator.Lowest(indicator.Lows(cs), 50)
	if c.Low <= low50 && float64(c.Volume) > 1.5*avgVolume(cs, 20) {
		v.Set("block_high", c.High)
		v.Set("block_low", c.Low)
	}

	bl, ok := v.Get("block_low")
	if !ok {
		return nil
	}
	bh, _ := v.Get("block_high")
	if c.Low >= bl && c.Low <= bl+0.3*(bh-bl) {
		v.SetFlag("retested")
	}
	if v.Flag("retested") && c.Close > bh {
		v.Clear()
		return &Proposal{
			Direction:  model.Long,
			EntryPrice: c.Close,
			StopLoss:   bl,
			Target:     c.Close + 100,
			Reason:     "Retest of institutional demand zone.",
		}
	}
	return nil
}

// gapFillLong buys a gap-down open in the first fifteen minutes when price
// recovers above MA5 with bullish buildup. Needs the previous session's
// candles in the window.
type gapFillLong struct{ base }

func (d *gapFillLong) CheckSetup(cs []model.Candle, s model.Sentiment, _ *Vars) *Proposal {
	if len(cs) < 5 {
		return nil
	}
	prevClose, ok := prevDayClose(cs)
	if !ok || prevClose == 0 {
		return nil
	}
	c := last(cs)
	lt := c.OpenTime.In(markethours.IST)
	if lt.Hour() != 9 || lt.Minute() < 15 || lt.Minute() > 30 {
		return nil
	}
	if dayOpen(cs) > prevClose*0.998 {
		return nil
	}
	ma5 := indicator.Last(indicator.SMASeries(model.Closes(cs), 5))
	if c.Close > ma5 && s.BuildupIn(model.BuildupLong, model.BuildupShortCovering) {
		return &Proposal{
			Direction:  model.Long,
			EntryPrice: c.Close,
			StopLoss:   c.Low,
			Target:     prevClose,
			Reason:     "Price opening lower than previous close with bullish buildup.",
		}
	}
	return nil
}

// optionBuyTest runs on an option leg directly and buys any close above
// the prior high. Useful for exercising the trade path end to end.
type optionBuyTest struct{ base }

func (d *optionBuyTest) CheckSetup(cs []model.Candle, _ model.Sentiment, _ *Vars) *Proposal {
	if len(cs) < 2 {
		return nil
	}
	c := last(cs)
	if c.Close > prev(cs).High {
		return &Proposal{
			Direction:  model.Long,
			EntryPrice: c.Close,
			StopLoss:   c.Low - 10,
			Target:     c.Close + 20,
			Reason:     "Test Signal.",
		}
	}
	return nil
}

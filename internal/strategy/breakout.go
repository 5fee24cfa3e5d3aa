package strategy

import (
	"optionscalp/internal/indicator"
	"optionscalp/internal/model"
)

// bigDogBreakout watches for a tight 10-bar range (under 0.2% of price)
// and fires on a high-volume close beyond it.
type bigDogBreakout struct {
	base
	dir model.Direction
}

func (d *bigDogBreakout) CheckSetup(cs []model.Candle, _ model.Sentiment, v *Vars) *Proposal {
	if len(cs) < 20 {
		return nil
	}
	c := last(cs)
	hi := indicator.Highest(indicator.Highs(cs), 10)
	lo := indicator.Lowest(indicator.Lows(cs), 10)
	if c.Close > 0 && (hi-lo)/c.Close < 0.002 {
		v.Set("range_high", hi)
		v.Set("range_low", lo)
	}

	rh, ok := v.Get("range_high")
	if !ok {
		return nil
	}
	rl, _ := v.Get("range_low")
	if float64(c.Volume) <= 1.8*avgVolume(cs, 20) {
		return nil
	}

	if d.dir == model.Long && c.Close > rh {
		v.Clear()
		return &Proposal{
			Direction:  model.Long,
			EntryPrice: c.Close,
			StopLoss:   rl,
			Target:     c.Close + (c.Close-rl)*3,
			Reason:     "Low volatility consolidation broken upside with high volume.",
		}
	}
	if d.dir == model.Short && c.Close < rl {
		v.Clear()
		return &Proposal{
			Direction:  model.Short,
			EntryPrice: c.Close,
			StopLoss:   rh,
			Target:     c.Close - (rh-c.Close)*3,
			Reason:     "Low volatility consolidation broken downside with high volume.",
		}
	}
	return nil
}

type indexBreakoutLong struct{ base }

func (d *indexBreakoutLong) CheckSetup(cs []model.Candle, _ model.Sentiment, _ *Vars) *Proposal {
	if len(cs) < 21 {
		return nil
	}
	c := last(cs)
	ma20 := indicator.Last(indicator.SMASeries(model.Closes(cs), 20))
	if c.Close > ma20 && float64(c.Volume) > 1.2*avgVolume(cs, 20) && c.Bullish() {
		return &Proposal{
			Direction:  model.Long,
			EntryPrice: c.Close,
			StopLoss:   c.Low,
			Target:     c.Close + 50,
			Reason:     "Price above MA20 with volume breakout.",
		}
	}
	return nil
}

// screenerMomentumLong arms on a quiet, above-open, high relative volume
// candle and fires when price clears the recent 5-bar high.
type screenerMomentumLong struct{ base }

func (d *screenerMomentumLong) CheckSetup(cs []model.Candle, _ model.Sentiment, v *Vars) *Proposal {
	if len(cs) < 21 {
		return nil
	}
	c := last(cs)
	avg := avgVolume(cs, 20)
	open := dayOpen(cs)
	if avg > 0 && open > 0 && float64(c.Volume)/avg > 1.2 && c.Close/open > 1.003 {
		closes := model.Closes(cs)
		atr := indicator.Last(indicator.ATRSeries(cs, 14))
		if indicator.Last(indicator.StdDevSeries(closes, 5, 1)) < atr {
			v.Set("range_max", indicator.Highest(indicator.Highs(cs), 5))
		}
	}
	rm, ok := v.Get("range_max")
	if ok && c.Close > rm && float64(c.Volume) > avg {
		v.Clear()
		return &Proposal{
			Direction:  model.Long,
			EntryPrice: c.Close,
			StopLoss:   c.Low,
			Target:     c.Close + 50,
			Reason:     "Strong momentum with volume breakout.",
		}
	}
	return nil
}

type volumeSpikeScalperLong struct{ base }

func (d *volumeSpikeScalperLong) CheckSetup(cs []model.Candle, _ model.Sentiment, v *Vars) *Proposal {
	if len(cs) < 21 {
		return nil
	}
	c := last(cs)
	if float64(c.Volume) > 3.0*avgVolume(cs, 20) {
		avgBody := indicator.Mean(indicator.Bodies(cs), 20)
		if c.Body() > 1.5*avgBody {
			v.Set("spike_high", c.High)
		}
	}
	sh, ok := v.Get("spike_high")
	if ok && c.Close > sh {
		v.Clear()
		return &Proposal{
			Direction:  model.Long,
			EntryPrice: c.Close,
			StopLoss:   c.Low,
			Target:     c.Close + 30,
			Reason:     "Volume spike with large body candle.",
		}
	}
	return nil
}

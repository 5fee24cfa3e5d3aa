package strategy

import "optionscalp/internal/model"

// motherVolume is the volume above which a candle becomes the reference
// ("mother") candle for the BRF patterns.
const motherVolume = 10000

func markMother(c model.Candle, v *Vars) {
	if c.Volume > motherVolume {
		v.Set("mother_h", c.High)
		v.Set("mother_l", c.Low)
		v.Set("mother_ts", float64(c.OpenTime.Unix()))
	}
}

// brfShort: a close below the mother low within five bars validates the
// setup; it fires when price trades back inside the mother range without
// taking its high.
type brfShort struct{ base }

func (d *brfShort) CheckSetup(cs []model.Candle, _ model.Sentiment, v *Vars) *Proposal {
	if len(cs) < 10 {
		return nil
	}
	c := last(cs)
	markMother(c, v)

	ml, ok := v.Get("mother_l")
	if !ok {
		return nil
	}
	mh, _ := v.Get("mother_h")
	ts, _ := v.Get("mother_ts")
	if barsSince(cs, ts) <= 5 && c.Close < ml {
		v.SetFlag("validated")
	}
	if v.Flag("validated") && c.High < mh && c.Close > ml {
		v.Clear()
		return &Proposal{
			Direction:  model.Short,
			EntryPrice: c.Close,
			StopLoss:   mh,
			Target:     c.Close - 50,
			Reason:     "Mother candle breakout (Downside).",
		}
	}
	return nil
}

// brfReversalShort fires on a close below the mother low once the low
// has already been broken, provided the mother high holds.
type brfReversalShort struct{ base }

func (d *brfReversalShort) CheckSetup(cs []model.Candle, _ model.Sentiment, v *Vars) *Proposal {
	if len(cs) < 5 {
		return nil
	}
	c := last(cs)
	markMother(c, v)

	ml, ok := v.Get("mother_l")
	if !ok {
		return nil
	}
	mh, _ := v.Get("mother_h")
	if c.Close < ml {
		v.SetFlag("broken_low")
	}
	if v.Flag("broken_low") && c.High < mh && c.Close < ml {
		v.Clear()
		return &Proposal{
			Direction:  model.Short,
			EntryPrice: c.Close,
			StopLoss:   mh,
			Target:     c.Close - 100,
			Reason:     "Mother candle reversal from high.",
		}
	}
	return nil
}

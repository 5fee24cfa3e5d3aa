package strategy

import (
	"optionscalp/internal/indicator"
	"optionscalp/internal/model"
)

// bbMeanReversion arms when price pierces a 2σ Bollinger band and fires
// when a candle closes back inside it in the reversal direction.
type bbMeanReversion struct {
	base
	dir model.Direction
}

func (d *bbMeanReversion) CheckSetup(cs []model.Candle, s model.Sentiment, v *Vars) *Proposal {
	if len(cs) < 21 {
		return nil
	}
	pcr := s.PCROrDefault()
	if d.dir == model.Long {
		if !s.BuildupIn(model.BuildupLong, model.BuildupShortCovering, model.BuildupNeutral, "") || pcr <= 0.8 {
			return nil
		}
	} else {
		if !s.BuildupIn(model.BuildupShort, model.BuildupLongUnwinding, model.BuildupNeutral, "") || pcr >= 1.2 {
			return nil
		}
	}

	bb := indicator.BollingerBands(model.Closes(cs), 20, 2.0)
	lower, upper := indicator.Last(bb.Lower), indicator.Last(bb.Upper)
	if !indicator.Valid(lower) || !indicator.Valid(upper) {
		return nil
	}
	c := last(cs)

	if d.dir == model.Long {
		if c.Low < lower {
			v.Set("lower_band", lower)
		}
		lb, ok := v.Get("lower_band")
		if ok && c.Close > lb && c.Bullish() {
			v.Clear()
			return &Proposal{
				Direction:  model.Long,
				EntryPrice: c.Close,
				StopLoss:   c.Low - 5,
				Target:     c.Close + (c.Close-c.Low)*2,
				Reason:     "Price hit lower Bollinger Band and reversed.",
			}
		}
		return nil
	}

	if c.High > upper {
		v.Set("upper_band", upper)
	}
	ub, ok := v.Get("upper_band")
	if ok && c.Close < ub && c.Bearish() {
		v.Clear()
		return &Proposal{
			Direction:  model.Short,
			EntryPrice: c.Close,
			StopLoss:   c.High + 5,
			Target:     c.Close - (c.High-c.Close)*2,
			Reason:     "Price hit upper Bollinger Band and reversed.",
		}
	}
	return nil
}

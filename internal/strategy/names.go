package strategy

import "optionscalp/internal/model"

// Detector names as they appear in configuration and trade records.
const (
	TrendFollowing           = "TREND_FOLLOWING"
	BBMeanReversionLong      = "BB_MEAN_REVERSION_LONG"
	BBMeanReversionShort     = "BB_MEAN_REVERSION_SHORT"
	BigDogBreakoutLong       = "BIGDOG_BREAKOUT_LONG"
	BigDogBreakoutShort      = "BIGDOG_BREAKOUT_SHORT"
	BRFShort                 = "BRF_SHORT"
	BRFReversalShort         = "BRF_REVERSAL_SHORT"
	GapFillLong              = "GAP_FILL_LONG"
	IndexBreakoutLong        = "INDEX_BREAKOUT_LONG"
	RSIScalperLong           = "RSI_SCALPER_LONG"
	RSIScalperShort          = "RSI_SCALPER_SHORT"
	SnapReversalLong         = "SNAP_REVERSAL_LONG"
	SnapReversalShort        = "SNAP_REVERSAL_SHORT"
	SmartTrendIndexLong      = "SMART_TREND_INDEX_LONG"
	SmartTrendIndexShort     = "SMART_TREND_INDEX_SHORT"
	InstitutionalDemandLong  = "INSTITUTIONAL_DEMAND_LONG"
	RoundLevelRejectionShort = "ROUND_LEVEL_REJECTION_SHORT"
	SampleTrendReversal      = "SAMPLE_TREND_REVERSAL"
	ScreenerMomentumLong     = "SCREENER_MOMENTUM_LONG"
	VolumeSpikeScalperLong   = "VOLUME_SPIKE_SCALPER_LONG"
	VWAPEMAGateLong          = "VWAP_EMA_GATE_LONG"
	VWAPEMAGateShort         = "VWAP_EMA_GATE_SHORT"
	OptionBuyTest            = "OPTION_BUY_TEST"
)

type base struct {
	name        string
	indexDriven bool
}

func (b base) Name() string        { return b.name }
func (b base) IsIndexDriven() bool { return b.indexDriven }

func init() {
	Register(BBMeanReversionLong, func() Detector { return &bbMeanReversion{base{BBMeanReversionLong, true}, model.Long} })
	Register(BBMeanReversionShort, func() Detector { return &bbMeanReversion{base{BBMeanReversionShort, true}, model.Short} })
	Register(BigDogBreakoutLong, func() Detector { return &bigDogBreakout{base{BigDogBreakoutLong, true}, model.Long} })
	Register(BigDogBreakoutShort, func() Detector { return &bigDogBreakout{base{BigDogBreakoutShort, true}, model.Short} })
	Register(BRFShort, func() Detector { return &brfShort{base{BRFShort, true}} })
	Register(BRFReversalShort, func() Detector { return &brfReversalShort{base{BRFReversalShort, true}} })
	Register(GapFillLong, func() Detector { return &gapFillLong{base{GapFillLong, true}} })
	Register(IndexBreakoutLong, func() Detector { return &indexBreakoutLong{base{IndexBreakoutLong, true}} })
	Register(RSIScalperLong, func() Detector { return &rsiScalper{base{RSIScalperLong, true}, model.Long} })
	Register(RSIScalperShort, func() Detector { return &rsiScalper{base{RSIScalperShort, true}, model.Short} })
	Register(SnapReversalLong, func() Detector { return &snapReversal{base{SnapReversalLong, true}, model.Long} })
	Register(SnapReversalShort, func() Detector { return &snapReversal{base{SnapReversalShort, true}, model.Short} })
	Register(SmartTrendIndexLong, func() Detector { return &smartTrendIndex{base{SmartTrendIndexLong, true}, model.Long} })
	Register(SmartTrendIndexShort, func() Detector { return &smartTrendIndex{base{SmartTrendIndexShort, true}, model.Short} })
	Register(InstitutionalDemandLong, func() Detector { return &institutionalDemandLong{base{InstitutionalDemandLong, true}} })
	Register(RoundLevelRejectionShort, func() Detector { return &roundLevelRejectionShort{base{RoundLevelRejectionShort, true}} })
	Register(SampleTrendReversal, func() Detector { return &sampleTrendReversal{base{SampleTrendReversal, true}} })
	Register(ScreenerMomentumLong, func() Detector { return &screenerMomentumLong{base{ScreenerMomentumLong, true}} })
	Register(VolumeSpikeScalperLong, func() Detector { return &volumeSpikeScalperLong{base{VolumeSpikeScalperLong, true}} })
	Register(VWAPEMAGateLong, func() Detector { return &vwapEMAGate{base{VWAPEMAGateLong, true}, model.Long} })
	Register(VWAPEMAGateShort, func() Detector { return &vwapEMAGate{base{VWAPEMAGateShort, true}, model.Short} })
	Register(OptionBuyTest, func() Detector { return &optionBuyTest{base{OptionBuyTest, false}} })
}

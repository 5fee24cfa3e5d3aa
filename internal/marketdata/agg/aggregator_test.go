package agg

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"optionscalp/internal/model"
)

var t0 = time.Date(2026, 1, 22, 3, 45, 0, 0, time.UTC) // 09:15 IST

func tick(sym string, price float64, cum int64, at time.Duration) model.Tick {
	return model.Tick{Symbol: sym, Price: price, CumVolume: cum, TS: t0.Add(at)}
}

func TestAggregator_BasicCandle(t *testing.T) {
	a := New(time.Minute, 0)

	if _, closed := a.Ingest(tick("NIFTY", 100, 1000, 0)); closed {
		t.Fatal("first tick must not close a candle")
	}
	a.Ingest(tick("NIFTY", 105, 1010, 10*time.Second))
	a.Ingest(tick("NIFTY", 98, 1030, 20*time.Second))
	a.Ingest(tick("NIFTY", 101, 1035, 50*time.Second))

	c, closed := a.Ingest(tick("NIFTY", 102, 1040, 61*time.Second))
	if !closed {
		t.Fatal("tick in next bucket should close the candle")
	}
	if !c.OpenTime.Equal(t0) {
		t.Errorf("expected open_time=%v, got %v", t0, c.OpenTime)
	}
	if c.Open != 100 || c.High != 105 || c.Low != 98 || c.Close != 101 {
		t.Errorf("unexpected OHLC %+v", c)
	}
	// First tick contributes 0; then 10 + 20 + 5.
	if c.Volume != 35 {
		t.Errorf("expected volume=35, got %d", c.Volume)
	}

	open, ok := a.OpenCandle("NIFTY")
	if !ok || open.Open != 102 || open.Volume != 5 {
		t.Errorf("unexpected new open candle %+v ok=%v", open, ok)
	}
	if h := a.History("NIFTY"); len(h) != 1 {
		t.Errorf("expected 1 closed candle in history, got %d", len(h))
	}
}

func TestAggregator_VolumeCounterReset(t *testing.T) {
	a := New(time.Minute, 0)
	a.Ingest(tick("CE", 100, 5000, 0))
	a.Ingest(tick("CE", 101, 5100, time.Second))
	a.Ingest(tick("CE", 102, 20, 2*time.Second)) // upstream reset
	a.Ingest(tick("CE", 103, 50, 3*time.Second))

	c, _ := a.Ingest(tick("CE", 104, 60, time.Minute))
	if c.Volume != 130 {
		t.Errorf("expected volume=100+0+30=130, got %d", c.Volume)
	}
	if c.Volume < 0 {
		t.Fatal("volume must never be negative")
	}
}

func TestAggregator_LateTickFolded(t *testing.T) {
	a := New(time.Minute, 0)
	a.Ingest(tick("NIFTY", 100, 0, 2*time.Minute))
	// Earlier bucket: folded into the open candle rather than dropped.
	if _, closed := a.Ingest(tick("NIFTY", 90, 0, time.Minute)); closed {
		t.Fatal("late tick must not close a candle")
	}
	open, _ := a.OpenCandle("NIFTY")
	if open.Low != 90 || open.Close != 90 {
		t.Errorf("expected late tick folded into open candle, got %+v", open)
	}
	if !open.OpenTime.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("open candle bucket moved: %v", open.OpenTime)
	}
}

func TestAggregator_MalformedTick(t *testing.T) {
	a := New(time.Minute, 0)
	dropped := 0
	a.OnMalformedTick = func() { dropped++ }

	a.Ingest(tick("NIFTY", 100, 10, 0))
	before, _ := a.OpenCandle("NIFTY")

	for _, bad := range []model.Tick{
		{Symbol: "NIFTY", TS: t0},
		{Symbol: "NIFTY", Price: math.NaN(), TS: t0},
		{Symbol: "", Price: 100, TS: t0},
		{Symbol: "NIFTY", Price: -1, TS: t0.Add(5 * time.Minute)},
	} {
		if _, closed := a.Ingest(bad); closed {
			t.Fatalf("malformed tick closed a candle: %+v", bad)
		}
	}

	after, _ := a.OpenCandle("NIFTY")
	if after != before {
		t.Errorf("state changed after malformed ticks: before=%+v after=%+v", before, after)
	}
	if dropped != 4 {
		t.Errorf("expected 4 malformed ticks counted, got %d", dropped)
	}
}

func TestAggregator_CorrectionKeepsClose(t *testing.T) {
	a := New(time.Minute, 0)
	a.Ingest(tick("CE", 100, 0, 0))
	a.Ingest(tick("CE", 104, 0, 30*time.Second))
	a.Ingest(tick("CE", 105, 0, time.Minute))

	ok := a.Correct(model.Candle{
		Symbol: "CE", OpenTime: t0,
		Open: 99, High: 103, Low: 97, Close: 110, Volume: 777,
	})
	if !ok {
		t.Fatal("expected correction to match closed candle")
	}
	h := a.History("CE")
	c := h[0]
	if c.Open != 99 || c.Low != 97 || c.Volume != 777 {
		t.Errorf("correction not applied: %+v", c)
	}
	if c.Close != 104 {
		t.Errorf("close must keep live value 104, got %v", c.Close)
	}
	// High widened to contain the live close.
	if c.High != 104 || !c.Valid() {
		t.Errorf("candle invariant broken after correction: %+v", c)
	}
}

func TestAggregator_UnmatchedCorrectionDropped(t *testing.T) {
	a := New(time.Minute, 0)
	dropped := 0
	a.OnDroppedCorrection = func() { dropped++ }

	a.Ingest(tick("CE", 100, 0, 0))
	a.Ingest(tick("CE", 101, 0, time.Minute))

	// The interval is still open, so nothing closed matches.
	if a.Correct(model.Candle{Symbol: "CE", OpenTime: t0.Add(time.Minute), Open: 1, High: 2, Low: 1, Close: 2}) {
		t.Error("correction for open interval should be dropped")
	}
	if a.Correct(model.Candle{Symbol: "PE", OpenTime: t0, Open: 1, High: 2, Low: 1, Close: 2}) {
		t.Error("correction for unknown symbol should be dropped")
	}
	if dropped != 2 {
		t.Errorf("expected 2 dropped corrections, got %d", dropped)
	}
	if h := a.History("CE"); h[0].Open != 100 {
		t.Errorf("history mutated by dropped correction: %+v", h[0])
	}
}

func TestAggregator_TickCarriedCorrection(t *testing.T) {
	a := New(time.Minute, 0)
	a.Ingest(tick("CE", 100, 0, 0))

	next := tick("CE", 101, 0, time.Minute)
	next.Bar = &model.Candle{Symbol: "CE", OpenTime: t0, Open: 95, High: 102, Low: 94, Close: 100, Volume: 4000}

	c, closed := a.Ingest(next)
	if !closed {
		t.Fatal("expected close")
	}
	if c.Open != 95 || c.High != 102 || c.Low != 94 || c.Close != 100 || c.Volume != 4000 {
		t.Errorf("returned candle should carry the correction, got %+v", c)
	}
}

func TestAggregator_IngestBar(t *testing.T) {
	a := New(time.Minute, 0)
	c, ok := a.IngestBar(model.Candle{
		Symbol: "NIFTY", OpenTime: t0.Add(15 * time.Second),
		Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10,
	})
	if !ok {
		t.Fatal("expected bar to be accepted")
	}
	if !c.OpenTime.Equal(t0) {
		t.Errorf("bar time not aligned: %v", c.OpenTime)
	}
	if p, ok := a.Last("NIFTY"); !ok || p != 100.5 {
		t.Errorf("expected last price 100.5, got %v", p)
	}
	if _, ok := a.IngestBar(model.Candle{Symbol: "NIFTY", OpenTime: t0}); ok {
		t.Error("bar without close must be rejected")
	}
}

func TestAggregator_HistoryBounded(t *testing.T) {
	a := New(time.Minute, 0)
	for i := 0; i < DefaultHistory+50; i++ {
		a.IngestBar(model.Candle{Symbol: "NIFTY", OpenTime: t0.Add(time.Duration(i) * time.Minute),
			Open: 1, High: 1, Low: 1, Close: 1})
	}
	h := a.History("NIFTY")
	if len(h) != DefaultHistory {
		t.Fatalf("expected %d candles, got %d", DefaultHistory, len(h))
	}
	if !h[0].OpenTime.Equal(t0.Add(50 * time.Minute)) {
		t.Errorf("expected oldest retained at minute 50, got %v", h[0].OpenTime)
	}
}

func TestAggregator_CandleInvariantRandomWalk(t *testing.T) {
	a := New(time.Minute, 0)
	rng := rand.New(rand.NewSource(7))
	price := 200.0
	var cum int64
	var candles []model.Candle

	for i := 0; i < 5000; i++ {
		price += rng.Float64()*2 - 1
		if price < 1 {
			price = 1
		}
		cum += int64(rng.Intn(50))
		if rng.Intn(200) == 0 {
			cum = 0
		}
		at := time.Duration(i) * 3 * time.Second
		if rng.Intn(20) == 0 {
			at -= 90 * time.Second // out of order
		}
		tk := tick("PE", price, cum, at)
		if rng.Intn(30) == 0 && len(candles) > 0 {
			prev := candles[len(candles)-1]
			tk.Bar = &model.Candle{Symbol: "PE", OpenTime: prev.OpenTime,
				Open: prev.Open + 1, High: prev.High + 2, Low: prev.Low - 2, Close: prev.Close, Volume: 1}
		}
		if c, ok := a.Ingest(tk); ok {
			candles = append(candles, c)
		}
	}
	candles = append(candles, a.Flush()...)

	for _, c := range append(candles, a.History("PE")...) {
		if !c.Valid() {
			t.Fatalf("candle invariant violated: %+v", c)
		}
		if c.Volume < 0 {
			t.Fatalf("negative volume: %+v", c)
		}
		if c.OpenTime.Sub(c.OpenTime.Truncate(time.Minute)) != 0 {
			t.Fatalf("unaligned open_time: %v", c.OpenTime)
		}
	}
}

func TestAggregator_Flush(t *testing.T) {
	a := New(time.Minute, 0)
	a.Ingest(tick("PE", 50, 0, 0))
	a.Ingest(tick("CE", 60, 0, 0))

	out := a.Flush()
	if len(out) != 2 || out[0].Symbol != "CE" || out[1].Symbol != "PE" {
		t.Fatalf("unexpected flush output %+v", out)
	}
	if _, ok := a.OpenCandle("CE"); ok {
		t.Error("open candle should be cleared after flush")
	}
	if len(a.History("PE")) != 1 {
		t.Error("flushed candle should be in history")
	}
}

func TestAggregator_RunningBarOnOpenCandle(t *testing.T) {
	a := New(time.Minute, 0)
	tk := tick("CE", 101, 40, 0)
	tk.Bar = &model.Candle{Symbol: "CE", OpenTime: t0, Open: 98, High: 103, Low: 97, Close: 101, Volume: 40}
	a.Ingest(tk)

	open, ok := a.OpenCandle("CE")
	if !ok {
		t.Fatal("expected open candle")
	}
	if open.Open != 98 || open.High != 103 || open.Low != 97 || open.Close != 101 || open.Volume != 40 {
		t.Errorf("running bar not applied to open candle: %+v", open)
	}
	if h := a.History("CE"); len(h) != 0 {
		t.Errorf("running bar must not create a closed candle: %+v", h)
	}
}

func TestAggregator_CloseThrough(t *testing.T) {
	a := New(time.Minute, 0)
	a.Ingest(tick("CE", 100, 0, 0))
	a.Ingest(tick("CE", 102, 0, 20*time.Second))

	if _, ok := a.CloseThrough("CE", t0.Add(-time.Minute)); ok {
		t.Fatal("candle opened after b must stay open")
	}
	c, ok := a.CloseThrough("CE", t0.Add(time.Minute))
	if !ok || c.Open != 100 || c.Close != 102 {
		t.Fatalf("CloseThrough = %+v %v", c, ok)
	}
	if _, open := a.OpenCandle("CE"); open {
		t.Fatal("open candle should be gone")
	}
	if _, ok := a.CloseThrough("CE", t0.Add(time.Minute)); ok {
		t.Fatal("second CloseThrough should be a no-op")
	}

	// A straggler for the closed bucket folds into history.
	if _, closed := a.Ingest(tick("CE", 95, 10, 40*time.Second)); closed {
		t.Fatal("late tick must not close a candle")
	}
	h := a.History("CE")
	if len(h) != 1 || h[0].Low != 95 || h[0].Close != 95 {
		t.Fatalf("late tick not folded into closed candle: %+v", h)
	}
	if _, open := a.OpenCandle("CE"); open {
		t.Fatal("late tick must not reopen the closed bucket")
	}

	// The next bucket seeds normally and closes nothing.
	if _, closed := a.Ingest(tick("CE", 104, 20, 2*time.Minute)); closed {
		t.Fatal("nothing left to close")
	}
	if open, ok := a.OpenCandle("CE"); !ok || !open.OpenTime.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("open = %+v %v", open, ok)
	}
}

func TestAggregator_CandlesAfter(t *testing.T) {
	a := New(time.Minute, 0)
	for i, p := range []float64{100, 101, 102, 103} {
		a.Ingest(tick("CE", p, 0, time.Duration(i)*time.Minute))
	}
	got := a.CandlesAfter("CE", t0)
	if len(got) != 3 {
		t.Fatalf("CandlesAfter = %d candles, want 3", len(got))
	}
	for i, want := range []float64{101, 102, 103} {
		if got[i].Close != want {
			t.Errorf("candle %d close = %v, want %v", i, got[i].Close, want)
		}
	}
	if got := a.CandlesAfter("CE", t0.Add(3*time.Minute)); len(got) != 0 {
		t.Errorf("nothing after the open candle, got %+v", got)
	}
	if got := a.CandlesAfter("PE", t0); got != nil {
		t.Errorf("unknown symbol = %+v", got)
	}
}

package session

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"optionscalp/internal/instruments"
	"optionscalp/internal/marketdata/bus"
	"optionscalp/internal/markethours"
	"optionscalp/internal/model"
	"optionscalp/internal/strategy"
)

const (
	idxSym = "Nifty 50"
	ceSym  = "NIFTY09JAN2524000CE"
	peSym  = "NIFTY09JAN2524000PE"
)

var open0915 = time.Date(2025, 1, 6, 9, 15, 0, 0, markethours.IST)

type ohlc [4]float64

// tapeFrom merges a flat index and PE with the given CE path, one minute
// per entry starting at start.
func tapeFrom(start time.Time, ce []ohlc) []model.Candle {
	var out []model.Candle
	for i, c := range ce {
		at := start.Add(time.Duration(i) * time.Minute).UTC()
		out = append(out,
			model.Candle{Symbol: idxSym, OpenTime: at, Open: 24010, High: 24012, Low: 24008, Close: 24010, Volume: 1000},
			model.Candle{Symbol: ceSym, OpenTime: at, Open: c[0], High: c[1], Low: c[2], Close: c[3], Volume: 50},
			model.Candle{Symbol: peSym, OpenTime: at, Open: 80, High: 80.5, Low: 79.5, Close: 80, Volume: 50},
		)
	}
	return out
}

func repeat(c ohlc, n int) []ohlc {
	out := make([]ohlc, n)
	for i := range out {
		out[i] = c
	}
	return out
}

// breakoutDay: entry at 103 on minute 1, target hit on minute 5, a second
// entry at 150 on minute 12 that is still open at the end of the tape.
func breakoutDay() []model.Candle {
	var ce []ohlc
	ce = append(ce, ohlc{100, 101, 99, 100}, ohlc{100, 104, 100, 103})
	ce = append(ce, repeat(ohlc{103, 103.5, 102.5, 103}, 3)...)
	ce = append(ce, ohlc{103, 150, 103, 145})
	ce = append(ce, repeat(ohlc{145, 145.5, 144.5, 145}, 6)...)
	ce = append(ce, ohlc{145, 151, 145, 150})
	ce = append(ce, repeat(ohlc{150, 150.5, 149.5, 150}, 2)...)
	return tapeFrom(open0915, ce)
}

func testConfig(id string) Config {
	return Config{
		ID:       id,
		Index:    idxSym,
		CE:       ceSym,
		PE:       peSym,
		Strategy: strategy.Config{Enabled: []string{strategy.OptionBuyTest}},
	}
}

func minute(n int) time.Time { return open0915.Add(time.Duration(n) * time.Minute) }

func TestBacktestBreakoutDay(t *testing.T) {
	rep, err := Backtest(context.Background(), testConfig("bt"), breakoutDay())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Trades) != 2 {
		t.Fatalf("trades = %d, want 2: %+v", len(rep.Trades), rep.Trades)
	}

	first, second := rep.Trades[0], rep.Trades[1]
	if !first.EntryTime.Equal(minute(1)) || first.EntryPrice != 103 {
		t.Errorf("first entry = %.2f @ %s", first.EntryPrice, first.EntryTime)
	}
	if first.ExitReason != model.ExitTarget || first.ExitPrice != 143 || !first.ExitTime.Equal(minute(5)) {
		t.Errorf("first exit = %s %.2f @ %s", first.ExitReason, first.ExitPrice, first.ExitTime)
	}
	if !second.EntryTime.Equal(minute(12)) || second.EntryPrice != 150 {
		t.Errorf("second entry = %.2f @ %s", second.EntryPrice, second.EntryTime)
	}
	if second.Status != model.TradeClosed || second.ExitReason != model.ExitEOD {
		t.Errorf("second should be force-closed EOD, got %s %s", second.Status, second.ExitReason)
	}

	if rep.PnL.TotalClosed != 2 || rep.PnL.RealizedPnL != 40 {
		t.Errorf("pnl = %+v", rep.PnL)
	}
	if len(rep.Strategies) != 1 || rep.Strategies[0].Strategy != strategy.OptionBuyTest {
		t.Errorf("strategies = %+v", rep.Strategies)
	}
}

func TestParityReplayVersusTicks(t *testing.T) {
	res, err := RunParity(context.Background(), testConfig("parity"), breakoutDay())
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Fatalf("parity diffs: %v", res.Diffs)
	}
	if len(res.Live.Trades) != 2 {
		t.Fatalf("live trades = %d, want 2", len(res.Live.Trades))
	}
	for i := range res.Live.Trades {
		l, r := res.Live.Trades[i], res.Replay.Trades[i]
		if l.ExitReason != r.ExitReason || l.ExitPrice != r.ExitPrice || !l.ExitTime.Equal(r.ExitTime) {
			t.Errorf("trade %d exit differs: live %s %.2f %s, replay %s %.2f %s",
				i, l.ExitReason, l.ExitPrice, l.ExitTime, r.ExitReason, r.ExitPrice, r.ExitTime)
		}
	}
}

func TestParityTicks(t *testing.T) {
	tape := tapeFrom(open0915, []ohlc{{100, 101, 99, 100}, {100, 104, 100, 103}})
	ticks := ParityTicks(tape)
	if len(ticks) != len(tape) {
		t.Fatalf("ticks=%d, want %d", len(ticks), len(tape))
	}
	var ce []model.Tick
	for _, tk := range ticks {
		if tk.Symbol == ceSym {
			ce = append(ce, tk)
		}
	}
	if ce[0].Bar == nil || ce[0].Bar.Low != 99 || ce[0].CumVolume != 50 || !ce[0].TS.Equal(ce[0].Bar.OpenTime) {
		t.Errorf("first CE tick = %+v", ce[0])
	}
	if ce[1].Bar == nil || ce[1].Bar.High != 104 || ce[1].CumVolume != 100 || ce[1].Price != 103 {
		t.Errorf("second CE tick = %+v", ce[1])
	}
}

// dropBars removes the bars of symbol opened at the given minutes.
func dropBars(tape []model.Candle, symbol string, minutes ...int) []model.Candle {
	skip := make(map[time.Time]bool, len(minutes))
	for _, m := range minutes {
		skip[minute(m).UTC()] = true
	}
	var out []model.Candle
	for _, c := range tape {
		if c.Symbol == symbol && skip[c.OpenTime] {
			continue
		}
		out = append(out, c)
	}
	return out
}

func TestParityQuietLeg(t *testing.T) {
	// No CE print on minute 2: the live pass for minute 1 runs while the
	// CE candle of minute 1 is still open.
	tape := dropBars(breakoutDay(), ceSym, 2)
	res, err := RunParity(context.Background(), testConfig("quiet"), tape)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Fatalf("parity diffs: %v", res.Diffs)
	}
	if len(res.Live.Trades) != 2 {
		t.Fatalf("live trades = %d, want 2: %+v", len(res.Live.Trades), res.Live.Trades)
	}
	first := res.Live.Trades[0]
	if !first.EntryTime.Equal(minute(1)) || first.EntryPrice != 103 {
		t.Errorf("first live entry = %.2f @ %s, want 103 @ minute 1", first.EntryPrice, first.EntryTime)
	}
}

// eodTape enters at 103 on 15:11 and prints 110 on the CE at 15:20.
func eodTape() []model.Candle {
	var ce []ohlc
	ce = append(ce, ohlc{100, 101, 99, 100}, ohlc{100, 104, 100, 103})
	ce = append(ce, repeat(ohlc{103, 103.5, 102.5, 103}, 8)...) // 15:12 .. 15:19
	ce = append(ce, ohlc{110, 111, 109, 110}, ohlc{110, 115, 110, 114})
	return tapeFrom(time.Date(2025, 1, 6, 15, 10, 0, 0, markethours.IST), ce)
}

func TestEODClosureAndNoLateEntries(t *testing.T) {
	rep, err := Backtest(context.Background(), testConfig("eod"), eodTape())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Trades) != 1 {
		t.Fatalf("trades = %d, want 1 (no entries at or after 15:20): %+v", len(rep.Trades), rep.Trades)
	}
	tr := rep.Trades[0]
	sq := time.Date(2025, 1, 6, 15, 20, 0, 0, markethours.IST)
	// The index prints 15:20 before the CE does; the exit still uses the
	// CE close of the 15:20 candle.
	if tr.ExitReason != model.ExitEOD || !tr.ExitTime.Equal(sq) || tr.ExitPrice != 110 {
		t.Fatalf("exit = %s %.2f @ %s, want EOD 110 @ 15:20", tr.ExitReason, tr.ExitPrice, tr.ExitTime)
	}
}

func TestParityAcrossSquareOff(t *testing.T) {
	res, err := RunParity(context.Background(), testConfig("eod-parity"), eodTape())
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Fatalf("parity diffs: %v", res.Diffs)
	}
	if len(res.Live.Trades) != 1 || res.Live.Trades[0].ExitPrice != 110 {
		t.Fatalf("live trades = %+v", res.Live.Trades)
	}
}

// walkDay builds a full 09:15-15:29 session of random-walk bars for the
// triple. CE moves with the index, PE against it. CE bars at the given
// minutes are left out.
func walkDay(seed int64, quietCE ...int) []model.Candle {
	rng := rand.New(rand.NewSource(seed))
	quiet := make(map[int]bool, len(quietCE))
	for _, m := range quietCE {
		quiet[m] = true
	}
	bar := func(sym string, at time.Time, open, close float64) model.Candle {
		hi := math.Max(open, close) + rng.Float64()*2
		lo := math.Max(math.Min(open, close)-rng.Float64()*2, 0.05)
		return model.Candle{Symbol: sym, OpenTime: at, Open: open, High: hi, Low: lo, Close: close, Volume: 100 + rng.Int63n(900)}
	}
	idx, ce, pe := 24000.0, 120.0, 110.0
	var out []model.Candle
	for i := 0; i < 375; i++ {
		at := minute(i).UTC()
		move := rng.NormFloat64() * 12
		nidx := idx + move
		nce := math.Max(ce+0.5*move+rng.NormFloat64(), 1)
		npe := math.Max(pe-0.5*move+rng.NormFloat64(), 1)
		out = append(out, bar(idxSym, at, idx, nidx))
		if !quiet[i] {
			out = append(out, bar(ceSym, at, ce, nce))
		}
		out = append(out, bar(peSym, at, pe, npe))
		idx, ce, pe = nidx, nce, npe
	}
	return out
}

func TestParityFullSessionAllDetectors(t *testing.T) {
	quiet := []int{3, 40, 41, 120, 250, 300, 364, 365, 370}
	cases := []struct {
		name string
		tape []model.Candle
	}{
		{"gap free", walkDay(1)},
		{"gap free second seed", walkDay(8)},
		{"quiet CE", walkDay(3, quiet...)},
		{"quiet CE second seed", walkDay(21, quiet...)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{ID: "walk", Index: idxSym, CE: ceSym, PE: peSym}
			res, err := RunParity(context.Background(), cfg, tc.tape)
			if err != nil {
				t.Fatal(err)
			}
			if !res.OK() {
				t.Fatalf("parity diffs: %v", res.Diffs)
			}
			if len(res.Replay.Trades) == 0 {
				t.Fatal("expected the walk to produce trades")
			}
			if len(res.Replay.Trades) != len(res.Live.Trades) {
				t.Fatalf("trades replay=%d live=%d", len(res.Replay.Trades), len(res.Live.Trades))
			}
		})
	}
}

func TestDiffTradesComparesExits(t *testing.T) {
	base := model.Trade{
		Strategy: strategy.OptionBuyTest, Symbol: ceSym, EntryTime: minute(1), EntryPrice: 103,
		ExitReason: model.ExitEOD, ExitTime: minute(5), ExitPrice: 109.86,
	}
	tests := []struct {
		name string
		edit func(*model.Trade)
		want int
	}{
		{"same", func(*model.Trade) {}, 0},
		{"price within tolerance", func(tr *model.Trade) { tr.ExitPrice += 0.005 }, 0},
		{"exit price", func(tr *model.Trade) { tr.ExitPrice = 111.55 }, 1},
		{"exit time", func(tr *model.Trade) { tr.ExitTime = minute(6) }, 1},
		{"exit reason and price", func(tr *model.Trade) { tr.ExitReason, tr.ExitPrice = model.ExitTarget, 143 }, 2},
		{"entry time", func(tr *model.Trade) { tr.EntryTime = minute(2) }, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			tt.edit(&other)
			if got := DiffTrades([]model.Trade{base}, []model.Trade{other}); len(got) != tt.want {
				t.Fatalf("diffs = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestMalformedTickIgnored(t *testing.T) {
	s, err := New(testConfig("bad"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, tk := range []model.Tick{
		{Symbol: ceSym, Price: 0, TS: minute(0)},
		{Symbol: ceSym, Price: -5, TS: minute(0)},
		{Symbol: "", Price: 100, TS: minute(0)},
		{Symbol: "OTHER", Price: 100, TS: minute(0)},
	} {
		if err := s.Advance(ctx, TickEvent(tk)); err != nil {
			t.Fatalf("Advance(%+v) = %v", tk, err)
		}
	}
	if _, ok := s.agg.OpenCandle(ceSym); ok {
		t.Fatal("malformed ticks must not open a candle")
	}
	if err := s.Advance(ctx, TickEvent(model.Tick{Symbol: ceSym, Price: 100, TS: minute(0)})); err != nil {
		t.Fatal(err)
	}
	if c, ok := s.agg.OpenCandle(ceSym); !ok || c.Open != 100 {
		t.Fatalf("valid tick after malformed ones: %+v %v", c, ok)
	}
	if err := s.Advance(ctx, Event{}); err == nil {
		t.Fatal("empty event should error")
	}
}

func TestBacktestNoData(t *testing.T) {
	if _, err := Backtest(context.Background(), testConfig("empty"), nil); !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestTracker(t *testing.T) {
	b0, b1, b2 := minute(0), minute(1), minute(2)
	tr := newTracker("I", "C", "P")

	if got := tr.closed("I", b0); got != nil {
		t.Fatalf("I@b0 ready early: %v", got)
	}
	tr.closed("C", b0)
	if got := tr.closed("P", b0); len(got) != 1 || !got[0].Equal(b0) {
		t.Fatalf("b0 ready = %v", got)
	}
	// C has a gap at b1: b1 becomes ready when any symbol closes b2.
	tr.closed("I", b1)
	tr.closed("P", b1)
	if got := tr.closed("I", b2); len(got) != 1 || !got[0].Equal(b1) {
		t.Fatalf("gap bucket = %v", got)
	}
	// late close of an already-passed bucket is ignored
	if got := tr.closed("C", b1); got != nil {
		t.Fatalf("late close = %v", got)
	}
	tr.closed("C", b2)
	if got := tr.drain(); len(got) != 1 || !got[0].Equal(b2) {
		t.Fatalf("drain = %v", got)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	s, _ := New(testConfig("stop"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	tape := breakoutDay()
	for _, c := range tape[:6] {
		if err := s.Submit(ctx, BarEvent(c)); err != nil {
			t.Fatal(err)
		}
	}
	s.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
	if err := s.Submit(ctx, BarEvent(tape[6])); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Submit after Stop = %v", err)
	}
	if err := s.Advance(ctx, BarEvent(tape[6])); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Advance after Stop = %v", err)
	}
}

// --- Manager ---

type mapBars map[string][]model.Candle

func (m mapBars) Bars(_ context.Context, symbol string, from, to time.Time) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range m[symbol] {
		if !c.OpenTime.Before(from) && c.OpenTime.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func barsOf(tape []model.Candle) mapBars {
	m := mapBars{}
	for _, c := range tape {
		m[c.Symbol] = append(m[c.Symbol], c)
	}
	return m
}

func testMaster() *instruments.Cache {
	exp := time.Date(2025, 1, 9, 0, 0, 0, 0, markethours.IST)
	return instruments.NewCache(instruments.Static([]model.Instrument{
		{Symbol: idxSym, Underlying: "NIFTY"},
		{Symbol: ceSym, Underlying: "NIFTY", Strike: 24000, OptionType: "CE", Expiry: exp, LotSize: 75},
		{Symbol: peSym, Underlying: "NIFTY", Strike: 24000, OptionType: "PE", Expiry: exp, LotSize: 75},
	}), 0)
}

type collector struct {
	mu   sync.Mutex
	msgs []Message
	fin  chan Report
}

func newCollector() *collector { return &collector{fin: make(chan Report, 1)} }

func (c *collector) Emit(_ context.Context, m Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	if m.Type == KindFinished && m.Report != nil {
		select {
		case c.fin <- *m.Report:
		default:
		}
	}
}

func (c *collector) count(k Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m.Type == k {
			n++
		}
	}
	return n
}

func TestManagerReplayHeadless(t *testing.T) {
	mgr := NewManager(Deps{
		Instruments: testMaster(),
		Bars:        barsOf(breakoutDay()),
		Strategy:    strategy.Config{Enabled: []string{strategy.OptionBuyTest}},
	})
	sink := newCollector()
	s, err := mgr.Start(context.Background(), StartRequest{Symbol: "nifty", Mode: ModeReplay, Date: "2025-01-06"}, sink)
	if err != nil {
		t.Fatal(err)
	}
	if idx, ce, pe := s.Symbols(); idx != idxSym || ce != ceSym || pe != peSym {
		t.Fatalf("symbols = %s %s %s", idx, ce, pe)
	}

	select {
	case rep := <-sink.fin:
		if len(rep.Trades) != 2 || rep.PnL.RealizedPnL != 40 {
			t.Fatalf("report = %+v", rep.PnL)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not finish")
	}
	if sink.count(KindReplayInfo) != 1 || sink.count(KindStep) != 15 {
		t.Errorf("replay_info=%d step=%d", sink.count(KindReplayInfo), sink.count(KindStep))
	}
	if sink.count(KindTrade) != 4 || sink.count(KindSignal) != 2 {
		t.Errorf("trade=%d signal=%d, want 4 and 2", sink.count(KindTrade), sink.count(KindSignal))
	}

	deadline := time.Now().Add(2 * time.Second)
	for mgr.Active() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mgr.Active() != 0 {
		t.Fatal("finished replay should be forgotten")
	}
	if err := mgr.Pause(s.ID()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Pause after finish = %v", err)
	}
}

func TestManagerStartErrors(t *testing.T) {
	mgr := NewManager(Deps{Instruments: testMaster(), Bars: mapBars{}})
	ctx := context.Background()

	if _, err := mgr.Start(ctx, StartRequest{Symbol: "NIFTY", Mode: "paper"}, nil); !errors.Is(err, ErrBadMode) {
		t.Errorf("bad mode: %v", err)
	}
	if _, err := mgr.Start(ctx, StartRequest{Symbol: "NIFTY", Mode: ModeReplay, Date: "2025-01-06"}, nil); !errors.Is(err, ErrNoData) {
		t.Errorf("empty day: %v", err)
	}
	if _, err := mgr.Start(ctx, StartRequest{Symbol: "NIFTY", Mode: ModeReplay, Date: "06-01-2025"}, nil); err == nil {
		t.Error("bad date should fail")
	}
	if _, err := mgr.Start(ctx, StartRequest{Symbol: "SENSEX", Mode: ModeReplay, Date: "2025-01-06"}, nil); !errors.Is(err, instruments.ErrNotFound) {
		t.Errorf("unknown index: %v", err)
	}
	if mgr.Active() != 0 {
		t.Fatal("failed starts must not leave sessions behind")
	}
}

func TestManagerLiveStartStop(t *testing.T) {
	hub := bus.New(64)
	mgr := NewManager(Deps{
		Hub:         hub,
		Instruments: testMaster(),
		Strategy:    strategy.Config{Enabled: []string{strategy.OptionBuyTest}},
		Now:         func() time.Time { return open0915 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		tk := time.NewTicker(2 * time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				hub.Publish(model.Tick{Symbol: idxSym, Price: 24012, TS: open0915})
			}
		}
	}()

	s, err := mgr.Start(ctx, StartRequest{Symbol: "NIFTY", Mode: ModeLive}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ce, _ := s.Symbols(); ce != ceSym {
		t.Fatalf("ATM leg = %s", ce)
	}
	if err := mgr.Pause(s.ID()); !errors.Is(err, ErrBadMode) {
		t.Fatalf("Pause on live = %v, want ErrBadMode", err)
	}

	if _, err := mgr.Stop(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Stop(ctx, s.ID()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second Stop = %v", err)
	}
	for _, sym := range hub.Symbols() {
		if sym == ceSym || sym == peSym {
			t.Fatalf("stopped session still subscribed: %v", hub.Symbols())
		}
	}
}

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"optionscalp/internal/markethours"
	"optionscalp/internal/model"
)

func dbPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "market.db")
}

func TestBarsRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := dbPath(t)
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	day := time.Date(2025, 1, 6, 9, 15, 0, 0, markethours.IST)
	var bars []model.Candle
	for i := 0; i < 5; i++ {
		bars = append(bars, model.Candle{
			Symbol: "NIFTY24000CE", OpenTime: day.Add(time.Duration(i) * time.Minute),
			Open: 100, High: 101.5, Low: 99.25, Close: 100.5 + float64(i), Volume: int64(10 * i),
		})
	}
	// out of order on purpose; the reader sorts by ts
	bars[1], bars[3] = bars[3], bars[1]
	if err := w.SaveBars(ctx, bars); err != nil {
		t.Fatal(err)
	}
	// upsert replaces
	bars[0].Close = 99
	if err := w.SaveBars(ctx, bars[:1]); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got, err := r.Bars(ctx, "NIFTY24000CE", day.Add(time.Minute), day.Add(4*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("bars in [1m, 4m) = %d, want 3", len(got))
	}
	for i, c := range got {
		want := day.Add(time.Duration(i+1) * time.Minute)
		if !c.OpenTime.Equal(want) || c.Symbol != "NIFTY24000CE" {
			t.Errorf("bar %d = %s %s", i, c.Symbol, c.OpenTime)
		}
	}
	if got[0].Close != 101.5 || got[0].Low != 99.25 {
		t.Errorf("bar values = %+v", got[0])
	}

	all, _ := r.Bars(ctx, "NIFTY24000CE", day, day.Add(time.Hour))
	if all[0].Close != 99 {
		t.Errorf("upsert close = %v, want 99", all[0].Close)
	}
	if none, _ := r.Bars(ctx, "OTHER", day, day.Add(time.Hour)); len(none) != 0 {
		t.Errorf("unknown symbol returned %d bars", len(none))
	}

	days, err := r.Days(ctx, "NIFTY24000CE", markethours.IST)
	if err != nil || len(days) != 1 || days[0] != "2025-01-06" {
		t.Errorf("days = %v, %v", days, err)
	}
}

func TestPCRHistory(t *testing.T) {
	ctx := context.Background()
	path := dbPath(t)
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	t0 := time.Date(2025, 1, 6, 9, 15, 0, 0, markethours.IST)
	pts := []model.PCRPoint{
		{TS: t0, PCR: 0.9, Buildup: model.BuildupShort},
		{TS: t0.Add(5 * time.Minute), PCR: 1.2, Buildup: model.BuildupLong},
	}
	if err := w.SavePCR(ctx, "Nifty 50", pts); err != nil {
		t.Fatal(err)
	}

	r, _ := NewReader(path)
	defer r.Close()
	got, err := r.PCRHistory(ctx, "Nifty 50", t0, t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].PCR != 1.2 || got[1].Buildup != model.BuildupLong || !got[0].TS.Equal(t0) {
		t.Fatalf("pcr history = %+v", got)
	}
}

func TestJournalUpsert(t *testing.T) {
	ctx := context.Background()
	j, err := NewJournal(dbPath(t))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	entry := time.Date(2025, 1, 6, 4, 0, 0, 0, time.UTC)
	tr := model.Trade{
		ID: "t1", Symbol: "NIFTY24000CE", Strategy: "OPTION_BUY_TEST", Leg: model.LegCE,
		Reason: "breakout", EntryPrice: 100, EntryTime: entry, StopLoss: 80, Target: 140,
		Status: model.TradeOpen,
	}
	if err := j.SaveTrade(ctx, "s1", tr); err != nil {
		t.Fatal(err)
	}
	tr.Close(140, entry.Add(7*time.Minute), model.ExitTarget)
	if err := j.SaveTrade(ctx, "s1", tr); err != nil {
		t.Fatal(err)
	}
	other := model.Trade{ID: "t2", Symbol: "NIFTY24000PE", Strategy: "X", Leg: model.LegPE,
		EntryPrice: 50, EntryTime: entry.Add(time.Minute), StopLoss: 30, Target: 90, Status: model.TradeOpen}
	if err := j.SaveTrade(ctx, "s2", other); err != nil {
		t.Fatal(err)
	}

	got, err := j.GetTrades(ctx, "s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("s1 trades = %d, want 1", len(got))
	}
	r := got[0]
	if r.Status != model.TradeClosed || r.ExitReason != model.ExitTarget || r.PnL != 40 || r.ExitPrice != 140 {
		t.Errorf("closed row = %+v", r)
	}
	if !r.EntryTime.Equal(entry) || !r.ExitTime.Equal(entry.Add(7*time.Minute)) || r.Session != "s1" {
		t.Errorf("times/session = %s %s %s", r.EntryTime, r.ExitTime, r.Session)
	}

	all, _ := j.GetTrades(ctx, "", 10)
	if len(all) != 2 || all[0].ID != "t2" {
		t.Fatalf("all trades = %+v", all)
	}
	if !all[0].ExitTime.IsZero() || all[0].Status != model.TradeOpen {
		t.Errorf("open row = %+v", all[0])
	}
}

package main

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"optionscalp/internal/instruments"
	"optionscalp/internal/markethours"
)

func TestSynthDay(t *testing.T) {
	day := time.Date(2025, 1, 8, 0, 0, 0, 0, markethours.IST)
	g := synthDay("NIFTY", seedIndices["NIFTY"], day, rand.New(rand.NewSource(7)))

	if g.ce != "NIFTY09JAN2524000CE" || g.pe != "NIFTY09JAN2524000PE" {
		t.Fatalf("legs = %s, %s", g.ce, g.pe)
	}
	if len(g.bars) != 375*3 {
		t.Fatalf("bars = %d, want %d", len(g.bars), 375*3)
	}
	for _, b := range g.bars {
		if !b.Valid() {
			t.Fatalf("invalid bar %+v", b)
		}
	}
	if first := g.bars[0].OpenTime; !first.Equal(markethours.SessionOpen(day)) {
		t.Errorf("first bar at %v", first)
	}
	if len(g.pcr) != 25 {
		t.Errorf("pcr points = %d, want 25", len(g.pcr))
	}

	insts, err := instruments.ParseMaster(mustJSON(t, g.master))
	if err != nil {
		t.Fatalf("ParseMaster: %v", err)
	}
	if len(insts) != 3 {
		t.Fatalf("instruments = %d", len(insts))
	}
	for _, in := range insts[1:] {
		if in.Strike != 24000 || in.LotSize != 75 || in.Expiry.Day() != 9 {
			t.Errorf("leg %+v", in)
		}
	}
}

func TestWeeklyExpiry(t *testing.T) {
	thu := time.Date(2025, 1, 9, 0, 0, 0, 0, markethours.IST)
	for _, d := range []int{3, 6, 9} {
		got := weeklyExpiry(time.Date(2025, 1, d, 10, 0, 0, 0, markethours.IST))
		if !got.Equal(thu) {
			t.Errorf("weeklyExpiry(Jan %d) = %v", d, got)
		}
	}
}

func TestLastTradingDay(t *testing.T) {
	// Monday 2025-01-06 -> Friday 2025-01-03
	got := lastTradingDay(time.Date(2025, 1, 6, 12, 0, 0, 0, markethours.IST))
	if got.Weekday() != time.Friday || got.Day() != 3 {
		t.Fatalf("lastTradingDay = %v", got)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

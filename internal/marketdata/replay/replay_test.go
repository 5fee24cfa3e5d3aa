package replay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"optionscalp/internal/markethours"
	"optionscalp/internal/model"
)

var day = time.Date(2025, 1, 6, 0, 0, 0, 0, markethours.IST)

func at(h, m int) time.Time { return time.Date(2025, 1, 6, h, m, 0, 0, markethours.IST).UTC() }

type memSource map[string][]model.Candle

func (m memSource) Bars(_ context.Context, symbol string, from, to time.Time) ([]model.Candle, error) {
	return m[symbol], nil
}

func bar(t time.Time, c float64) model.Candle {
	return model.Candle{OpenTime: t, Open: c, High: c, Low: c, Close: c, Volume: 1}
}

func TestLoadMergesInTripleOrder(t *testing.T) {
	src := memSource{
		"PE":    {bar(at(9, 16), 3), bar(at(9, 15), 3)},
		"CE":    {bar(at(9, 15), 2), bar(at(9, 16), 2)},
		"NIFTY": {bar(at(9, 10), 9), bar(at(9, 15), 1), bar(at(9, 16), 1), bar(at(15, 30), 9)},
	}
	tape, err := Load(context.Background(), src, "NIFTY", "CE", "PE", day)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"NIFTY", "CE", "PE", "NIFTY", "CE", "PE"}
	if len(tape) != len(want) {
		t.Fatalf("tape has %d bars, want %d (pre-open and close bars filtered)", len(tape), len(want))
	}
	for i, sym := range want {
		if tape[i].Symbol != sym {
			t.Errorf("tape[%d] = %s, want %s", i, tape[i].Symbol, sym)
		}
	}
	if !tape[3].OpenTime.Equal(at(9, 16)) {
		t.Errorf("tape[3] at %s", tape[3].OpenTime)
	}
	if steps := Steps(tape); len(steps) != 2 || len(steps[0]) != 3 {
		t.Fatalf("steps = %d", len(steps))
	}
}

func TestLoadNoData(t *testing.T) {
	src := memSource{"NIFTY": {bar(at(9, 15), 1)}, "CE": {bar(at(9, 15), 2)}}
	_, err := Load(context.Background(), src, "NIFTY", "CE", "PE", day)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func tape(n int) []model.Candle {
	var out []model.Candle
	for i := 0; i < n; i++ {
		out = append(out, bar(at(9, 15+i), float64(i)))
	}
	return out
}

func TestPlayerHeadless(t *testing.T) {
	p := NewPlayer(tape(5), 0)
	var got []float64
	err := p.Run(context.Background(), func(_ context.Context, c model.Candle) error {
		got = append(got, c.Close)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 || got[4] != 4 || p.Position() != 5 {
		t.Fatalf("got %v pos %d", got, p.Position())
	}
}

func TestPlayerPauseResume(t *testing.T) {
	p := NewPlayer(tape(10), time.Millisecond)
	var emitted atomic.Int32
	p.OnStep = func(step, _ int, _ time.Time) {
		if step == 3 {
			p.Pause()
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- p.Run(context.Background(), func(context.Context, model.Candle) error {
			emitted.Add(1)
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	if n := emitted.Load(); n != 3 {
		t.Fatalf("emitted %d while paused, want 3", n)
	}
	if !p.Paused() {
		t.Fatal("player should report paused")
	}
	p.Resume()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if n := emitted.Load(); n != 10 {
		t.Fatalf("emitted %d, want 10", n)
	}
}

func TestPlayerCancelWhilePaused(t *testing.T) {
	p := NewPlayer(tape(3), 0)
	p.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, func(context.Context, model.Candle) error { return nil })
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPlayerEmitError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPlayer(tape(3), 0)
	err := p.Run(context.Background(), func(context.Context, model.Candle) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

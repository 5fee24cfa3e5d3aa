package bus

import (
	"context"
	"sort"
	"testing"
	"time"

	"optionscalp/internal/model"
)

func TestHub_FiltersBySymbol(t *testing.T) {
	h := New(10)
	a := h.Subscribe("NIFTY", "CE1")
	b := h.Subscribe("BANKNIFTY")

	input := make(chan model.Tick, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx, input)

	input <- model.Tick{Symbol: "CE1", Price: 101}
	input <- model.Tick{Symbol: "BANKNIFTY", Price: 51000}

	select {
	case tk := <-a.C:
		if tk.Symbol != "CE1" {
			t.Errorf("a: got %s", tk.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("a: timed out waiting for tick")
	}
	select {
	case tk := <-b.C:
		if tk.Symbol != "BANKNIFTY" {
			t.Errorf("b: got %s", tk.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("b: timed out waiting for tick")
	}

	time.Sleep(20 * time.Millisecond)
	if len(a.C) != 0 || len(b.C) != 0 {
		t.Fatalf("unexpected extra ticks: a=%d b=%d", len(a.C), len(b.C))
	}
}

func TestHub_DropsForSlowConsumer(t *testing.T) {
	h := New(1)
	slow := h.Subscribe("X")
	fast := h.Subscribe("X")
	drops := map[string]int{}
	h.OnDrop = func(id string) { drops[id]++ }

	h.Publish(model.Tick{Symbol: "X", Price: 1})
	<-fast.C
	h.Publish(model.Tick{Symbol: "X", Price: 2})

	if drops[slow.ID] != 1 || drops[fast.ID] != 0 {
		t.Fatalf("drops = %v", drops)
	}
}

func TestHub_UnsubscribeClosesAndUpdatesSymbols(t *testing.T) {
	h := New(1)
	var last []string
	h.OnSymbols = func(s []string) { last = s }

	a := h.Subscribe("A", "B")
	h.Subscribe("B", "C")
	sort.Strings(last)
	if len(last) != 3 {
		t.Fatalf("union = %v", last)
	}

	h.Unsubscribe(a)
	h.Unsubscribe(a)
	if _, ok := <-a.C; ok {
		t.Fatal("channel should be closed")
	}
	sort.Strings(last)
	if len(last) != 2 || last[0] != "B" || last[1] != "C" {
		t.Fatalf("union after unsubscribe = %v", last)
	}
	h.Publish(model.Tick{Symbol: "A", Price: 1})
}

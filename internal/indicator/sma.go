package indicator

// SMA is the simple moving average over the last period prices, kept as
// a running sum over a fixed ring.
type SMA struct {
	win  []float64
	next int
	full bool
	sum  float64
}

func NewSMA(period int) *SMA {
	return &SMA{win: make([]float64, period)}
}

func (s *SMA) Name() string { return "SMA" }

func (s *SMA) Update(price float64) {
	s.sum += price - s.win[s.next]
	s.win[s.next] = price
	s.next++
	if s.next == len(s.win) {
		s.next, s.full = 0, true
	}
}

func (s *SMA) Ready() bool { return s.full }

func (s *SMA) Value() float64 {
	if !s.full {
		return 0
	}
	return s.sum / float64(len(s.win))
}

// Reset clears the window for reuse.
func (s *SMA) Reset() {
	clear(s.win)
	s.next, s.full, s.sum = 0, false, 0
}

package indicator

// smoother is a recursive average seeded with the SMA of its first n
// inputs. After the seed each input x moves the value by alpha*(x-value).
type smoother struct {
	n     int
	alpha float64
	count int
	value float64
}

func (s *smoother) add(x float64) {
	s.count++
	if s.count <= s.n {
		s.value += (x - s.value) / float64(s.count)
		return
	}
	s.value += s.alpha * (x - s.value)
}

func (s *smoother) ready() bool { return s.count >= s.n }

// EMA is the exponential moving average with k = 2/(period+1).
type EMA struct{ s smoother }

// NewEMA returns an EMA over period prices.
func NewEMA(period int) *EMA {
	return &EMA{s: smoother{n: period, alpha: 2 / float64(period+1)}}
}

func (e *EMA) Name() string         { return "EMA" }
func (e *EMA) Update(price float64) { e.s.add(price) }
func (e *EMA) Ready() bool          { return e.s.ready() }

// Value is 0 until the seed is complete.
func (e *EMA) Value() float64 {
	if !e.s.ready() {
		return 0
	}
	return e.s.value
}

// SMMA is Wilder's smoothed average (alpha = 1/period). ATR runs it over
// the true range.
type SMMA struct{ s smoother }

func NewSMMA(period int) *SMMA {
	return &SMMA{s: smoother{n: period, alpha: 1 / float64(period)}}
}

func (m *SMMA) Name() string         { return "SMMA" }
func (m *SMMA) Update(price float64) { m.s.add(price) }
func (m *SMMA) Ready() bool          { return m.s.ready() }

func (m *SMMA) Value() float64 {
	if !m.s.ready() {
		return 0
	}
	return m.s.value
}

// RSI is Wilder's relative strength index: gains and losses each go
// through an SMMA of the same period.
type RSI struct {
	gain, loss smoother
	prev       float64
	seen       bool
}

func NewRSI(period int) *RSI {
	a := 1 / float64(period)
	return &RSI{
		gain: smoother{n: period, alpha: a},
		loss: smoother{n: period, alpha: a},
	}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(price float64) {
	if !r.seen {
		r.prev, r.seen = price, true
		return
	}
	d := price - r.prev
	r.prev = price
	if d > 0 {
		r.gain.add(d)
		r.loss.add(0)
	} else {
		r.gain.add(0)
		r.loss.add(-d)
	}
}

func (r *RSI) Ready() bool { return r.gain.ready() }

func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	if r.loss.value == 0 {
		return 100
	}
	return 100 - 100/(1+r.gain.value/r.loss.value)
}

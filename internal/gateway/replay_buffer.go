package gateway

import "sync"

type backlogEntry struct {
	seq  int64
	data []byte
}

// backlog keeps the most recent envelopes sent to one client so that a
// client which saw a seq gap (its queue overflowed) can ask for the
// missing ones.
type backlog struct {
	mu   sync.Mutex
	buf  []backlogEntry
	pos  int // next write position
	full bool
}

func newBacklog(capacity int) *backlog {
	if capacity <= 0 {
		capacity = 500
	}
	return &backlog{buf: make([]backlogEntry, capacity)}
}

// push records an envelope; the oldest is overwritten when full.
func (b *backlog) push(seq int64, data []byte) {
	b.mu.Lock()
	b.buf[b.pos] = backlogEntry{seq: seq, data: data}
	b.pos = (b.pos + 1) % len(b.buf)
	if b.pos == 0 {
		b.full = true
	}
	b.mu.Unlock()
}

// since returns the envelopes with seq >= from, oldest first.
func (b *backlog) since(from int64) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, start := b.pos, 0
	if b.full {
		n, start = len(b.buf), b.pos
	}
	var out [][]byte
	for i := 0; i < n; i++ {
		e := b.buf[(start+i)%len(b.buf)]
		if e.seq >= from {
			out = append(out, e.data)
		}
	}
	return out
}

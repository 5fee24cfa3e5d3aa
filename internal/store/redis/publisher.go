package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// ChannelPrefix is the pub/sub channel prefix; the session id follows.
	ChannelPrefix = "optionscalp:events:"
	// LatestPrefix keys the last published event of each session.
	LatestPrefix = "optionscalp:latest:"

	defaultLatestTTL = 30 * time.Minute
	defaultMaxBuffer = 10000
)

// Client is the subset of the go-redis client the publisher needs.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
}

// Publisher writes JSON events to the per-session channel and keeps the
// latest one under a TTL key for late subscribers.
type Publisher struct {
	client Client
	ttl    time.Duration
}

// NewPublisher creates a publisher on client.
func NewPublisher(client Client) *Publisher {
	return &Publisher{client: client, ttl: defaultLatestTTL}
}

// Channel returns the pub/sub channel of a session.
func Channel(session string) string { return ChannelPrefix + session }

// Publish sends one encoded event.
func (p *Publisher) Publish(ctx context.Context, session string, data []byte) error {
	if err := p.client.Publish(ctx, Channel(session), data).Err(); err != nil {
		return err
	}
	return p.client.Set(ctx, LatestPrefix+session, data, p.ttl).Err()
}

type pending struct {
	session string
	data    []byte
}

// BufferedPublisher sends events through a circuit breaker. While the
// breaker is open, events are buffered (oldest dropped beyond maxBuf) and
// replayed in order once it closes again.
type BufferedPublisher struct {
	pub *Publisher
	cb  *CircuitBreaker

	mu     sync.Mutex
	buffer []pending
	maxBuf int

	// OnBuffer is called when an event is buffered (for metrics).
	OnBuffer func()
	// OnFlush is called after buffered events were replayed.
	OnFlush func(count int)
}

// NewBufferedPublisher wraps pub with cb.
func NewBufferedPublisher(pub *Publisher, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = defaultMaxBuffer
	}
	bp := &BufferedPublisher{
		pub:    pub,
		cb:     cb,
		buffer: make([]pending, 0, 256),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed && from != StateClosed {
			go bp.flush(context.Background())
		}
	}
	return bp
}

// Publish encodes v and sends it, buffering when the breaker is open or
// the send fails.
func (bp *BufferedPublisher) Publish(ctx context.Context, session string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	err = bp.cb.Execute(func() error { return bp.pub.Publish(ctx, session, data) })
	if err != nil {
		bp.push(pending{session: session, data: data})
		if err == ErrCircuitOpen {
			return nil
		}
		log.Printf("[redis-publisher] publish %s: %v (buffered)", session, err)
	}
	return nil
}

func (bp *BufferedPublisher) push(p pending) {
	bp.mu.Lock()
	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, p)
	bp.mu.Unlock()

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered events. A failure puts the remainder back at the
// front of the buffer.
func (bp *BufferedPublisher) flush(ctx context.Context) {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = make([]pending, 0, 256)
	bp.mu.Unlock()

	flushed := 0
	for i, p := range toFlush {
		if err := bp.pub.Publish(ctx, p.session, p.data); err != nil {
			log.Printf("[redis-publisher] flush stopped after %d: %v", flushed, err)
			bp.mu.Lock()
			bp.buffer = append(append([]pending{}, toFlush[i:]...), bp.buffer...)
			if len(bp.buffer) > bp.maxBuf {
				bp.buffer = bp.buffer[len(bp.buffer)-bp.maxBuf:]
			}
			bp.mu.Unlock()
			break
		}
		flushed++
	}

	log.Printf("[redis-publisher] flushed %d buffered events", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered events.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}

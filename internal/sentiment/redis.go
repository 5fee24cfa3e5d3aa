package sentiment

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"optionscalp/internal/model"
)

// KeyPrefix is the Redis hash prefix written by the sentiment collector.
const KeyPrefix = "sentiment:"

// HashGetter is the subset of *redis.Client used here.
type HashGetter interface {
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
}

// RedisProvider reads live sentiment from hash sentiment:<symbol> with
// fields pcr and buildup. The last good value per symbol is cached so an
// outage degrades to stale context instead of none.
type RedisProvider struct {
	rdb     HashGetter
	timeout time.Duration

	mu   sync.Mutex
	last map[string]model.Sentiment
}

// NewRedisProvider wraps a Redis client. timeout bounds each lookup.
func NewRedisProvider(rdb HashGetter, timeout time.Duration) *RedisProvider {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &RedisProvider{rdb: rdb, timeout: timeout, last: make(map[string]model.Sentiment)}
}

func (p *RedisProvider) At(ctx context.Context, symbol string, _ time.Time) model.Sentiment {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	fields, err := p.rdb.HGetAll(ctx, KeyPrefix+symbol).Result()
	if err != nil || len(fields) == 0 {
		if err != nil {
			log.Printf("[sentiment] redis read %s: %v (using cached)", symbol, err)
		}
		return p.cached(symbol)
	}

	s := model.Sentiment{Buildup: model.ParseBuildup(fields["buildup"])}
	if v, err := strconv.ParseFloat(fields["pcr"], 64); err == nil && v > 0 {
		s.PCR = v
	}

	p.mu.Lock()
	p.last[symbol] = s
	p.mu.Unlock()
	return s
}

func (p *RedisProvider) cached(symbol string) model.Sentiment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last[symbol]
}

package resilience

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a key has no tokens left.
var ErrRateLimited = errors.New("rate limited")

// LimiterOpts configures a token bucket.
type LimiterOpts struct {
	// Rate is tokens added per second.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
	// MaxKeys bounds how many keys are tracked; the least recently seen
	// are forgotten first.
	MaxKeys int
}

// DefaultLimiterOpts allows two questions a second with bursts of five.
var DefaultLimiterOpts = LimiterOpts{Rate: 2, Burst: 5, MaxKeys: 10000}

// KeyedLimiter holds one token bucket per key (a client address or a
// session). It is safe for concurrent use.
type KeyedLimiter struct {
	mu      sync.Mutex
	opts    LimiterOpts
	buckets *lru.Cache[string, *rate.Limiter]
}

// NewKeyedLimiter creates a limiter; zero fields take DefaultLimiterOpts
// values.
func NewKeyedLimiter(opts LimiterOpts) *KeyedLimiter {
	if opts.Rate <= 0 {
		opts.Rate = DefaultLimiterOpts.Rate
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultLimiterOpts.Burst
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = DefaultLimiterOpts.MaxKeys
	}
	buckets, _ := lru.New[string, *rate.Limiter](opts.MaxKeys)
	return &KeyedLimiter{opts: opts, buckets: buckets}
}

func (k *KeyedLimiter) bucket(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	if l, ok := k.buckets.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(k.opts.Rate), k.opts.Burst)
	k.buckets.Add(key, l)
	return l
}

// Allow reports whether key may proceed now, consuming a token if so.
func (k *KeyedLimiter) Allow(key string) bool {
	return k.bucket(key).Allow()
}

// Wait blocks until key has a token or ctx ends.
func (k *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return k.bucket(key).Wait(ctx)
}

// Call runs f if key has a token, otherwise returns ErrRateLimited.
func (k *KeyedLimiter) Call(ctx context.Context, key string, f func(context.Context) error) error {
	if !k.Allow(key) {
		return ErrRateLimited
	}
	return f(ctx)
}

// Keys returns how many keys are tracked.
func (k *KeyedLimiter) Keys() int { return k.buckets.Len() }

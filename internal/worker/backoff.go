package worker

import (
	"crypto/rand"
	"math/big"
	"time"
)

const (
	defaultBackoffBase = time.Second
	defaultBackoffMax  = 2 * time.Minute
)

// Backoff computes exponential delays with equal jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retrying after the n-th consecutive failure
// (n starts at 1). The result lies in [d/2, d) where d = min(Base*2^(n-1), Max).
func (b Backoff) Delay(attempt int) time.Duration {
	base, limit := b.Base, b.Max
	if base <= 0 {
		base = defaultBackoffBase
	}
	if limit <= 0 {
		limit = defaultBackoffMax
	}
	if limit < base {
		limit = base
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt && delay < limit; i++ {
		delay *= 2
	}
	if delay > limit {
		delay = limit
	}
	half := delay / 2
	return half + Jitter(delay-half)
}

// Jitter returns a uniformly random duration in [0, limit).
func Jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

package docstore

import (
	"math/rand/v2"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
)

const defaultBaseBackoff = 5 * time.Millisecond

// FullJitterBackoff draws each delay uniformly from [0, min(cap, base*2^attempt)).
// Contenders that lost the same round spread out instead of colliding again.
type FullJitterBackoff struct {
	base  time.Duration
	cap   time.Duration
	randN func(n int64) int64
}

var _ retry.BackoffDelayer = (*FullJitterBackoff)(nil)

// NewFullJitterBackoff returns a backoff capped at maxDelay. A zero maxDelay disables the delay.
func NewFullJitterBackoff(base, maxDelay time.Duration) *FullJitterBackoff {
	if base <= 0 {
		base = defaultBaseBackoff
	}
	return &FullJitterBackoff{base: base, cap: maxDelay, randN: rand.Int64N}
}

// BackoffDelay implements retry.BackoffDelayer. attempt starts at 1.
func (b *FullJitterBackoff) BackoffDelay(attempt int, _ error) (time.Duration, error) {
	if b.cap <= 0 {
		return 0, nil
	}
	ceiling := b.cap
	// past 2^30 the base is far beyond any sane cap
	if attempt < 30 {
		if d := b.base << attempt; d > 0 && d < ceiling {
			ceiling = d
		}
	}
	return time.Duration(b.randN(int64(ceiling))), nil
}

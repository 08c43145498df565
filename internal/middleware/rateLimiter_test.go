package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	req := require.New(t)
	limiter := NewRatelimiter(3, time.Second)

	req.True(limiter.Allow())
	req.True(limiter.Allow())
	req.True(limiter.Allow())

	// Bucket drained, no time has passed
	req.False(limiter.Allow())
}

func TestRateLimiter_RefillsAfterInterval(t *testing.T) {
	req := require.New(t)
	limiter := NewRatelimiter(1, 20*time.Millisecond)

	req.True(limiter.Allow())
	req.False(limiter.Allow())

	time.Sleep(50 * time.Millisecond)
	req.True(limiter.Allow())
}

func TestRateLimiter_RefillCapsAtBurst(t *testing.T) {
	req := require.New(t)
	limiter := NewRatelimiter(1, time.Millisecond)

	// Idle long enough to generate far more tokens than the burst cap
	time.Sleep(50 * time.Millisecond)

	granted := 0
	for limiter.Allow() {
		granted++
	}
	req.LessOrEqual(granted, burstLimit+1)
	req.Positive(granted)
}

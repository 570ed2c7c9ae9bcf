package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsBurstThenDenies(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)

	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow(), "bucket must be empty after the burst")
}

func TestRateLimiterRefills(t *testing.T) {
	rl := newRateLimiter(2, 100*time.Millisecond)

	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	time.Sleep(150 * time.Millisecond)
	assert.True(t, rl.allow(), "tokens must come back after the refill interval")
}

func TestRateLimiterSanitizesArguments(t *testing.T) {
	rl := newRateLimiter(0, 0)
	assert.True(t, rl.allow(), "a degenerate limiter still grants one token")
}

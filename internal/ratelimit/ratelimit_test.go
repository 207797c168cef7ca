package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowBurstThenDeny(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(60, 2)
	l.now = func() time.Time { return now }

	ok, _ := l.Allow("u1")
	assert.True(t, ok)
	ok, _ = l.Allow("u1")
	assert.True(t, ok)

	ok, retry := l.Allow("u1")
	assert.False(t, ok)
	assert.InDelta(t, time.Second, retry, float64(10*time.Millisecond))

	ok, _ = l.Allow("u2")
	assert.True(t, ok, "buckets are per principal")

	now = now.Add(time.Second)
	ok, _ = l.Allow("u1")
	assert.True(t, ok)
}

func TestCleanupDropsIdleBuckets(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(10, 1)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(time.Hour)
	l.Allow("fresh")

	assert.Equal(t, 1, l.Cleanup(10*time.Minute))
	assert.Len(t, l.limiters, 1)
}

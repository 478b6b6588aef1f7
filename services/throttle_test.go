package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle(t *testing.T) {
	now := time.Date(2025, 11, 20, 10, 0, 0, 0, time.UTC)
	th := NewThrottle(6, 2, func() time.Time { return now })

	assert.True(t, th.Allow("p1"))
	assert.True(t, th.Allow("p1"))
	assert.False(t, th.Allow("p1"), "burst exhausted")
	assert.True(t, th.Allow("p2"), "participants are independent")

	now = now.Add(10 * time.Second)
	assert.True(t, th.Allow("p1"), "one token refills every ten seconds")

	now = now.Add(time.Hour)
	assert.Equal(t, 2, th.Cleanup(time.Minute))
}

func TestThrottle_Unlimited(t *testing.T) {
	th := NewThrottle(0, 0, nil)
	for i := 0; i < 100; i++ {
		assert.True(t, th.Allow("p1"))
	}
}

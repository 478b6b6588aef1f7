package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestExpiringCache_LastWriteWins(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	c := NewExpiringCache[string, string](clock.Now)

	c.Put("k", "first", 120*time.Second)
	c.Put("k", "second", 120*time.Second)

	v, ok := c.TakeIfPresent("k")
	assert.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestExpiringCache_TakeIsOneTime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	c := NewExpiringCache[string, int](clock.Now)

	c.Put("k", 1, time.Minute)
	_, ok := c.TakeIfPresent("k")
	assert.True(t, ok)

	_, ok = c.TakeIfPresent("k")
	assert.False(t, ok)
}

func TestExpiringCache_HasDoesNotConsume(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	c := NewExpiringCache[string, int](clock.Now)

	assert.False(t, c.Has("k"))
	c.Put("k", 1, time.Minute)
	assert.True(t, c.Has("k"))
	assert.True(t, c.Has("k"))

	v, ok := c.TakeIfPresent("k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.Put("k", 2, time.Minute)
	clock.Advance(time.Minute)
	assert.False(t, c.Has("k"))
}

func TestExpiringCache_ExpiryAndSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	c := NewExpiringCache[string, int](clock.Now)

	c.Put("old", 1, 120*time.Second)
	clock.Advance(119 * time.Second)
	c.Put("young", 2, 120*time.Second)
	assert.Equal(t, 2, c.Len())

	clock.Advance(2 * time.Second)
	_, ok := c.TakeIfPresent("old")
	assert.False(t, ok, "entry past its ttl must read as absent")

	// put sweeps whatever expired in the meantime
	c.Put("young", 3, 120*time.Second)
	c.Put("other", 4, time.Second)
	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestKeyedMutex_SerialisesPerKey(t *testing.T) {
	km := NewKeyedMutex()
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("p1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, km.Held())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}

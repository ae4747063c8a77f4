package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(threshold, time.Minute)
	b.now = clock.Now
	return b, clock
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}
	state, failures := b.GetState()
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 2, failures)

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(2)

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	state, failures := b.GetState()
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 1, failures)
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	b, clock := newTestBreaker(1)
	b.RecordFailure()
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	clock.Advance(time.Minute)
	require.NoError(t, b.Allow(), "trial call allowed after cooldown")
	assert.ErrorIs(t, b.Allow(), ErrOpen, "only one trial at a time")

	// failed trial reopens
	b.RecordFailure()
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	clock.Advance(time.Minute)
	require.NoError(t, b.Allow())
	b.RecordSuccess()

	state, _ := b.GetState()
	assert.Equal(t, StateClosed, state)
	assert.NoError(t, b.Allow())
}

func TestManager_Do(t *testing.T) {
	m := NewManager(2, time.Hour)
	boom := errors.New("boom")

	assert.ErrorIs(t, m.Do("analyze", func() error { return boom }), boom)
	assert.ErrorIs(t, m.Do("analyze", func() error { return boom }), boom)

	called := false
	err := m.Do("analyze", func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	// breakers are independent
	assert.NoError(t, m.Do("anonymize", func() error { return nil }))

	states := m.GetAllStates()
	assert.Equal(t, StateOpen, states["analyze"]["state"])
	assert.Equal(t, StateClosed, states["anonymize"]["state"])
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(1000, time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Do("shared", func() error {
				if i%2 == 0 {
					return errors.New("fail")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	assert.Len(t, m.GetAllStates(), 1)
}

package expiry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/pollbooth/internal/clock"
)

func TestScheduler_ArmFires(t *testing.T) {
	c := clock.Fake(time.Unix(0, 0))
	s := New(c)

	fired := 0
	s.Arm(time.Second, func() { fired++ })
	assert.True(t, s.Armed())

	c.Advance(time.Second)
	assert.Equal(t, 1, fired)
	assert.False(t, s.Armed())

	c.Advance(time.Hour)
	assert.Equal(t, 1, fired)
}

func TestScheduler_RearmKeepsSingleTimer(t *testing.T) {
	c := clock.Fake(time.Unix(0, 0))
	s := New(c)

	var calls []int
	for i := 1; i <= 5; i++ {
		s.Arm(time.Duration(i)*time.Second, func() { calls = append(calls, i) })
	}
	require.Equal(t, 1, c.Pending())

	c.Advance(time.Minute)
	assert.Equal(t, []int{5}, calls)
}

func TestScheduler_RearmWithShorterDelay(t *testing.T) {
	c := clock.Fake(time.Unix(0, 0))
	s := New(c)

	var calls []string
	s.Arm(10*time.Second, func() { calls = append(calls, "long") })
	s.Arm(time.Second, func() { calls = append(calls, "short") })

	c.Advance(time.Minute)
	assert.Equal(t, []string{"short"}, calls)
}

func TestScheduler_Disarm(t *testing.T) {
	c := clock.Fake(time.Unix(0, 0))
	s := New(c)

	fired := false
	s.Arm(time.Second, func() { fired = true })
	s.Disarm()
	s.Disarm()

	c.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestScheduler_DispatchesHandler(t *testing.T) {
	c := clock.Fake(time.Unix(0, 0))
	s := New(c)

	var handled atomic.Int32
	s.SetHandler(func() { handled.Add(1) })

	s.Arm(time.Second, nil)
	c.Advance(time.Second)
	assert.Equal(t, int32(1), handled.Load())

	// the handler is resolved at fire time, not at arm time
	s.Arm(time.Second, nil)
	var replaced atomic.Int32
	s.SetHandler(func() { replaced.Add(1) })
	c.Advance(time.Second)
	assert.Equal(t, int32(1), handled.Load())
	assert.Equal(t, int32(1), replaced.Load())
}

func TestScheduler_FireNow(t *testing.T) {
	c := clock.Fake(time.Unix(0, 0))
	s := New(c)

	var handled int
	s.SetHandler(func() { handled++ })
	s.Arm(time.Hour, nil)

	s.FireNow()
	assert.Equal(t, 1, handled)
	assert.False(t, s.Armed())

	c.Advance(2 * time.Hour)
	assert.Equal(t, 1, handled)
}

func TestScheduler_RealClock(t *testing.T) {
	s := New(clock.Real())

	done := make(chan struct{})
	s.Arm(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestDefault_IsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}

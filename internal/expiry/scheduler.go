// Package expiry holds the process-wide auto-logout timer.
//
// At most one timer is armed at a time. The callback it fires is resolved
// through the scheduler rather than captured from whoever armed it, so a
// session store that is torn down and rebuilt still gets logged out
// exactly once when the token expires.
package expiry

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pollbooth/internal/clock"
)

// Scheduler is a single-slot timer.
type Scheduler struct {
	clock clock.Clock

	mu      sync.Mutex
	timer   *clock.Timer
	seq     uint64
	handler func()
}

var (
	defaultOnce      sync.Once
	defaultScheduler *Scheduler
)

// Default returns the process-wide scheduler.
func Default() *Scheduler {
	defaultOnce.Do(func() {
		defaultScheduler = New(clock.Real())
	})
	return defaultScheduler
}

// New creates a scheduler driven by c. Most callers want Default; tests
// use New with a fake clock.
func New(c clock.Clock) *Scheduler {
	return &Scheduler{clock: c}
}

// SetHandler installs the logout callback fired by FireNow and by timers
// armed without their own callback.
func (s *Scheduler) SetHandler(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// Arm clears any pending timer and schedules onFire after delay. A nil
// onFire dispatches the installed handler.
func (s *Scheduler) Arm(delay time.Duration, onFire func()) {
	s.mu.Lock()
	s.stopLocked()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	// AfterFunc may run fire synchronously for non-positive delays, so the
	// lock is not held here.
	timer := s.clock.AfterFunc(delay, func() { s.fire(seq, onFire) })

	s.mu.Lock()
	if s.seq == seq {
		s.timer = timer
	} else {
		timer.Stop()
	}
	s.mu.Unlock()

	log.Debug().Dur("delay", delay).Msg("auto-logout timer armed")
}

// Disarm clears the pending timer, if any.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		log.Debug().Msg("auto-logout timer disarmed")
	}
	s.stopLocked()
	s.seq++
}

// FireNow disarms the timer and dispatches the handler immediately.
func (s *Scheduler) FireNow() {
	s.Disarm()
	s.Dispatch()
}

// Dispatch calls the installed handler, if any.
func (s *Scheduler) Dispatch() {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		handler()
	}
}

// Armed reports whether a timer is pending.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Scheduler) fire(seq uint64, onFire func()) {
	s.mu.Lock()
	if s.seq != seq {
		// superseded by a later Arm or Disarm
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.seq++
	s.mu.Unlock()

	log.Debug().Msg("auto-logout timer fired")

	if onFire != nil {
		onFire()
		return
	}
	s.Dispatch()
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

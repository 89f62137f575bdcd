// Package otp tracks an in-flight one-time-password challenge.
//
// A Challenge is UI-local and never persisted. Its deadline is absolute,
// so the remaining time is always recomputed from the clock rather than
// counted down.
package otp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pollbooth/internal/clock"
)

const (
	// DefaultWindow is how long a sent code may be submitted.
	DefaultWindow = 300 * time.Second

	// DefaultMaxAttempts is the number of rejected codes before the
	// challenge fails.
	DefaultMaxAttempts = 5

	tick = time.Second
)

var (
	// ErrInvalidTransition is returned when an action is not allowed in
	// the current state.
	ErrInvalidTransition = errors.New("invalid challenge transition")

	// ErrExpired is returned when a code is submitted after the deadline.
	ErrExpired = errors.New("code expired")

	// ErrResendTooEarly is returned when a resend is requested before the
	// countdown has elapsed.
	ErrResendTooEarly = errors.New("resend not available until the code expires")

	// ErrTooManyAttempts is recorded when MaxAttempts codes were rejected.
	ErrTooManyAttempts = errors.New("too many incorrect codes")
)

// State of a challenge.
type State int

const (
	CredentialsEntry State = iota
	OtpPending
	Verified
	Failed
	Expired
)

func (s State) String() string {
	switch s {
	case CredentialsEntry:
		return "credentials_entry"
	case OtpPending:
		return "otp_pending"
	case Verified:
		return "verified"
	case Failed:
		return "failed"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Challenge is the OTP step of a login.
type Challenge struct {
	clock       clock.Clock
	window      time.Duration
	maxAttempts int

	mu       sync.Mutex
	state    State
	target   string
	deadline time.Time
	attempts int
	err      error
	stop     chan struct{}
}

// Option configures a Challenge.
type Option func(*Challenge)

// WithClock overrides the clock.
func WithClock(c clock.Clock) Option {
	return func(ch *Challenge) { ch.clock = c }
}

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(ch *Challenge) {
		if d > 0 {
			ch.window = d
		}
	}
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(ch *Challenge) {
		if n > 0 {
			ch.maxAttempts = n
		}
	}
}

// New returns a challenge in CredentialsEntry.
func New(opts ...Option) *Challenge {
	ch := &Challenge{
		clock:       clock.Real(),
		window:      DefaultWindow,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Begin moves to OtpPending for target once credentials were accepted and
// a code was sent.
func (ch *Challenge) Begin(target string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.state != CredentialsEntry {
		return fmt.Errorf("%w: begin from %s", ErrInvalidTransition, ch.state)
	}

	ch.target = target
	ch.attempts = 0
	ch.err = nil
	ch.arm()

	log.Debug().Str("target", target).Time("deadline", ch.deadline).Msg("otp challenge started")

	return nil
}

// State returns the current state, moving OtpPending to Expired once the
// deadline has passed.
func (ch *Challenge) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.refresh()
}

// Target returns the identifier the code was sent to.
func (ch *Challenge) Target() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.target
}

// Deadline returns the absolute expiry of the current code.
func (ch *Challenge) Deadline() time.Time {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.deadline
}

// Remaining returns the time left to submit, or zero outside OtpPending.
func (ch *Challenge) Remaining() time.Duration {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.refresh() != OtpPending {
		return 0
	}
	return ch.deadline.Sub(ch.clock.Now())
}

// Attempts returns the number of rejected codes for the current target.
func (ch *Challenge) Attempts() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.attempts
}

// MaxAttempts returns the rejected-code limit.
func (ch *Challenge) MaxAttempts() int {
	return ch.maxAttempts
}

// Err returns the last recorded error.
func (ch *Challenge) Err() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.err
}

// CanSubmit reports whether a code may be submitted.
func (ch *Challenge) CanSubmit() bool {
	return ch.State() == OtpPending
}

// CanResend reports whether a new code may be requested.
func (ch *Challenge) CanResend() bool {
	return ch.State() == Expired
}

// CheckSubmit returns nil when a code may be submitted now.
func (ch *Challenge) CheckSubmit() error {
	switch st := ch.State(); st {
	case OtpPending:
		return nil
	case Expired:
		return ErrExpired
	default:
		return fmt.Errorf("%w: submit in %s", ErrInvalidTransition, st)
	}
}

// Reject records a code the server refused. The challenge stays in
// OtpPending until MaxAttempts is reached and then fails.
func (ch *Challenge) Reject(err error) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if st := ch.refresh(); st != OtpPending {
		return fmt.Errorf("%w: reject in %s", ErrInvalidTransition, st)
	}

	ch.attempts++
	ch.err = err
	if ch.attempts >= ch.maxAttempts {
		ch.setFailed(ErrTooManyAttempts)
	}
	return nil
}

// Verify marks the challenge as completed.
func (ch *Challenge) Verify() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	switch st := ch.refresh(); st {
	case OtpPending:
	case Expired:
		return ErrExpired
	default:
		return fmt.Errorf("%w: verify in %s", ErrInvalidTransition, st)
	}

	ch.state = Verified
	ch.err = nil
	ch.stopCountdown()

	return nil
}

// Fail ends the challenge with err. Only Cancel leaves Failed.
func (ch *Challenge) Fail(err error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.setFailed(err)
}

// Restart starts a new window after a resend. It is only allowed once the
// previous code has expired.
func (ch *Challenge) Restart() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	switch st := ch.refresh(); st {
	case Expired:
	case OtpPending:
		return ErrResendTooEarly
	default:
		return fmt.Errorf("%w: resend in %s", ErrInvalidTransition, st)
	}

	ch.attempts = 0
	ch.err = nil
	ch.arm()

	log.Debug().Str("target", ch.target).Time("deadline", ch.deadline).Msg("otp challenge restarted")

	return nil
}

// Cancel discards the challenge and any running countdown, returning to
// CredentialsEntry from any state.
func (ch *Challenge) Cancel() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.stopCountdown()
	ch.state = CredentialsEntry
	ch.target = ""
	ch.deadline = time.Time{}
	ch.attempts = 0
	ch.err = nil
}

// Countdown emits the remaining time immediately and then once a second
// until the code expires, the challenge leaves OtpPending, or ctx is done.
// The channel is closed when the countdown stops; the last value sent on
// expiry is zero. Starting a countdown stops any previous one.
func (ch *Challenge) Countdown(ctx context.Context) <-chan time.Duration {
	out := make(chan time.Duration, 1)

	ch.mu.Lock()
	if ch.refresh() != OtpPending {
		ch.mu.Unlock()
		close(out)
		return out
	}
	ch.stopCountdown()
	stop := make(chan struct{})
	ch.stop = stop
	ticker := ch.clock.NewTicker(tick)
	ch.mu.Unlock()

	go func() {
		defer close(out)
		defer ticker.Stop()

		for {
			remaining, live := ch.remainingFor(stop)
			if !live {
				return
			}

			select {
			case out <- remaining:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}

			if remaining <= 0 {
				return
			}

			select {
			case <-ticker.C:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// remainingFor returns the time left for the countdown owning stop, and
// false once that countdown has been superseded or the challenge has left
// OtpPending for anything other than expiry.
func (ch *Challenge) remainingFor(stop chan struct{}) (time.Duration, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.stop != stop {
		return 0, false
	}

	switch ch.refresh() {
	case OtpPending:
		return ch.deadline.Sub(ch.clock.Now()), true
	case Expired:
		return 0, true
	default:
		return 0, false
	}
}

// refresh applies deadline expiry. Caller holds ch.mu.
func (ch *Challenge) refresh() State {
	if ch.state == OtpPending && !ch.clock.Now().Before(ch.deadline) {
		ch.state = Expired
		log.Debug().Str("target", ch.target).Msg("otp code expired")
	}
	return ch.state
}

// arm starts a fresh window. Caller holds ch.mu.
func (ch *Challenge) arm() {
	ch.state = OtpPending
	ch.deadline = ch.clock.Now().Add(ch.window)
}

// setFailed moves to Failed. Caller holds ch.mu.
func (ch *Challenge) setFailed(err error) {
	ch.state = Failed
	ch.err = err
	ch.stopCountdown()
}

// stopCountdown ends the running countdown. Caller holds ch.mu.
func (ch *Challenge) stopCountdown() {
	if ch.stop != nil {
		close(ch.stop)
		ch.stop = nil
	}
}

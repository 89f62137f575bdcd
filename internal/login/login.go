// Package login drives an employee sign-in: credential check, one-time
// code, and hand-off of the issued token to the session store.
package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/pollbooth/internal/clock"
	"github.com/wolfeidau/pollbooth/internal/gateway"
	"github.com/wolfeidau/pollbooth/internal/models"
	"github.com/wolfeidau/pollbooth/internal/otp"
	"github.com/wolfeidau/pollbooth/internal/session"
	"github.com/wolfeidau/pollbooth/internal/telemetry"
)

// Gateway is the subset of the auth backend used by a login.
type Gateway interface {
	CheckCredentials(ctx context.Context, empID, birthDate string) (*gateway.CheckCredentialsResponse, error)
	SendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (string, error)
	SignOut(ctx context.Context, token string) error
}

// Step is what the caller should do after submitting credentials.
type Step int

const (
	// StepOTP means a code was sent and must be entered.
	StepOTP Step = iota + 1

	// StepDone means the backend issued a session directly.
	StepDone
)

// Flow runs one login at a time against a Store.
type Flow struct {
	gateway   Gateway
	store     *session.Store
	challenge *otp.Challenge
	clock     clock.Clock
	metrics   *telemetry.Metrics
}

// Option configures a Flow.
type Option func(*Flow)

// WithClock overrides the clock used to normalize token lifetimes.
func WithClock(c clock.Clock) Option {
	return func(f *Flow) { f.clock = c }
}

// WithChallenge replaces the default OTP challenge.
func WithChallenge(ch *otp.Challenge) Option {
	return func(f *Flow) { f.challenge = ch }
}

// New creates a Flow.
func New(gw Gateway, store *session.Store, opts ...Option) *Flow {
	f := &Flow{
		gateway: gw,
		store:   store,
		clock:   clock.Real(),
		metrics: telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.challenge == nil {
		f.challenge = otp.New(otp.WithClock(f.clock))
	}
	return f
}

// Challenge returns the OTP challenge, for countdown display.
func (f *Flow) Challenge() *otp.Challenge {
	return f.challenge
}

// SubmitCredentials checks the employee id and birth date and, unless the
// backend issues a session directly, sends a code and starts the
// challenge. Any failure leaves the flow in credentials entry.
func (f *Flow) SubmitCredentials(ctx context.Context, empID, birthDate string) (Step, error) {
	if st := f.challenge.State(); st != otp.CredentialsEntry {
		return 0, fmt.Errorf("%w: credentials submitted in %s", otp.ErrInvalidTransition, st)
	}

	f.store.LoginStart()

	resp, err := f.gateway.CheckCredentials(ctx, empID, birthDate)
	if err != nil {
		f.store.LoginFailure(ctx, err)
		return 0, err
	}

	if resp.SessionIssued() {
		if err := f.complete(ctx, resp.Token, resp.User, resp.Lifetime()); err != nil {
			return 0, err
		}
		return StepDone, nil
	}

	if err := f.gateway.SendOTP(ctx, resp.Email); err != nil {
		f.store.LoginFailure(ctx, err)
		return 0, err
	}

	if err := f.challenge.Begin(resp.Email); err != nil {
		return 0, err
	}

	log.Info().Str("email", resp.Email).Msg("one-time code sent")

	return StepOTP, nil
}

// SubmitCode verifies a code. A rejected code keeps the challenge pending
// so the user can try again; other gateway errors are returned without
// counting an attempt.
func (f *Flow) SubmitCode(ctx context.Context, code string) error {
	if err := f.challenge.CheckSubmit(); err != nil {
		return err
	}

	token, err := f.gateway.VerifyOTP(ctx, f.challenge.Target(), code)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidCredentials) {
			f.metrics.RecordOTPVerification(ctx, false)
			if rerr := f.challenge.Reject(err); rerr != nil {
				log.Debug().Err(rerr).Msg("rejecting code")
			}
		}
		f.store.LoginFailure(ctx, err)
		return err
	}

	f.metrics.RecordOTPVerification(ctx, true)

	return f.complete(ctx, token, nil, 0)
}

// Resend requests a new code once the previous one has expired.
func (f *Flow) Resend(ctx context.Context) error {
	if !f.challenge.CanResend() {
		if f.challenge.State() == otp.OtpPending {
			return otp.ErrResendTooEarly
		}
		return fmt.Errorf("%w: resend in %s", otp.ErrInvalidTransition, f.challenge.State())
	}

	if err := f.gateway.SendOTP(ctx, f.challenge.Target()); err != nil {
		return err
	}

	return f.challenge.Restart()
}

// Cancel abandons the challenge and returns to credentials entry. The
// login started by SubmitCredentials is no longer in flight.
func (f *Flow) Cancel() {
	f.challenge.Cancel()
	f.store.LoginCancel()
}

// Logout signs out on the backend and then locally. The local logout
// happens even when the backend call fails; that error is returned for
// display only.
func (f *Flow) Logout(ctx context.Context) error {
	var err error
	if tok, terr := f.store.Token(); terr == nil {
		if err = f.gateway.SignOut(ctx, tok.AccessToken); err != nil {
			log.Warn().Err(err).Msg("backend sign-out failed, logging out locally")
		}
	}

	f.store.Logout(ctx)
	f.challenge.Cancel()

	return err
}

func (f *Flow) complete(ctx context.Context, token string, user *models.User, lifetime time.Duration) error {
	cred, err := session.NewCredential(token, user, lifetime, f.clock.Now())
	if err != nil {
		if f.challenge.State() == otp.OtpPending {
			f.challenge.Fail(err)
		}
		f.store.LoginFailure(ctx, err)
		return err
	}

	if f.challenge.State() == otp.OtpPending {
		if err := f.challenge.Verify(); err != nil {
			f.store.LoginFailure(ctx, err)
			return err
		}
	}

	f.store.LoginSuccess(ctx, cred)

	if st := f.store.State(); !st.IsAuthenticated {
		return st.Err
	}
	return nil
}

package login

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/pollbooth/internal/cache"
	"github.com/wolfeidau/pollbooth/internal/clock"
	"github.com/wolfeidau/pollbooth/internal/expiry"
	"github.com/wolfeidau/pollbooth/internal/gateway"
	"github.com/wolfeidau/pollbooth/internal/models"
	"github.com/wolfeidau/pollbooth/internal/otp"
	"github.com/wolfeidau/pollbooth/internal/session"
)

var (
	errUnauthorized = &gateway.Error{Operation: "test", Status: 401, Message: "invalid"}
	errRateLimited  = &gateway.Error{Operation: "test", Status: 429}
)

// fakeGateway accepts employee E100 born 1990-01-02 and the code 123456.
type fakeGateway struct {
	token       string
	directLogin bool
	sendErr     error
	verifyErr   error
	signOutErr  error

	sent      []string
	signedOut []string
}

func (g *fakeGateway) CheckCredentials(ctx context.Context, empID, birthDate string) (*gateway.CheckCredentialsResponse, error) {
	if empID != "E100" || birthDate != "1990-01-02" {
		return nil, errUnauthorized
	}
	if g.directLogin {
		return &gateway.CheckCredentialsResponse{
			Success:   true,
			Token:     g.token,
			User:      &models.User{ID: "u-1", Name: "Ada", EmpID: "E100"},
			ExpiresIn: time.Hour.Milliseconds(),
		}, nil
	}
	return &gateway.CheckCredentialsResponse{Success: true, Email: "ada@example.com", OTPRequired: true}, nil
}

func (g *fakeGateway) SendOTP(ctx context.Context, email string) error {
	if g.sendErr != nil {
		return g.sendErr
	}
	g.sent = append(g.sent, email)
	return nil
}

func (g *fakeGateway) VerifyOTP(ctx context.Context, email, code string) (string, error) {
	if g.verifyErr != nil {
		return "", g.verifyErr
	}
	if code != "123456" {
		return "", errUnauthorized
	}
	return g.token, nil
}

func (g *fakeGateway) SignOut(ctx context.Context, token string) error {
	g.signedOut = append(g.signedOut, token)
	return g.signOutErr
}

type fixture struct {
	clock   *clock.FakeClock
	backend *cache.Memory
	store   *session.Store
	gateway *fakeGateway
	flow    *Flow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	c := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	backend := cache.NewMemory(c)
	store := session.NewStore(cache.New(backend, cache.WithClock(c)),
		session.WithClock(c),
		session.WithScheduler(expiry.New(c)),
	)

	claims := session.Claims{UserID: "u-1", Name: "Ada", EmpID: "E100", Email: "ada@example.com"}
	claims.ExpiresAt = jwt.NewNumericDate(c.Now().Add(8 * time.Hour))
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)

	gw := &fakeGateway{token: token}

	challenge := otp.New(otp.WithClock(c), otp.WithWindow(5*time.Minute), otp.WithMaxAttempts(3))

	return &fixture{
		clock:   c,
		backend: backend,
		store:   store,
		gateway: gw,
		flow:    New(gw, store, WithClock(c), WithChallenge(challenge)),
	}
}

func TestFlow_OTPLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	step, err := f.flow.SubmitCredentials(ctx, "E100", "1990-01-02")
	require.NoError(t, err)
	require.Equal(t, StepOTP, step)
	require.Equal(t, []string{"ada@example.com"}, f.gateway.sent)
	require.Equal(t, otp.OtpPending, f.flow.Challenge().State())
	require.True(t, f.store.State().IsLoading)

	require.NoError(t, f.flow.SubmitCode(ctx, "123456"))

	st := f.store.State()
	require.True(t, st.IsAuthenticated)
	require.Equal(t, "u-1", st.User.ID)
	require.True(t, f.clock.Now().Add(8*time.Hour).Equal(st.ExpiresAt))
	require.Equal(t, otp.Verified, f.flow.Challenge().State())
	require.Equal(t, 3, f.backend.Len())
}

func TestFlow_DirectSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gateway.directLogin = true

	step, err := f.flow.SubmitCredentials(ctx, "E100", "1990-01-02")
	require.NoError(t, err)
	require.Equal(t, StepDone, step)
	require.Empty(t, f.gateway.sent)

	st := f.store.State()
	require.True(t, st.IsAuthenticated)
	require.Equal(t, f.clock.Now().Add(time.Hour), st.ExpiresAt)
}

func TestFlow_BadCredentials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.flow.SubmitCredentials(ctx, "E100", "2000-01-01")
	require.ErrorIs(t, err, gateway.ErrInvalidCredentials)

	require.Equal(t, otp.CredentialsEntry, f.flow.Challenge().State())
	st := f.store.State()
	require.False(t, st.IsAuthenticated)
	require.False(t, st.IsLoading)
	require.ErrorIs(t, st.Err, gateway.ErrInvalidCredentials)
}

func TestFlow_SendFailureStaysInCredentials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gateway.sendErr = errRateLimited

	_, err := f.flow.SubmitCredentials(ctx, "E100", "1990-01-02")
	require.ErrorIs(t, err, gateway.ErrRateLimited)
	require.Equal(t, otp.CredentialsEntry, f.flow.Challenge().State())

	f.gateway.sendErr = nil
	step, err := f.flow.SubmitCredentials(ctx, "E100", "1990-01-02")
	require.NoError(t, err)
	require.Equal(t, StepOTP, step)
}

func TestFlow_WrongCodeStaysPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.flow.SubmitCredentials(ctx, "E100", "1990-01-02")
	require.NoError(t, err)

	err = f.flow.SubmitCode(ctx, "000000")
	require.ErrorIs(t, err, gateway.ErrInvalidCredentials)
	require.Equal(t, otp.OtpPending, f.flow.Challenge().State())
	require.Equal(t, 1, f.flow.Challenge().Attempts())
	require.False(t, f.store.IsAuthenticated())

	require.NoError(t, f.flow.SubmitCode(ctx, "123456"))
	require.True(t, f.store.IsAuthenticated())
}

func TestFlow_TooManyWrongCodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.flow.SubmitCredentials(ctx, "E100", "1990-01-02")
	require.NoError(t, err)

	for range 3 {
		require.Error(t, f.flow.SubmitCode(ctx, "000000"))
	}

	require.Equal(t, otp.Failed, f.flow.Challenge().State())
	require.ErrorIs(t, f.flow.SubmitCode(ctx, "123456"), otp.ErrInvalidTransition)

	f.flow.Cancel()
	require.Equal(t, otp.CredentialsEntry, f.flow.Challenge().State())
}

func TestFlow_CancelEndsPendingLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	step, err := f.flow.SubmitCredentials(ctx, "E100", "1990-01-02")
	require.NoError(t, err)
	require.Equal(t, StepOTP, step)
	require.True(t, f.store.State().IsLoading)

	f.flow.Cancel()

	st := f.store.State()
	require.Equal(t, otp.CredentialsEntry, f.flow.Challenge().State())
	require.False(t, st.IsLoading, "back to credentials entry leaves no login in flight")
	require.False(t, st.IsAuthenticated)
	require.NoError(t, st.Err)
	require.Zero(t, f.backend.Len())
}

func TestFlow_ServerErrorDoesNotCountAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.flow.SubmitCredentials(ctx, "E100", "1990-01-02")
	require.NoError(t, err)

	f.gateway.verifyErr = &gateway.Error{Status: 502}
	require.ErrorIs(t, f.flow.SubmitCode(ctx, "123456"), gateway.ErrServer)
	require.Equal(t, 0, f.flow.Challenge().Attempts())
	require.Equal(t, otp.OtpPending, f.flow.Challenge().State())
}

func TestFlow_ExpiredCodeThenResend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.flow.SubmitCredentials(ctx, "E100", "1990-01-02")
	require.NoError(t, err)

	require.ErrorIs(t, f.flow.Resend(ctx), otp.ErrResendTooEarly)

	f.clock.Advance(5 * time.Minute)
	require.ErrorIs(t, f.flow.SubmitCode(ctx, "123456"), otp.ErrExpired)
	require.True(t, f.flow.Challenge().CanResend())

	require.NoError(t, f.flow.Resend(ctx))
	require.Len(t, f.gateway.sent, 2)
	require.Equal(t, otp.OtpPending, f.flow.Challenge().State())

	require.NoError(t, f.flow.SubmitCode(ctx, "123456"))
	require.True(t, f.store.IsAuthenticated())
}

func TestFlow_UndecodableTokenFailsChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gateway.token = "not-a-jwt"

	_, err := f.flow.SubmitCredentials(ctx, "E100", "1990-01-02")
	require.NoError(t, err)

	require.ErrorIs(t, f.flow.SubmitCode(ctx, "123456"), session.ErrMalformedToken)
	require.Equal(t, otp.Failed, f.flow.Challenge().State())
	require.False(t, f.store.IsAuthenticated())
	require.Equal(t, 0, f.backend.Len())
}

func TestFlow_SubmitCredentialsTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.flow.SubmitCredentials(ctx, "E100", "1990-01-02")
	require.NoError(t, err)

	_, err = f.flow.SubmitCredentials(ctx, "E100", "1990-01-02")
	require.ErrorIs(t, err, otp.ErrInvalidTransition)
}

func TestFlow_Logout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gateway.directLogin = true

	_, err := f.flow.SubmitCredentials(ctx, "E100", "1990-01-02")
	require.NoError(t, err)

	f.gateway.signOutErr = errors.New("connection refused")
	require.Error(t, f.flow.Logout(ctx))

	require.Equal(t, []string{f.gateway.token}, f.gateway.signedOut)
	require.False(t, f.store.IsAuthenticated())
	require.Equal(t, 0, f.backend.Len())

	// nothing to sign out the second time
	require.NoError(t, f.flow.Logout(ctx))
	require.Len(t, f.gateway.signedOut, 1)
}

package prompt

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/pollbooth/internal/clock"
	"github.com/wolfeidau/pollbooth/internal/gateway"
	"github.com/wolfeidau/pollbooth/internal/otp"
)

type fakeFlow struct {
	ch        *otp.Challenge
	codes     []string
	submitErr error
	resends   int
	cancelled bool
}

func (f *fakeFlow) Challenge() *otp.Challenge { return f.ch }

func (f *fakeFlow) SubmitCode(_ context.Context, code string) error {
	f.codes = append(f.codes, code)
	if f.submitErr != nil {
		_ = f.ch.Reject(f.submitErr)
		return f.submitErr
	}
	return f.ch.Verify()
}

func (f *fakeFlow) Resend(context.Context) error {
	f.resends++
	return f.ch.Restart()
}

func (f *fakeFlow) Cancel() {
	f.cancelled = true
	f.ch.Cancel()
}

func newTestModel(t *testing.T, opts ...otp.Option) (CodeModel, *fakeFlow, *clock.FakeClock) {
	t.Helper()

	c := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ch := otp.New(append([]otp.Option{otp.WithClock(c)}, opts...)...)
	require.NoError(t, ch.Begin("ada@example.com"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	flow := &fakeFlow{ch: ch}
	return NewCodeModel(ctx, flow), flow, c
}

func update(t *testing.T, m CodeModel, msg tea.Msg) (CodeModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	cm, ok := next.(CodeModel)
	require.True(t, ok)
	return cm, cmd
}

func typeCode(t *testing.T, m CodeModel, code string) CodeModel {
	t.Helper()
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(code)})
	return m
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestCodeModel_InitialView(t *testing.T) {
	m, _, _ := newTestModel(t)

	view := m.View()
	assert.Contains(t, view, "ada@example.com")
	assert.Contains(t, view, "Expires in 5:00")
	assert.Contains(t, view, "attempt 1 of 5")
	assert.NotNil(t, m.Init())
}

func TestCodeModel_SubmitAccepted(t *testing.T) {
	m, flow, _ := newTestModel(t)

	m = typeCode(t, m, "123456")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.submitting)

	// a second enter while the first is in flight is ignored
	_, again := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, again)

	msg := cmd()
	assert.Equal(t, []string{"123456"}, flow.codes)

	m, cmd = update(t, m, msg)
	assert.True(t, isQuit(cmd))
	assert.NoError(t, m.Result())
	assert.Contains(t, m.View(), "Code accepted.")
	assert.Equal(t, otp.Verified, flow.ch.State())
}

func TestCodeModel_SubmitRejected(t *testing.T) {
	m, flow, _ := newTestModel(t)
	flow.submitErr = &gateway.Error{Operation: "verify-otp", Status: http.StatusUnauthorized}

	m = typeCode(t, m, "000000")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, cmd = update(t, m, cmd())

	assert.False(t, isQuit(cmd))
	assert.Empty(t, m.input.Value(), "input is cleared for the next try")
	assert.Contains(t, m.View(), "The details you entered are not correct.")
	assert.Contains(t, m.View(), "attempt 2 of 5")
	assert.Equal(t, otp.OtpPending, flow.ch.State())
}

func TestCodeModel_TooManyAttempts(t *testing.T) {
	m, flow, _ := newTestModel(t, otp.WithMaxAttempts(1))
	flow.submitErr = &gateway.Error{Operation: "verify-otp", Status: http.StatusUnauthorized}

	m = typeCode(t, m, "000000")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, cmd = update(t, m, cmd())

	assert.True(t, isQuit(cmd))
	assert.ErrorIs(t, m.Result(), otp.ErrTooManyAttempts)
	assert.Contains(t, m.View(), "Too many wrong codes")
}

func TestCodeModel_EmptyCodeIgnored(t *testing.T) {
	m, flow, _ := newTestModel(t)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.False(t, m.submitting)
	assert.Empty(t, flow.codes)
}

func TestCodeModel_Cancel(t *testing.T) {
	m, flow, _ := newTestModel(t)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.True(t, isQuit(cmd))
	assert.True(t, flow.cancelled)
	assert.ErrorIs(t, m.Result(), ErrCancelled)
	assert.Equal(t, otp.CredentialsEntry, flow.ch.State())
}

func TestCodeModel_Countdown(t *testing.T) {
	m, _, _ := newTestModel(t)

	m, cmd := update(t, m, tickMsg{remaining: 20 * time.Second, ok: true})
	assert.NotNil(t, cmd, "keeps listening")
	assert.Contains(t, m.View(), "Expires in 0:20")

	m, cmd = update(t, m, tickMsg{ok: false})
	assert.Nil(t, cmd)
}

func TestCodeModel_ExpiryAndResend(t *testing.T) {
	m, flow, c := newTestModel(t)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "still valid")

	c.Advance(otp.DefaultWindow)
	assert.Contains(t, m.View(), "Code expired")

	m = typeCode(t, m, "123456")
	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "The code has expired.")
	assert.Empty(t, flow.codes)

	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	require.NotNil(t, cmd)
	m, cmd = update(t, m, cmd())
	assert.NotNil(t, cmd)

	assert.Equal(t, 1, flow.resends)
	assert.Equal(t, otp.OtpPending, flow.ch.State())
	assert.NoError(t, m.err)
	assert.Contains(t, m.View(), "Expires in 5:00")
}

func TestCodeModel_ResultWithoutOutcome(t *testing.T) {
	m, _, _ := newTestModel(t)
	assert.ErrorIs(t, m.Result(), ErrCancelled)

	m.err = errors.New("boom")
	assert.EqualError(t, m.Result(), "boom")
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{300 * time.Second, "5:00"},
		{299*time.Second + 10*time.Millisecond, "5:00"},
		{61 * time.Second, "1:01"},
		{time.Millisecond, "0:01"},
		{0, "0:00"},
		{-time.Second, "0:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatRemaining(tt.in), tt.in.String())
	}
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("1990-01-02\n 123456 \nlast"))

	line, err := ReadLine(r)
	require.NoError(t, err)
	assert.Equal(t, "1990-01-02", line)

	line, err = ReadLine(r)
	require.NoError(t, err)
	assert.Equal(t, "123456", line)

	line, err = ReadLine(r)
	require.NoError(t, err)
	assert.Equal(t, "last", line)

	_, err = ReadLine(r)
	require.Error(t, err)
}

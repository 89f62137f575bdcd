// Package prompt holds the interactive terminal prompts used by login.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wolfeidau/pollbooth/internal/gateway"
	"github.com/wolfeidau/pollbooth/internal/otp"
)

// ErrCancelled is returned when the user abandons the code prompt.
var ErrCancelled = errors.New("login cancelled")

// CodeFlow is the part of a login the code prompt drives.
type CodeFlow interface {
	Challenge() *otp.Challenge
	SubmitCode(ctx context.Context, code string) error
	Resend(ctx context.Context) error
	Cancel()
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	timerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	urgentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// urgentBelow switches the countdown to the warning colour.
const urgentBelow = 30 * time.Second

type (
	tickMsg struct {
		remaining time.Duration
		ok        bool
	}
	submitMsg struct{ err error }
	resendMsg struct{ err error }
)

// CodeModel is a bubbletea model that reads a one-time code while showing
// the time left on the challenge.
type CodeModel struct {
	ctx       context.Context
	flow      CodeFlow
	input     textinput.Model
	countdown <-chan time.Duration

	remaining  time.Duration
	submitting bool
	verified   bool
	cancelled  bool
	err        error
}

// NewCodeModel creates the model for a pending challenge.
func NewCodeModel(ctx context.Context, flow CodeFlow) CodeModel {
	input := textinput.New()
	input.Placeholder = "123456"
	input.CharLimit = 12
	input.Width = 12
	input.Prompt = "Code: "
	input.Focus()

	ch := flow.Challenge()

	return CodeModel{
		ctx:       ctx,
		flow:      flow,
		input:     input,
		countdown: ch.Countdown(ctx),
		remaining: ch.Remaining(),
	}
}

// Init implements tea.Model.
func (m CodeModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, listenCountdown(m.countdown))
}

// listenCountdown blocks until the next countdown value. A closed channel
// is delivered as a tickMsg with ok false.
func listenCountdown(ch <-chan time.Duration) tea.Cmd {
	return func() tea.Msg {
		remaining, ok := <-ch
		return tickMsg{remaining: remaining, ok: ok}
	}
}

// Update implements tea.Model.
func (m CodeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			m.flow.Cancel()
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyCtrlR:
			return m.resend()
		}

	case tickMsg:
		if !msg.ok {
			// countdown ended: expired, verified or superseded by a resend
			return m, nil
		}
		m.remaining = msg.remaining
		return m, listenCountdown(m.countdown)

	case submitMsg:
		m.submitting = false
		if msg.err == nil {
			m.verified = true
			m.err = nil
			return m, tea.Quit
		}
		m.err = msg.err
		m.input.Reset()
		if ch := m.flow.Challenge(); ch.State() == otp.Failed {
			if ch.Err() != nil {
				m.err = ch.Err()
			}
			return m, tea.Quit
		}
		return m, nil

	case resendMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.input.Reset()
		m.countdown = m.flow.Challenge().Countdown(m.ctx)
		m.remaining = m.flow.Challenge().Remaining()
		return m, listenCountdown(m.countdown)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m CodeModel) submit() (tea.Model, tea.Cmd) {
	if m.submitting {
		return m, nil
	}
	if err := m.flow.Challenge().CheckSubmit(); err != nil {
		m.err = err
		return m, nil
	}

	code := strings.TrimSpace(m.input.Value())
	if code == "" {
		return m, nil
	}

	m.submitting = true
	ctx, flow := m.ctx, m.flow
	return m, func() tea.Msg {
		return submitMsg{err: flow.SubmitCode(ctx, code)}
	}
}

func (m CodeModel) resend() (tea.Model, tea.Cmd) {
	if !m.flow.Challenge().CanResend() {
		m.err = otp.ErrResendTooEarly
		return m, nil
	}

	ctx, flow := m.ctx, m.flow
	return m, func() tea.Msg {
		return resendMsg{err: flow.Resend(ctx)}
	}
}

// View implements tea.Model.
func (m CodeModel) View() string {
	ch := m.flow.Challenge()

	var b strings.Builder

	b.WriteString(titleStyle.Render("A one-time code was sent to " + ch.Target()))
	b.WriteString("\n\n")

	if m.verified {
		b.WriteString(successStyle.Render("Code accepted."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	switch ch.State() {
	case otp.Expired:
		b.WriteString(urgentStyle.Render("Code expired. Press ctrl+r to send a new one."))
	case otp.Failed:
		b.WriteString(urgentStyle.Render("Too many wrong codes. Start the login again."))
	default:
		style := timerStyle
		if m.remaining <= urgentBelow {
			style = urgentStyle
		}
		b.WriteString(style.Render("Expires in " + FormatRemaining(m.remaining)))
		fmt.Fprintf(&b, "  (attempt %d of %d)", ch.Attempts()+1, ch.MaxAttempts())
	}
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(errorText(m.err)))
		b.WriteString("\n")
	}
	if m.submitting {
		b.WriteString(helpStyle.Render("Checking code..."))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("enter: submit • ctrl+r: resend • esc: cancel"))
	b.WriteString("\n")

	return b.String()
}

// Result reports how the prompt ended.
func (m CodeModel) Result() error {
	switch {
	case m.verified:
		return nil
	case m.cancelled:
		return ErrCancelled
	case m.err != nil:
		return m.err
	default:
		return ErrCancelled
	}
}

// RunCode runs the code prompt on the terminal until the code is accepted,
// the challenge fails or the user cancels.
func RunCode(ctx context.Context, flow CodeFlow) error {
	p := tea.NewProgram(NewCodeModel(ctx, flow), tea.WithContext(ctx))

	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("code prompt: %w", err)
	}

	return final.(CodeModel).Result()
}

// FormatRemaining renders d as m:ss, rounding partial seconds up so the
// display reaches 0:00 only at expiry.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func errorText(err error) string {
	switch {
	case errors.Is(err, otp.ErrExpired):
		return "The code has expired."
	case errors.Is(err, otp.ErrResendTooEarly):
		return "The current code is still valid."
	case errors.Is(err, otp.ErrTooManyAttempts):
		return "Too many wrong codes."
	default:
		return gateway.UserMessage(err)
	}
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/wolfeidau/pollbooth/cmd/cli/internal/prompt"
	"github.com/wolfeidau/pollbooth/internal/gateway"
	"github.com/wolfeidau/pollbooth/internal/login"
	"github.com/wolfeidau/pollbooth/internal/otp"
	"github.com/wolfeidau/pollbooth/internal/session"
)

type LoginCmd struct {
	EmpID     string `arg:"" name:"emp-id" help:"Employee id"`
	BirthDate string `help:"Birth date as YYYY-MM-DD, prompted for when omitted" env:"POLLBOOTH_BIRTH_DATE"`
	Force     bool   `help:"Log in again even when a session is cached"`
}

func (c *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	a, err := bootstrap(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	if st := a.store.Restore(ctx); st.IsAuthenticated && !c.Force {
		fmt.Printf("Already logged in as %s (%s). Use --force to log in again.\n", st.User.Name, st.User.EmpID)
		return nil
	}

	birthDate := c.BirthDate
	if birthDate == "" {
		if birthDate, err = prompt.ReadSecret("Birth date (YYYY-MM-DD): "); err != nil {
			return err
		}
	}

	step, err := a.flow.SubmitCredentials(ctx, c.EmpID, birthDate)
	if err != nil {
		return loginError(err)
	}

	if step == login.StepOTP {
		if err := c.enterCode(ctx, a.flow); err != nil {
			return loginError(err)
		}
	}

	st := a.store.State()
	if !st.IsAuthenticated {
		return loginError(st.Err)
	}

	fmt.Printf("Logged in as %s (%s, %s) until %s\n",
		st.User.Name, st.User.EmpID, st.User.Role(), st.ExpiresAt.Local().Format("2006-01-02 15:04"))

	return nil
}

// enterCode runs the live prompt on a terminal and otherwise reads codes
// from stdin, one per line, until one is accepted.
func (c *LoginCmd) enterCode(ctx context.Context, flow *login.Flow) error {
	if prompt.Interactive() {
		return prompt.RunCode(ctx, flow)
	}

	ch := flow.Challenge()
	fmt.Fprintf(os.Stderr, "A one-time code was sent to %s (expires in %s)\n",
		ch.Target(), prompt.FormatRemaining(ch.Remaining()))

	for {
		code, err := prompt.ReadStdinLine()
		if err != nil {
			flow.Cancel()
			return err
		}

		err = flow.SubmitCode(ctx, code)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gateway.ErrInvalidCredentials) && ch.CanSubmit():
			fmt.Fprintln(os.Stderr, gateway.UserMessage(err))
		default:
			if ch.State() == otp.Failed && ch.Err() != nil {
				err = ch.Err()
			}
			flow.Cancel()
			return err
		}
	}
}

func loginError(err error) error {
	switch {
	case err == nil:
		return errors.New("login failed")
	case errors.Is(err, prompt.ErrCancelled), errors.Is(err, session.ErrSessionExpired):
		return err
	case errors.Is(err, otp.ErrExpired), errors.Is(err, otp.ErrTooManyAttempts):
		return fmt.Errorf("login failed: %w", err)
	default:
		return fmt.Errorf("login failed: %s", gateway.UserMessage(err))
	}
}

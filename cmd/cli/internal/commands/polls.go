package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/wolfeidau/pollbooth/internal/client"
	"github.com/wolfeidau/pollbooth/internal/models"
	"github.com/wolfeidau/pollbooth/internal/session"
)

type PollsCmd struct {
	List  PollsListCmd  `cmd:"" default:"1" help:"List polls"`
	Vote  PollsVoteCmd  `cmd:"" help:"Vote in a poll"`
	Watch PollsWatchCmd `cmd:"" help:"Refresh the poll list until interrupted or the session ends"`
}

type PollsListCmd struct{}

func (l *PollsListCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := bootstrap(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.requireSession(ctx); err != nil {
		return err
	}

	return listPolls(ctx, os.Stdout, a.clients.Polls)
}

type PollsVoteCmd struct {
	PollID   string `arg:"" name:"poll-id" help:"Poll id"`
	OptionID string `arg:"" name:"option-id" help:"Option id"`
}

func (v *PollsVoteCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := bootstrap(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.requireSession(ctx); err != nil {
		return err
	}

	poll, err := a.clients.Polls.Get(ctx, v.PollID)
	if err != nil {
		return fmt.Errorf("failed to get poll: %w", err)
	}

	updated, err := a.clients.Polls.Vote(ctx, poll, v.OptionID)
	if err != nil {
		return fmt.Errorf("failed to vote: %w", err)
	}

	fmt.Printf("Voted %q in %q\n", optionLabel(updated, updated.VotedFor), updated.Title)
	return nil
}

type PollsWatchCmd struct {
	Interval time.Duration `help:"Refresh interval" default:"5s"`
}

func (w *PollsWatchCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	a, err := bootstrap(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.requireSession(ctx); err != nil {
		return err
	}

	// The store logs out on expiry or on a 401; either ends the watch.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	unsubscribe := a.store.Subscribe(func(st session.State) {
		if !st.IsAuthenticated {
			cancel(session.ErrNotAuthenticated)
		}
	})
	defer unsubscribe()

	err = watchPolls(ctx, os.Stdout, a.clients.Polls, w.Interval)
	if errors.Is(context.Cause(ctx), session.ErrNotAuthenticated) {
		fmt.Println("\nSession ended, run `pollbooth login` to continue.")
		return nil
	}
	return err
}

func watchPolls(ctx context.Context, out io.Writer, polls *client.Polls, interval time.Duration) error {
	fmt.Fprintln(out, "Watching polls (press Ctrl+C to stop)...")
	fmt.Fprintln(out)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := listPolls(ctx, out, polls); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Fprint(out, "\033[2J\033[H") // Clear screen and move cursor to top
			fmt.Fprintf(out, "Polls (updated at %s)\n\n", time.Now().Format("15:04:05"))

			if err := listPolls(ctx, out, polls); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(out, "Error updating poll list: %v\n", err)
			}
		}
	}
}

func listPolls(ctx context.Context, out io.Writer, polls *client.Polls) error {
	list, err := polls.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list polls: %w", err)
	}

	printPolls(out, list, time.Now())
	return nil
}

func printPolls(out io.Writer, polls []models.Poll, now time.Time) {
	if len(polls) == 0 {
		fmt.Fprintln(out, "No polls found.")
		return
	}

	fmt.Fprintf(out, "%-20s %-30s %-10s %-14s %-20s\n", "Poll ID", "Title", "Status", "Time left", "Your vote")
	fmt.Fprintln(out, strings.Repeat("─", 98))

	for i := range polls {
		p := &polls[i]

		title := p.Title
		if len(title) > 30 {
			title = title[:27] + "..."
		}

		left := "-"
		switch p.Status {
		case models.PollStatusOpen:
			left = formatDuration(p.Remaining(now))
		case models.PollStatusScheduled:
			left = "opens " + formatDuration(p.Remaining(now))
		}

		vote := "-"
		if p.VotedFor != "" {
			vote = optionLabel(p, p.VotedFor)
		}

		fmt.Fprintf(out, "%-20s %-30s %-10s %-14s %-20s\n", p.ID, title, p.Status, left, vote)

		for _, o := range p.Options {
			tally := ""
			if o.Votes > 0 || p.Status == models.PollStatusClosed {
				tally = fmt.Sprintf(" (%d)", o.Votes)
			}
			fmt.Fprintf(out, "    %-16s %s%s\n", o.ID, o.Label, tally)
		}
	}

	fmt.Fprintf(out, "\nTotal polls: %d\n", len(polls))
}

func optionLabel(p *models.Poll, optionID string) string {
	for _, o := range p.Options {
		if o.ID == optionID {
			return o.Label
		}
	}
	return optionID
}

// formatDuration renders d to the second with whole days split out.
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d >= 24*time.Hour {
		return fmt.Sprintf("%dd%s", d/(24*time.Hour), (d % (24 * time.Hour)).String())
	}
	return d.String()
}

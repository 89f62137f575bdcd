package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/wolfeidau/pollbooth/internal/gateway"
)

type LogoutCmd struct{}

func (c *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := bootstrap(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	if st := a.store.Restore(ctx); !st.IsAuthenticated {
		fmt.Println("Not logged in.")
		return a.clearHTTPCache()
	}

	// the local session is cleared even when the server call fails
	if err := a.flow.Logout(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: server sign-out failed: %s\n", gateway.UserMessage(err))
	}
	if err := a.clearHTTPCache(); err != nil {
		return err
	}

	fmt.Println("Logged out.")
	return nil
}

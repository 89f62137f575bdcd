package commands

import (
	"context"
	"fmt"
)

// TokenCmd prints the Authorization header value, for use with curl and
// similar tools.
type TokenCmd struct {
	Raw bool `help:"Print the bare token without the Bearer prefix"`
}

func (t *TokenCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := bootstrap(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.requireSession(ctx); err != nil {
		return err
	}

	tok, err := a.store.Token()
	if err != nil {
		return err
	}

	if t.Raw {
		fmt.Println(tok.AccessToken)
		return nil
	}
	fmt.Printf("%s %s\n", tok.Type(), tok.AccessToken)
	return nil
}

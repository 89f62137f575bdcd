package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// stdin is shared so successive piped reads do not lose buffered input.
var stdin = bufio.NewReader(os.Stdin)

// Interactive reports whether stdin is a terminal.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ReadSecret prompts on stderr and reads a line from the terminal with echo
// disabled. Without a terminal it reads a plain line from stdin so values
// can be piped in.
func ReadSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return ReadLine(stdin)
	}

	fmt.Fprint(os.Stderr, label)
	value, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}

	return strings.TrimSpace(string(value)), nil
}

// ReadStdinLine reads one trimmed line from stdin.
func ReadStdinLine() (string, error) {
	return ReadLine(stdin)
}

// ReadLine reads one trimmed line from r. A final line without a newline
// is accepted.
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) || line == "" {
			return "", fmt.Errorf("no input: %w", err)
		}
	}
	return strings.TrimSpace(line), nil
}

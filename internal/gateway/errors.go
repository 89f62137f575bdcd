package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrInvalidCredentials matches 401 responses: unknown employee, wrong
	// birth date, or a wrong or expired code.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrRateLimited matches 429 responses.
	ErrRateLimited = errors.New("rate limited")

	// ErrServer matches 5xx responses.
	ErrServer = errors.New("server error")

	// ErrUnexpectedResponse is returned when a 2xx body cannot be used.
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// Error is a non-2xx response from the backend.
type Error struct {
	Operation string
	Status    int
	Message   string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Operation, e.Status, e.Message)
}

// Is maps the status onto the sentinel errors.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidCredentials:
		return e.Status == http.StatusUnauthorized
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrServer:
		return e.Status >= http.StatusInternalServerError
	}
	return false
}

// UserMessage returns text suitable to show the person signing in.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "The details you entered are not correct."
	case errors.Is(err, ErrRateLimited):
		return "Too many attempts. Please wait a moment and try again."
	case errors.Is(err, ErrServer):
		return "The server is unavailable. Please try again later."
	default:
		var gwErr *Error
		if errors.As(err, &gwErr) && gwErr.Message != "" {
			return gwErr.Message
		}
		return "Something went wrong. Please try again."
	}
}

// ReadError builds an *Error from a non-2xx response, using the JSON
// {"message": ...} body when present.
func ReadError(operation string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(body, &payload); err == nil {
		msg = payload.Message
		if msg == "" {
			msg = payload.Error
		}
	} else {
		msg = strings.TrimSpace(string(body))
	}

	return &Error{Operation: operation, Status: resp.StatusCode, Message: msg}
}

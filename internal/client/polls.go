package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/wolfeidau/pollbooth/internal/gateway"
	"github.com/wolfeidau/pollbooth/internal/models"
)

// PollsPath is the collection endpoint for polls.
const PollsPath = "/api/polls"

// ErrUnknownOption is returned by Vote before calling the server when the
// option is not part of the poll.
var ErrUnknownOption = errors.New("unknown poll option")

// Polls calls the polls API.
type Polls struct {
	baseURL    string
	httpClient *http.Client
}

// NewPolls creates a polls client. httpClient should carry an
// AuthTransport.
func NewPolls(serverURL string, httpClient *http.Client) *Polls {
	return &Polls{
		baseURL:    strings.TrimRight(serverURL, "/"),
		httpClient: httpClient,
	}
}

// List returns the polls visible to the signed-in user.
func (p *Polls) List(ctx context.Context) ([]models.Poll, error) {
	var resp struct {
		Polls []models.Poll `json:"polls"`
	}
	if err := p.do(ctx, "list polls", http.MethodGet, PollsPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Polls, nil
}

// Get returns a single poll.
func (p *Polls) Get(ctx context.Context, id string) (*models.Poll, error) {
	var poll models.Poll
	if err := p.do(ctx, "get poll", http.MethodGet, PollsPath+"/"+url.PathEscape(id), nil, &poll); err != nil {
		return nil, err
	}
	return &poll, nil
}

// Vote casts the signed-in user's vote and returns the updated poll.
func (p *Polls) Vote(ctx context.Context, poll *models.Poll, optionID string) (*models.Poll, error) {
	if !poll.HasOption(optionID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOption, optionID)
	}

	var updated models.Poll
	body := map[string]string{"option_id": optionID}
	if err := p.do(ctx, "vote", http.MethodPost, PollsPath+"/"+url.PathEscape(poll.ID)+"/votes", body, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (p *Polls) do(ctx context.Context, operation, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", operation, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gateway.ReadError(operation, resp)
	}

	// read to EOF so the caching transport stores the response
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: %w: %v", operation, gateway.ErrUnexpectedResponse, err)
	}
	return nil
}

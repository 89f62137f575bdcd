// Package gateway is the client for the backend's authentication
// endpoints. It never retries; every failure is returned to the caller.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/wolfeidau/pollbooth/internal/models"
	"github.com/wolfeidau/pollbooth/internal/telemetry"
)

// Endpoint paths.
const (
	CheckCredentialsPath = "/api/auth/check-credentials"
	SendOTPPath          = "/api/auth/send-otp"
	VerifyOTPPath        = "/api/auth/verify-otp"
	SignOutPath          = "/api/auth/signout"
)

// Client calls the Auth Gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *telemetry.Metrics
}

// New returns a client for serverURL. A nil httpClient uses
// http.DefaultClient.
func New(serverURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(serverURL, "/"),
		httpClient: httpClient,
		metrics:    telemetry.GetMetrics(),
	}
}

// CheckCredentialsRequest is the first login step.
type CheckCredentialsRequest struct {
	EmpID     string `json:"emp_id"`
	BirthDate string `json:"birth_date"`
}

// CheckCredentialsResponse is either an OTP requirement (Email set) or a
// full session (Token set).
type CheckCredentialsResponse struct {
	Success     bool         `json:"success"`
	Email       string       `json:"email,omitempty"`
	OTPRequired bool         `json:"otp_required,omitempty"`
	Token       string       `json:"token,omitempty"`
	User        *models.User `json:"user,omitempty"`
	ExpiresIn   int64        `json:"expires_in,omitempty"`
}

// SessionIssued reports whether the backend skipped the OTP step.
func (r *CheckCredentialsResponse) SessionIssued() bool {
	return r.Token != ""
}

// Lifetime converts ExpiresIn (milliseconds) to a duration.
func (r *CheckCredentialsResponse) Lifetime() time.Duration {
	return time.Duration(r.ExpiresIn) * time.Millisecond
}

// CheckCredentials validates an employee id and birth date.
func (c *Client) CheckCredentials(ctx context.Context, empID, birthDate string) (*CheckCredentialsResponse, error) {
	var resp CheckCredentialsResponse
	err := c.post(ctx, "check-credentials", CheckCredentialsPath, "", CheckCredentialsRequest{EmpID: empID, BirthDate: birthDate}, &resp)
	if err != nil {
		return nil, err
	}

	if !resp.SessionIssued() && resp.Email == "" {
		return nil, fmt.Errorf("check-credentials: %w: neither email nor token", ErrUnexpectedResponse)
	}

	return &resp, nil
}

// SendOTP asks the backend to email a code.
func (c *Client) SendOTP(ctx context.Context, email string) error {
	return c.post(ctx, "send-otp", SendOTPPath, "", map[string]string{"email": email}, nil)
}

// VerifyOTP exchanges a code for a bearer token.
func (c *Client) VerifyOTP(ctx context.Context, email, code string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "verify-otp", VerifyOTPPath, "", map[string]string{"email": email, "otp": code}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("verify-otp: %w: missing token", ErrUnexpectedResponse)
	}
	return resp.Token, nil
}

// SignOut revokes token on the backend.
func (c *Client) SignOut(ctx context.Context, token string) error {
	return c.post(ctx, "signout", SignOutPath, token, nil, nil)
}

func (c *Client) post(ctx context.Context, operation, path, token string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", operation, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordGatewayRequest(ctx, operation, 0, millisSince(start))
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()

	c.metrics.RecordGatewayRequest(ctx, operation, resp.StatusCode, millisSince(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gwErr := ReadError(operation, resp)
		log.Debug().Str("operation", operation).Int("status", resp.StatusCode).Msg("gateway request failed")
		return gwErr
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: %w: %v", operation, ErrUnexpectedResponse, err)
	}

	return nil
}

func millisSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

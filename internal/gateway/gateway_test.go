package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", srv.Client())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCheckCredentials_OTPRequired(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, CheckCredentialsPath, r.URL.Path)

		var req CheckCredentialsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "E100", req.EmpID)
		assert.Equal(t, "1990-01-02", req.BirthDate)

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "email": "ada@example.com", "otp_required": true})
	})

	resp, err := client.CheckCredentials(context.Background(), "E100", "1990-01-02")
	require.NoError(t, err)
	assert.False(t, resp.SessionIssued())
	assert.Equal(t, "ada@example.com", resp.Email)
	assert.True(t, resp.OTPRequired)
}

func TestCheckCredentials_SessionPayload(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"token":      "tok",
			"user":       map[string]any{"id": "u-1", "emp_id": "E100", "name": "Ada"},
			"expires_in": 3600000,
		})
	})

	resp, err := client.CheckCredentials(context.Background(), "E100", "1990-01-02")
	require.NoError(t, err)
	assert.True(t, resp.SessionIssued())
	assert.Equal(t, "u-1", resp.User.ID)
	assert.Equal(t, time.Hour, resp.Lifetime())
}

func TestCheckCredentials_EmptySuccess(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	_, err := client.CheckCredentials(context.Background(), "E100", "1990-01-02")
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrInvalidCredentials},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusInternalServerError, ErrServer},
		{http.StatusBadGateway, ErrServer},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]string{"message": "nope"})
			})

			err := client.SendOTP(context.Background(), "ada@example.com")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var gwErr *Error
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, tt.status, gwErr.Status)
			assert.Equal(t, "nope", gwErr.Message)
			assert.Equal(t, "send-otp", gwErr.Operation)
		})
	}
}

func TestError_BadRequestMatchesNothing(t *testing.T) {
	err := &Error{Operation: "verify-otp", Status: http.StatusBadRequest}
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrServer)
	assert.Equal(t, "verify-otp: HTTP 400", err.Error())
}

func TestReadError_PlainTextBody(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	err := client.SendOTP(context.Background(), "ada@example.com")
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "bad gateway", gwErr.Message)
}

func TestVerifyOTP(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["otp"] != "123456" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid code"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": "signed"})
	})

	token, err := client.VerifyOTP(context.Background(), "ada@example.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, "signed", token)

	_, err = client.VerifyOTP(context.Background(), "ada@example.com", "000000")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyOTP_MissingToken(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{})
	})

	_, err := client.VerifyOTP(context.Background(), "ada@example.com", "123456")
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestSignOut_SendsBearer(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SignOutPath, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	})

	require.NoError(t, client.SignOut(context.Background(), "tok"))
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Contains(t, UserMessage(&Error{Status: 401}), "not correct")
	assert.Contains(t, UserMessage(&Error{Status: 429}), "Too many")
	assert.Contains(t, UserMessage(&Error{Status: 503}), "unavailable")
	assert.Equal(t, "account disabled", UserMessage(&Error{Status: 403, Message: "account disabled"}))
	assert.Contains(t, UserMessage(errors.New("dial tcp")), "went wrong")
}

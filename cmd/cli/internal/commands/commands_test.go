package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/pollbooth/internal/auth"
	"github.com/wolfeidau/pollbooth/internal/cache"
	"github.com/wolfeidau/pollbooth/internal/config"
	"github.com/wolfeidau/pollbooth/internal/devgateway"
	"github.com/wolfeidau/pollbooth/internal/models"
	"github.com/wolfeidau/pollbooth/internal/session"
)

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()

	fixture, err := devgateway.DefaultFixture()
	require.NoError(t, err)
	signer, err := auth.GenerateSigner()
	require.NoError(t, err)

	srv := httptest.NewServer(devgateway.New(devgateway.DefaultConfig(), fixture, signer, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, serverURL, backend string) (*Globals, string) {
	t.Helper()

	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "session")
	path := filepath.Join(dir, "config.yaml")
	body := "server_url: " + serverURL + "\ncache_backend: " + backend + "\ncache_dir: " + cacheDir + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	return &Globals{Version: "test", ConfigPath: path}, cacheDir
}

func TestCommands_SessionLifecycle(t *testing.T) {
	srv := newGateway(t)
	globals, cacheDir := writeConfig(t, srv.URL, config.BackendFile)
	ctx := context.Background()

	// E300 is issued a session without a one-time code.
	require.NoError(t, (&LoginCmd{EmpID: "E300", BirthDate: "1992-06-23"}).Run(ctx, globals))

	// A fresh process restores the cached session.
	a, err := bootstrap(ctx, globals)
	require.NoError(t, err)
	st, err := a.requireSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "E300", st.User.EmpID)
	a.Close()

	require.NoError(t, (&ProfileCmd{Name: "Alan T."}).Run(ctx, globals))
	require.NoError(t, (&TokenCmd{}).Run(ctx, globals))
	require.NoError(t, (&PollsListCmd{}).Run(ctx, globals))
	require.NoError(t, (&PollsVoteCmd{PollID: "office-lunch", OptionID: "tacos"}).Run(ctx, globals))
	require.NoError(t, (&StatusCmd{Output: "json"}).Run(ctx, globals))

	a, err = bootstrap(ctx, globals)
	require.NoError(t, err)
	st, err = a.requireSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alan T.", st.User.Name, "profile edit is persisted")
	a.Close()

	httpCache := filepath.Join(cacheDir, "http")
	require.NoError(t, os.MkdirAll(httpCache, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(httpCache, "tallies"), []byte("cached"), 0600))

	require.NoError(t, (&LogoutCmd{}).Run(ctx, globals))
	assert.NoDirExists(t, httpCache, "cached poll responses are removed on logout")

	a, err = bootstrap(ctx, globals)
	require.NoError(t, err)
	defer a.Close()
	_, err = a.requireSession(ctx)
	require.ErrorIs(t, err, ErrNotLoggedIn)

	require.ErrorIs(t, (&PollsListCmd{}).Run(ctx, globals), ErrNotLoggedIn)
	require.ErrorIs(t, (&TokenCmd{}).Run(ctx, globals), ErrNotLoggedIn)
}

func TestLogin_BadCredentials(t *testing.T) {
	srv := newGateway(t)
	globals, _ := writeConfig(t, srv.URL, config.BackendMemory)

	err := (&LoginCmd{EmpID: "E300", BirthDate: "2000-01-01"}).Run(context.Background(), globals)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
}

func TestProfile_RequiresChange(t *testing.T) {
	err := (&ProfileCmd{}).Run(context.Background(), &Globals{})
	require.Error(t, err)
}

func TestBootstrap_ServerOverride(t *testing.T) {
	globals, _ := writeConfig(t, "http://localhost:1", config.BackendMemory)
	globals.ServerURL = "not a url"

	_, err := bootstrap(context.Background(), globals)
	require.Error(t, err)
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	for _, backend := range []string{config.BackendFile, config.BackendSQLite, config.BackendJar, config.BackendMemory} {
		for _, seal := range []bool{false, true} {
			t.Run(backend, func(t *testing.T) {
				cfg := &config.Config{
					ServerURL:    "http://localhost:8080",
					CacheBackend: backend,
					CacheDir:     t.TempDir(),
					Seal:         seal,
				}

				b, err := openBackend(ctx, cfg)
				require.NoError(t, err)
				defer b.Close()

				if seal {
					assert.IsType(t, &cache.Sealed{}, b)
					assert.FileExists(t, filepath.Join(cfg.CacheDir, "identity.age"))
				}

				require.NoError(t, b.Set(ctx, "k", "v", expiresAt))
				v, err := b.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, "v", v)
			})
		}
	}

	_, err := openBackend(ctx, &config.Config{CacheBackend: "etcd"})
	require.Error(t, err)
}

func TestWriteStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := session.State{
		User:            &models.User{ID: "u1", Name: "Ada", EmpID: "E100", Email: "ada@example.com", IsAdmin: true},
		Token:           "header.payload.sig",
		ExpiresAt:       now.Add(90 * time.Minute),
		IsAuthenticated: true,
	}
	v := newStatusView("https://vote.example.com", st, now)

	var buf bytes.Buffer
	require.NoError(t, writeStatus(&buf, "text", v))
	assert.Contains(t, buf.String(), "Ada (u1)")
	assert.Contains(t, buf.String(), "admin")
	assert.Contains(t, buf.String(), "1h30m0s")
	assert.NotContains(t, buf.String(), st.Token)

	buf.Reset()
	require.NoError(t, writeStatus(&buf, "json", v))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, true, decoded["authenticated"])
	assert.Equal(t, session.Fingerprint(st.Token), decoded["token_fingerprint"])

	buf.Reset()
	require.NoError(t, writeStatus(&buf, "yaml", v))
	decoded = nil
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "E100", decoded["emp_id"])

	buf.Reset()
	require.NoError(t, writeStatus(&buf, "json", newStatusView("https://vote.example.com", session.State{}, now)))
	assert.NotContains(t, buf.String(), "expires_at")

	buf.Reset()
	require.NoError(t, writeStatus(&buf, "text", newStatusView("https://vote.example.com", session.State{}, now)))
	assert.Equal(t, "Not logged in to https://vote.example.com\n", buf.String())
}

func TestPrintPolls(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	polls := []models.Poll{
		{
			ID: "office-lunch", Title: "Friday office lunch", Status: models.PollStatusOpen,
			StartsAt: now.Add(-time.Hour), EndsAt: now.Add(26 * time.Hour),
			Options:  []models.PollOption{{ID: "pizza", Label: "Pizza"}, {ID: "sushi", Label: "Sushi"}},
			VotedFor: "sushi",
		},
		{
			ID: "parking-rota", Title: "A very long poll title that will not fit", Status: models.PollStatusClosed,
			StartsAt: now.Add(-48 * time.Hour), EndsAt: now.Add(-time.Hour),
			Options: []models.PollOption{{ID: "a", Label: "A", Votes: 3}},
		},
	}

	var buf bytes.Buffer
	printPolls(&buf, polls, now)
	out := buf.String()

	assert.Contains(t, out, "1d2h0m0s")
	assert.Contains(t, out, "Sushi")
	assert.Contains(t, out, "A very long poll title that...")
	assert.Contains(t, out, "A (3)")
	assert.Contains(t, out, "Total polls: 2")

	buf.Reset()
	printPolls(&buf, nil, now)
	assert.Equal(t, "No polls found.\n", buf.String())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "59s", formatDuration(59*time.Second+500*time.Millisecond))
	assert.Equal(t, "1d0s", formatDuration(24*time.Hour))
	assert.True(t, strings.HasPrefix(formatDuration(49*time.Hour), "2d"))
}

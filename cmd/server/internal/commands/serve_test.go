package commands

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/pollbooth/internal/devgateway"
	"github.com/wolfeidau/pollbooth/internal/gateway"
	"github.com/wolfeidau/pollbooth/internal/pki"
)

func testServeCmd() *ServeCmd {
	return &ServeCmd{TokenTTL: time.Hour, OTPWindow: 300 * time.Second}
}

func TestNewGateway_Defaults(t *testing.T) {
	gw, err := testServeCmd().newGateway(zerolog.Nop())
	require.NoError(t, err)

	srv := httptest.NewServer(gw)
	defer srv.Close()

	resp, err := http.Post(srv.URL+gateway.CheckCredentialsPath, "application/json",
		strings.NewReader(`{"emp_id":"E300","birth_date":"1992-06-23"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// dev otp is off unless asked for
	resp2, err := http.Get(srv.URL + devgateway.DevOTPPath + "?email=ada@example.com")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestNewGateway_FixtureAndKey(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte(`
employees:
  - id: u9
    name: Barbara
    emp_id: E900
    email: barbara@example.com
    birth_date: "1980-05-05"
    skip_otp: true
polls: []
`), 0600))

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	cmd := testServeCmd()
	cmd.Fixture = fixture
	cmd.SigningKey = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
	cmd.DevOTP = true

	gw, err := cmd.newGateway(zerolog.Nop())
	require.NoError(t, err)

	srv := httptest.NewServer(gw)
	defer srv.Close()

	resp, err := http.Post(srv.URL+gateway.CheckCredentialsPath, "application/json",
		strings.NewReader(`{"emp_id":"E900","birth_date":"1980-05-05"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewGateway_Errors(t *testing.T) {
	cmd := testServeCmd()
	cmd.Fixture = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := cmd.newGateway(zerolog.Nop())
	require.Error(t, err)

	cmd = testServeCmd()
	cmd.SigningKey = "not a pem"
	_, err = cmd.newGateway(zerolog.Nop())
	require.Error(t, err)
}

func TestServe_ShutdownOnCancel(t *testing.T) {
	gw, err := testServeCmd().newGateway(zerolog.Nop())
	require.NoError(t, err)

	srv := configureHTTPServer("127.0.0.1:0", gw)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, srv, gw, func() error {
			close(started)
			return srv.ListenAndServe()
		})
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServe_ListenError(t *testing.T) {
	gw, err := testServeCmd().newGateway(zerolog.Nop())
	require.NoError(t, err)

	boom := errors.New("address in use")
	err = serve(context.Background(), configureHTTPServer("", gw), gw, func() error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestDevTLSConfig(t *testing.T) {
	cmd := testServeCmd()
	cmd.Listen = "gateway.internal:8443"
	cmd.TLSDir = t.TempDir()

	cfg, err := cmd.devTLSConfig()
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)

	leaf := cfg.Certificates[0].Leaf
	assert.Equal(t, []string{"localhost", "gateway.internal"}, leaf.DNSNames)
	assert.Len(t, leaf.IPAddresses, 2)
	assert.FileExists(t, filepath.Join(cmd.TLSDir, pki.CACertFile))

	cmd.Listen = "0.0.0.0:8443"
	cfg, err = cmd.devTLSConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates[0].Leaf.IPAddresses, 2, "unspecified address is not a certificate name")
}

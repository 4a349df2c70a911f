package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9393", s.ControlPlane.URL)
	assert.Equal(t, 5, s.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, s.Retry.BaseDelay)
	assert.Equal(t, 2.0, s.Retry.Multiplier)
	assert.Equal(t, 2*time.Second, s.Poll.Interval)
	assert.Equal(t, time.Minute, s.Poll.Timeout)
	assert.True(t, s.Journal.Enabled)
	assert.Equal(t, TLSModeDisabled, s.ControlPlane.TLS.Mode)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("STREAMCTL_CONTROL_PLANE_URL", "https://dataflow.example.com")
	t.Setenv("STREAMCTL_RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("STREAMCTL_POLL_TIMEOUT", "90s")

	s, err := Load(newViper())
	require.NoError(t, err)
	assert.Equal(t, "https://dataflow.example.com", s.ControlPlane.URL)
	assert.Equal(t, 3, s.Retry.MaxAttempts)
	assert.Equal(t, 90*time.Second, s.Poll.Timeout)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streamctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
control_plane:
  url: http://scdf:9393
retry:
  base_delay: 1s
poll:
  wait_ready: true
`), 0o600))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	s, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "http://scdf:9393", s.ControlPlane.URL)
	assert.Equal(t, time.Second, s.Retry.BaseDelay)
	assert.True(t, s.Poll.WaitReady)
	assert.Equal(t, 5, s.Retry.MaxAttempts)
}

func TestValidate(t *testing.T) {
	base := func() *Settings {
		s, err := Load(newViper())
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{name: "missing url", mutate: func(s *Settings) { s.ControlPlane.URL = "" }},
		{name: "non http url", mutate: func(s *Settings) { s.ControlPlane.URL = "ftp://x" }},
		{name: "zero attempts", mutate: func(s *Settings) { s.Retry.MaxAttempts = 0 }},
		{name: "shrinking multiplier", mutate: func(s *Settings) { s.Retry.Multiplier = 0.5 }},
		{name: "zero poll interval", mutate: func(s *Settings) { s.Poll.Interval = 0 }},
		{name: "unknown tls mode", mutate: func(s *Settings) { s.ControlPlane.TLS.Mode = "sometimes" }},
		{name: "mutual without cert", mutate: func(s *Settings) { s.ControlPlane.TLS.Mode = TLSModeMutual }},
		{name: "client id without token url", mutate: func(s *Settings) { s.Auth.ClientID = "streamctl" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestClientTLSConfigDisabled(t *testing.T) {
	cfg, err := TLSConfig{Mode: TLSModeDisabled}.ClientTLSConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestClientTLSConfigEnabled(t *testing.T) {
	cfg, err := TLSConfig{Mode: TLSModeEnabled, ServerName: "scdf.internal", SkipVerify: true}.ClientTLSConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "scdf.internal", cfg.ServerName)
	assert.True(t, cfg.InsecureSkipVerify)
}

func TestTokenSourceStatic(t *testing.T) {
	ts, err := AuthSettings{Token: "abc"}.TokenSource(context.Background())
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
}

func TestTokenSourceNone(t *testing.T) {
	ts, err := AuthSettings{}.TokenSource(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestTokenSourceFileIsReread(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o600))

	ts, err := AuthSettings{TokenFile: path}.TokenSource(context.Background())
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "first", tok.AccessToken)

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o600))
	tok, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "second", tok.AccessToken)
}

func TestTokenSourceMissingFile(t *testing.T) {
	_, err := AuthSettings{TokenFile: filepath.Join(t.TempDir(), "absent")}.TokenSource(context.Background())
	assert.Error(t, err)
}

func TestTokenSourceClientCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "issued",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	ts, err := AuthSettings{ClientID: "streamctl", ClientSecret: "s3cret", TokenURL: server.URL}.TokenSource(context.Background())
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "issued", tok.AccessToken)
}

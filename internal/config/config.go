package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// STREAMCTL_CONTROL_PLANE_URL.
const EnvPrefix = "STREAMCTL"

// Settings is the resolved runtime configuration of streamctl.
type Settings struct {
	ControlPlane ControlPlaneSettings `mapstructure:"control_plane"`
	Auth         AuthSettings         `mapstructure:"auth"`
	Retry        RetrySettings        `mapstructure:"retry"`
	Poll         PollSettings         `mapstructure:"poll"`
	Journal      JournalSettings      `mapstructure:"journal"`
	Registry     RegistrySettings     `mapstructure:"registry"`
	Compiler     CompilerSettings     `mapstructure:"compiler"`
}

// ControlPlaneSettings locates the control plane REST API.
type ControlPlaneSettings struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	TLS     TLSConfig     `mapstructure:"tls"`
}

// AuthSettings selects how the bearer token is obtained. At most one of
// Token, TokenFile or the client credentials triple is used, in that order.
type AuthSettings struct {
	Token        string   `mapstructure:"token"`
	TokenFile    string   `mapstructure:"token_file"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	TokenURL     string   `mapstructure:"token_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// RetrySettings is the transport retry policy.
type RetrySettings struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// PollSettings bounds convergence waits.
type PollSettings struct {
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	WaitReady    bool          `mapstructure:"wait_ready"`
}

// JournalSettings configures the local run journal.
type JournalSettings struct {
	Path    string `mapstructure:"path"`
	Enabled bool   `mapstructure:"enabled"`
}

// RegistrySettings configures artifact locator normalization.
type RegistrySettings struct {
	DefaultRegistry string `mapstructure:"default_registry"`
	ForceRegister   bool   `mapstructure:"force_register"`
}

// CompilerSettings overrides environment-variable bundle detection.
type CompilerSettings struct {
	BundleKeys       []string `mapstructure:"bundle_keys"`
	BundleDelimiters []string `mapstructure:"bundle_delimiters"`
}

// DefaultDir returns $HOME/.config/streamctl.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".streamctl"
	}
	return filepath.Join(home, ".config", "streamctl")
}

// SetDefaults registers defaults for every setting so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("control_plane.url", "http://localhost:9393")
	v.SetDefault("control_plane.timeout", 30*time.Second)
	v.SetDefault("control_plane.tls.mode", string(TLSModeDisabled))
	v.SetDefault("control_plane.tls.cert_file", "")
	v.SetDefault("control_plane.tls.key_file", "")
	v.SetDefault("control_plane.tls.ca_file", "")
	v.SetDefault("control_plane.tls.skip_verify", false)
	v.SetDefault("control_plane.tls.server_name", "")

	v.SetDefault("auth.token", "")
	v.SetDefault("auth.token_file", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.token_url", "")
	v.SetDefault("auth.scopes", []string{})

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", 30*time.Second)

	v.SetDefault("poll.interval", 2*time.Second)
	v.SetDefault("poll.timeout", 60*time.Second)
	v.SetDefault("poll.ready_timeout", 5*time.Minute)
	v.SetDefault("poll.wait_ready", false)

	v.SetDefault("journal.path", filepath.Join(DefaultDir(), "journal.db"))
	v.SetDefault("journal.enabled", true)

	v.SetDefault("registry.default_registry", "")
	v.SetDefault("registry.force_register", false)

	v.SetDefault("compiler.bundle_keys", []string{})
	v.SetDefault("compiler.bundle_delimiters", []string{})
}

// BindEnv wires STREAMCTL_* environment variables into v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings for values the reconciler cannot work with.
func (s *Settings) Validate() error {
	if s.ControlPlane.URL == "" {
		return fmt.Errorf("control_plane.url is required")
	}
	if !strings.HasPrefix(s.ControlPlane.URL, "http://") && !strings.HasPrefix(s.ControlPlane.URL, "https://") {
		return fmt.Errorf("control_plane.url must be an http(s) URL: %s", s.ControlPlane.URL)
	}
	if s.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if s.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if s.Retry.BaseDelay < 0 || s.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if s.Poll.Interval <= 0 || s.Poll.Timeout <= 0 || s.Poll.ReadyTimeout <= 0 {
		return fmt.Errorf("poll interval and timeouts must be positive")
	}
	if err := s.ControlPlane.TLS.Validate(); err != nil {
		return fmt.Errorf("control_plane.tls: %w", err)
	}
	if s.Auth.ClientID != "" && s.Auth.TokenURL == "" {
		return fmt.Errorf("auth.token_url is required with auth.client_id")
	}
	return nil
}

// DefaultFile returns the settings file read when --config is not given.
func DefaultFile() string {
	return filepath.Join(DefaultDir(), "streamctl.yaml")
}

var secretKeys = map[string]bool{
	"auth.token":         true,
	"auth.client_secret": true,
}

const redacted = "******"

// Effective returns every setting held by v as key -> value, with secrets
// masked.
func Effective(v *viper.Viper) map[string]any {
	out := make(map[string]any)
	for _, key := range v.AllKeys() {
		value := v.Get(key)
		if secretKeys[key] && v.GetString(key) != "" {
			value = redacted
		}
		out[key] = value
	}
	return out
}

// SetInFile stores key = value in the settings file at path, leaving other
// keys in the file untouched. Unknown keys are rejected.
func SetInFile(path, key, value string) error {
	known := viper.New()
	SetDefaults(known)
	if !slices.Contains(known.AllKeys(), key) {
		return fmt.Errorf("unknown setting %q", key)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	v.Set(key, value)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Package config provides configuration management for Tessera.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Home      string          `yaml:"home"`
	App       AppConfig       `yaml:"app"`
	Network   NetworkConfig   `yaml:"network"`
	API       APIConfig       `yaml:"api"`
	Auth      AuthConfig      `yaml:"auth"`
	MWA       MWAConfig       `yaml:"mwa"`
	Deeplink  DeeplinkConfig  `yaml:"deeplink"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Provider  ProviderConfig  `yaml:"provider"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Warnings collects non-fatal problems found while applying overrides.
	Warnings []string `yaml:"-"`
}

// AppConfig identifies the app to wallets and in sign-in messages.
type AppConfig struct {
	Name      string `yaml:"name"`
	Domain    string `yaml:"domain"`
	URI       string `yaml:"uri"`
	Icon      string `yaml:"icon"`
	Statement string `yaml:"statement"`
}

// NetworkConfig defines Solana cluster settings.
type NetworkConfig struct {
	Cluster      string   `yaml:"cluster"`
	RPC          string   `yaml:"rpc"`
	FallbackRPCs []string `yaml:"fallback_rpcs,omitempty"`
	RateLimit    float64  `yaml:"rate_limit"`
	RateBurst    int      `yaml:"rate_burst"`
}

// APIConfig defines the backend REST API settings.
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AuthConfig defines embedded wallet auth manager settings.
type AuthConfig struct {
	InitTimeoutSeconds int `yaml:"init_timeout_seconds"`
	InitialBackoffMS   int `yaml:"initial_backoff_ms"`
	MaxBackoffMS       int `yaml:"max_backoff_ms"`
}

// MWAConfig defines mobile wallet protocol settings.
type MWAConfig struct {
	AssociationTimeoutSeconds int    `yaml:"association_timeout_seconds"`
	ForegroundPollMS          int    `yaml:"foreground_poll_ms"`
	ForegroundTimeoutMS       int    `yaml:"foreground_timeout_ms"`
	DefaultPackage            string `yaml:"default_package"`
}

// DeeplinkConfig defines deeplink wallet settings.
type DeeplinkConfig struct {
	RedirectLink        string            `yaml:"redirect_link"`
	Wallets             map[string]string `yaml:"wallets"`
	CallbackTTLSeconds  int               `yaml:"callback_ttl_seconds"`
	ResumeTimeoutMS     int               `yaml:"resume_timeout_ms"`
	PreferredForPackage []string          `yaml:"preferred_for_packages,omitempty"`
}

// BroadcastConfig defines transaction broadcast settings.
type BroadcastConfig struct {
	MaxAttempts           int    `yaml:"max_attempts"`
	RetryBackoffMS        int    `yaml:"retry_backoff_ms"`
	ConfirmTimeoutSeconds int    `yaml:"confirm_timeout_seconds"`
	PollIntervalMS        int    `yaml:"poll_interval_ms"`
	Commitment            string `yaml:"commitment"`
}

// ProviderConfig defines the local custodial provider settings.
type ProviderConfig struct {
	// StorePath defaults to <home>/provider.age.
	StorePath         string        `yaml:"store_path"`
	TokenSecret       string        `yaml:"token_secret"`
	TokenTTLMinutes   int           `yaml:"token_ttl_minutes"`
	OTPTTLMinutes     int           `yaml:"otp_ttl_minutes"`
	OAuthRedirectPort int           `yaml:"oauth_redirect_port"`
	OAuth             []OAuthClient `yaml:"oauth,omitempty"`
}

// OAuthClient is an OAuth/OIDC client registration used for social login.
type OAuthClient struct {
	Name         string   `yaml:"name"`
	Issuer       string   `yaml:"issuer"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes,omitempty"`
}

// OutputConfig defines output formatting settings.
type OutputConfig struct {
	DefaultFormat string `yaml:"default_format"`
	Color         string `yaml:"color"`
	Verbose       bool   `yaml:"verbose"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads configuration from the specified file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// GetHome returns the tessera home directory path.
func (c *Config) GetHome() string {
	return ExpandHome(c.Home)
}

// GetRPC returns the Solana RPC URL, falling back to the cluster default.
func (c *Config) GetRPC() string {
	if c.Network.RPC != "" {
		return c.Network.RPC
	}
	return DefaultRPCForCluster(c.Network.Cluster)
}

// GetFallbackRPCs returns the fallback Solana RPC URLs.
func (c *Config) GetFallbackRPCs() []string {
	return c.Network.FallbackRPCs
}

// GetAPIBaseURL returns the backend REST API base URL.
func (c *Config) GetAPIBaseURL() string {
	return c.API.BaseURL
}

// APITimeout returns the REST API request timeout.
func (c *Config) APITimeout() time.Duration {
	return seconds(c.API.TimeoutSeconds, 30)
}

// AuthInitTimeout returns how long Initialize waits for the provider.
func (c *Config) AuthInitTimeout() time.Duration {
	return seconds(c.Auth.InitTimeoutSeconds, 10)
}

// AssociationTimeout returns the wallet association timeout.
func (c *Config) AssociationTimeout() time.Duration {
	return seconds(c.MWA.AssociationTimeoutSeconds, 30)
}

// ConfirmTimeout returns the default transaction confirmation timeout.
func (c *Config) ConfirmTimeout() time.Duration {
	return seconds(c.Broadcast.ConfirmTimeoutSeconds, 60)
}

// CallbackTTL returns how long a buffered deeplink callback stays replayable.
func (c *Config) CallbackTTL() time.Duration {
	return seconds(c.Deeplink.CallbackTTLSeconds, 120)
}

// ResumeTimeout returns how long a resumed deeplink flow waits for its callback.
func (c *Config) ResumeTimeout() time.Duration {
	return millis(c.Deeplink.ResumeTimeoutMS, 3000)
}

// ForegroundPoll returns the foreground polling interval.
func (c *Config) ForegroundPoll() time.Duration {
	return millis(c.MWA.ForegroundPollMS, 50)
}

// ForegroundTimeout returns the maximum foreground wait.
func (c *Config) ForegroundTimeout() time.Duration {
	return millis(c.MWA.ForegroundTimeoutMS, 5000)
}

// DefaultHome returns the default tessera home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tessera"
	}
	return filepath.Join(home, ".tessera")
}

// ExpandHome expands a leading "~/" to the user's home directory.
func ExpandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func millis(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Millisecond
}

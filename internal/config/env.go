package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/mrz1836/go-sanitize"
)

// Environment variable names.
const (
	EnvHome         = "TESSERA_HOME"
	EnvRPCURL       = "TESSERA_RPC_URL"
	EnvFallbackRPCs = "TESSERA_FALLBACK_RPCS"
	EnvAPIURL       = "TESSERA_API_URL"
	EnvCluster      = "TESSERA_CLUSTER"
	EnvOutputFormat = "TESSERA_OUTPUT_FORMAT"
	EnvVerbose      = "TESSERA_VERBOSE"
	EnvLogLevel     = "TESSERA_LOG_LEVEL"
	EnvTokenSecret  = "TESSERA_TOKEN_SECRET" // #nosec G101 -- false positive, this is a const name not a credential
	EnvNoColor      = "NO_COLOR"
)

// URL validation errors.
var (
	ErrInvalidRPCURL  = errors.New("invalid RPC URL")
	ErrInsecureRPCURL = errors.New("RPC URL uses plain http on a non-loopback host")
)

// ApplyEnvironment applies environment variable overrides to the configuration.
//
//nolint:gocognit,gocyclo // Environment variable overrides require sequential checks
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvCluster); v != "" {
		cfg.Network.Cluster = strings.ToLower(strings.TrimSpace(v))
		// A cluster override without an explicit RPC switches to that cluster's endpoint.
		if os.Getenv(EnvRPCURL) == "" {
			cfg.Network.RPC = DefaultRPCForCluster(cfg.Network.Cluster)
		}
	}

	if v := os.Getenv(EnvRPCURL); v != "" {
		cfg.Network.RPC = SanitizeURL(v)
		if err := ValidateRPCURL(cfg.Network.RPC); err != nil {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s: %v", EnvRPCURL, err))
		}
	}

	if v := os.Getenv(EnvFallbackRPCs); v != "" {
		cfg.Network.FallbackRPCs = nil
		for _, raw := range strings.Split(v, ",") {
			u := SanitizeURL(raw)
			if u == "" {
				continue
			}
			if err := ValidateRPCURL(u); err != nil {
				cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s: %v", EnvFallbackRPCs, err))
				continue
			}
			cfg.Network.FallbackRPCs = append(cfg.Network.FallbackRPCs, u)
		}
	}

	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.API.BaseURL = SanitizeURL(v)
		if err := ValidateRPCURL(cfg.API.BaseURL); err != nil {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s: %v", EnvAPIURL, err))
		}
	}

	if v := os.Getenv(EnvOutputFormat); v != "" {
		cfg.Output.DefaultFormat = strings.ToLower(v)
	}

	if v := os.Getenv(EnvVerbose); v != "" {
		cfg.Output.Verbose = parseBool(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	if v := os.Getenv(EnvTokenSecret); v != "" {
		cfg.Provider.TokenSecret = v
	}

	// NO_COLOR disables colored output
	if _, ok := os.LookupEnv(EnvNoColor); ok {
		cfg.Output.Color = "never"
	}
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}

// SanitizeURL cleans a URL string by removing invalid characters and trimming whitespace.
// This is useful for cleaning user-provided RPC URLs that may contain copy-paste artifacts.
func SanitizeURL(url string) string {
	return sanitize.URL(strings.TrimSpace(url))
}

// ValidateRPCURL checks that an endpoint URL uses a network scheme.
// Plain http is accepted only for loopback hosts; otherwise ErrInsecureRPCURL is returned.
// An empty URL is valid and means "use the default".
func ValidateRPCURL(raw string) error {
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRPCURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return nil
	case "http", "ws":
		if isLoopback(u.Hostname()) {
			return nil
		}
		return ErrInsecureRPCURL
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRPCURL, u.Scheme)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

package cli

import (
	"github.com/mrz1836/tessera/internal/config"
)

// Compile-time interface checks.
var _ ConfigProvider = (*config.Config)(nil)

// ConfigProvider provides read access to the endpoints a command talks to.
// This interface enables faking configuration in tests.
type ConfigProvider interface {
	// GetRPC returns the Solana RPC URL.
	GetRPC() string

	// GetFallbackRPCs returns the fallback Solana RPC URLs.
	GetFallbackRPCs() []string

	// GetAPIBaseURL returns the backend API base URL.
	GetAPIBaseURL() string
}

// endpointReport lists the endpoints commands use.
type endpointReport struct {
	RPC          string   `json:"rpc"`
	FallbackRPCs []string `json:"fallback_rpcs,omitempty"`
	API          string   `json:"api"`
}

func endpointsFrom(c ConfigProvider) endpointReport {
	return endpointReport{
		RPC:          c.GetRPC(),
		FallbackRPCs: c.GetFallbackRPCs(),
		API:          c.GetAPIBaseURL(),
	}
}

package config

import "github.com/mrz1836/tessera/internal/chain"

// Default Solana RPC endpoints per cluster.
var (
	DefaultMainnetRPC  = chain.Mainnet.DefaultRPC()
	DefaultDevnetRPC   = chain.Devnet.DefaultRPC()
	DefaultTestnetRPC  = chain.Testnet.DefaultRPC()
	DefaultLocalnetRPC = chain.Localnet.DefaultRPC()
)

// DefaultRPCForCluster returns the public RPC endpoint for a cluster name.
// Unknown names resolve to mainnet.
func DefaultRPCForCluster(cluster string) string {
	c, ok := chain.ParseCluster(cluster)
	if !ok {
		return DefaultMainnetRPC
	}
	return c.DefaultRPC()
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Home:    "~/.tessera",
		App: AppConfig{
			Name:      "Tessera",
			Domain:    "tessera.app",
			URI:       "https://tessera.app",
			Icon:      "favicon.ico",
			Statement: "Sign in to Tessera",
		},
		Network: NetworkConfig{
			Cluster:   "mainnet-beta",
			RPC:       DefaultMainnetRPC,
			RateLimit: 5,
			RateBurst: 10,
		},
		API: APIConfig{
			BaseURL:        "https://api.tessera.app/v1",
			TimeoutSeconds: 30,
		},
		Auth: AuthConfig{
			InitTimeoutSeconds: 10,
			InitialBackoffMS:   100,
			MaxBackoffMS:       500,
		},
		MWA: MWAConfig{
			AssociationTimeoutSeconds: 30,
			ForegroundPollMS:          50,
			ForegroundTimeoutMS:       5000,
		},
		Deeplink: DeeplinkConfig{
			RedirectLink: "tessera://wallet-callback",
			Wallets: map[string]string{
				"app.phantom":         "https://phantom.app/ul/v1",
				"com.solflare.mobile": "https://solflare.com/ul/v1",
				"app.backpack.mobile": "https://backpack.app/ul/v1",
			},
			CallbackTTLSeconds: 120,
			ResumeTimeoutMS:    3000,
		},
		Broadcast: BroadcastConfig{
			MaxAttempts:           3,
			RetryBackoffMS:        2000,
			ConfirmTimeoutSeconds: 60,
			PollIntervalMS:        2000,
			Commitment:            "confirmed",
		},
		Provider: ProviderConfig{
			TokenTTLMinutes:   60,
			OTPTTLMinutes:     10,
			OAuthRedirectPort: 53682,
		},
		Output: OutputConfig{
			DefaultFormat: "auto",
			Color:         "auto",
			Verbose:       false,
		},
		Logging: LoggingConfig{
			Level: "error",
			File:  "~/.tessera/tessera.log",
		},
	}
}

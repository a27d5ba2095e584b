// Package chain provides Solana cluster identifiers, commitment levels, and
// the retry and rate limiting utilities shared by network clients.
package chain

import "strings"

// Cluster identifies a Solana cluster.
type Cluster string

// Supported clusters.
const (
	Mainnet  Cluster = "mainnet-beta"
	Devnet   Cluster = "devnet"
	Testnet  Cluster = "testnet"
	Localnet Cluster = "localnet"
)

// ParseCluster parses a cluster name. "mainnet" is accepted as an alias for mainnet-beta.
func ParseCluster(s string) (Cluster, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "mainnet-beta":
		return Mainnet, true
	case "devnet":
		return Devnet, true
	case "testnet":
		return Testnet, true
	case "localnet", "localhost":
		return Localnet, true
	default:
		return "", false
	}
}

// String returns the cluster name.
func (c Cluster) String() string {
	return string(c)
}

// ChainID returns the CAIP-2 style chain identifier used in sign-in messages
// and wallet authorization requests.
func (c Cluster) ChainID() string {
	switch c {
	case Devnet:
		return "solana:devnet"
	case Testnet:
		return "solana:testnet"
	case Localnet:
		return "solana:localnet"
	case Mainnet:
		return "solana:mainnet"
	default:
		return "solana:mainnet"
	}
}

// WalletCluster returns the cluster name wallets expect in deeplink and
// authorization parameters.
func (c Cluster) WalletCluster() string {
	if c == Localnet {
		return string(Devnet)
	}
	if c == "" {
		return string(Mainnet)
	}
	return string(c)
}

// DefaultRPC returns the public RPC endpoint for the cluster.
func (c Cluster) DefaultRPC() string {
	switch c {
	case Devnet:
		return "https://api.devnet.solana.com"
	case Testnet:
		return "https://api.testnet.solana.com"
	case Localnet:
		return "http://127.0.0.1:8899"
	case Mainnet:
		return "https://api.mainnet-beta.solana.com"
	default:
		return "https://api.mainnet-beta.solana.com"
	}
}

// Commitment is a Solana commitment level.
type Commitment string

// Commitment levels in increasing order of finality.
const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// ParseCommitment parses a commitment level, defaulting to confirmed.
func ParseCommitment(s string) Commitment {
	switch Commitment(strings.ToLower(strings.TrimSpace(s))) {
	case CommitmentProcessed:
		return CommitmentProcessed
	case CommitmentFinalized:
		return CommitmentFinalized
	case CommitmentConfirmed:
		return CommitmentConfirmed
	default:
		return CommitmentConfirmed
	}
}

// SatisfiedBy reports whether an observed confirmation status meets the
// requested commitment. Finalized requires exactly finalized; confirmed
// accepts confirmed or finalized; processed accepts any status.
func (c Commitment) SatisfiedBy(status string) bool {
	switch c {
	case CommitmentFinalized:
		return status == string(CommitmentFinalized)
	case CommitmentConfirmed:
		return status == string(CommitmentConfirmed) || status == string(CommitmentFinalized)
	case CommitmentProcessed:
		return status == string(CommitmentProcessed) ||
			status == string(CommitmentConfirmed) ||
			status == string(CommitmentFinalized)
	default:
		return false
	}
}

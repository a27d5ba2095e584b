// Package mwa drives external wallet sessions over the mobile wallet
// adapter protocol: authorization, message signing and transaction signing.
package mwa

import (
	"context"
)

// AppIdentity is shown to the wallet when it asks the user to authorize.
type AppIdentity struct {
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
	Icon string `json:"icon,omitempty"`
}

// AuthResult is the outcome of a successful authorize or reauthorize call.
type AuthResult struct {
	// Address is the authorized account as a base58 public key.
	Address          string `json:"address"`
	Label            string `json:"label,omitempty"`
	WalletClientType string `json:"walletClientType,omitempty"`
	AuthToken        string `json:"authToken,omitempty"`
	// WalletURIBase, when set, is used to reach the same wallet on later sessions.
	WalletURIBase string `json:"walletUriBase,omitempty"`
}

// Target selects the wallet a session is opened against. An empty
// Package leaves the choice to the OS wallet picker.
type Target struct {
	Package       string
	WalletURIBase string
}

// Session is an open, authenticated channel to a wallet app. Calls on a
// Session are serialized.
type Session interface {
	Authorize(ctx context.Context, identity AppIdentity, chain string) (AuthResult, error)
	Reauthorize(ctx context.Context, identity AppIdentity, authToken string) (AuthResult, error)
	// SignMessages returns one detached signature per payload.
	SignMessages(ctx context.Context, addresses []string, payloads [][]byte) ([][]byte, error)
	// SignTransactions returns the signed wire transactions.
	SignTransactions(ctx context.Context, payloads [][]byte) ([][]byte, error)
	Close() error
}

// Connector opens wallet sessions.
type Connector interface {
	Connect(ctx context.Context, target Target) (Session, error)
}

// MessageProvider produces the bytes to sign once the wallet has
// authorized. It runs while the session is still open.
type MessageProvider func(ctx context.Context, auth AuthResult) ([]byte, error)

// TokenStore keeps wallet auth tokens per account address.
type TokenStore interface {
	WalletToken(address string) string
	SetWalletToken(ctx context.Context, address, token string) error
}

// LogWriter is the logging interface used by this package.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

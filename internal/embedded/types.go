package embedded

import (
	"context"
)

// AccountType identifies a linked login method.
type AccountType string

// Linked account types.
const (
	AccountEmail  AccountType = "email"
	AccountPhone  AccountType = "phone"
	AccountOAuth  AccountType = "oauth"
	AccountWallet AccountType = "wallet"
)

// LinkedAccount is one login method attached to a user.
type LinkedAccount struct {
	Type AccountType `json:"type"`
	// Subject is the email, phone number, or OAuth subject.
	Subject string `json:"subject,omitempty"`
	// Provider names the OAuth provider ("google", "apple").
	Provider         string `json:"provider,omitempty"`
	Address          string `json:"address,omitempty"`
	WalletClientType string `json:"wallet_client_type,omitempty"`
}

// Wallet is a custodial embedded wallet.
type Wallet struct {
	Address string `json:"address"`
	Index   int    `json:"index"`
}

// User is an authenticated provider user.
type User struct {
	ID              string          `json:"id"`
	Email           string          `json:"email,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	LinkedAccounts  []LinkedAccount `json:"linked_accounts"`
	EmbeddedWallets []Wallet        `json:"embedded_wallets"`
}

// PrimaryWallet returns the first embedded wallet, if any.
func (u *User) PrimaryWallet() (Wallet, bool) {
	if u == nil || len(u.EmbeddedWallets) == 0 {
		return Wallet{}, false
	}
	return u.EmbeddedWallets[0], true
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.LinkedAccounts = append([]LinkedAccount(nil), u.LinkedAccounts...)
	c.EmbeddedWallets = append([]Wallet(nil), u.EmbeddedWallets...)
	return &c
}

// AuthInitInfo is sent once to the backend after first authentication.
type AuthInitInfo struct {
	WalletAddress    string `json:"walletAddress"`
	Email            string `json:"email,omitempty"`
	IsSiwsLogin      bool   `json:"isSiwsLogin"`
	WalletClientType string `json:"walletClientType,omitempty"`
}

// PendingSiwsParams is the challenge context held between generating a
// SIWS message and completing login or link with it.
type PendingSiwsParams struct {
	Domain        string
	URI           string
	WalletAddress string
}

// SiwsMetadata describes the wallet that produced a SIWS signature.
type SiwsMetadata struct {
	WalletClientType string
	ConnectorType    string
}

// ProviderStatus is the provider's session readiness.
type ProviderStatus int

// Provider statuses.
const (
	ProviderNotReady ProviderStatus = iota
	ProviderAuthenticated
	ProviderUnauthenticated
)

// Provider is the custodial wallet SDK. Implementations own the actual key
// custody and login verification.
type Provider interface {
	Start(ctx context.Context) error
	Status(ctx context.Context) (ProviderStatus, error)
	// CurrentUser reads the live session. It returns ErrNotAuthenticated without one.
	CurrentUser(ctx context.Context) (*User, error)
	AccessToken(ctx context.Context) (string, error)
	RefreshAccessToken(ctx context.Context) (string, error)

	LoginWithOAuth(ctx context.Context, provider string) (*User, error)
	SendEmailCode(ctx context.Context, email string) error
	VerifyEmailCode(ctx context.Context, email, code string) (*User, error)
	SendSmsCode(ctx context.Context, phone string) error
	VerifySmsCode(ctx context.Context, phone, code string) (*User, error)

	GenerateSiwsMessage(ctx context.Context, params PendingSiwsParams) (string, error)
	LoginWithSiws(ctx context.Context, message, signature string, meta SiwsMetadata) (*User, error)
	LinkWithSiws(ctx context.Context, message, signature string, meta SiwsMetadata) (*User, error)

	LinkOAuth(ctx context.Context, provider string) (*User, error)
	UnlinkOAuth(ctx context.Context, provider, subject string) (*User, error)
	UnlinkWallet(ctx context.Context, address string) (*User, error)

	CreateEmbeddedWallet(ctx context.Context) (*Wallet, error)
	SignMessage(ctx context.Context, address string, message []byte) ([]byte, error)
	SignTransaction(ctx context.Context, address, txBase64 string) (string, error)

	Logout(ctx context.Context) error
}

// TokenStore persists the access token and fallback identity.
type TokenStore interface {
	AccessToken() string
	SetAccessToken(ctx context.Context, token string) error
	FallbackAddress() string
	SetFallbackAddress(ctx context.Context, address string) error
	Clear(ctx context.Context) error
}

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// criticalLogger is implemented by loggers that can flag invariant violations.
type criticalLogger interface {
	Critical(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

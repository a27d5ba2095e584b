package txwallet

import (
	"context"
	"encoding/base64"

	"github.com/mrz1836/tessera/internal/embedded"
	"github.com/mrz1836/tessera/internal/walletpref"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// Signer signs a base64 transaction for one wallet kind and returns the
// signed base64 transaction.
type Signer interface {
	Type() walletpref.WalletType
	Address(ctx context.Context) (string, error)
	SignTransaction(ctx context.Context, unsignedTxBase64 string) (string, error)
}

// EmbeddedWallet is the part of the embedded auth manager used for signing.
type EmbeddedWallet interface {
	ResolveWallet(ctx context.Context) (embedded.Wallet, error)
	SignTransaction(ctx context.Context, txBase64 string) (string, error)
}

// WalletSessions signs with an external wallet app.
type WalletSessions interface {
	SignTransaction(ctx context.Context, targetPackage, address string, tx []byte) ([]byte, error)
}

// Preferences exposes the wallet selection.
type Preferences interface {
	Active() (walletpref.WalletInfo, bool)
	ActiveType() walletpref.WalletType
	TargetPackage() string
	NeedsWalletSelection() bool
}

// EmbeddedSigner signs with the custodial embedded wallet.
type EmbeddedSigner struct {
	Wallet EmbeddedWallet
}

// Type implements Signer.
func (EmbeddedSigner) Type() walletpref.WalletType { return walletpref.TypeEmbedded }

// Address implements Signer.
func (s EmbeddedSigner) Address(ctx context.Context) (string, error) {
	w, err := s.Wallet.ResolveWallet(ctx)
	if err != nil {
		return "", err
	}
	return w.Address, nil
}

// SignTransaction implements Signer.
func (s EmbeddedSigner) SignTransaction(ctx context.Context, unsignedTxBase64 string) (string, error) {
	return s.Wallet.SignTransaction(ctx, unsignedTxBase64)
}

// ExternalSigner signs with the active external wallet. With no remembered
// package the OS chooses the wallet app.
type ExternalSigner struct {
	Sessions WalletSessions
	Prefs    Preferences
}

// Type implements Signer.
func (ExternalSigner) Type() walletpref.WalletType { return walletpref.TypeExternal }

// Address implements Signer.
func (s ExternalSigner) Address(context.Context) (string, error) {
	active, ok := s.Prefs.Active()
	if !ok || active.Type != walletpref.TypeExternal {
		return "", tserr.ErrWalletSelectionRequired
	}
	return active.Address, nil
}

// SignTransaction implements Signer.
func (s ExternalSigner) SignTransaction(ctx context.Context, unsignedTxBase64 string) (string, error) {
	address, err := s.Address(ctx)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(unsignedTxBase64)
	if err != nil {
		return "", tserr.WithCause(tserr.ErrInvalidTransaction, err)
	}
	signed, err := s.Sessions.SignTransaction(ctx, s.Prefs.TargetPackage(), address, raw)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(signed), nil
}

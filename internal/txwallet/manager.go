// Package txwallet signs and broadcasts transactions with whichever wallet
// the user has selected.
package txwallet

import (
	"context"
	"time"

	"github.com/mrz1836/tessera/internal/chain"
	"github.com/mrz1836/tessera/internal/chain/rpc"
	"github.com/mrz1836/tessera/internal/walletpref"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// Broadcaster submits signed transactions.
type Broadcaster interface {
	SendTransaction(ctx context.Context, signedTxBase64 string) (string, error)
	ConfirmTransaction(ctx context.Context, signature string, commitment chain.Commitment, timeout time.Duration) (*rpc.SignatureStatus, error)
}

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Config holds dependencies for the transaction manager.
type Config struct {
	Prefs       Preferences
	Embedded    Signer
	External    Signer
	Broadcaster Broadcaster
	// Verifier defaults to StructuralVerifier.
	Verifier Verifier
	Logger   LogWriter
}

// Manager routes transactions to the signer for the active wallet type and
// broadcasts the result.
type Manager struct {
	prefs       Preferences
	signers     map[walletpref.WalletType]Signer
	broadcaster Broadcaster
	verifier    Verifier
	logger      LogWriter
}

// Result is a broadcast transaction.
type Result struct {
	Signature string                `json:"signature"`
	Wallet    string                `json:"wallet"`
	Type      walletpref.WalletType `json:"type"`
	Status    *rpc.SignatureStatus  `json:"status,omitempty"`
}

// NewManager creates a transaction manager.
func NewManager(cfg *Config) *Manager {
	m := &Manager{
		prefs:       cfg.Prefs,
		signers:     make(map[walletpref.WalletType]Signer),
		broadcaster: cfg.Broadcaster,
		verifier:    cfg.Verifier,
		logger:      cfg.Logger,
	}
	if m.verifier == nil {
		m.verifier = StructuralVerifier{}
	}
	if m.logger == nil {
		m.logger = nopLogger{}
	}
	for _, s := range []Signer{cfg.Embedded, cfg.External} {
		if s != nil {
			m.signers[s.Type()] = s
		}
	}
	return m
}

// NeedsWalletSelection reports whether an external wallet is active without
// a remembered app, so the caller should show its own picker.
func (m *Manager) NeedsWalletSelection() bool {
	return m.prefs.NeedsWalletSelection()
}

// ActiveWallet returns the address and type of the wallet that would sign.
func (m *Manager) ActiveWallet(ctx context.Context) (string, walletpref.WalletType, error) {
	signer, err := m.signer()
	if err != nil {
		return "", "", err
	}
	address, err := signer.Address(ctx)
	if err != nil {
		return "", "", err
	}
	return address, signer.Type(), nil
}

func (m *Manager) signer() (Signer, error) {
	walletType := m.prefs.ActiveType()
	if walletType == "" {
		// Without a selection the embedded wallet signs.
		walletType = walletpref.TypeEmbedded
	}
	signer, ok := m.signers[walletType]
	if !ok {
		return nil, tserr.Wrap(tserr.ErrNotSupported, "no signer for %s wallets", walletType)
	}
	return signer, nil
}

// SignAndSendTransaction verifies, signs and broadcasts unsignedTxBase64 and
// returns the base58 transaction signature. Nothing is signed when
// verification fails.
func (m *Manager) SignAndSendTransaction(ctx context.Context, unsignedTxBase64 string) (*Result, error) {
	signer, err := m.signer()
	if err != nil {
		return nil, err
	}
	walletType := signer.Type()

	address, err := signer.Address(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.verifier.Verify(unsignedTxBase64, address); err != nil {
		m.logger.Debug("txwallet: rejected transaction for %s: %v", address, err)
		return nil, err
	}

	signed, err := signer.SignTransaction(ctx, unsignedTxBase64)
	if err != nil {
		return nil, err
	}

	signature, err := m.broadcaster.SendTransaction(ctx, signed)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("txwallet: %s wallet %s sent %s", walletType, address, signature)
	return &Result{Signature: signature, Wallet: address, Type: walletType}, nil
}

// SignSendAndConfirm is SignAndSendTransaction followed by confirmation at
// commitment. A zero timeout uses the broadcaster default.
func (m *Manager) SignSendAndConfirm(ctx context.Context, unsignedTxBase64 string, commitment chain.Commitment, timeout time.Duration) (*Result, error) {
	res, err := m.SignAndSendTransaction(ctx, unsignedTxBase64)
	if err != nil {
		return nil, err
	}
	status, err := m.broadcaster.ConfirmTransaction(ctx, res.Signature, commitment, timeout)
	if err != nil {
		// The transaction was sent, so the signature is still returned.
		return res, err
	}
	res.Status = status
	return res, nil
}

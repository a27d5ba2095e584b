package localsdk

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip39"

	"github.com/mrz1836/tessera/internal/embedded"
	"github.com/mrz1836/tessera/internal/vault"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// mnemonicBits yields a 12-word mnemonic.
const mnemonicBits = 128

const hardenedOffset = 0x80000000

// ErrInvalidMnemonic indicates the mnemonic failed BIP39 validation.
var ErrInvalidMnemonic = errors.New("invalid mnemonic phrase")

// GenerateMnemonic creates a new 12-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicBits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// DeriveKey derives the Solana keypair at m/44'/501'/index'/0' from a mnemonic.
func DeriveKey(mnemonic string, index uint32) (solana.PrivateKey, error) {
	normalized := strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
	if _, err := bip39.MnemonicToByteArray(normalized); err != nil {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(normalized, "")
	defer vault.Zero(seed)

	key, chainCode := slip10Master(seed)
	for _, i := range []uint32{44, 501, index, 0} {
		key, chainCode = slip10Child(key, chainCode, i+hardenedOffset)
	}
	defer vault.Zero(key)
	return solana.PrivateKey(ed25519.NewKeyFromSeed(key)), nil
}

// slip10Master and slip10Child implement SLIP-0010 ed25519 derivation,
// which only defines hardened children.
func slip10Master(seed []byte) (key, chainCode []byte) {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}

func slip10Child(key, chainCode []byte, index uint32) (childKey, childChainCode []byte) {
	data := make([]byte, 0, 37)
	data = append(data, 0)
	data = append(data, key...)
	data = binary.BigEndian.AppendUint32(data, index)

	mac := hmac.New(sha512.New, chainCode)
	mac.Write(data)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}

// CreateEmbeddedWallet creates the session user's embedded wallet. A user
// has at most one; a second call fails.
func (p *Provider) CreateEmbeddedWallet(_ context.Context) (*embedded.Wallet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.sessionLocked()
	if rec == nil {
		return nil, tserr.ErrNotAuthenticated
	}
	if len(rec.User.EmbeddedWallets) > 0 {
		return nil, tserr.Wrap(tserr.ErrInvalidInput, "embedded wallet already exists")
	}

	mnemonic, err := GenerateMnemonic()
	if err != nil {
		return nil, fmt.Errorf("generating mnemonic: %w", err)
	}
	key, err := DeriveKey(mnemonic, 0)
	if err != nil {
		return nil, err
	}
	w := embedded.Wallet{Address: key.PublicKey().String(), Index: 0}
	vault.Zero(key)

	rec.User.EmbeddedWallets = append(rec.User.EmbeddedWallets, w)
	if rec.Mnemonics == nil {
		rec.Mnemonics = make(map[string]string)
	}
	rec.Mnemonics[w.Address] = mnemonic

	if err := p.saveLocked(); err != nil {
		return nil, err
	}
	p.logger.Debug("localsdk: created embedded wallet %s for %s", w.Address, rec.User.ID)
	return &w, nil
}

// ExportMnemonic returns the recovery phrase of an embedded wallet owned by the session user.
func (p *Provider) ExportMnemonic(_ context.Context, address string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.sessionLocked()
	if rec == nil {
		return "", tserr.ErrNotAuthenticated
	}
	mnemonic, ok := rec.Mnemonics[address]
	if !ok {
		return "", tserr.ErrNoEmbeddedWallet
	}
	return mnemonic, nil
}

// walletKey derives the private key of an embedded wallet into locked
// memory. The caller must Destroy it.
func (p *Provider) walletKey(address string) (*vault.Secret, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.sessionLocked()
	if rec == nil {
		return nil, tserr.ErrNotAuthenticated
	}
	mnemonic, ok := rec.Mnemonics[address]
	if !ok {
		return nil, tserr.ErrNoEmbeddedWallet
	}
	var index uint32
	for _, w := range rec.User.EmbeddedWallets {
		if w.Address == address {
			index = uint32(w.Index) //nolint:gosec // G115: wallet indices are small and non-negative
		}
	}
	key, err := DeriveKey(mnemonic, index)
	if err != nil {
		return nil, err
	}
	defer vault.Zero(key)
	return vault.NewSecret(key), nil
}

// SignMessage signs raw message bytes with an embedded wallet.
func (p *Provider) SignMessage(_ context.Context, address string, message []byte) ([]byte, error) {
	secret, err := p.walletKey(address)
	if err != nil {
		return nil, err
	}
	defer secret.Destroy()

	sig, err := solana.PrivateKey(secret.Bytes()).Sign(message)
	if err != nil {
		return nil, fmt.Errorf("signing message: %w", err)
	}
	return sig[:], nil
}

// SignTransaction fills the embedded wallet's signature slot of a base64
// transaction and returns the re-encoded transaction.
func (p *Provider) SignTransaction(_ context.Context, address, txBase64 string) (string, error) {
	secret, err := p.walletKey(address)
	if err != nil {
		return "", err
	}
	defer secret.Destroy()
	return SignTransactionWith(solana.PrivateKey(secret.Bytes()), txBase64)
}

// SignTransactionWith signs txBase64 with key, which must be one of its required signers.
func SignTransactionWith(key solana.PrivateKey, txBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", tserr.WithCause(tserr.ErrInvalidTransaction, err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return "", tserr.WithCause(tserr.ErrInvalidTransaction, err)
	}

	signers := int(tx.Message.Header.NumRequiredSignatures)
	pub := key.PublicKey()
	slot := -1
	for i := 0; i < signers && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(pub) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return "", tserr.Wrap(tserr.ErrInvalidTransaction, "wallet %s is not a required signer", pub)
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return "", tserr.WithCause(tserr.ErrInvalidTransaction, err)
	}
	sig, err := key.Sign(msg)
	if err != nil {
		return "", fmt.Errorf("signing transaction: %w", err)
	}

	for len(tx.Signatures) < signers {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
	tx.Signatures[slot] = sig

	out, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encoding transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

package deeplink

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/nacl/box"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// Universal link paths.
const (
	PathConnect     = "/connect"
	PathSignMessage = "/signMessage"
)

// Query parameter names.
const (
	paramAppURL        = "app_url"
	paramDappKey       = "dapp_encryption_public_key"
	paramRedirect      = "redirect_link"
	paramCluster       = "cluster"
	paramNonce         = "nonce"
	paramData          = "data"
	paramPayload       = "payload"
	paramErrorCode     = "errorCode"
	paramErrorMessage  = "errorMessage"
	walletKeySuffix    = "_encryption_public_key"
	keyLength          = 32
	nonceLength        = 24
	signatureLength    = 64
	codeUserRejected   = "4001"
	codeDisconnected   = "4900"
	codeUnauthorized   = "4100"
	displayEncodingUTF = "utf8"
)

type connectData struct {
	PublicKey string `json:"public_key"`
	Session   string `json:"session"`
}

type signMessagePayload struct {
	Message string `json:"message"`
	Session string `json:"session"`
	Display string `json:"display,omitempty"`
}

type signMessageData struct {
	Signature string `json:"signature"`
}

// keyPair is the dapp's x25519 encryption keypair for one flow.
type keyPair struct {
	public  [keyLength]byte
	private [keyLength]byte
}

func newKeyPair() (*keyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate dapp keypair: %w", err)
	}
	return &keyPair{public: *pub, private: *priv}, nil
}

func decodeKey(s string) ([keyLength]byte, error) {
	var out [keyLength]byte
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != keyLength {
		return out, tserr.Wrap(tserr.ErrInvalidInput, "invalid encryption key")
	}
	copy(out[:], raw)
	return out, nil
}

// sharedKey precomputes the NaCl box key between the dapp and a wallet.
func sharedKey(walletPub, dappPriv [keyLength]byte) [keyLength]byte {
	var shared [keyLength]byte
	box.Precompute(&shared, &walletPub, &dappPriv)
	return shared
}

func seal(v any, shared [keyLength]byte) (nonceB58, dataB58 string, err error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", "", err
	}
	var nonce [nonceLength]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := box.SealAfterPrecomputation(nil, plaintext, &nonce, &shared)
	return base58.Encode(nonce[:]), base58.Encode(sealed), nil
}

func open(nonceB58, dataB58 string, shared [keyLength]byte, v any) error {
	rawNonce, err := base58.Decode(nonceB58)
	if err != nil || len(rawNonce) != nonceLength {
		return tserr.Wrap(tserr.ErrWalletRejected, "invalid callback nonce")
	}
	data, err := base58.Decode(dataB58)
	if err != nil {
		return tserr.Wrap(tserr.ErrWalletRejected, "invalid callback data")
	}
	var nonce [nonceLength]byte
	copy(nonce[:], rawNonce)
	plaintext, ok := box.OpenAfterPrecomputation(nil, data, &nonce, &shared)
	if !ok {
		return tserr.Wrap(tserr.ErrWalletRejected, "callback data failed to decrypt")
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return tserr.WithCause(tserr.ErrWalletRejected, err)
	}
	return nil
}

// callbackError converts a wallet error redirect into a Tessera error.
// It returns nil when the callback carries no error.
func callbackError(q url.Values) error {
	code := q.Get(paramErrorCode)
	if code == "" {
		return nil
	}
	details := map[string]string{"code": code}
	if msg := q.Get(paramErrorMessage); msg != "" {
		details["wallet_message"] = msg
	}
	switch code {
	case codeUserRejected:
		return tserr.WithDetails(tserr.ErrUserCancelled, details)
	case codeDisconnected, codeUnauthorized:
		return tserr.WithDetails(tserr.ErrSessionTerminated, details)
	default:
		return tserr.WithDetails(tserr.ErrWalletRejected, details)
	}
}

// walletKeyParam finds the wallet's encryption key, which each wallet names
// after itself (phantom_encryption_public_key, solflare_encryption_public_key).
func walletKeyParam(q url.Values) string {
	for k, v := range q {
		if k != paramDappKey && strings.HasSuffix(k, walletKeySuffix) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func buildURL(base, path string, q url.Values) string {
	return strings.TrimRight(base, "/") + path + "?" + q.Encode()
}

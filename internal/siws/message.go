// Package siws builds, parses, and verifies Sign-In With Solana messages.
package siws

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Version is the only message version emitted and accepted.
const Version = "1"

// SignatureLength is the size of an ed25519 signature.
const SignatureLength = 64

// NonceLength is the number of random bytes behind a nonce.
const NonceLength = 16

const headerSuffix = " wants you to sign in with your Solana account:"

// Parsing and verification errors.
var (
	ErrMalformedMessage = errors.New("malformed sign-in message")
	ErrInvalidAddress   = errors.New("invalid wallet address")
	ErrInvalidSignature = errors.New("signature does not match message")
	ErrMessageExpired   = errors.New("sign-in message expired")
)

// Message is a structured sign-in request.
type Message struct {
	Domain         string
	Address        string
	Statement      string
	URI            string
	Version        string
	ChainID        string
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime time.Time
}

// NewNonce returns a fresh base58 nonce.
func NewNonce() (string, error) {
	b := make([]byte, NonceLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return base58.Encode(b), nil
}

// String renders the message in its canonical text form. The wallet signs
// exactly these bytes.
func (m *Message) String() string {
	var b strings.Builder
	b.WriteString(m.Domain)
	b.WriteString(headerSuffix)
	b.WriteString("\n")
	b.WriteString(m.Address)
	b.WriteString("\n")
	if m.Statement != "" {
		b.WriteString("\n")
		b.WriteString(m.Statement)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	version := m.Version
	if version == "" {
		version = Version
	}
	fmt.Fprintf(&b, "URI: %s\n", m.URI)
	fmt.Fprintf(&b, "Version: %s\n", version)
	fmt.Fprintf(&b, "Chain ID: %s\n", m.ChainID)
	fmt.Fprintf(&b, "Nonce: %s\n", m.Nonce)
	fmt.Fprintf(&b, "Issued At: %s", m.IssuedAt.UTC().Format(time.RFC3339))
	if !m.ExpirationTime.IsZero() {
		fmt.Fprintf(&b, "\nExpiration Time: %s", m.ExpirationTime.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// Build validates the fields, fills in the version, and returns the canonical text.
func Build(m *Message) (string, error) {
	if m.Domain == "" || m.URI == "" || m.Nonce == "" || m.ChainID == "" {
		return "", fmt.Errorf("%w: domain, uri, chain id and nonce are required", ErrMalformedMessage)
	}
	if _, err := solana.PublicKeyFromBase58(m.Address); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if m.IssuedAt.IsZero() {
		m.IssuedAt = time.Now()
	}
	m.Version = Version
	return m.String(), nil
}

// Parse reads the canonical text form back into a Message.
//
//nolint:gocognit,gocyclo // line-oriented grammar
func Parse(text string) (*Message, error) {
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return nil, ErrMalformedMessage
	}

	domain, ok := strings.CutSuffix(lines[0], headerSuffix)
	if !ok || domain == "" {
		return nil, fmt.Errorf("%w: missing header", ErrMalformedMessage)
	}

	m := &Message{Domain: domain, Address: lines[1]}
	if _, err := solana.PublicKeyFromBase58(m.Address); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	rest := lines[2:]
	if len(rest) == 0 || rest[0] != "" {
		return nil, fmt.Errorf("%w: expected blank line after address", ErrMalformedMessage)
	}
	rest = rest[1:]

	// Optional statement followed by a blank line.
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "URI: ") {
		if len(rest) < 2 || rest[1] != "" {
			return nil, fmt.Errorf("%w: expected blank line after statement", ErrMalformedMessage)
		}
		m.Statement = rest[0]
		rest = rest[2:]
	}

	for _, line := range rest {
		key, value, found := strings.Cut(line, ": ")
		if !found {
			return nil, fmt.Errorf("%w: bad field %q", ErrMalformedMessage, line)
		}
		switch key {
		case "URI":
			m.URI = value
		case "Version":
			m.Version = value
		case "Chain ID":
			m.ChainID = value
		case "Nonce":
			m.Nonce = value
		case "Issued At":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, fmt.Errorf("%w: issued at: %w", ErrMalformedMessage, err)
			}
			m.IssuedAt = t
		case "Expiration Time":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, fmt.Errorf("%w: expiration time: %w", ErrMalformedMessage, err)
			}
			m.ExpirationTime = t
		default:
			return nil, fmt.Errorf("%w: unknown field %q", ErrMalformedMessage, key)
		}
	}

	if m.URI == "" || m.Nonce == "" || m.Version != Version {
		return nil, fmt.Errorf("%w: missing required fields", ErrMalformedMessage)
	}
	return m, nil
}

// Verify checks that signature is the address's ed25519 signature over the
// exact message bytes and that the message has not expired at now.
func Verify(text string, signature []byte, now time.Time) (*Message, error) {
	m, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if err := VerifySignature(m.Address, []byte(text), signature); err != nil {
		return nil, err
	}
	if !m.ExpirationTime.IsZero() && !now.Before(m.ExpirationTime) {
		return nil, ErrMessageExpired
	}
	return m, nil
}

// VerifySignature checks an ed25519 signature by address over payload.
func VerifySignature(address string, payload, signature []byte) error {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if len(signature) != SignatureLength {
		return fmt.Errorf("%w: signature must be %d bytes", ErrInvalidSignature, SignatureLength)
	}
	if !solana.SignatureFromBytes(signature).Verify(pub, payload) {
		return ErrInvalidSignature
	}
	return nil
}

// DecodeSignature accepts a base58 signature string.
func DecodeSignature(s string) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil || len(b) != SignatureLength {
		return nil, ErrInvalidSignature
	}
	return b, nil
}

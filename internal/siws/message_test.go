package siws_test

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/tessera/internal/siws"
)

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func sampleMessage(t *testing.T, address string) *siws.Message {
	t.Helper()
	nonce, err := siws.NewNonce()
	require.NoError(t, err)
	return &siws.Message{
		Domain:    "tessera.app",
		Address:   address,
		Statement: "Sign in to Tessera",
		URI:       "https://tessera.app",
		ChainID:   "solana:mainnet",
		Nonce:     nonce,
		IssuedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuild_Format(t *testing.T) {
	t.Parallel()
	key := newKey(t)
	m := sampleMessage(t, key.PublicKey().String())

	text, err := siws.Build(m)
	require.NoError(t, err)

	want := "tessera.app wants you to sign in with your Solana account:\n" +
		key.PublicKey().String() + "\n\n" +
		"Sign in to Tessera\n\n" +
		"URI: https://tessera.app\n" +
		"Version: 1\n" +
		"Chain ID: solana:mainnet\n" +
		"Nonce: " + m.Nonce + "\n" +
		"Issued At: 2026-03-01T12:00:00Z"
	assert.Equal(t, want, text)
}

func TestBuild_Validation(t *testing.T) {
	t.Parallel()
	key := newKey(t)

	tests := []struct {
		name    string
		mutate  func(*siws.Message)
		wantErr error
	}{
		{"missing domain", func(m *siws.Message) { m.Domain = "" }, siws.ErrMalformedMessage},
		{"missing nonce", func(m *siws.Message) { m.Nonce = "" }, siws.ErrMalformedMessage},
		{"bad address", func(m *siws.Message) { m.Address = "not-base58!" }, siws.ErrInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := sampleMessage(t, key.PublicKey().String())
			tt.mutate(m)
			_, err := siws.Build(m)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	t.Parallel()
	key := newKey(t)

	tests := []struct {
		name   string
		mutate func(*siws.Message)
	}{
		{"with statement", func(*siws.Message) {}},
		{"without statement", func(m *siws.Message) { m.Statement = "" }},
		{"with expiration", func(m *siws.Message) { m.ExpirationTime = m.IssuedAt.Add(10 * time.Minute) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := sampleMessage(t, key.PublicKey().String())
			tt.mutate(m)
			text, err := siws.Build(m)
			require.NoError(t, err)

			parsed, err := siws.Parse(text)
			require.NoError(t, err)
			assert.Equal(t, m.Domain, parsed.Domain)
			assert.Equal(t, m.Address, parsed.Address)
			assert.Equal(t, m.Statement, parsed.Statement)
			assert.Equal(t, m.Nonce, parsed.Nonce)
			assert.True(t, m.IssuedAt.Equal(parsed.IssuedAt))
			assert.True(t, m.ExpirationTime.Equal(parsed.ExpirationTime))
			assert.Equal(t, text, parsed.String())
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"",
		"hello",
		"tessera.app wants you to sign in with your Ethereum account:\nabc\n\nURI: x",
		"tessera.app wants you to sign in with your Solana account:\n11111111111111111111111111111111\nURI: x",
		"tessera.app wants you to sign in with your Solana account:\n11111111111111111111111111111111\n\nURI: x\nVersion: 2\nNonce: n",
		"tessera.app wants you to sign in with your Solana account:\n11111111111111111111111111111111\n\nURI: x\nVersion: 1\nNonce: n\nColor: blue",
	}
	for _, in := range inputs {
		_, err := siws.Parse(in)
		require.Error(t, err, in)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()
	key := newKey(t)
	other := newKey(t)
	now := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)

	m := sampleMessage(t, key.PublicKey().String())
	m.ExpirationTime = m.IssuedAt.Add(10 * time.Minute)
	text, err := siws.Build(m)
	require.NoError(t, err)

	sig, err := key.Sign([]byte(text))
	require.NoError(t, err)
	wrongSig, err := other.Sign([]byte(text))
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		parsed, err := siws.Verify(text, sig[:], now)
		require.NoError(t, err)
		assert.Equal(t, m.Nonce, parsed.Nonce)
	})

	t.Run("signed by another key", func(t *testing.T) {
		t.Parallel()
		_, err := siws.Verify(text, wrongSig[:], now)
		require.ErrorIs(t, err, siws.ErrInvalidSignature)
	})

	t.Run("different message same signature", func(t *testing.T) {
		t.Parallel()
		m2 := sampleMessage(t, key.PublicKey().String())
		text2, err := siws.Build(m2)
		require.NoError(t, err)
		_, err = siws.Verify(text2, sig[:], now)
		require.ErrorIs(t, err, siws.ErrInvalidSignature)
	})

	t.Run("expired", func(t *testing.T) {
		t.Parallel()
		_, err := siws.Verify(text, sig[:], now.Add(time.Hour))
		require.ErrorIs(t, err, siws.ErrMessageExpired)
	})

	t.Run("short signature", func(t *testing.T) {
		t.Parallel()
		_, err := siws.Verify(text, sig[:10], now)
		require.ErrorIs(t, err, siws.ErrInvalidSignature)
	})
}

func TestNewNonce_Unique(t *testing.T) {
	t.Parallel()
	seen := make(map[string]bool)
	for range 50 {
		n, err := siws.NewNonce()
		require.NoError(t, err)
		assert.False(t, seen[n])
		seen[n] = true
	}
}

func TestDecodeSignature(t *testing.T) {
	t.Parallel()
	key := newKey(t)
	sig, err := key.Sign([]byte("x"))
	require.NoError(t, err)

	decoded, err := siws.DecodeSignature(sig.String())
	require.NoError(t, err)
	assert.Equal(t, sig[:], decoded)

	_, err = siws.DecodeSignature("abc")
	require.ErrorIs(t, err, siws.ErrInvalidSignature)
}

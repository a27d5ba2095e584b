// Package credentials persists the bearer access token, per-wallet
// authorization tokens, and the fallback identity address in an
// age-encrypted file. Reads are served from an in-memory cache and never
// block; writes go through a single writer goroutine.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"filippo.io/age"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mrz1836/tessera/internal/fileutil"
)

// FileName is the credential file name inside the tessera home directory.
const FileName = "credentials.age"

// ErrStoreClosed is returned by writes after Close.
var ErrStoreClosed = errors.New("credential store closed")

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// data is the persisted credential set.
type data struct {
	AccessToken     string            `json:"access_token,omitempty"`
	WalletTokens    map[string]string `json:"wallet_tokens,omitempty"`
	FallbackAddress string            `json:"fallback_address,omitempty"`
}

func (d *data) empty() bool {
	return d.AccessToken == "" && len(d.WalletTokens) == 0 && d.FallbackAddress == ""
}

// Store is the encrypted credential store.
type Store struct {
	path     string
	identity *age.X25519Identity
	logger   LogWriter

	mu    sync.RWMutex
	cache data

	writes    chan chan error
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l LogWriter) Option {
	return func(s *Store) { s.logger = l }
}

// Open loads the credential store under home, creating the encryption
// identity on first use. kr may be nil, in which case a local identity file is used.
func Open(home string, kr Keyring, opts ...Option) (*Store, error) {
	id, err := loadIdentity(home, kr)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:     filepath.Join(home, FileName),
		identity: id,
		logger:   nopLogger{},
		writes:   make(chan chan error),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	go s.writer()
	return s, nil
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading credentials: %w", err)
	}

	plaintext, err := decrypt(raw, s.identity)
	if err != nil {
		// An unreadable file means the identity changed; start clean rather than lock the user out.
		s.logger.Error("credentials unreadable, starting with an empty store: %v", err)
		return nil
	}

	if err := json.Unmarshal(plaintext, &s.cache); err != nil {
		s.logger.Error("credentials corrupt, starting with an empty store: %v", err)
		s.cache = data{}
	}
	return nil
}

// AccessToken returns the cached bearer token, or "" when signed out.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.AccessToken
}

// WalletToken returns the cached wallet authorization token for address.
func (s *Store) WalletToken(address string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.WalletTokens[address]
}

// FallbackAddress returns the external wallet address used as identity by
// users without an embedded wallet.
func (s *Store) FallbackAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.FallbackAddress
}

// AccessTokenExpiry returns the exp claim of the cached token. The token is
// not verified; the server remains the authority on validity.
func (s *Store) AccessTokenExpiry() (time.Time, bool) {
	token := s.AccessToken()
	if token == "" {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// AccessTokenExpired reports whether the cached token expires within skew of now.
// Tokens without a readable expiry are treated as not expired.
func (s *Store) AccessTokenExpired(now time.Time, skew time.Duration) bool {
	exp, ok := s.AccessTokenExpiry()
	if !ok {
		return false
	}
	return !now.Add(skew).Before(exp)
}

// SetAccessToken caches token and returns once it is persisted.
func (s *Store) SetAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	s.cache.AccessToken = token
	s.mu.Unlock()
	return s.persist(ctx)
}

// SetWalletToken caches the wallet authorization token for address. An empty token removes it.
func (s *Store) SetWalletToken(ctx context.Context, address, token string) error {
	s.mu.Lock()
	if token == "" {
		delete(s.cache.WalletTokens, address)
	} else {
		if s.cache.WalletTokens == nil {
			s.cache.WalletTokens = make(map[string]string)
		}
		s.cache.WalletTokens[address] = token
	}
	s.mu.Unlock()
	return s.persist(ctx)
}

// SetFallbackAddress caches the fallback identity address.
func (s *Store) SetFallbackAddress(ctx context.Context, address string) error {
	s.mu.Lock()
	s.cache.FallbackAddress = address
	s.mu.Unlock()
	return s.persist(ctx)
}

// Clear wipes every credential and removes the file.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cache = data{}
	s.mu.Unlock()
	return s.persist(ctx)
}

// Close stops the writer. Cached reads keep working; writes fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	<-s.stopped
	return nil
}

// persist asks the writer to flush the current cache and waits for the result.
func (s *Store) persist(ctx context.Context) error {
	result := make(chan error, 1)
	select {
	case s.writes <- result:
	case <-s.done:
		return ErrStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writer serializes file writes. Each flush writes the latest cache, so
// concurrent setters never persist an older state over a newer one.
func (s *Store) writer() {
	defer close(s.stopped)
	for {
		select {
		case result := <-s.writes:
			result <- s.flush()
		case <-s.done:
			return
		}
	}
}

func (s *Store) flush() error {
	s.mu.RLock()
	snapshot := data{
		AccessToken:     s.cache.AccessToken,
		WalletTokens:    maps.Clone(s.cache.WalletTokens),
		FallbackAddress: s.cache.FallbackAddress,
	}
	s.mu.RUnlock()

	if snapshot.empty() {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing credentials: %w", err)
		}
		return nil
	}

	plaintext, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	ciphertext, err := encrypt(plaintext, s.identity)
	if err != nil {
		return err
	}

	if err := fileutil.WriteAtomic(s.path, ciphertext, 0o600); err != nil {
		s.logger.Error("persisting credentials: %v", err)
		return err
	}
	return nil
}

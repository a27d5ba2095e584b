// Package embedded manages the custodial embedded wallet session: login,
// session restoration, SIWS challenges, and embedded wallet signing.
package embedded

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"github.com/mrz1836/tessera/internal/metrics"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// Default initialization polling parameters.
const (
	DefaultInitTimeout    = 10 * time.Second
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 500 * time.Millisecond
	backoffFactor         = 1.5
)

// Auth flow method names used in metrics.
const (
	MethodOAuth = "oauth"
	MethodEmail = "email"
	MethodSMS   = "sms"
	MethodSIWS  = "siws"
)

type loginMeta struct {
	siws             bool
	walletClientType string
}

// Manager owns the embedded wallet session.
type Manager struct {
	provider Provider
	tokens   TokenStore
	logger   LogWriter
	metrics  *metrics.Metrics

	domain         string
	uri            string
	initTimeout    time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration

	initMu      sync.Mutex
	initialized bool

	hub      *stateHub
	walletMu sync.Mutex
	siws     siwsCell

	userMu sync.RWMutex
	user   *User
	meta   loginMeta
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l LogWriter) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithAppIdentity sets the domain and URI placed in SIWS challenges.
func WithAppIdentity(domain, uri string) Option {
	return func(m *Manager) {
		m.domain = domain
		m.uri = uri
	}
}

// WithInitPolling overrides how Initialize waits for the provider.
func WithInitPolling(timeout, initialBackoff, maxBackoff time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.initTimeout = timeout
		}
		if initialBackoff > 0 {
			m.initialBackoff = initialBackoff
		}
		if maxBackoff > 0 {
			m.maxBackoff = maxBackoff
		}
	}
}

// NewManager creates an embedded wallet manager.
func NewManager(provider Provider, tokens TokenStore, opts ...Option) *Manager {
	m := &Manager{
		provider:       provider,
		tokens:         tokens,
		logger:         nopLogger{},
		metrics:        metrics.Global,
		initTimeout:    DefaultInitTimeout,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		hub:            newStateHub(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current auth state.
func (m *Manager) State() AuthState {
	return m.hub.get()
}

// Subscribe returns a channel that receives the current state and every
// later change. Call cancel to stop receiving.
func (m *Manager) Subscribe() (states <-chan AuthState, cancel func()) {
	return m.hub.subscribe()
}

// CurrentUser returns the cached user snapshot, or nil.
func (m *Manager) CurrentUser() *User {
	m.userMu.RLock()
	defer m.userMu.RUnlock()
	return m.user.Clone()
}

// Initialize starts the provider and restores any existing session. It is
// safe to call repeatedly; only the first successful call does any work.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.initialized {
		return nil
	}

	m.hub.set(AuthState{Kind: StateLoading})
	if err := m.provider.Start(ctx); err != nil {
		m.hub.set(AuthState{Kind: StateError, Message: err.Error()})
		return tserr.WithCause(tserr.ErrProviderNotReady, err)
	}
	m.initialized = true

	status, err := m.awaitProvider(ctx)
	if err != nil {
		m.hub.set(AuthState{Kind: StateUnauthenticated})
		return err
	}

	if status != ProviderAuthenticated {
		m.logger.Debug("embedded: no session to restore (status %d)", status)
		m.hub.set(AuthState{Kind: StateUnauthenticated})
		return nil
	}

	user, err := m.provider.CurrentUser(ctx)
	if err != nil {
		m.logger.Error("embedded: restoring session: %v", err)
		m.hub.set(AuthState{Kind: StateUnauthenticated})
		return nil
	}

	m.persistToken(ctx)
	m.setUser(user)
	m.hub.set(AuthState{Kind: StateAuthenticated, User: user.Clone()})
	return nil
}

// awaitProvider polls Status until it leaves NotReady or the init timeout
// passes. A provider that never becomes ready reads as unauthenticated.
func (m *Manager) awaitProvider(ctx context.Context) (ProviderStatus, error) {
	deadline := time.Now().Add(m.initTimeout)
	backoff := m.initialBackoff

	for {
		status, err := m.provider.Status(ctx)
		if err == nil && status != ProviderNotReady {
			return status, nil
		}
		if err != nil {
			m.logger.Debug("embedded: status poll failed: %v", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.logger.Debug("embedded: provider not ready after %s, continuing unauthenticated", m.initTimeout)
			return ProviderNotReady, nil
		}

		wait := min(backoff, remaining)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ProviderNotReady, ctx.Err()
		case <-timer.C:
		}

		backoff = min(time.Duration(float64(backoff)*backoffFactor), m.maxBackoff)
	}
}

// LoginWithOAuth signs in with an OAuth provider.
func (m *Manager) LoginWithOAuth(ctx context.Context, provider string) (*User, error) {
	return m.login(ctx, MethodOAuth, loginMeta{}, func(ctx context.Context) (*User, error) {
		return m.provider.LoginWithOAuth(ctx, provider)
	})
}

// SendEmailCode requests a one-time code for email.
func (m *Manager) SendEmailCode(ctx context.Context, email string) error {
	return m.sendCode(ctx, func(ctx context.Context) error {
		return m.provider.SendEmailCode(ctx, email)
	})
}

// VerifyEmailCode completes an email login.
func (m *Manager) VerifyEmailCode(ctx context.Context, email, code string) (*User, error) {
	return m.login(ctx, MethodEmail, loginMeta{}, func(ctx context.Context) (*User, error) {
		return m.provider.VerifyEmailCode(ctx, email, code)
	})
}

// SendSmsCode requests a one-time code for phone.
func (m *Manager) SendSmsCode(ctx context.Context, phone string) error {
	return m.sendCode(ctx, func(ctx context.Context) error {
		return m.provider.SendSmsCode(ctx, phone)
	})
}

// VerifySmsCode completes an SMS login.
func (m *Manager) VerifySmsCode(ctx context.Context, phone, code string) (*User, error) {
	return m.login(ctx, MethodSMS, loginMeta{}, func(ctx context.Context) (*User, error) {
		return m.provider.VerifySmsCode(ctx, phone, code)
	})
}

func (m *Manager) sendCode(ctx context.Context, send func(context.Context) error) error {
	prev := m.hub.get()
	m.hub.set(AuthState{Kind: StateLoading})
	if err := send(ctx); err != nil {
		return m.fail(err)
	}
	m.hub.set(prev)
	return nil
}

// login runs a provider login and completes it: the access token is
// fetched and persisted before the state flips to Authenticated.
func (m *Manager) login(ctx context.Context, method string, meta loginMeta, do func(context.Context) (*User, error)) (*User, error) {
	m.hub.set(AuthState{Kind: StateLoading})

	user, err := do(ctx)
	if err == nil && user == nil {
		err = tserr.ErrNotAuthenticated
	}
	if err != nil {
		err = m.fail(err)
		m.metrics.RecordAuthFlow(method, err)
		return nil, err
	}

	m.persistToken(ctx)
	m.setUser(user)
	m.userMu.Lock()
	m.meta = meta
	m.userMu.Unlock()

	m.hub.set(AuthState{Kind: StateAuthenticated, User: user.Clone()})
	m.metrics.RecordAuthFlow(method, nil)
	return user.Clone(), nil
}

// fail maps err to a typed error and moves the state to Error, or back to
// Unauthenticated for cancellations.
func (m *Manager) fail(err error) error {
	err = providerError(err)
	if tserr.IsCancelled(err) || errors.Is(err, context.Canceled) {
		m.hub.set(AuthState{Kind: StateUnauthenticated})
		return err
	}
	m.hub.set(AuthState{Kind: StateError, Message: err.Error()})
	return err
}

// persistToken caches a fresh access token. A missing token leaves the
// session usable but unable to reach the backend.
func (m *Manager) persistToken(ctx context.Context) {
	token, err := m.provider.AccessToken(ctx)
	if err != nil || token == "" {
		m.critical("embedded: login completed without an access token: %v", err)
		return
	}
	if err := m.tokens.SetAccessToken(ctx, token); err != nil {
		m.logger.Error("embedded: persisting access token: %v", err)
	}
}

func (m *Manager) critical(format string, args ...any) {
	if cl, ok := m.logger.(criticalLogger); ok {
		cl.Critical(format, args...)
		return
	}
	m.logger.Error(format, args...)
}

func (m *Manager) setUser(u *User) {
	m.userMu.Lock()
	defer m.userMu.Unlock()
	m.user = u.Clone()
}

// liveUser reads the provider session and refreshes the cached snapshot.
func (m *Manager) liveUser(ctx context.Context) (*User, error) {
	user, err := m.provider.CurrentUser(ctx)
	if err != nil {
		return nil, providerError(err)
	}
	if user == nil {
		return nil, tserr.ErrNotAuthenticated
	}
	m.setUser(user)
	return user, nil
}

// GetOrCreateEmbeddedWallet returns the user's embedded wallet, creating
// one if needed. Concurrent callers serialize so at most one creation is
// ever in flight.
func (m *Manager) GetOrCreateEmbeddedWallet(ctx context.Context) (Wallet, error) {
	m.walletMu.Lock()
	defer m.walletMu.Unlock()

	// Always the live session: a SIWS login snapshot may predate a wallet
	// created in an earlier session.
	user, err := m.liveUser(ctx)
	if err != nil {
		return Wallet{}, err
	}
	if w, ok := user.PrimaryWallet(); ok {
		return w, nil
	}

	created, createErr := m.provider.CreateEmbeddedWallet(ctx)
	if createErr == nil && created != nil {
		m.logger.Debug("embedded: created wallet %s", created.Address)
		if _, err := m.liveUser(ctx); err != nil {
			m.logger.Debug("embedded: refreshing user after create: %v", err)
		}
		return *created, nil
	}

	// The wallet may already exist from a racing session.
	if user, err := m.liveUser(ctx); err == nil {
		if w, ok := user.PrimaryWallet(); ok {
			return w, nil
		}
	}
	if createErr == nil {
		createErr = tserr.ErrNoEmbeddedWallet
	}
	return Wallet{}, providerError(createErr)
}

// ResolveWallet returns the current embedded wallet, preferring the live
// session and falling back to the cached snapshot only when the live read
// fails transiently.
func (m *Manager) ResolveWallet(ctx context.Context) (Wallet, error) {
	user, err := m.liveUser(ctx)
	switch {
	case err == nil:
		if w, ok := user.PrimaryWallet(); ok {
			return w, nil
		}
		return Wallet{}, tserr.ErrNoEmbeddedWallet
	case errors.Is(err, tserr.ErrNotAuthenticated):
		return Wallet{}, err
	}

	m.logger.Debug("embedded: live session read failed, using cached user: %v", err)
	if w, ok := m.CurrentUser().PrimaryWallet(); ok {
		return w, nil
	}
	return Wallet{}, tserr.ErrNoEmbeddedWallet
}

// SignTransaction signs a base64 transaction with the embedded wallet and
// returns the signed base64 transaction.
func (m *Manager) SignTransaction(ctx context.Context, txBase64 string) (string, error) {
	w, err := m.ResolveWallet(ctx)
	if err != nil {
		m.metrics.RecordSignOp("embedded", err)
		return "", err
	}
	signed, err := m.provider.SignTransaction(ctx, w.Address, txBase64)
	if err != nil {
		err = providerError(err)
	}
	m.metrics.RecordSignOp("embedded", err)
	return signed, err
}

// SignMessage signs message with the embedded wallet and returns the base58 signature.
func (m *Manager) SignMessage(ctx context.Context, message string) (string, error) {
	w, err := m.ResolveWallet(ctx)
	if err != nil {
		m.metrics.RecordSignOp("embedded", err)
		return "", err
	}
	sig, err := m.provider.SignMessage(ctx, w.Address, []byte(message))
	if err != nil {
		err = providerError(err)
		m.metrics.RecordSignOp("embedded", err)
		return "", err
	}
	m.metrics.RecordSignOp("embedded", nil)
	return base58.Encode(sig), nil
}

// WalletAddress returns the user's identity address: the embedded wallet
// when present, otherwise the fallback address recorded at SIWS login.
func (m *Manager) WalletAddress() string {
	if w, ok := m.CurrentUser().PrimaryWallet(); ok {
		return w.Address
	}
	return m.tokens.FallbackAddress()
}

// AuthInitInfo derives the backend registration payload for the current session.
func (m *Manager) AuthInitInfo() (AuthInitInfo, error) {
	user := m.CurrentUser()
	if user == nil || !m.State().IsAuthenticated() {
		return AuthInitInfo{}, tserr.ErrNotAuthenticated
	}

	address := m.WalletAddress()
	if address == "" {
		return AuthInitInfo{}, tserr.ErrNoEmbeddedWallet
	}

	m.userMu.RLock()
	meta := m.meta
	m.userMu.RUnlock()

	return AuthInitInfo{
		WalletAddress:    address,
		Email:            user.Email,
		IsSiwsLogin:      meta.siws,
		WalletClientType: meta.walletClientType,
	}, nil
}

// RefreshAccessToken fetches and persists a new access token. A provider
// that reports no session moves the state to Unauthenticated.
func (m *Manager) RefreshAccessToken(ctx context.Context) (string, error) {
	token, err := m.provider.RefreshAccessToken(ctx)
	if err == nil && token == "" {
		err = tserr.ErrNotAuthenticated
	}
	if err != nil {
		err = providerError(err)
		if errors.Is(err, tserr.ErrNotAuthenticated) {
			m.hub.set(AuthState{Kind: StateUnauthenticated})
		}
		return "", err
	}

	if err := m.tokens.SetAccessToken(ctx, token); err != nil {
		m.logger.Error("embedded: persisting refreshed token: %v", err)
	}
	return token, nil
}

// Logout ends the provider session and wipes local credentials.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.provider.Logout(ctx); err != nil {
		m.logger.Error("embedded: provider logout: %v", err)
	}
	m.siws.clear()
	m.userMu.Lock()
	m.user = nil
	m.meta = loginMeta{}
	m.userMu.Unlock()

	err := m.tokens.Clear(ctx)
	m.hub.set(AuthState{Kind: StateUnauthenticated})
	return err
}

// providerError passes typed and context errors through and wraps
// anything else from the provider as an authentication failure.
func providerError(err error) error {
	if err == nil {
		return nil
	}
	var te *tserr.TesseraError
	if errors.As(err, &te) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return tserr.WithCause(tserr.ErrAuthentication, err)
}

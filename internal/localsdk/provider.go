// Package localsdk is a self-hosted custodial wallet provider. It keeps
// users, linked accounts, and embedded wallet mnemonics in an age-encrypted
// file and implements the embedded.Provider contract for development, tests,
// and the CLI.
package localsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrz1836/tessera/internal/embedded"
	"github.com/mrz1836/tessera/internal/fileutil"
	"github.com/mrz1836/tessera/internal/vault"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// Defaults.
const (
	DefaultTokenTTL   = time.Hour
	DefaultOTPTTL     = 10 * time.Minute
	DefaultWorkFactor = vault.DefaultWorkFactor
	defaultChainID    = "solana:mainnet"
)

// ErrSecretRequired is returned when no store secret is configured.
var ErrSecretRequired = errors.New("provider store secret required")

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Launcher opens URIs in the system browser.
type Launcher interface {
	Open(ctx context.Context, uri, targetPackage string) error
}

type record struct {
	User embedded.User `json:"user"`
	// Mnemonics maps embedded wallet address to its BIP39 mnemonic.
	Mnemonics map[string]string `json:"mnemonics,omitempty"`
}

type storeData struct {
	Users         map[string]*record `json:"users"`
	SessionUserID string             `json:"session_user_id,omitempty"`
}

var _ embedded.Provider = (*Provider)(nil)

// Provider is the local custodial provider.
type Provider struct {
	path       string
	secret     string
	workFactor int
	tokenTTL   time.Duration
	otpTTL     time.Duration
	statement  string
	chainID    string
	sender     CodeSender
	launcher   Launcher
	oauth      map[string]*OAuthClient
	listenAddr string
	logger     LogWriter
	now        func() time.Time

	mu         sync.Mutex
	started    bool
	data       storeData
	otps       map[string]*otpEntry
	challenges map[string]string
	token      string
	tokenExp   time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithTokenTTL sets the access token lifetime.
func WithTokenTTL(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.tokenTTL = d
		}
	}
}

// WithOTPTTL sets the one-time code lifetime.
func WithOTPTTL(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.otpTTL = d
		}
	}
}

// WithCodeSender sets how one-time codes are delivered.
func WithCodeSender(s CodeSender) Option {
	return func(p *Provider) { p.sender = s }
}

// WithLauncher sets the browser launcher used by OAuth.
func WithLauncher(l Launcher) Option {
	return func(p *Provider) { p.launcher = l }
}

// WithOAuthClient registers an OAuth client under its name.
func WithOAuthClient(c *OAuthClient) Option {
	return func(p *Provider) { p.oauth[c.Name] = c }
}

// WithRedirectPort sets the loopback port for OAuth redirects. Zero picks a free port.
func WithRedirectPort(port int) Option {
	return func(p *Provider) { p.listenAddr = fmt.Sprintf("127.0.0.1:%d", port) }
}

// WithStatement sets the SIWS statement line.
func WithStatement(s string) Option {
	return func(p *Provider) { p.statement = s }
}

// WithChainID sets the SIWS chain id.
func WithChainID(id string) Option {
	return func(p *Provider) {
		if id != "" {
			p.chainID = id
		}
	}
}

// WithWorkFactor sets the scrypt work factor protecting the store.
func WithWorkFactor(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.workFactor = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l LogWriter) Option {
	return func(p *Provider) { p.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New creates a provider backed by the store at path, encrypted with secret.
func New(path, secret string, opts ...Option) (*Provider, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}
	p := &Provider{
		path:       path,
		secret:     secret,
		workFactor: DefaultWorkFactor,
		tokenTTL:   DefaultTokenTTL,
		otpTTL:     DefaultOTPTTL,
		chainID:    defaultChainID,
		oauth:      make(map[string]*OAuthClient),
		listenAddr: "127.0.0.1:0",
		logger:     nopLogger{},
		now:        time.Now,
		otps:       make(map[string]*otpEntry),
		challenges: make(map[string]string),
		data:       storeData{Users: make(map[string]*record)},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sender == nil {
		p.sender = LogSender{Logger: p.logger}
	}
	return p, nil
}

// Start loads the store.
func (p *Provider) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	if err := p.load(); err != nil {
		return err
	}
	p.started = true
	return nil
}

// Status reports whether a session exists.
func (p *Provider) Status(_ context.Context) (embedded.ProviderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case !p.started:
		return embedded.ProviderNotReady, nil
	case p.sessionLocked() != nil:
		return embedded.ProviderAuthenticated, nil
	default:
		return embedded.ProviderUnauthenticated, nil
	}
}

// CurrentUser returns the live session user.
func (p *Provider) CurrentUser(_ context.Context) (*embedded.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.sessionLocked()
	if rec == nil {
		return nil, tserr.ErrNotAuthenticated
	}
	return rec.User.Clone(), nil
}

// Logout ends the session.
func (p *Provider) Logout(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data.SessionUserID = ""
	p.token = ""
	p.tokenExp = time.Time{}
	p.challenges = make(map[string]string)
	return p.saveLocked()
}

func (p *Provider) sessionLocked() *record {
	if p.data.SessionUserID == "" {
		return nil
	}
	return p.data.Users[p.data.SessionUserID]
}

// findLocked returns the user owning a linked account that matches.
func (p *Provider) findLocked(match func(embedded.LinkedAccount) bool) *record {
	for _, rec := range p.data.Users {
		for _, a := range rec.User.LinkedAccounts {
			if match(a) {
				return rec
			}
		}
	}
	return nil
}

// signInLocked finds or creates the user owning account and starts a session.
func (p *Provider) signInLocked(account embedded.LinkedAccount, match func(embedded.LinkedAccount) bool) (*embedded.User, error) {
	rec := p.findLocked(match)
	if rec == nil {
		rec = &record{User: embedded.User{
			ID:             uuid.NewString(),
			LinkedAccounts: []embedded.LinkedAccount{account},
		}}
		p.data.Users[rec.User.ID] = rec
		p.logger.Debug("localsdk: created user %s via %s", rec.User.ID, account.Type)
	}
	switch account.Type {
	case embedded.AccountEmail:
		rec.User.Email = account.Subject
	case embedded.AccountPhone:
		rec.User.Phone = account.Subject
	}

	p.data.SessionUserID = rec.User.ID
	p.token = ""
	if err := p.saveLocked(); err != nil {
		return nil, err
	}
	return rec.User.Clone(), nil
}

// linkLocked attaches account to the session user.
func (p *Provider) linkLocked(account embedded.LinkedAccount, match func(embedded.LinkedAccount) bool) (*embedded.User, error) {
	rec := p.sessionLocked()
	if rec == nil {
		return nil, tserr.ErrNotAuthenticated
	}
	if owner := p.findLocked(match); owner != nil {
		if owner.User.ID == rec.User.ID {
			return rec.User.Clone(), nil
		}
		return nil, tserr.Wrap(tserr.ErrInvalidInput, "account already linked to another user")
	}
	rec.User.LinkedAccounts = append(rec.User.LinkedAccounts, account)
	if err := p.saveLocked(); err != nil {
		return nil, err
	}
	return rec.User.Clone(), nil
}

func (p *Provider) unlinkLocked(match func(embedded.LinkedAccount) bool) (*embedded.User, error) {
	rec := p.sessionLocked()
	if rec == nil {
		return nil, tserr.ErrNotAuthenticated
	}
	kept := make([]embedded.LinkedAccount, 0, len(rec.User.LinkedAccounts))
	for _, a := range rec.User.LinkedAccounts {
		if !match(a) {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(rec.User.LinkedAccounts) {
		return nil, tserr.Wrap(tserr.ErrNotFound, "linked account")
	}
	rec.User.LinkedAccounts = kept
	if err := p.saveLocked(); err != nil {
		return nil, err
	}
	return rec.User.Clone(), nil
}

// LinkOAuth runs the OAuth flow and links the identity to the session user.
func (p *Provider) LinkOAuth(ctx context.Context, provider string) (*embedded.User, error) {
	id, err := p.runOAuth(ctx, provider)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.linkLocked(id.account(provider), id.matcher(provider))
}

// UnlinkOAuth removes an OAuth identity from the session user.
func (p *Provider) UnlinkOAuth(_ context.Context, provider, subject string) (*embedded.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unlinkLocked(func(a embedded.LinkedAccount) bool {
		return a.Type == embedded.AccountOAuth && a.Provider == provider && a.Subject == subject
	})
}

// UnlinkWallet removes a linked external wallet from the session user.
func (p *Provider) UnlinkWallet(_ context.Context, address string) (*embedded.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unlinkLocked(func(a embedded.LinkedAccount) bool {
		return a.Type == embedded.AccountWallet && a.Address == address
	})
}

func (p *Provider) load() error {
	raw, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading provider store: %w", err)
	}

	plaintext, err := vault.Open(raw, p.secret)
	if errors.Is(err, vault.ErrWrongPassphrase) {
		return tserr.WithCause(tserr.ErrAuthentication, fmt.Errorf("decrypting provider store: %w", err))
	}
	if err != nil {
		return fmt.Errorf("opening provider store: %w", err)
	}
	defer vault.Zero(plaintext)

	var data storeData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return fmt.Errorf("decoding provider store: %w", err)
	}
	if data.Users == nil {
		data.Users = make(map[string]*record)
	}
	p.data = data
	return nil
}

func (p *Provider) saveLocked() error {
	plaintext, err := json.Marshal(p.data)
	if err != nil {
		return fmt.Errorf("encoding provider store: %w", err)
	}
	defer vault.Zero(plaintext)

	sealed, err := vault.Seal(plaintext, p.secret, p.workFactor)
	if err != nil {
		return fmt.Errorf("sealing provider store: %w", err)
	}
	return fileutil.WriteAtomic(p.path, sealed, 0o600)
}

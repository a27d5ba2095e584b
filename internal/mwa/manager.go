package mwa

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/mrz1836/tessera/internal/metrics"
	"github.com/mrz1836/tessera/internal/platform"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// State is the progress of the current wallet operation.
type State int

// Operation states.
const (
	StateIdle State = iota
	StateAuthorizing
	StateSigningInSession
	StateMessageProviderFailed
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthorizing:
		return "authorizing"
	case StateSigningInSession:
		return "signing_in_session"
	case StateMessageProviderFailed:
		return "message_provider_failed"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	signBackend = "mwa"
	// DefaultChain is used when no chain is configured.
	DefaultChain = "solana:mainnet"
)

// Manager runs authorize and sign operations against external wallets.
// One operation runs at a time.
type Manager struct {
	connector Connector
	tokens    TokenStore
	probe     platform.Probe
	identity  AppIdentity
	chain     string
	logger    LogWriter
	metrics   *metrics.Metrics

	opMu    sync.Mutex
	stateMu sync.RWMutex
	state   State
	lastErr error
}

// Option configures a Manager.
type Option func(*Manager)

// WithTokenStore keeps auth tokens between sessions.
func WithTokenStore(ts TokenStore) Option {
	return func(m *Manager) { m.tokens = ts }
}

// WithProbe checks that a target wallet is installed before launching it.
func WithProbe(p platform.Probe) Option {
	return func(m *Manager) { m.probe = p }
}

// WithIdentity sets the identity presented to wallets.
func WithIdentity(id AppIdentity) Option {
	return func(m *Manager) { m.identity = id }
}

// WithChain sets the chain requested at authorization, e.g. "solana:devnet".
func WithChain(chain string) Option {
	return func(m *Manager) {
		if chain != "" {
			m.chain = chain
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l LogWriter) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a session manager that opens sessions through connector.
func NewManager(connector Connector, opts ...Option) *Manager {
	m := &Manager{
		connector: connector,
		probe:     platform.StaticProbe(nil),
		chain:     DefaultChain,
		logger:    nopLogger{},
		metrics:   metrics.Global,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the state of the current or last operation.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// LastError returns the error that ended the last failed operation.
func (m *Manager) LastError() error {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.lastErr
}

// AuthorizeAndSignMessage authorizes with the wallet and, inside the same
// session, signs the bytes returned by provider. When provider fails the
// returned error is a *MessageProviderError holding the authorization.
func (m *Manager) AuthorizeAndSignMessage(ctx context.Context, targetPackage string, provider MessageProvider) (AuthResult, []byte, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.setState(StateAuthorizing, nil)
	sess, err := m.open(ctx, Target{Package: targetPackage})
	if err != nil {
		return AuthResult{}, nil, m.fail(err)
	}
	defer m.closeSession(sess)

	auth, err := sess.Authorize(ctx, m.identity, m.chain)
	if err != nil {
		return AuthResult{}, nil, m.fail(err)
	}
	auth.WalletClientType = walletClientType(targetPackage, auth.Label)
	m.saveToken(ctx, auth)

	payload, err := provider(ctx, auth)
	if err != nil {
		m.logger.Debug("mwa: message provider failed after authorization: %v", err)
		mpe := &MessageProviderError{Auth: auth, Cause: err}
		m.setState(StateMessageProviderFailed, mpe)
		return auth, nil, mpe
	}

	m.setState(StateSigningInSession, nil)
	sig, err := m.signOne(ctx, sess, auth.Address, payload)
	m.metrics.RecordSignOp(signBackend, err)
	if err != nil {
		return auth, nil, m.fail(err)
	}
	m.setState(StateComplete, nil)
	return auth, sig, nil
}

// SignMessage signs payload in a new session, reusing a previous
// authorization. It is the second session of the two-step login.
func (m *Manager) SignMessage(ctx context.Context, targetPackage string, auth AuthResult, payload []byte) ([]byte, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.setState(StateAuthorizing, nil)
	sess, err := m.open(ctx, Target{Package: targetPackage, WalletURIBase: auth.WalletURIBase})
	if err != nil {
		return nil, m.fail(err)
	}
	defer m.closeSession(sess)

	current, err := m.authorizeFor(ctx, sess, auth.Address, auth.AuthToken)
	if err != nil {
		return nil, m.fail(err)
	}

	m.setState(StateSigningInSession, nil)
	sig, err := m.signOne(ctx, sess, current.Address, payload)
	m.metrics.RecordSignOp(signBackend, err)
	if err != nil {
		return nil, m.fail(err)
	}
	m.setState(StateComplete, nil)
	return sig, nil
}

// SignTransaction has the wallet sign a wire transaction. When address is
// set the wallet must authorize that account.
func (m *Manager) SignTransaction(ctx context.Context, targetPackage, address string, tx []byte) ([]byte, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.setState(StateAuthorizing, nil)
	sess, err := m.open(ctx, Target{Package: targetPackage})
	if err != nil {
		return nil, m.fail(err)
	}
	defer m.closeSession(sess)

	if _, err := m.authorizeFor(ctx, sess, address, ""); err != nil {
		return nil, m.fail(err)
	}

	m.setState(StateSigningInSession, nil)
	signed, err := sess.SignTransactions(ctx, [][]byte{tx})
	m.metrics.RecordSignOp(signBackend, err)
	if err != nil {
		return nil, m.fail(err)
	}
	m.setState(StateComplete, nil)
	return signed[0], nil
}

// SignMessageBase58 is SignMessage returning a base58 signature.
func (m *Manager) SignMessageBase58(ctx context.Context, targetPackage string, auth AuthResult, payload []byte) (string, error) {
	sig, err := m.SignMessage(ctx, targetPackage, auth, payload)
	if err != nil {
		return "", err
	}
	return base58.Encode(sig), nil
}

func (m *Manager) open(ctx context.Context, target Target) (Session, error) {
	if target.Package != "" && m.probe != nil && !m.probe.IsInstalled(target.Package) {
		return nil, tserr.WithDetails(tserr.ErrNoWalletInstalled, map[string]string{"package": target.Package})
	}
	return m.connector.Connect(ctx, target)
}

// authorizeFor reauthorizes with a known token for address when one exists
// and falls back to a fresh authorization when the wallet refuses it.
func (m *Manager) authorizeFor(ctx context.Context, sess Session, address, token string) (AuthResult, error) {
	if token == "" && address != "" && m.tokens != nil {
		token = m.tokens.WalletToken(address)
	}

	var (
		auth AuthResult
		err  error
	)
	if token != "" {
		auth, err = sess.Reauthorize(ctx, m.identity, token)
		if errors.Is(err, tserr.ErrWalletRejected) {
			m.logger.Debug("mwa: stored auth token refused, authorizing again")
			m.dropToken(ctx, address)
			token = ""
		} else if err != nil {
			return AuthResult{}, err
		}
	}
	if token == "" {
		auth, err = sess.Authorize(ctx, m.identity, m.chain)
		if err != nil {
			return AuthResult{}, err
		}
	}

	if address != "" && auth.Address != address {
		return AuthResult{}, tserr.WithDetails(
			tserr.Wrap(tserr.ErrWalletRejected, "wallet authorized a different account"),
			map[string]string{"expected": address, "authorized": auth.Address},
		)
	}
	m.saveToken(ctx, auth)
	return auth, nil
}

func (m *Manager) signOne(ctx context.Context, sess Session, address string, payload []byte) ([]byte, error) {
	sigs, err := sess.SignMessages(ctx, []string{address}, [][]byte{payload})
	if err != nil {
		return nil, err
	}
	return sigs[0], nil
}

func (m *Manager) saveToken(ctx context.Context, auth AuthResult) {
	if m.tokens == nil || auth.AuthToken == "" {
		return
	}
	if err := m.tokens.SetWalletToken(ctx, auth.Address, auth.AuthToken); err != nil {
		m.logger.Error("mwa: failed to store auth token: %v", err)
	}
}

func (m *Manager) dropToken(ctx context.Context, address string) {
	if m.tokens == nil || address == "" {
		return
	}
	if err := m.tokens.SetWalletToken(ctx, address, ""); err != nil {
		m.logger.Error("mwa: failed to drop auth token: %v", err)
	}
}

func (m *Manager) closeSession(sess Session) {
	if err := sess.Close(); err != nil {
		m.logger.Debug("mwa: session close: %v", err)
	}
}

// fail records err. A user cancellation returns the manager to idle.
func (m *Manager) fail(err error) error {
	kind := Classify(err)
	if kind == KindUserCancelled {
		m.setState(StateIdle, nil)
		return err
	}
	m.logger.Error("mwa: session failed (%s): %v", kind, err)
	m.setState(StateFailed, err)
	return err
}

func (m *Manager) setState(s State, err error) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.state = s
	m.lastErr = err
}

// walletClientType names the wallet for the backend. The package name is
// preferred; the account label is the fallback when the OS picked the wallet.
func walletClientType(targetPackage, label string) string {
	if targetPackage != "" {
		return targetPackage
	}
	if label != "" {
		return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(label), " ", "_"))
	}
	return signBackend
}

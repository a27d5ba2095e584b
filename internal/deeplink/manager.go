// Package deeplink implements the universal-link wallet handshake used when
// a wallet cannot be reached over a local session. The handshake spans two
// app-to-app round trips, so its state is persisted between steps.
package deeplink

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/mrz1836/tessera/internal/fileutil"
	"github.com/mrz1836/tessera/internal/platform"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// Defaults.
const (
	DefaultCallbackTTL   = 2 * time.Minute
	DefaultResumeTimeout = 3 * time.Second
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultCluster       = "mainnet-beta"

	// FileName is the flow state file inside the tessera home.
	FileName = "deeplink.json"
)

// LogWriter is the logging interface used by this package.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// ResumeResult reports what a resumed flow recovered.
type ResumeResult struct {
	// Flow is the step that was pending when the process restarted.
	Flow          FlowState
	TargetPackage string
	Address       string
	Signature     []byte
	Message       []byte
}

// Manager runs the deeplink handshake. Every operation reads the state file
// first, so a callback recorded by another process is seen.
type Manager struct {
	path     string
	launcher platform.Launcher
	wallets  map[string]string
	redirect string
	appURL   string
	cluster  string

	callbackTTL   time.Duration
	resumeTimeout time.Duration
	poll          time.Duration
	logger        LogWriter
	now           func() time.Time

	mu     sync.Mutex
	st     flowFile
	notify chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithWallets maps wallet packages to their universal link base URLs.
func WithWallets(wallets map[string]string) Option {
	return func(m *Manager) {
		for k, v := range wallets {
			m.wallets[k] = v
		}
	}
}

// WithRedirectLink sets where wallets send their responses.
func WithRedirectLink(link string) Option {
	return func(m *Manager) { m.redirect = link }
}

// WithAppURL sets the app URL wallets display.
func WithAppURL(u string) Option {
	return func(m *Manager) { m.appURL = u }
}

// WithCluster sets the cluster requested on connect.
func WithCluster(c string) Option {
	return func(m *Manager) {
		if c != "" {
			m.cluster = c
		}
	}
}

// WithCallbackTTL sets how long a buffered callback stays replayable.
func WithCallbackTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.callbackTTL = d
		}
	}
}

// WithResumeTimeout sets how long Resume waits for a callback that has not arrived.
func WithResumeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.resumeTimeout = d
		}
	}
}

// WithPollInterval sets how often waiters check the state file.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.poll = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l LogWriter) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New opens the flow state stored at path. A missing or unreadable file
// starts an idle flow.
func New(path string, launcher platform.Launcher, opts ...Option) *Manager {
	m := &Manager{
		path:          path,
		launcher:      launcher,
		wallets:       make(map[string]string),
		cluster:       DefaultCluster,
		callbackTTL:   DefaultCallbackTTL,
		resumeTimeout: DefaultResumeTimeout,
		poll:          DefaultPollInterval,
		logger:        nopLogger{},
		now:           time.Now,
		notify:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.mu.Lock()
	m.refreshLocked()
	m.mu.Unlock()
	return m
}

// StartConnect generates a fresh dapp keypair and opens the wallet's
// connect link. It returns the link so it can also be shown to the user.
func (m *Manager) StartConnect(ctx context.Context, targetPackage string) (string, error) {
	base, ok := m.wallets[targetPackage]
	if !ok {
		return "", tserr.WithDetails(
			tserr.Wrap(tserr.ErrNotSupported, "wallet has no deeplink endpoint"),
			map[string]string{"package": targetPackage},
		)
	}
	kp, err := newKeyPair()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.st = flowFile{
		Flow:          FlowAwaitingConnect,
		FlowID:        uuid.NewString(),
		TargetPackage: targetPackage,
		DappPublicKey: base58.Encode(kp.public[:]),
		DappSecretKey: base58.Encode(kp.private[:]),
	}
	err = m.saveLocked()
	flowID := m.st.FlowID
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set(paramDappKey, base58.Encode(kp.public[:]))
	q.Set(paramCluster, m.cluster)
	if m.appURL != "" {
		q.Set(paramAppURL, m.appURL)
	}
	if m.redirect != "" {
		q.Set(paramRedirect, m.redirect)
	}
	link := buildURL(base, PathConnect, q)

	m.logger.Debug("deeplink: connect flow=%s package=%s", flowID, targetPackage)
	if err := m.launch(ctx, link, targetPackage); err != nil {
		return link, err
	}
	return link, nil
}

// HandleConnectResponse decodes the wallet's connect redirect and returns
// the connected address.
func (m *Manager) HandleConnectResponse(rawURI string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()

	if m.st.Flow != FlowAwaitingConnect {
		return "", tserr.Wrap(tserr.ErrNoActiveSession, "no connect in progress")
	}
	q, err := callbackQuery(rawURI)
	if err != nil {
		return "", m.failLocked(err)
	}
	if err := callbackError(q); err != nil {
		return "", m.failLocked(err)
	}

	walletKey := walletKeyParam(q)
	walletPub, err := decodeKey(walletKey)
	if err != nil {
		return "", m.failLocked(tserr.Wrap(tserr.ErrWalletRejected, "connect response missing wallet key"))
	}
	dappPriv, err := decodeKey(m.st.DappSecretKey)
	if err != nil {
		return "", m.failLocked(err)
	}

	var cd connectData
	if err := open(q.Get(paramNonce), q.Get(paramData), sharedKey(walletPub, dappPriv), &cd); err != nil {
		return "", m.failLocked(err)
	}
	if addr, err := base58.Decode(cd.PublicKey); err != nil || len(addr) != keyLength || cd.Session == "" {
		return "", m.failLocked(tserr.Wrap(tserr.ErrWalletRejected, "connect response missing account or session"))
	}

	m.st.WalletPublicKey = walletKey
	m.st.Session = cd.Session
	m.st.ConnectedAddress = cd.PublicKey
	m.st.LastError = ""
	if err := m.saveLocked(); err != nil {
		return "", err
	}
	return cd.PublicKey, nil
}

// StartSignMessage opens the wallet to sign message within the connected
// session. The message is kept so login can present it verbatim.
func (m *Manager) StartSignMessage(ctx context.Context, message []byte) (string, error) {
	m.mu.Lock()
	m.refreshLocked()
	if m.st.Session == "" || m.st.ConnectedAddress == "" {
		m.mu.Unlock()
		return "", tserr.Wrap(tserr.ErrNoActiveSession, "connect to the wallet first")
	}
	base, ok := m.wallets[m.st.TargetPackage]
	if !ok {
		m.mu.Unlock()
		return "", tserr.Wrap(tserr.ErrNotSupported, "wallet has no deeplink endpoint")
	}
	shared, err := m.sharedLocked()
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	nonce, payload, err := seal(signMessagePayload{
		Message: base58.Encode(message),
		Session: m.st.Session,
		Display: displayEncodingUTF,
	}, shared)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}

	m.st.Flow = FlowAwaitingSign
	m.st.PendingMessage = base58.Encode(message)
	m.st.Signature = ""
	m.st.Callback = nil
	pkg, dappKey := m.st.TargetPackage, m.st.DappPublicKey
	err = m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set(paramDappKey, dappKey)
	q.Set(paramNonce, nonce)
	q.Set(paramPayload, payload)
	if m.redirect != "" {
		q.Set(paramRedirect, m.redirect)
	}
	link := buildURL(base, PathSignMessage, q)
	if err := m.launch(ctx, link, pkg); err != nil {
		return link, err
	}
	return link, nil
}

// HandleSignResponse decodes the wallet's sign redirect and returns the
// signature. The flow returns to idle.
func (m *Manager) HandleSignResponse(rawURI string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()

	if m.st.Flow != FlowAwaitingSign {
		return nil, tserr.Wrap(tserr.ErrNoActiveSession, "no signature request in progress")
	}
	q, err := callbackQuery(rawURI)
	if err != nil {
		return nil, m.failLocked(err)
	}
	if err := callbackError(q); err != nil {
		return nil, m.failLocked(err)
	}
	shared, err := m.sharedLocked()
	if err != nil {
		return nil, m.failLocked(err)
	}

	var sd signMessageData
	if err := open(q.Get(paramNonce), q.Get(paramData), shared, &sd); err != nil {
		return nil, m.failLocked(err)
	}
	sig, err := base58.Decode(sd.Signature)
	if err != nil || len(sig) != signatureLength {
		return nil, m.failLocked(tserr.Wrap(tserr.ErrWalletRejected, "sign response carried an invalid signature"))
	}

	m.st.Flow = FlowIdle
	m.st.Signature = sd.Signature
	m.st.Callback = nil
	m.st.LastError = ""
	if err := m.saveLocked(); err != nil {
		return nil, err
	}
	return sig, nil
}

// HandleWalletCallback buffers a redirect delivered by the OS. Callbacks
// that arrive while no flow is active are ignored and reported as not handled.
func (m *Manager) HandleWalletCallback(rawURI string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()

	if m.st.Flow == FlowIdle {
		m.logger.Debug("deeplink: ignoring callback with no active flow")
		return false, nil
	}
	m.st.Callback = &bufferedCallback{URI: rawURI, ReceivedAt: m.now()}
	if err := m.saveLocked(); err != nil {
		return false, err
	}
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true, nil
}

// ResetCallbacks drops any buffered callback. Call it before opening each
// leg so a stale value cannot satisfy the next wait.
func (m *Manager) ResetCallbacks() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()
	if m.st.Callback == nil {
		return nil
	}
	m.st.Callback = nil
	return m.saveLocked()
}

// AwaitConnect waits for the connect callback and returns the address.
func (m *Manager) AwaitConnect(ctx context.Context) (string, error) {
	uri, err := m.await(ctx)
	if err != nil {
		return "", err
	}
	return m.HandleConnectResponse(uri)
}

// AwaitSignature waits for the sign callback and returns the signature.
func (m *Manager) AwaitSignature(ctx context.Context) ([]byte, error) {
	uri, err := m.await(ctx)
	if err != nil {
		return nil, err
	}
	return m.HandleSignResponse(uri)
}

// Resume continues a flow left pending by a previous process. A buffered
// callback is replayed; otherwise Resume waits up to the resume timeout and
// then clears the flow with ErrFlowInterrupted.
func (m *Manager) Resume(ctx context.Context) (ResumeResult, error) {
	m.mu.Lock()
	m.refreshLocked()
	flow, addr, pkg := m.st.Flow, m.st.ConnectedAddress, m.st.TargetPackage
	m.mu.Unlock()

	res := ResumeResult{Flow: flow, TargetPackage: pkg}
	switch {
	case flow == FlowIdle:
		return res, nil
	case flow == FlowAwaitingConnect && addr != "":
		res.Address = addr
		return res, nil
	}

	wctx, cancel := context.WithTimeout(ctx, m.resumeTimeout)
	defer cancel()
	uri, err := m.await(wctx)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if clearErr := m.Clear(); clearErr != nil {
			m.logger.Error("deeplink: failed to clear interrupted flow: %v", clearErr)
		}
		return res, tserr.WithDetails(tserr.ErrFlowInterrupted, map[string]string{"step": flow.String()})
	}

	switch flow {
	case FlowAwaitingConnect:
		res.Address, err = m.HandleConnectResponse(uri)
	case FlowAwaitingSign:
		res.Signature, err = m.HandleSignResponse(uri)
		res.Address = m.GetConnectedAddress()
		res.Message = m.PendingSiwsMessage()
	case FlowIdle:
	}
	return res, err
}

// HasActiveSession reports whether a flow is waiting on the wallet.
func (m *Manager) HasActiveSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()
	return m.st.Flow != FlowIdle
}

// Flow returns the current flow state.
func (m *Manager) Flow() FlowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()
	return m.st.Flow
}

// GetConnectedAddress returns the wallet address from the connect step.
func (m *Manager) GetConnectedAddress() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()
	return m.st.ConnectedAddress
}

// PendingSiwsMessage returns the message sent for signing, or nil.
func (m *Manager) PendingSiwsMessage() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()
	if m.st.PendingMessage == "" {
		return nil
	}
	msg, err := base58.Decode(m.st.PendingMessage)
	if err != nil {
		return nil
	}
	return msg
}

// LastError returns the last wallet error message, if any.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()
	return m.st.LastError
}

// Clear forgets the flow, its keys and any buffered callback.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = flowFile{}
	return m.saveLocked()
}

func (m *Manager) await(ctx context.Context) (string, error) {
	for {
		if uri, ok := m.takeCallback(); ok {
			return uri, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-m.notify:
		case <-time.After(m.poll):
		}
	}
}

// takeCallback claims the buffered callback. One older than the TTL is
// discarded.
func (m *Manager) takeCallback() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()

	cb := m.st.Callback
	if cb == nil {
		return "", false
	}
	m.st.Callback = nil
	if err := m.saveLocked(); err != nil {
		m.logger.Error("deeplink: failed to persist claimed callback: %v", err)
	}
	if m.now().Sub(cb.ReceivedAt) > m.callbackTTL {
		m.logger.Debug("deeplink: discarding expired callback")
		return "", false
	}
	return cb.URI, true
}

func (m *Manager) launch(ctx context.Context, link, pkg string) error {
	if err := m.launcher.Open(ctx, link, pkg); err != nil {
		var wrapped error
		if errors.Is(err, platform.ErrNoHandler) {
			wrapped = tserr.WithCause(tserr.ErrNoWalletInstalled, err)
		} else {
			wrapped = tserr.WithCause(tserr.ErrSessionTerminated, err)
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.failLocked(wrapped)
	}
	return nil
}

func (m *Manager) sharedLocked() ([keyLength]byte, error) {
	walletPub, err := decodeKey(m.st.WalletPublicKey)
	if err != nil {
		return [keyLength]byte{}, err
	}
	dappPriv, err := decodeKey(m.st.DappSecretKey)
	if err != nil {
		return [keyLength]byte{}, err
	}
	return sharedKey(walletPub, dappPriv), nil
}

// failLocked ends the flow and records err as the last error.
func (m *Manager) failLocked(err error) error {
	m.st.Flow = FlowIdle
	m.st.Callback = nil
	m.st.LastError = err.Error()
	if saveErr := m.saveLocked(); saveErr != nil {
		m.logger.Error("deeplink: failed to persist flow error: %v", saveErr)
	}
	return err
}

func (m *Manager) refreshLocked() {
	var st flowFile
	found, err := fileutil.ReadJSON(m.path, &st)
	if err != nil {
		m.logger.Error("deeplink: unreadable flow state, keeping in-memory state: %v", err)
		return
	}
	if found {
		m.st = st
	}
}

func (m *Manager) saveLocked() error {
	m.st.UpdatedAt = m.now().UTC()
	if err := fileutil.WriteJSON(m.path, m.st); err != nil {
		return tserr.Wrap(err, "saving deeplink flow")
	}
	return nil
}

func callbackQuery(rawURI string) (url.Values, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, tserr.WithCause(tserr.ErrInvalidInput, err)
	}
	return u.Query(), nil
}

// Package login signs users in with an external wallet. It drives the wallet
// session, falls back to a second session or to deeplinks when the first
// one cannot finish, then records the wallet and registers with the backend.
package login

import (
	"context"
	"errors"
	"time"

	"github.com/mr-tron/base58"

	"github.com/mrz1836/tessera/internal/api"
	"github.com/mrz1836/tessera/internal/deeplink"
	"github.com/mrz1836/tessera/internal/embedded"
	"github.com/mrz1836/tessera/internal/metrics"
	"github.com/mrz1836/tessera/internal/mwa"
	"github.com/mrz1836/tessera/internal/platform"
	"github.com/mrz1836/tessera/internal/walletpref"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// Foreground wait defaults.
const (
	DefaultForegroundPoll    = 50 * time.Millisecond
	DefaultForegroundTimeout = 5 * time.Second
)

// Fallback kinds recorded in metrics.
const (
	FallbackTwoStep  = "two_step"
	FallbackDeeplink = "deeplink"
)

// ErrBackgroundRestricted is returned by the in-session message provider
// when the host is not in the foreground and cannot issue a challenge.
var ErrBackgroundRestricted = errors.New("challenge generation requires the foreground")

// AuthManager is the part of the embedded auth manager used for wallet login.
type AuthManager interface {
	GenerateSiwsMessage(ctx context.Context, address string) (string, error)
	LoginWithSiws(ctx context.Context, message, signature, walletClientType string) (*embedded.User, error)
	LinkWithSiws(ctx context.Context, message, signature, walletClientType string) (*embedded.User, error)
	AuthInitInfo() (embedded.AuthInitInfo, error)
	ClearPendingSiws()
}

// WalletSessions runs wallet protocol sessions.
type WalletSessions interface {
	AuthorizeAndSignMessage(ctx context.Context, targetPackage string, provider mwa.MessageProvider) (mwa.AuthResult, []byte, error)
	SignMessage(ctx context.Context, targetPackage string, auth mwa.AuthResult, payload []byte) ([]byte, error)
}

// DeeplinkFlow runs the deeplink handshake.
type DeeplinkFlow interface {
	ResetCallbacks() error
	StartConnect(ctx context.Context, targetPackage string) (string, error)
	AwaitConnect(ctx context.Context) (string, error)
	StartSignMessage(ctx context.Context, message []byte) (string, error)
	AwaitSignature(ctx context.Context) ([]byte, error)
	Resume(ctx context.Context) (deeplink.ResumeResult, error)
	Clear() error
}

// Registrar registers a signed-in user with the backend.
type Registrar interface {
	InitAuth(ctx context.Context, info embedded.AuthInitInfo) (*api.AuthInitResponse, error)
}

// Preferences records connected wallets.
type Preferences interface {
	Upsert(info walletpref.WalletInfo) error
	SetActive(address string) error
}

// LinkPresenter is told about each deeplink the user may need to open by
// hand, e.g. to render it as a QR code.
type LinkPresenter func(link string)

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Result describes a completed wallet login or link.
type Result struct {
	User             *embedded.User       `json:"user,omitempty"`
	Address          string               `json:"address"`
	WalletClientType string               `json:"wallet_client_type,omitempty"`
	Connector        walletpref.Connector `json:"connector,omitempty"`
	// Registered is false when the backend registration call failed.
	Registered bool `json:"registered"`
}

// Coordinator runs wallet logins.
type Coordinator struct {
	auth       AuthManager
	sessions   WalletSessions
	deeplink   DeeplinkFlow
	prefs      Preferences
	registrar  Registrar
	foreground platform.ForegroundChecker
	present    LinkPresenter
	logger     LogWriter
	metrics    *metrics.Metrics

	poll            time.Duration
	fgTimeout       time.Duration
	deeplinkWallets map[string]bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDeeplink enables deeplink fallback for the given wallet packages.
func WithDeeplink(flow DeeplinkFlow, packages ...string) Option {
	return func(c *Coordinator) {
		c.deeplink = flow
		for _, p := range packages {
			c.deeplinkWallets[p] = true
		}
	}
}

// WithPreferences records wallets after login.
func WithPreferences(p Preferences) Option {
	return func(c *Coordinator) { c.prefs = p }
}

// WithRegistrar registers users with the backend after login.
func WithRegistrar(r Registrar) Option {
	return func(c *Coordinator) { c.registrar = r }
}

// WithForeground sets the foreground tracker.
func WithForeground(f platform.ForegroundChecker) Option {
	return func(c *Coordinator) { c.foreground = f }
}

// WithForegroundWait overrides the foreground polling interval and bound.
func WithForegroundWait(poll, timeout time.Duration) Option {
	return func(c *Coordinator) {
		if poll > 0 {
			c.poll = poll
		}
		if timeout > 0 {
			c.fgTimeout = timeout
		}
	}
}

// WithLinkPresenter receives every deeplink opened during a flow.
func WithLinkPresenter(p LinkPresenter) Option {
	return func(c *Coordinator) { c.present = p }
}

// WithLogger sets the logger.
func WithLogger(l LogWriter) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a login coordinator.
func NewCoordinator(auth AuthManager, sessions WalletSessions, opts ...Option) *Coordinator {
	c := &Coordinator{
		auth:            auth,
		sessions:        sessions,
		foreground:      platform.AlwaysForeground{},
		present:         func(string) {},
		logger:          nopLogger{},
		metrics:         metrics.Global,
		poll:            DefaultForegroundPoll,
		fgTimeout:       DefaultForegroundTimeout,
		deeplinkWallets: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// siwsAction finishes a flow with a signed challenge: login or link.
type siwsAction func(ctx context.Context, message, signature, walletClientType string) (*embedded.User, error)

// LoginWithWallet signs in with an external wallet. An empty targetPackage
// lets the OS pick the wallet.
func (c *Coordinator) LoginWithWallet(ctx context.Context, targetPackage string) (*Result, error) {
	return c.run(ctx, targetPackage, c.auth.LoginWithSiws, true)
}

// LinkWallet links an external wallet to the signed-in user.
func (c *Coordinator) LinkWallet(ctx context.Context, targetPackage string) (*Result, error) {
	return c.run(ctx, targetPackage, c.auth.LinkWithSiws, false)
}

// LoginWithDeeplink runs the deeplink handshake directly.
func (c *Coordinator) LoginWithDeeplink(ctx context.Context, targetPackage string) (*Result, error) {
	return c.runDeeplink(ctx, targetPackage, c.auth.LoginWithSiws, true)
}

func (c *Coordinator) run(ctx context.Context, targetPackage string, finish siwsAction, register bool) (*Result, error) {
	var challenge string
	auth, sig, err := c.sessions.AuthorizeAndSignMessage(ctx, targetPackage, func(ctx context.Context, a mwa.AuthResult) ([]byte, error) {
		if !c.foreground.IsForeground() {
			return nil, ErrBackgroundRestricted
		}
		msg, err := c.auth.GenerateSiwsMessage(ctx, a.Address)
		if err != nil {
			return nil, err
		}
		challenge = msg
		return []byte(msg), nil
	})

	if mpe, ok := mwa.AsMessageProviderFailed(err); ok {
		c.logger.Debug("login: falling back to a second wallet session: %v", mpe.Cause)
		c.metrics.RecordFallback(FallbackTwoStep)
		auth = mpe.Auth
		challenge, sig, err = c.secondSession(ctx, targetPackage, auth)
	}
	if err != nil {
		if challenge != "" {
			c.auth.ClearPendingSiws()
		}
		if c.canDeeplink(targetPackage) && mwa.ShouldFallback(err) {
			c.logger.Debug("login: wallet session failed (%s), using deeplink", mwa.Classify(err))
			c.metrics.RecordFallback(FallbackDeeplink)
			return c.runDeeplink(ctx, targetPackage, finish, register)
		}
		return nil, err
	}

	clientType := auth.WalletClientType
	if targetPackage != "" {
		clientType = walletpref.ClientType(targetPackage)
	}
	return c.complete(ctx, completion{
		address:    auth.Address,
		label:      auth.Label,
		clientType: clientType,
		connector:  walletpref.ConnectorMWA,
		pkg:        targetPackage,
		message:    challenge,
		signature:  sig,
	}, finish, register)
}

// secondSession waits for the foreground, issues the challenge there and
// signs it in a new wallet session reusing the first authorization.
func (c *Coordinator) secondSession(ctx context.Context, targetPackage string, auth mwa.AuthResult) (string, []byte, error) {
	if !platform.WaitForForeground(ctx, c.foreground, c.poll, c.fgTimeout) {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		c.logger.Debug("login: still in background after %s, continuing", c.fgTimeout)
	}
	msg, err := c.auth.GenerateSiwsMessage(ctx, auth.Address)
	if err != nil {
		return "", nil, err
	}
	sig, err := c.sessions.SignMessage(ctx, targetPackage, auth, []byte(msg))
	if err != nil {
		c.auth.ClearPendingSiws()
		return "", nil, err
	}
	return msg, sig, nil
}

func (c *Coordinator) runDeeplink(ctx context.Context, targetPackage string, finish siwsAction, register bool) (*Result, error) {
	if c.deeplink == nil {
		return nil, tserr.Wrap(tserr.ErrNotSupported, "deeplink login is not configured")
	}

	if err := c.deeplink.ResetCallbacks(); err != nil {
		return nil, err
	}
	link, err := c.deeplink.StartConnect(ctx, targetPackage)
	if link != "" {
		c.present(link)
	}
	if err != nil {
		return nil, err
	}
	address, err := c.deeplink.AwaitConnect(ctx)
	if err != nil {
		return nil, err
	}
	return c.deeplinkSign(ctx, targetPackage, address, finish, register)
}

// deeplinkSign issues the challenge for a connected deeplink wallet, has it
// signed and completes the login.
func (c *Coordinator) deeplinkSign(ctx context.Context, targetPackage, address string, finish siwsAction, register bool) (*Result, error) {
	msg, err := c.auth.GenerateSiwsMessage(ctx, address)
	if err != nil {
		c.clearDeeplink()
		return nil, err
	}
	if err := c.deeplink.ResetCallbacks(); err != nil {
		return nil, err
	}
	link, err := c.deeplink.StartSignMessage(ctx, []byte(msg))
	if link != "" {
		c.present(link)
	}
	if err != nil {
		return nil, err
	}
	sig, err := c.deeplink.AwaitSignature(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.complete(ctx, completion{
		address:    address,
		clientType: walletpref.ClientType(targetPackage),
		connector:  walletpref.ConnectorDeeplink,
		pkg:        targetPackage,
		message:    msg,
		signature:  sig,
	}, finish, register)
	c.clearDeeplink()
	return res, err
}

// ResumeDeeplink continues a deeplink login left pending by an earlier
// process. A recovered connect goes on to sign a fresh challenge. A
// recovered signature completes only while its challenge is still pending
// here; otherwise the flow is cleared and the login must start again.
// Resumed flows finish as logins.
func (c *Coordinator) ResumeDeeplink(ctx context.Context) (*Result, error) {
	if c.deeplink == nil {
		return nil, tserr.Wrap(tserr.ErrNotSupported, "deeplink login is not configured")
	}
	rec, err := c.deeplink.Resume(ctx)
	if err != nil {
		return nil, err
	}

	switch {
	case rec.Flow == deeplink.FlowIdle:
		return nil, tserr.ErrNoActiveSession
	case len(rec.Signature) > 0:
		res, err := c.complete(ctx, completion{
			address:    rec.Address,
			clientType: walletpref.ClientType(rec.TargetPackage),
			connector:  walletpref.ConnectorDeeplink,
			pkg:        rec.TargetPackage,
			message:    string(rec.Message),
			signature:  rec.Signature,
		}, c.auth.LoginWithSiws, true)
		c.clearDeeplink()
		if res == nil && (tserr.Is(err, tserr.ErrNoPendingChallenge) || tserr.Is(err, tserr.ErrChallengeMismatch)) {
			c.logger.Debug("login: recovered signature has no pending challenge")
			return nil, tserr.WithDetails(tserr.ErrFlowInterrupted, map[string]string{"step": rec.Flow.String()})
		}
		return res, err
	case rec.Address != "":
		c.logger.Debug("login: resuming deeplink login for %s", rec.Address)
		return c.deeplinkSign(ctx, rec.TargetPackage, rec.Address, c.auth.LoginWithSiws, true)
	default:
		return nil, tserr.WithDetails(tserr.ErrFlowInterrupted, map[string]string{"step": rec.Flow.String()})
	}
}

type completion struct {
	address    string
	label      string
	clientType string
	connector  walletpref.Connector
	pkg        string
	message    string
	signature  []byte
}

func (c *Coordinator) complete(ctx context.Context, in completion, finish siwsAction, register bool) (*Result, error) {
	user, err := finish(ctx, in.message, base58.Encode(in.signature), in.clientType)
	if err != nil {
		return nil, err
	}
	res := &Result{User: user, Address: in.address, WalletClientType: in.clientType, Connector: in.connector}

	if c.prefs != nil {
		info := walletpref.WalletInfo{
			Address:       in.address,
			Label:         in.label,
			Type:          walletpref.TypeExternal,
			Connector:     in.connector,
			TargetPackage: in.pkg,
			Primary:       register,
		}
		if err := c.prefs.Upsert(info); err != nil {
			c.logger.Error("login: saving wallet preference: %v", err)
		} else if register {
			if err := c.prefs.SetActive(in.address); err != nil {
				c.logger.Error("login: selecting wallet: %v", err)
			}
		}
	}

	if register && c.registrar != nil {
		info, err := c.auth.AuthInitInfo()
		if err != nil {
			return res, tserr.Wrap(err, "backend registration")
		}
		if _, err := c.registrar.InitAuth(ctx, info); err != nil {
			c.logger.Error("login: backend registration failed: %v", err)
			return res, tserr.Wrap(err, "backend registration")
		}
		res.Registered = true
	}
	return res, nil
}

func (c *Coordinator) canDeeplink(pkg string) bool {
	return c.deeplink != nil && pkg != "" && c.deeplinkWallets[pkg]
}

func (c *Coordinator) clearDeeplink() {
	if err := c.deeplink.Clear(); err != nil {
		c.logger.Error("login: clearing deeplink flow: %v", err)
	}
}

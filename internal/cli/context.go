package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/tessera/internal/api"
	"github.com/mrz1836/tessera/internal/chain"
	"github.com/mrz1836/tessera/internal/chain/rpc"
	"github.com/mrz1836/tessera/internal/config"
	"github.com/mrz1836/tessera/internal/credentials"
	"github.com/mrz1836/tessera/internal/deeplink"
	"github.com/mrz1836/tessera/internal/embedded"
	"github.com/mrz1836/tessera/internal/localsdk"
	"github.com/mrz1836/tessera/internal/login"
	"github.com/mrz1836/tessera/internal/mwa"
	"github.com/mrz1836/tessera/internal/output"
	"github.com/mrz1836/tessera/internal/platform"
	"github.com/mrz1836/tessera/internal/txwallet"
	"github.com/mrz1836/tessera/internal/walletpref"
)

const (
	// providerSecretName names the local provider's store secret.
	providerSecretName = "provider"
	providerStoreFile  = "provider.age"
)

// CommandContext holds the services commands run against. Services are
// built on first use so that commands such as "config show" touch nothing.
type CommandContext struct {
	Config    *config.Config
	Logger    *config.Logger
	Formatter *output.Formatter

	Keyring  credentials.Keyring
	Launcher platform.Launcher

	Credentials *credentials.Store
	Provider    *localsdk.Provider
	Auth        *embedded.Manager
	Prefs       *walletpref.Store
	Wallets     *mwa.Manager
	Deeplink    *deeplink.Manager
	API         *api.Client
	RPC         *rpc.Client
	Broadcaster *rpc.Broadcaster
	Tx          *txwallet.Manager
}

// NewCommandContext creates a context with the given dependencies.
func NewCommandContext(c *config.Config, l *config.Logger, f *output.Formatter) *CommandContext {
	return &CommandContext{
		Config:    c,
		Logger:    l,
		Formatter: f,
		Keyring:   credentials.NewOSKeyring(),
		Launcher:  platform.NewSystemLauncher(l.With("platform")),
	}
}

func (c *CommandContext) home() string {
	return c.Config.GetHome()
}

func (c *CommandContext) cluster() chain.Cluster {
	cl, _ := chain.ParseCluster(c.Config.Network.Cluster)
	return cl
}

// openAuth builds the credential store, the local provider and the
// embedded auth manager, and restores any session.
func (c *CommandContext) openAuth(ctx context.Context, opts ...localsdk.Option) error {
	if c.Auth != nil {
		return nil
	}
	if err := os.MkdirAll(c.home(), 0o700); err != nil {
		return fmt.Errorf("creating home directory: %w", err)
	}

	creds, err := credentials.Open(c.home(), c.Keyring, credentials.WithLogger(c.Logger.With("credentials")))
	if err != nil {
		return err
	}
	c.Credentials = creds

	secret := c.Config.Provider.TokenSecret
	if secret == "" {
		if secret, err = credentials.LoadSecret(c.home(), providerSecretName, c.Keyring); err != nil {
			return err
		}
	}

	pc := c.Config.Provider
	base := []localsdk.Option{
		localsdk.WithTokenTTL(time.Duration(pc.TokenTTLMinutes) * time.Minute),
		localsdk.WithOTPTTL(time.Duration(pc.OTPTTLMinutes) * time.Minute),
		localsdk.WithCodeSender(stderrCodeSender{}),
		localsdk.WithLauncher(c.Launcher),
		localsdk.WithRedirectPort(pc.OAuthRedirectPort),
		localsdk.WithStatement(c.Config.App.Statement),
		localsdk.WithChainID(c.cluster().ChainID()),
		localsdk.WithLogger(c.Logger.With("provider")),
	}
	storePath := config.ExpandHome(pc.StorePath)
	if storePath == "" {
		storePath = filepath.Join(c.home(), providerStoreFile)
	}
	provider, err := localsdk.New(storePath, secret, append(base, opts...)...)
	if err != nil {
		return err
	}
	c.Provider = provider

	ac := c.Config.Auth
	c.Auth = embedded.NewManager(provider, creds,
		embedded.WithLogger(c.Logger.With("auth")),
		embedded.WithAppIdentity(c.Config.App.Domain, c.Config.App.URI),
		embedded.WithInitPolling(c.Config.AuthInitTimeout(),
			time.Duration(ac.InitialBackoffMS)*time.Millisecond,
			time.Duration(ac.MaxBackoffMS)*time.Millisecond),
	)
	return c.Auth.Initialize(ctx)
}

// oauthOptions discovers the configured OAuth clients.
func (c *CommandContext) oauthOptions(ctx context.Context) ([]localsdk.Option, error) {
	opts := make([]localsdk.Option, 0, len(c.Config.Provider.OAuth))
	for _, oc := range c.Config.Provider.OAuth {
		client, err := localsdk.DiscoverOAuthClient(ctx, oc.Name, oc.Issuer, oc.ClientID, oc.ClientSecret, oc.Scopes)
		if err != nil {
			return nil, err
		}
		opts = append(opts, localsdk.WithOAuthClient(client))
	}
	return opts, nil
}

func (c *CommandContext) openPrefs() error {
	if c.Prefs != nil {
		return nil
	}
	prefs, err := walletpref.Open(filepath.Join(c.home(), walletpref.FileName))
	if err != nil {
		return err
	}
	c.Prefs = prefs
	return nil
}

// openWallets builds the external wallet transports.
func (c *CommandContext) openWallets() error {
	if c.Wallets != nil {
		return nil
	}
	if err := c.openPrefs(); err != nil {
		return err
	}

	connector := mwa.NewWebsocketConnector(c.Launcher,
		mwa.WithAssociationTimeout(c.Config.AssociationTimeout()),
		mwa.WithConnectorLogger(c.Logger.With("mwa")),
	)
	opts := []mwa.Option{
		mwa.WithIdentity(mwa.AppIdentity{Name: c.Config.App.Name, URI: c.Config.App.URI, Icon: c.Config.App.Icon}),
		mwa.WithChain(c.cluster().ChainID()),
		mwa.WithLogger(c.Logger.With("mwa")),
	}
	if c.Credentials != nil {
		opts = append(opts, mwa.WithTokenStore(c.Credentials))
	}
	c.Wallets = mwa.NewManager(connector, opts...)

	dc := c.Config.Deeplink
	c.Deeplink = deeplink.New(filepath.Join(c.home(), deeplink.FileName), c.Launcher,
		deeplink.WithWallets(dc.Wallets),
		deeplink.WithRedirectLink(dc.RedirectLink),
		deeplink.WithAppURL(c.Config.App.URI),
		deeplink.WithCluster(c.cluster().WalletCluster()),
		deeplink.WithCallbackTTL(c.Config.CallbackTTL()),
		deeplink.WithResumeTimeout(c.Config.ResumeTimeout()),
		deeplink.WithLogger(c.Logger.With("deeplink")),
	)
	return nil
}

// openAPI builds the backend client. Requests carry the cached bearer token
// and refresh it once on a 401.
func (c *CommandContext) openAPI() {
	if c.API != nil {
		return
	}
	opts := []api.Option{
		api.WithUserAgent("tessera-cli/" + GetCurrentVersion()),
		api.WithLogger(c.Logger.With("api")),
	}
	if c.Auth != nil {
		transport := api.NewAuthTransport(nil, bearerTokens{creds: c.Credentials, auth: c.Auth}, c.Logger.With("api"))
		opts = append(opts, api.WithHTTPClient(&http.Client{Timeout: c.Config.APITimeout(), Transport: transport}))
	}
	c.API = api.NewClient(c.Config.GetAPIBaseURL(), opts...)
}

// openChain builds the RPC client and broadcaster.
func (c *CommandContext) openChain() {
	if c.Broadcaster != nil {
		return
	}
	nc := c.Config.Network
	limiter := chain.NewRateLimiter(nc.RateLimit, nc.RateBurst)
	c.RPC = rpc.NewClient(c.Config.GetRPC(),
		rpc.WithFallbacks(c.Config.GetFallbackRPCs()...),
		rpc.WithRateLimiter(limiter),
		rpc.WithLogger(c.Logger.With("rpc")),
	)

	bc := c.Config.Broadcast
	bopts := []rpc.BroadcasterOption{
		rpc.WithConfirmTimeout(c.Config.ConfirmTimeout()),
		rpc.WithMaxAttempts(bc.MaxAttempts),
		rpc.WithBroadcastLogger(c.Logger.With("broadcast")),
	}
	if bc.RetryBackoffMS > 0 {
		bopts = append(bopts, rpc.WithRetryDelay(time.Duration(bc.RetryBackoffMS)*time.Millisecond))
	}
	if bc.PollIntervalMS > 0 {
		bopts = append(bopts, rpc.WithPollInterval(time.Duration(bc.PollIntervalMS)*time.Millisecond))
	}
	c.Broadcaster = rpc.NewBroadcaster(c.RPC, bopts...)
}

// openTx builds the transaction manager. It needs openAuth and openWallets
// first.
func (c *CommandContext) openTx() {
	if c.Tx != nil {
		return
	}
	c.openChain()
	c.Tx = txwallet.NewManager(&txwallet.Config{
		Prefs:       c.Prefs,
		Embedded:    txwallet.EmbeddedSigner{Wallet: c.Auth},
		External:    txwallet.ExternalSigner{Sessions: c.Wallets, Prefs: c.Prefs},
		Broadcaster: c.Broadcaster,
		Logger:      c.Logger.With("tx"),
	})
}

// coordinator builds a login coordinator over the opened services.
func (c *CommandContext) coordinator() *login.Coordinator {
	c.openAPI()
	packages := make([]string, 0, len(c.Config.Deeplink.Wallets))
	for pkg := range c.Config.Deeplink.Wallets {
		packages = append(packages, pkg)
	}
	sort.Strings(packages)

	return login.NewCoordinator(c.Auth, c.Wallets,
		login.WithDeeplink(c.Deeplink, packages...),
		login.WithPreferences(c.Prefs),
		login.WithRegistrar(c.API),
		login.WithForegroundWait(c.Config.ForegroundPoll(), c.Config.ForegroundTimeout()),
		login.WithLinkPresenter(func(link string) {
			_ = output.PresentLink(os.Stderr, "Open this link with your wallet", link)
		}),
		login.WithLogger(c.Logger.With("login")),
	)
}

// prefersDeeplink reports whether pkg is configured to skip the wallet
// protocol and go straight to deeplinks.
func (c *CommandContext) prefersDeeplink(pkg string) bool {
	for _, p := range c.Config.Deeplink.PreferredForPackage {
		if p == pkg {
			return true
		}
	}
	return false
}

// Close flushes and releases opened services.
func (c *CommandContext) Close() {
	if c.Credentials != nil {
		if err := c.Credentials.Close(); err != nil {
			c.Logger.Error("closing credential store: %v", err)
		}
		c.Credentials = nil
	}
}

// bearerTokens feeds the API transport from the credential cache and
// refreshes through the auth manager.
type bearerTokens struct {
	creds *credentials.Store
	auth  *embedded.Manager
}

func (b bearerTokens) AccessToken() string { return b.creds.AccessToken() }

func (b bearerTokens) RefreshAccessToken(ctx context.Context) (string, error) {
	return b.auth.RefreshAccessToken(ctx)
}

// stderrCodeSender delivers one-time codes on stderr. The local provider
// has no mail or SMS gateway.
type stderrCodeSender struct{}

func (stderrCodeSender) SendCode(_ context.Context, channel, destination, code string) error {
	output.Info(os.Stderr, "%s code for %s: %s", channel, destination, code)
	return nil
}

// contextWithTimeout derives a deadline from the command's context, which
// is nil when a command runs outside Execute.
func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}

package cli

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/tessera/internal/embedded"
	"github.com/mrz1836/tessera/internal/login"
	"github.com/mrz1836/tessera/internal/output"
	"github.com/mrz1836/tessera/internal/walletpref"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// loginTimeout bounds interactive logins. Wallet flows wait on the user.
const loginTimeout = 5 * time.Minute

// loginCmd is the parent command for login methods.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in",
	Long:  `Sign in with a one-time code, an OAuth provider, or an external Solana wallet.`,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var loginEmailCmd = &cobra.Command{
	Use:     "email <address>",
	Short:   "Sign in with an emailed code",
	Long:    `Sign in with a one-time code sent to an email address.`,
	Example: `  tessera login email ada@example.com`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCodeLogin(cmd, args[0], codeChannel{
			send:   (*embedded.Manager).SendEmailCode,
			verify: (*embedded.Manager).VerifyEmailCode,
		})
	},
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var loginSmsCmd = &cobra.Command{
	Use:     "sms <phone>",
	Short:   "Sign in with a code sent by SMS",
	Long:    `Sign in with a one-time code sent to a phone number.`,
	Example: `  tessera login sms +15551234567`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCodeLogin(cmd, args[0], codeChannel{
			send:   (*embedded.Manager).SendSmsCode,
			verify: (*embedded.Manager).VerifySmsCode,
		})
	},
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var loginOAuthCmd = &cobra.Command{
	Use:   "oauth <provider>",
	Short: "Sign in with an OAuth provider",
	Long: `Sign in through an OAuth provider configured under provider.oauth.

The provider's consent page opens in the browser and the result is received
on a loopback redirect.`,
	Example: `  tessera login oauth google`,
	Args:    cobra.ExactArgs(1),
	RunE:    runLoginOAuth,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var loginWalletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Sign in with an external wallet",
	Long: `Sign in by signing a Sign-In With Solana message in a wallet app.

Without --wallet the system wallet picker is shown. Wallets listed under
deeplink.wallets fall back to universal links when the wallet cannot be
reached directly.`,
	Example: `  tessera login wallet
  tessera login wallet --wallet phantom`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWalletLogin(cmd, false)
	},
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var loginDeeplinkCmd = &cobra.Command{
	Use:   "deeplink",
	Short: "Sign in with a wallet over universal links",
	Long: `Sign in with a wallet over universal links, skipping the local wallet
session. Each link is also printed, as a QR code on a terminal.`,
	Example: `  tessera login deeplink --wallet phantom`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWalletLogin(cmd, true)
	},
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and remove local credentials",
	Long: `Sign out of the provider session and remove cached tokens, wallet
selections and any pending deeplink handshake.`,
	Example: `  tessera logout`,
	Args:    cobra.NoArgs,
	RunE:    runLogout,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var loginWallet string

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	loginCmd.AddCommand(loginEmailCmd, loginSmsCmd, loginOAuthCmd, loginWalletCmd, loginDeeplinkCmd)

	for _, c := range []*cobra.Command{loginWalletCmd, loginDeeplinkCmd} {
		c.Flags().StringVar(&loginWallet, "wallet", "", "wallet name or app package")
		_ = c.RegisterFlagCompletionFunc("wallet", completeWalletNames)
	}

	loginCmd.GroupID = groupSecurity
	logoutCmd.GroupID = groupSecurity
}

// codeChannel is a one-time code login method.
type codeChannel struct {
	send   func(*embedded.Manager, context.Context, string) error
	verify func(*embedded.Manager, context.Context, string, string) (*embedded.User, error)
}

func runCodeLogin(cmd *cobra.Command, destination string, ch codeChannel) error {
	ctx, cancel := contextWithTimeout(cmd, loginTimeout)
	defer cancel()

	if err := cmdCtx.openAuth(ctx); err != nil {
		return err
	}
	if err := ch.send(cmdCtx.Auth, ctx, destination); err != nil {
		return err
	}
	code, err := promptCodeFn(destination)
	if err != nil {
		return err
	}
	user, err := ch.verify(cmdCtx.Auth, ctx, destination, code)
	if err != nil {
		return err
	}
	return finishEmbeddedLogin(ctx, cmd, user)
}

func runLoginOAuth(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithTimeout(cmd, loginTimeout)
	defer cancel()

	opts, err := cmdCtx.oauthOptions(ctx)
	if err != nil {
		return err
	}
	if err := cmdCtx.openAuth(ctx, opts...); err != nil {
		return err
	}
	user, err := cmdCtx.Auth.LoginWithOAuth(ctx, args[0])
	if err != nil {
		return err
	}
	return finishEmbeddedLogin(ctx, cmd, user)
}

// finishEmbeddedLogin makes sure the user has an embedded wallet, selects
// it, and registers the session with the backend.
func finishEmbeddedLogin(ctx context.Context, cmd *cobra.Command, user *embedded.User) error {
	w, err := cmdCtx.Auth.GetOrCreateEmbeddedWallet(ctx)
	if err != nil {
		return err
	}
	if err := cmdCtx.openPrefs(); err != nil {
		return err
	}
	if err := cmdCtx.Prefs.Upsert(walletpref.WalletInfo{
		Address: w.Address,
		Label:   "Embedded wallet",
		Type:    walletpref.TypeEmbedded,
		Primary: true,
	}); err != nil {
		return err
	}
	if err := cmdCtx.Prefs.SetActive(w.Address); err != nil {
		return err
	}

	registered := registerSession(ctx)
	res := &login.Result{
		User:       user,
		Address:    w.Address,
		Registered: registered,
	}
	return writeLoginResult(cmd, res)
}

// registerSession tells the backend about the signed-in user. A failure
// leaves the local session intact.
func registerSession(ctx context.Context) bool {
	info, err := cmdCtx.Auth.AuthInitInfo()
	if err != nil {
		cmdCtx.Logger.Error("login: building registration: %v", err)
		return false
	}
	cmdCtx.openAPI()
	if _, err := cmdCtx.API.InitAuth(ctx, info); err != nil {
		cmdCtx.Logger.Error("login: backend registration failed: %v", err)
		return false
	}
	return true
}

func runWalletLogin(cmd *cobra.Command, deeplinkOnly bool) error {
	pkg, err := resolveWalletPackage(loginWallet)
	if err != nil {
		return err
	}

	ctx, cancel := contextWithTimeout(cmd, loginTimeout)
	defer cancel()

	if err := cmdCtx.openAuth(ctx); err != nil {
		return err
	}
	if err := cmdCtx.openWallets(); err != nil {
		return err
	}

	coordinator := cmdCtx.coordinator()
	var res *login.Result
	if deeplinkOnly || cmdCtx.prefersDeeplink(pkg) {
		res, err = coordinator.LoginWithDeeplink(ctx, pkg)
	} else {
		res, err = coordinator.LoginWithWallet(ctx, pkg)
	}
	if res != nil && err != nil {
		// Signed in locally; only the backend call failed.
		output.Warn(os.Stderr, "signed in, but backend registration failed: %v", err)
		err = nil
	}
	if err != nil {
		return err
	}
	return writeLoginResult(cmd, res)
}

// resolveWalletPackage maps a wallet name to its app package. Empty means
// the configured default, which may itself be empty for the OS picker.
func resolveWalletPackage(name string) (string, error) {
	if name == "" {
		return cfg.MWA.DefaultPackage, nil
	}
	if known, ok := walletpref.Lookup(name); ok {
		return known.Package, nil
	}
	if strings.Contains(name, ".") {
		// Unlisted wallets are addressed by package name.
		return name, nil
	}

	err := tserr.WithDetails(tserr.ErrInvalidInput, map[string]string{"wallet": name})
	if suggestions := walletpref.Suggest(name); len(suggestions) > 0 {
		return "", tserr.WithSuggestion(err, "did you mean: "+strings.Join(suggestions, ", ")+"?")
	}
	return "", tserr.WithSuggestion(err, "run 'tessera wallet known' to list supported wallets")
}

func writeLoginResult(cmd *cobra.Command, res *login.Result) error {
	return formatterFor(cmd).Emit(res, func(w io.Writer) error {
		out(w, "Signed in")
		if res.User != nil && res.User.Email != "" {
			out(w, " as %s", res.User.Email)
		}
		outln(w)
		out(w, "  wallet:    %s\n", res.Address)
		if res.WalletClientType != "" {
			out(w, "  client:    %s\n", res.WalletClientType)
		}
		if res.Connector != "" {
			out(w, "  connector: %s\n", res.Connector)
		}
		out(w, "  backend:   %s\n", registrationText(res.Registered))
		return nil
	})
}

func registrationText(ok bool) string {
	if ok {
		return "registered"
	}
	return "not registered"
}

func runLogout(cmd *cobra.Command, _ []string) error {
	ctx, cancel := contextWithTimeout(cmd, 30*time.Second)
	defer cancel()

	if err := cmdCtx.openAuth(ctx); err != nil {
		return err
	}
	if err := cmdCtx.Auth.Logout(ctx); err != nil {
		return err
	}
	if err := cmdCtx.openWallets(); err != nil {
		return err
	}
	if err := cmdCtx.Prefs.Clear(); err != nil {
		return err
	}
	if err := cmdCtx.Deeplink.Clear(); err != nil {
		cmdCtx.Logger.Error("logout: clearing deeplink flow: %v", err)
	}
	return formatterFor(cmd).Success("Signed out")
}

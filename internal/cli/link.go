package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/tessera/internal/embedded"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// linkCmd attaches login methods to the signed-in user.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link a login method to your account",
	Long:  `Link another login method to the signed-in account.`,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var linkWalletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Link an external wallet",
	Long: `Link an external wallet by signing a Sign-In With Solana message. You stay
signed in with your current login method.`,
	Example: `  tessera link wallet --wallet solflare`,
	Args:    cobra.NoArgs,
	RunE:    runLinkWallet,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var linkOAuthCmd = &cobra.Command{
	Use:   "oauth <provider>",
	Short: "Link an OAuth account",
	Long: `Link an OAuth account configured under provider.oauth to the signed-in
account.`,
	Example: `  tessera link oauth google`,
	Args:    cobra.ExactArgs(1),
	RunE:    runLinkOAuth,
}

// unlinkCmd detaches login methods.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var unlinkCmd = &cobra.Command{
	Use:   "unlink",
	Short: "Remove a login method from your account",
	Long: `Remove a linked login method. The last remaining login method cannot be
removed.`,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var unlinkWalletCmd = &cobra.Command{
	Use:               "wallet <address>",
	Short:             "Unlink an external wallet",
	Long:              `Unlink an external wallet from the account and forget it locally.`,
	Example:           `  tessera unlink wallet 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeWalletAddresses,
	RunE:              runUnlinkWallet,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var unlinkOAuthCmd = &cobra.Command{
	Use:     "oauth <provider> <subject>",
	Short:   "Unlink an OAuth account",
	Long:    `Unlink an OAuth account. The subject is shown by 'tessera status'.`,
	Example: `  tessera unlink oauth google 109876543210`,
	Args:    cobra.ExactArgs(2),
	RunE:    runUnlinkOAuth,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var linkWalletName string

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(linkCmd, unlinkCmd)
	linkCmd.AddCommand(linkWalletCmd, linkOAuthCmd)
	unlinkCmd.AddCommand(unlinkWalletCmd, unlinkOAuthCmd)

	linkWalletCmd.Flags().StringVar(&linkWalletName, "wallet", "", "wallet name or app package")
	_ = linkWalletCmd.RegisterFlagCompletionFunc("wallet", completeWalletNames)

	linkCmd.GroupID = groupSecurity
	unlinkCmd.GroupID = groupSecurity
}

func runLinkWallet(cmd *cobra.Command, _ []string) error {
	pkg, err := resolveWalletPackage(linkWalletName)
	if err != nil {
		return err
	}

	ctx, cancel := contextWithTimeout(cmd, loginTimeout)
	defer cancel()

	if err := requireSignedIn(cmd); err != nil {
		return err
	}
	if err := cmdCtx.openWallets(); err != nil {
		return err
	}
	res, err := cmdCtx.coordinator().LinkWallet(ctx, pkg)
	if err != nil {
		return err
	}
	return writeAccounts(cmd, "Linked wallet "+res.Address, res.User)
}

func runLinkOAuth(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithTimeout(cmd, loginTimeout)
	defer cancel()

	opts, err := cmdCtx.oauthOptions(ctx)
	if err != nil {
		return err
	}
	if err := cmdCtx.openAuth(ctx, opts...); err != nil {
		return err
	}
	user, err := cmdCtx.Auth.LinkOAuth(ctx, args[0])
	if err != nil {
		return err
	}
	return writeAccounts(cmd, "Linked "+args[0], user)
}

func runUnlinkWallet(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithTimeout(cmd, 30*time.Second)
	defer cancel()

	if err := requireSignedIn(cmd); err != nil {
		return err
	}
	user, err := cmdCtx.Auth.UnlinkWallet(ctx, args[0])
	if err != nil {
		return err
	}
	if err := cmdCtx.openPrefs(); err != nil {
		return err
	}
	if err := cmdCtx.Prefs.Remove(args[0]); err != nil && !tserr.Is(err, tserr.ErrNotFound) {
		cmdCtx.Logger.Error("unlink: removing wallet preference: %v", err)
	}
	forgetBalance(args[0])
	return writeAccounts(cmd, "Unlinked wallet "+args[0], user)
}

func runUnlinkOAuth(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithTimeout(cmd, 30*time.Second)
	defer cancel()

	if err := requireSignedIn(cmd); err != nil {
		return err
	}
	user, err := cmdCtx.Auth.UnlinkOAuth(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return writeAccounts(cmd, "Unlinked "+args[0], user)
}

// requireSignedIn opens the auth manager and fails unless a session exists.
func requireSignedIn(cmd *cobra.Command) error {
	ctx, cancel := contextWithTimeout(cmd, cfg.AuthInitTimeout()+5*time.Second)
	defer cancel()

	if err := cmdCtx.openAuth(ctx); err != nil {
		return err
	}
	if !cmdCtx.Auth.State().IsAuthenticated() {
		return tserr.WithSuggestion(tserr.ErrNotAuthenticated, "sign in first with 'tessera login'")
	}
	return nil
}

func writeAccounts(cmd *cobra.Command, message string, user *embedded.User) error {
	return formatterFor(cmd).Emit(user, func(w io.Writer) error {
		outln(w, message)
		writeLinkedAccounts(w, user)
		return nil
	})
}

func writeLinkedAccounts(w io.Writer, user *embedded.User) {
	if user == nil {
		return
	}
	outln(w, "Linked accounts:")
	for _, acct := range user.LinkedAccounts {
		switch acct.Type {
		case embedded.AccountWallet:
			out(w, "  wallet  %s", acct.Address)
			if acct.WalletClientType != "" {
				out(w, " (%s)", acct.WalletClientType)
			}
			outln(w)
		case embedded.AccountOAuth:
			out(w, "  oauth   %s %s\n", acct.Provider, acct.Subject)
		case embedded.AccountEmail, embedded.AccountPhone:
			out(w, "  %-7s %s\n", acct.Type, acct.Subject)
		}
	}
}

package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mrz1836/tessera/internal/deeplink"
	"github.com/mrz1836/tessera/internal/output"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// deeplinkCmd manages the universal-link wallet handshake.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var deeplinkCmd = &cobra.Command{
	Use:   "deeplink",
	Short: "Manage the wallet deeplink handshake",
	Long: `Deliver wallet redirects to a waiting login and recover handshakes
interrupted by a restart.`,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var deeplinkCallbackCmd = &cobra.Command{
	Use:   "callback <uri>",
	Short: "Deliver a wallet redirect",
	Long: `Deliver a wallet redirect to a waiting login. Register this command as the
handler for the configured deeplink.redirect_link.`,
	Example: `  tessera deeplink callback 'tessera://wallet/onConnect?phantom_encryption_public_key=...'`,
	Args:    cobra.ExactArgs(1),
	RunE:    runDeeplinkCallback,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var deeplinkResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Recover a handshake left by an earlier process",
	Long: `Recover a deeplink login left pending by an earlier process and finish it.
A buffered wallet response is replayed; otherwise the handshake is abandoned
after deeplink.resume_timeout_ms. A recovered connection continues with the
signing step.`,
	Example: `  tessera deeplink resume`,
	Args:    cobra.NoArgs,
	RunE:    runDeeplinkResume,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var deeplinkClearCmd = &cobra.Command{
	Use:     "clear",
	Short:   "Abandon any pending handshake",
	Long:    `Abandon any pending deeplink handshake and drop buffered responses.`,
	Example: `  tessera deeplink clear`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cmdCtx.openWallets(); err != nil {
			return err
		}
		if err := cmdCtx.Deeplink.Clear(); err != nil {
			return err
		}
		return formatterFor(cmd).Success("Deeplink session cleared")
	},
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(deeplinkCmd)
	deeplinkCmd.AddCommand(deeplinkCallbackCmd, deeplinkResumeCmd, deeplinkClearCmd)

	deeplinkCmd.GroupID = groupSecurity
}

func runDeeplinkCallback(cmd *cobra.Command, args []string) error {
	if err := cmdCtx.openWallets(); err != nil {
		return err
	}
	handled, err := cmdCtx.Deeplink.HandleWalletCallback(args[0])
	if err != nil {
		return err
	}
	if !handled {
		return tserr.WithSuggestion(tserr.ErrNoActiveSession, "start a login with 'tessera login deeplink' first")
	}
	return formatterFor(cmd).Success("Wallet response delivered")
}

type resumeReport struct {
	Flow deeplink.FlowState `json:"flow"`
}

func runDeeplinkResume(cmd *cobra.Command, _ []string) error {
	if err := cmdCtx.openWallets(); err != nil {
		return err
	}
	if !cmdCtx.Deeplink.HasActiveSession() {
		return formatterFor(cmd).Emit(resumeReport{Flow: deeplink.FlowIdle}, func(w io.Writer) error {
			outln(w, "No deeplink session is pending.")
			return nil
		})
	}

	ctx, cancel := contextWithTimeout(cmd, cfg.ResumeTimeout()+loginTimeout)
	defer cancel()
	if err := cmdCtx.openAuth(ctx); err != nil {
		return err
	}

	res, err := cmdCtx.coordinator().ResumeDeeplink(ctx)
	if res != nil && err != nil {
		output.Warn(os.Stderr, "signed in, but backend registration failed: %v", err)
		err = nil
	}
	if err != nil {
		return tserr.WithSuggestion(err, "start again with 'tessera login deeplink'")
	}
	return writeLoginResult(cmd, res)
}

package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/tessera/internal/embedded"
	"github.com/mrz1836/tessera/internal/walletpref"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session and wallet status",
	Long: `Show the session state, the signed-in user and linked accounts, the active
signing wallet and any pending deeplink handshake.`,
	Example: `  tessera status
  tessera status -o json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.GroupID = groupSecurity
}

type statusReport struct {
	State          string                 `json:"state"`
	Message        string                 `json:"message,omitempty"`
	User           *embedded.User         `json:"user,omitempty"`
	EmbeddedWallet string                 `json:"embedded_wallet,omitempty"`
	Active         *walletpref.WalletInfo `json:"active_wallet,omitempty"`
	Cluster        string                 `json:"cluster"`
	Endpoints      endpointReport         `json:"endpoints"`
	DeeplinkFlow   string                 `json:"deeplink_flow,omitempty"`
	TokenExpiry    *time.Time             `json:"token_expires_at,omitempty"`
	TokenExpired   bool                   `json:"token_expired,omitempty"`
}

// tokenSkew counts a token that is about to expire as expired.
const tokenSkew = time.Minute

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx, cancel := contextWithTimeout(cmd, cfg.AuthInitTimeout()+5*time.Second)
	defer cancel()

	if err := cmdCtx.openAuth(ctx); err != nil {
		return err
	}
	if err := cmdCtx.openWallets(); err != nil {
		return err
	}

	state := cmdCtx.Auth.State()
	report := statusReport{
		State:          state.Kind.String(),
		Message:        state.Message,
		User:           state.User,
		EmbeddedWallet: cmdCtx.Auth.WalletAddress(),
		Cluster:        cmdCtx.cluster().String(),
		Endpoints:      endpointsFrom(cfg),
	}
	if active, ok := cmdCtx.Prefs.Active(); ok {
		report.Active = &active
	}
	if cmdCtx.Deeplink.HasActiveSession() {
		report.DeeplinkFlow = cmdCtx.Deeplink.Flow().String()
	}
	if state.IsAuthenticated() && cmdCtx.Credentials != nil {
		if exp, ok := cmdCtx.Credentials.AccessTokenExpiry(); ok {
			report.TokenExpiry = &exp
			report.TokenExpired = cmdCtx.Credentials.AccessTokenExpired(time.Now(), tokenSkew)
		}
	}

	return formatterFor(cmd).Emit(report, func(w io.Writer) error {
		out(w, "Session:  %s\n", report.State)
		if report.Message != "" {
			out(w, "  %s\n", report.Message)
		}
		if report.User != nil && report.User.Email != "" {
			out(w, "User:     %s\n", report.User.Email)
		}
		if report.TokenExpiry != nil {
			if report.TokenExpired {
				outln(w, "Token:    expired, refreshed on the next API call")
			} else {
				out(w, "Token:    valid until %s\n", report.TokenExpiry.Local().Format(time.RFC3339))
			}
		}
		if report.EmbeddedWallet != "" {
			out(w, "Embedded: %s\n", report.EmbeddedWallet)
		}
		if report.Active != nil {
			out(w, "Signing:  %s (%s)\n", report.Active.Address, report.Active.Type)
		} else {
			outln(w, "Signing:  none selected")
		}
		out(w, "Cluster:  %s\n", report.Cluster)
		out(w, "RPC:      %s\n", report.Endpoints.RPC)
		for _, fb := range report.Endpoints.FallbackRPCs {
			out(w, "          %s (fallback)\n", fb)
		}
		if report.DeeplinkFlow != "" {
			out(w, "Deeplink: %s (run 'tessera deeplink resume')\n", report.DeeplinkFlow)
		}
		if report.User != nil {
			writeLinkedAccounts(w, report.User)
		}
		return nil
	})
}

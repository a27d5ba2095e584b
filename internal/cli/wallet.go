package cli

import (
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/tessera/internal/cache"
	"github.com/mrz1836/tessera/internal/output"
	"github.com/mrz1836/tessera/internal/walletpref"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// walletCmd is the parent command for wallet selection.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Select the signing wallet",
	Long:  `List connected wallets and choose which one signs transactions.`,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List connected wallets",
	Long:    `List connected wallets. The active signing wallet is marked with *.`,
	Example: `  tessera wallet list
  tessera wallet list -o json`,
	Args: cobra.NoArgs,
	RunE: runWalletList,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletUseCmd = &cobra.Command{
	Use:   "use <address>",
	Short: "Select the signing wallet",
	Long:  `Select a connected wallet to sign transactions.`,
	Example: `  tessera wallet use 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU
  tessera wallet use 7xKX... --app phantom`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeWalletAddresses,
	RunE:              runWalletUse,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletEmbeddedCmd = &cobra.Command{
	Use:     "embedded",
	Short:   "Sign with the embedded wallet",
	Long:    `Sign transactions with the embedded wallet of the signed-in user.`,
	Example: `  tessera wallet embedded`,
	Args:    cobra.NoArgs,
	RunE:    runWalletEmbedded,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletPickerCmd = &cobra.Command{
	Use:   "picker",
	Short: "Forget the wallet app so the system picker is shown",
	Long: `Forget the remembered wallet app of the active external wallet. The next
signing request lets the system choose the wallet app.`,
	Example: `  tessera wallet picker`,
	Args:    cobra.NoArgs,
	RunE:    runWalletPicker,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletRemoveCmd = &cobra.Command{
	Use:     "remove <address>",
	Aliases: []string{"rm"},
	Short:   "Forget a connected wallet",
	Long: `Forget a connected wallet. The account link is kept; use 'tessera unlink
wallet' to remove it.`,
	Example:           `  tessera wallet remove 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeWalletAddresses,
	RunE:              runWalletRemove,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletKnownCmd = &cobra.Command{
	Use:     "known",
	Short:   "List supported wallet apps",
	Long:    `List the wallet apps that can be named with --wallet.`,
	Example: `  tessera wallet known`,
	Args:    cobra.NoArgs,
	RunE:    runWalletKnown,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var walletUseApp string

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletListCmd, walletUseCmd, walletEmbeddedCmd, walletPickerCmd, walletRemoveCmd, walletKnownCmd)

	walletUseCmd.Flags().StringVar(&walletUseApp, "app", "", "wallet app to sign with (name or package)")
	_ = walletUseCmd.RegisterFlagCompletionFunc("app", completeWalletNames)

	walletCmd.GroupID = groupWallet
}

type walletListing struct {
	Wallets          []walletpref.WalletInfo `json:"wallets"`
	Active           string                  `json:"active,omitempty"`
	NeedsAppSelected bool                    `json:"needs_wallet_selection"`
}

func runWalletList(cmd *cobra.Command, _ []string) error {
	if err := cmdCtx.openPrefs(); err != nil {
		return err
	}
	prefs := cmdCtx.Prefs
	listing := walletListing{Wallets: prefs.List(), NeedsAppSelected: prefs.NeedsWalletSelection()}
	if active, ok := prefs.Active(); ok {
		listing.Active = active.Address
	}

	return formatterFor(cmd).Emit(listing, func(w io.Writer) error {
		if len(listing.Wallets) == 0 {
			outln(w, "No wallets connected. Run 'tessera login' to connect one.")
			return nil
		}
		table := output.NewTable("", "ADDRESS", "TYPE", "APP", "LABEL")
		for _, info := range listing.Wallets {
			marker := ""
			if info.Address == listing.Active {
				marker = "*"
			}
			app := info.TargetPackage
			if app == "" && info.Type == walletpref.TypeExternal {
				app = "(picker)"
			}
			table.AddRow(marker, info.Address, string(info.Type), app, info.Label)
		}
		return table.Render(w)
	})
}

func runWalletUse(cmd *cobra.Command, args []string) error {
	if err := cmdCtx.openPrefs(); err != nil {
		return err
	}
	address := args[0]
	if walletUseApp != "" {
		pkg, err := resolveWalletPackage(walletUseApp)
		if err != nil {
			return err
		}
		if err := cmdCtx.Prefs.SetTargetPackage(address, pkg); err != nil {
			return err
		}
	}
	if err := cmdCtx.Prefs.SetActive(address); err != nil {
		return tserr.WithSuggestion(err, "run 'tessera wallet list' to see connected wallets")
	}
	return formatterFor(cmd).Success("Signing with " + address)
}

func runWalletEmbedded(cmd *cobra.Command, _ []string) error {
	ctx, cancel := contextWithTimeout(cmd, 30*time.Second)
	defer cancel()

	if err := cmdCtx.openAuth(ctx); err != nil {
		return err
	}
	w, err := cmdCtx.Auth.ResolveWallet(ctx)
	if err != nil {
		return err
	}
	if err := cmdCtx.openPrefs(); err != nil {
		return err
	}
	if _, ok := cmdCtx.Prefs.Get(w.Address); !ok {
		if err := cmdCtx.Prefs.Upsert(walletpref.WalletInfo{
			Address: w.Address,
			Label:   "Embedded wallet",
			Type:    walletpref.TypeEmbedded,
		}); err != nil {
			return err
		}
	}
	if err := cmdCtx.Prefs.SetActive(w.Address); err != nil {
		return err
	}
	return formatterFor(cmd).Success("Signing with embedded wallet " + w.Address)
}

func runWalletPicker(cmd *cobra.Command, _ []string) error {
	if err := cmdCtx.openPrefs(); err != nil {
		return err
	}
	active, ok := cmdCtx.Prefs.Active()
	if !ok || active.Type != walletpref.TypeExternal {
		return tserr.WithSuggestion(tserr.ErrWalletSelectionRequired, "select an external wallet with 'tessera wallet use'")
	}
	if err := cmdCtx.Prefs.SetTargetPackage(active.Address, ""); err != nil {
		return err
	}
	return formatterFor(cmd).Success("The system wallet picker will be shown for " + active.Address)
}

func runWalletRemove(cmd *cobra.Command, args []string) error {
	if err := cmdCtx.openPrefs(); err != nil {
		return err
	}
	if err := cmdCtx.Prefs.Remove(args[0]); err != nil {
		return err
	}
	forgetBalance(args[0])
	return formatterFor(cmd).Success("Removed " + args[0])
}

func runWalletKnown(cmd *cobra.Command, _ []string) error {
	return formatterFor(cmd).Emit(walletpref.KnownWallets, func(w io.Writer) error {
		table := output.NewTable("NAME", "PACKAGE", "DEEPLINK")
		for _, k := range walletpref.KnownWallets {
			deeplink := "no"
			if k.Deeplink {
				deeplink = "yes"
			}
			table.AddRow(k.Name, k.Package, deeplink)
		}
		return table.Render(w)
	})
}

// forgetBalance drops cached balances of a wallet that is no longer tracked.
func forgetBalance(address string) {
	storage := cache.NewFileStorage(filepath.Join(cmdCtx.home(), cache.FileName))
	balances, err := storage.Load()
	if err != nil || balances.Size() == 0 {
		return
	}
	balances.Delete(address)
	if err := storage.Save(balances); err != nil {
		cmdCtx.Logger.Warn("balance cache: %v", err)
	}
}

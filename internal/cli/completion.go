package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/tessera/internal/config"
	"github.com/mrz1836/tessera/internal/walletpref"
)

// completionCmd generates shell completion scripts.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion scripts for tessera.

To load completions:

Bash:
  $ source <(tessera completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ tessera completion bash > /etc/bash_completion.d/tessera
  # macOS:
  $ tessera completion bash > $(brew --prefix)/etc/bash_completion.d/tessera

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ tessera completion zsh > "${fpath[1]}/_tessera"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ tessera completion fish | source

  # To load completions for each session, execute once:
  $ tessera completion fish > ~/.config/fish/completions/tessera.fish

PowerShell:
  PS> tessera completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> tessera completion powershell > tessera.ps1
  # and source this file from your PowerShell profile.
`,
	Example: `  tessera completion bash
  tessera completion zsh > "${fpath[1]}/_tessera"`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(completionCmd)
	completionCmd.GroupID = groupConfig
}

// completeWalletNames completes known wallet app names.
func completeWalletNames(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var names []string
	for _, w := range walletpref.KnownWallets {
		name := strings.ToLower(w.Name)
		if strings.HasPrefix(name, strings.ToLower(toComplete)) {
			names = append(names, name+"\t"+w.Package)
		}
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

// completeWalletAddresses completes connected wallet addresses from the
// preference file. Completion runs before initGlobals, so the home is
// resolved here.
func completeWalletAddresses(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	home, _ := cmd.Flags().GetString("home")
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}
	prefs, err := walletpref.Open(filepath.Join(config.ExpandHome(home), walletpref.FileName))
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var addrs []string
	for _, w := range prefs.List() {
		if strings.HasPrefix(w.Address, toComplete) {
			addrs = append(addrs, w.Address+"\t"+string(w.Type))
		}
	}
	return addrs, cobra.ShellCompDirectiveNoFileComp
}

// completeConfigKeys completes configuration paths.
func completeConfigKeys(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var keys []string
	for _, k := range configKeyNames() {
		if strings.HasPrefix(k, toComplete) {
			keys = append(keys, k)
		}
	}
	return keys, cobra.ShellCompDirectiveNoFileComp
}

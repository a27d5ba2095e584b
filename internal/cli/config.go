package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/tessera/internal/chain"
	"github.com/mrz1836/tessera/internal/config"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// configCmd is the parent command for configuration operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and modify Tessera configuration settings.`,
}

// configInitCmd initializes the configuration.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	Long: `Create a default configuration file at ~/.tessera/config.yaml.

If a configuration file already exists, this command will not overwrite it
unless --force is specified.`,
	Example: `  tessera config init
  tessera config init --force`,
	RunE: runConfigInit,
}

// configShowCmd shows the current configuration.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration settings. Secrets are masked.`,
	Example: `  tessera config show
  tessera config show -o json`,
	RunE: runConfigShow,
}

// configGetCmd gets a specific configuration value.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Get a configuration value",
	Long: `Get a specific configuration value by its path.

The path uses dot notation to navigate the configuration tree.`,
	Example: `  tessera config get network.cluster
  tessera config get output.default_format
  tessera config get logging.level`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeConfigKeys,
	RunE:              runConfigGet,
}

// configSetCmd sets a configuration value.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configSetCmd = &cobra.Command{
	Use:   "set <path> <value>",
	Short: "Set a configuration value",
	Long: `Set a specific configuration value by its path.

The path uses dot notation to navigate the configuration tree.
The configuration file will be updated immediately.`,
	Example: `  tessera config set network.cluster devnet
  tessera config set network.rpc https://api.devnet.solana.com
  tessera config set broadcast.commitment finalized`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeConfigKeys,
	RunE:              runConfigSet,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var configForce bool

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite existing configuration")

	configCmd.GroupID = groupConfig
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	configPath := config.Path(cfg.GetHome())

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil && !configForce {
		return tserr.WithSuggestion(
			tserr.ErrGeneral,
			fmt.Sprintf("configuration already exists at %s. Use --force to overwrite.", configPath),
		)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	defaultCfg := config.Defaults()
	defaultCfg.Home = cfg.Home

	if err := config.Save(defaultCfg, configPath); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	w := cmd.OutOrStdout()
	out(w, "Configuration initialized at %s\n", configPath)
	outln(w)
	outln(w, "Edit this file to configure:")
	outln(w, "  - network.cluster: mainnet-beta, devnet, testnet or localnet")
	outln(w, "  - network.rpc: Your Solana RPC endpoint")
	outln(w, "  - api.base_url: The backend API")
	outln(w, "  - provider.oauth: OAuth clients for social login")
	outln(w, "  - logging.level: Log level (off/error/warn/info/debug)")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	shown := *cfg
	if shown.Provider.TokenSecret != "" {
		shown.Provider.TokenSecret = maskedValue
	}
	shown.Provider.OAuth = make([]config.OAuthClient, len(cfg.Provider.OAuth))
	for i, oc := range cfg.Provider.OAuth {
		if oc.ClientSecret != "" {
			oc.ClientSecret = maskedValue
		}
		shown.Provider.OAuth[i] = oc
	}

	return formatterFor(cmd).Emit(&shown, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&shown); err != nil {
			return err
		}
		return enc.Close()
	})
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	value, err := getConfigValue(cfg, args[0])
	if err != nil {
		return unknownKey(err, args[0])
	}
	outln(cmd.OutOrStdout(), value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	path, value := args[0], args[1]

	if _, err := getConfigValue(cfg, path); err != nil {
		return unknownKey(err, path)
	}

	// Edit the file, not the merged view, so environment overrides are not persisted.
	configPath := config.Path(cfg.GetHome())
	currentCfg, err := config.Load(configPath)
	if err != nil {
		currentCfg = config.Defaults()
		currentCfg.Home = cfg.Home
	}

	if err := setConfigValue(currentCfg, path, value); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := config.Save(currentCfg, configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	if configKeys[path].secret {
		value = maskedValue
	}
	out(cmd.OutOrStdout(), "Set %s = %s\n", path, value)
	return nil
}

const maskedValue = "********"

func unknownKey(err error, path string) error {
	return tserr.WithSuggestion(err, fmt.Sprintf("configuration path '%s' not found; valid paths: %s",
		path, strings.Join(configKeyNames(), ", ")))
}

// configKey reads and writes one scalar setting.
type configKey struct {
	get    func(*config.Config) string
	set    func(*config.Config, string) error
	secret bool
}

// configKeys maps each dotted path to its setting.
//
//nolint:gochecknoglobals // static key table
var configKeys = map[string]configKey{
	"home": stringKey(func(c *config.Config) *string { return &c.Home }, nil),

	"app.name":      stringKey(func(c *config.Config) *string { return &c.App.Name }, nil),
	"app.domain":    stringKey(func(c *config.Config) *string { return &c.App.Domain }, nil),
	"app.uri":       stringKey(func(c *config.Config) *string { return &c.App.URI }, nil),
	"app.icon":      stringKey(func(c *config.Config) *string { return &c.App.Icon }, nil),
	"app.statement": stringKey(func(c *config.Config) *string { return &c.App.Statement }, nil),

	"network.cluster":       stringKey(func(c *config.Config) *string { return &c.Network.Cluster }, validCluster),
	"network.rpc":           stringKey(func(c *config.Config) *string { return &c.Network.RPC }, config.ValidateRPCURL),
	"network.fallback_rpcs": listKey(func(c *config.Config) *[]string { return &c.Network.FallbackRPCs }, config.ValidateRPCURL),
	"network.rate_burst":    intKey(func(c *config.Config) *int { return &c.Network.RateBurst }),

	"api.base_url":        stringKey(func(c *config.Config) *string { return &c.API.BaseURL }, config.ValidateRPCURL),
	"api.timeout_seconds": intKey(func(c *config.Config) *int { return &c.API.TimeoutSeconds }),

	"auth.init_timeout_seconds": intKey(func(c *config.Config) *int { return &c.Auth.InitTimeoutSeconds }),

	"mwa.association_timeout_seconds": intKey(func(c *config.Config) *int { return &c.MWA.AssociationTimeoutSeconds }),
	"mwa.default_package":             stringKey(func(c *config.Config) *string { return &c.MWA.DefaultPackage }, nil),

	"deeplink.redirect_link":        stringKey(func(c *config.Config) *string { return &c.Deeplink.RedirectLink }, nil),
	"deeplink.callback_ttl_seconds": intKey(func(c *config.Config) *int { return &c.Deeplink.CallbackTTLSeconds }),

	"broadcast.max_attempts":            intKey(func(c *config.Config) *int { return &c.Broadcast.MaxAttempts }),
	"broadcast.confirm_timeout_seconds": intKey(func(c *config.Config) *int { return &c.Broadcast.ConfirmTimeoutSeconds }),
	"broadcast.commitment":              stringKey(func(c *config.Config) *string { return &c.Broadcast.Commitment }, validCommitment),

	"provider.store_path":        stringKey(func(c *config.Config) *string { return &c.Provider.StorePath }, nil),
	"provider.token_ttl_minutes": intKey(func(c *config.Config) *int { return &c.Provider.TokenTTLMinutes }),
	"provider.token_secret":      secretKey(func(c *config.Config) *string { return &c.Provider.TokenSecret }),

	"output.default_format": stringKey(func(c *config.Config) *string { return &c.Output.DefaultFormat }, oneOf("text", "json", "auto")),
	"output.color":          stringKey(func(c *config.Config) *string { return &c.Output.Color }, oneOf("auto", "always", "never")),
	"output.verbose":        boolKey(func(c *config.Config) *bool { return &c.Output.Verbose }),

	"logging.level": stringKey(func(c *config.Config) *string { return &c.Logging.Level }, oneOf("off", "error", "warn", "info", "debug")),
	"logging.file":  stringKey(func(c *config.Config) *string { return &c.Logging.File }, nil),
}

func configKeyNames() []string {
	names := make([]string, 0, len(configKeys))
	for k := range configKeys {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// getConfigValue retrieves a value from the config using dot notation.
func getConfigValue(c *config.Config, path string) (string, error) {
	key, ok := configKeys[path]
	if !ok {
		return "", tserr.WithDetails(tserr.ErrUnknownConfigKey, map[string]string{"path": path})
	}
	if key.secret {
		if key.get(c) == "" {
			return "", nil
		}
		return maskedValue, nil
	}
	return key.get(c), nil
}

// setConfigValue sets a value in the config using dot notation.
func setConfigValue(c *config.Config, path, value string) error {
	key, ok := configKeys[path]
	if !ok {
		return tserr.WithDetails(tserr.ErrUnknownConfigKey, map[string]string{"path": path})
	}
	if err := key.set(c, value); err != nil {
		return tserr.WithDetails(tserr.WithCause(tserr.ErrConfigInvalid, err),
			map[string]string{"path": path, "value": value})
	}
	return nil
}

func stringKey(field func(*config.Config) *string, validate func(string) error) configKey {
	return configKey{
		get: func(c *config.Config) string { return *field(c) },
		set: func(c *config.Config, v string) error {
			if validate != nil {
				if err := validate(v); err != nil {
					return err
				}
			}
			*field(c) = v
			return nil
		},
	}
}

func secretKey(field func(*config.Config) *string) configKey {
	k := stringKey(field, nil)
	k.secret = true
	return k
}

func intKey(field func(*config.Config) *int) configKey {
	return configKey{
		get: func(c *config.Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *config.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("%q is not a non-negative integer", v)
			}
			*field(c) = n
			return nil
		},
	}
}

// listKey reads and writes a comma separated list. An empty value clears it.
func listKey(field func(*config.Config) *[]string, validate func(string) error) configKey {
	return configKey{
		get: func(c *config.Config) string { return strings.Join(*field(c), ",") },
		set: func(c *config.Config, v string) error {
			var items []string
			for _, item := range strings.Split(v, ",") {
				item = strings.TrimSpace(item)
				if item == "" {
					continue
				}
				if err := validate(item); err != nil {
					return err
				}
				items = append(items, item)
			}
			*field(c) = items
			return nil
		},
	}
}

func boolKey(field func(*config.Config) *bool) configKey {
	return configKey{
		get: func(c *config.Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *config.Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%q is not true or false", v)
			}
			*field(c) = b
			return nil
		},
	}
}

func oneOf(valid ...string) func(string) error {
	return func(v string) error {
		for _, s := range valid {
			if v == s {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s", strings.Join(valid, ", "))
	}
}

func validCluster(v string) error {
	if _, ok := chain.ParseCluster(v); !ok {
		return fmt.Errorf("unknown cluster %q", v)
	}
	return nil
}

func validCommitment(v string) error {
	return oneOf(string(chain.CommitmentProcessed), string(chain.CommitmentConfirmed), string(chain.CommitmentFinalized))(v)
}

package cli

import (
	"io"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

// devVersionString is reported for builds without version information.
const devVersionString = "dev"

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

//nolint:gochecknoglobals // set once from main via ldflags
var buildInfo BuildInfo

// SetBuildInfo records version information injected at build time.
func SetBuildInfo(version, commit, date string) {
	buildInfo = BuildInfo{Version: version, Commit: commit, Date: date}
}

// GetCurrentVersion returns the current version of tessera.
func GetCurrentVersion() string {
	return formatVersion(buildInfo.Version)
}

func formatVersion(v string) string {
	if v == devVersionString || v == "" {
		return devVersionString
	}
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}

// versionCmd prints build information.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Show the version, commit and build date of this binary.`,
	Example: `  tessera version
  tessera version -o json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := buildInfo
		info.Version = GetCurrentVersion()
		info.GoVersion = runtime.Version()
		info.Platform = runtime.GOOS + "/" + runtime.GOARCH

		return formatterFor(cmd).Emit(info, func(w io.Writer) error {
			out(w, "tessera %s\n", info.Version)
			if info.Commit != "" {
				out(w, "  commit: %s\n", info.Commit)
			}
			if info.Date != "" {
				out(w, "  built:  %s\n", info.Date)
			}
			out(w, "  go:     %s (%s)\n", info.GoVersion, info.Platform)
			return nil
		})
	},
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.GroupID = groupConfig
}

package cli

import (
	"bytes"
	"io"
	"testing"

	"github.com/spf13/cobra"

	"github.com/mrz1836/tessera/internal/config"
	"github.com/mrz1836/tessera/internal/output"
)

// withMockPrompts answers the code prompt with code and every confirmation
// with confirm, restoring the real prompts on cleanup.
func withMockPrompts(t *testing.T, code string, confirm bool) {
	t.Helper()
	origCode := promptCodeFn
	origConfirm := promptConfirmFn
	t.Cleanup(func() {
		promptCodeFn = origCode
		promptConfirmFn = origConfirm
	})
	promptCodeFn = func(string) (string, error) { return code, nil }
	promptConfirmFn = func(io.Reader, string) bool { return confirm }
}

// setupTestEnv points the package globals at a fresh home directory.
// Tests using it must not run in parallel.
func setupTestEnv(t *testing.T) (string, func()) {
	t.Helper()
	restore := saveGlobals(t)

	home := t.TempDir()
	cfg = config.Defaults()
	cfg.Home = home
	logger = config.NullLogger()
	formatter = output.NewFormatter(output.FormatText, io.Discard)
	cmdCtx = NewCommandContext(cfg, logger, formatter)
	cmdCtx.Keyring = nil
	return home, func() {
		cmdCtx.Close()
		restore()
	}
}

// newTestCmd returns a command whose stdout is captured.
func newTestCmd() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(io.Discard)
	return cmd, &buf
}

package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/tessera/internal/config"
	"github.com/mrz1836/tessera/internal/localsdk"
	"github.com/mrz1836/tessera/internal/output"
	"github.com/mrz1836/tessera/internal/walletpref"
)

// newTestContext builds a context rooted in a temp home with no OS keychain.
func newTestContext(t *testing.T) *CommandContext {
	t.Helper()
	c := config.Defaults()
	c.Home = t.TempDir()
	c.Network.Cluster = "devnet"
	c.Network.RPC = "http://127.0.0.1:1"

	cc := NewCommandContext(c, config.NullLogger(), output.NewFormatter(output.FormatText, nil))
	cc.Keyring = nil
	t.Cleanup(cc.Close)
	return cc
}

// openTestAuth opens the auth stack with a fast store cipher.
func openTestAuth(t *testing.T, c *CommandContext) {
	t.Helper()
	require.NoError(t, c.openAuth(context.Background(), localsdk.WithWorkFactor(10)))
}

func TestNewCommandContext_Lazy(t *testing.T) {
	t.Parallel()
	c := newTestContext(t)

	assert.NotNil(t, c.Config)
	assert.NotNil(t, c.Logger)
	assert.NotNil(t, c.Formatter)
	assert.NotNil(t, c.Launcher)
	assert.Nil(t, c.Auth)
	assert.Nil(t, c.Prefs)
	assert.Nil(t, c.RPC)
	assert.Nil(t, c.Tx)
	assert.Equal(t, "devnet", c.cluster().String())
}

func TestOpenAuth(t *testing.T) {
	t.Parallel()
	c := newTestContext(t)
	openTestAuth(t, c)

	require.NotNil(t, c.Auth)
	require.NotNil(t, c.Credentials)
	assert.False(t, c.Auth.State().IsAuthenticated())

	secret, err := os.ReadFile(filepath.Join(c.home(), providerSecretName+".secret"))
	require.NoError(t, err, "without a keychain the secret is kept in the home directory")
	assert.NotEmpty(t, secret)

	auth := c.Auth
	openTestAuth(t, c)
	assert.Same(t, auth, c.Auth, "opening twice reuses the services")
}

func TestOpenAuth_ConfiguredSecret(t *testing.T) {
	t.Parallel()
	c := newTestContext(t)
	c.Config.Provider.TokenSecret = "configured-secret"
	c.Config.Provider.StorePath = filepath.Join(c.home(), "custom", "store.age")
	openTestAuth(t, c)

	_, err := os.Stat(filepath.Join(c.home(), providerSecretName+".secret"))
	assert.True(t, os.IsNotExist(err), "a configured secret is not generated")
}

func TestOpenPrefs(t *testing.T) {
	t.Parallel()
	c := newTestContext(t)
	require.NoError(t, c.openPrefs())
	require.NotNil(t, c.Prefs)

	require.NoError(t, c.Prefs.Upsert(walletpref.WalletInfo{Address: "addr-1", Type: walletpref.TypeEmbedded}))
	prefs := c.Prefs
	require.NoError(t, c.openPrefs())
	assert.Same(t, prefs, c.Prefs)
}

func TestOpenChain(t *testing.T) {
	t.Parallel()
	c := newTestContext(t)
	c.openChain()
	require.NotNil(t, c.RPC)
	require.NotNil(t, c.Broadcaster)

	b := c.Broadcaster
	c.openChain()
	assert.Same(t, b, c.Broadcaster)
}

func TestOpenTx_DefaultsToEmbedded(t *testing.T) {
	t.Parallel()
	c := newTestContext(t)
	openTestAuth(t, c)
	require.NoError(t, c.openWallets())
	c.openTx()

	require.NotNil(t, c.Wallets)
	require.NotNil(t, c.Deeplink)
	require.NotNil(t, c.Tx)
	assert.False(t, c.Tx.NeedsWalletSelection())
	assert.NotNil(t, c.coordinator())
}

func TestPrefersDeeplink(t *testing.T) {
	t.Parallel()
	c := newTestContext(t)
	c.Config.Deeplink.PreferredForPackage = []string{"app.phantom"}

	assert.True(t, c.prefersDeeplink("app.phantom"))
	assert.False(t, c.prefersDeeplink("com.solflare.mobile"))
	assert.False(t, c.prefersDeeplink(""))
}

func TestClose_ReleasesCredentials(t *testing.T) {
	t.Parallel()
	c := newTestContext(t)
	openTestAuth(t, c)

	c.Close()
	assert.Nil(t, c.Credentials)
	assert.NotPanics(t, c.Close)
}

func TestContextWithTimeout_UsesCommandContext(t *testing.T) {
	t.Parallel()

	parent, parentCancel := context.WithCancel(context.Background())
	cmd := &cobra.Command{}
	cmd.SetContext(parent)

	ctx, cancel := contextWithTimeout(cmd, time.Second)
	defer cancel()

	parentCancel()

	select {
	case <-ctx.Done():
		require.ErrorIs(t, ctx.Err(), context.Canceled)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected derived context to cancel with the command context")
	}
}

func TestContextWithTimeout_FallbackBackground(t *testing.T) {
	t.Parallel()

	ctx, cancel := contextWithTimeout(&cobra.Command{}, 25*time.Millisecond)
	defer cancel()

	select {
	case <-ctx.Done():
		require.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected derived context deadline to trigger")
	}
}

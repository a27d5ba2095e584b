package walletpref_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/tessera/internal/walletpref"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

func openStore(t *testing.T) (*walletpref.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), walletpref.FileName)
	s, err := walletpref.Open(path)
	require.NoError(t, err)
	return s, path
}

func TestStore_ActiveSelection(t *testing.T) {
	t.Parallel()
	s, path := openStore(t)

	_, ok := s.Active()
	assert.False(t, ok)
	assert.False(t, s.NeedsWalletSelection())

	require.NoError(t, s.Upsert(walletpref.WalletInfo{Address: "EMB", Type: walletpref.TypeEmbedded, Primary: true}))
	require.NoError(t, s.Upsert(walletpref.WalletInfo{Address: "EXT", Connector: walletpref.ConnectorMWA}))
	require.NoError(t, s.SetActive("EXT"))

	assert.Equal(t, walletpref.TypeExternal, s.ActiveType())
	assert.True(t, s.NeedsWalletSelection())

	require.NoError(t, s.SetTargetPackage("EXT", "app.phantom"))
	assert.Equal(t, "app.phantom", s.TargetPackage())
	assert.False(t, s.NeedsWalletSelection())

	reopened, err := walletpref.Open(path)
	require.NoError(t, err)
	active, ok := reopened.Active()
	require.True(t, ok)
	assert.Equal(t, "EXT", active.Address)
	assert.Equal(t, "app.phantom", active.TargetPackage)
	assert.Len(t, reopened.List(), 2)
}

func TestStore_EmbeddedNeverNeedsSelection(t *testing.T) {
	t.Parallel()
	s, _ := openStore(t)
	require.NoError(t, s.Upsert(walletpref.WalletInfo{Address: "EMB", Type: walletpref.TypeEmbedded}))
	require.NoError(t, s.SetActive("EMB"))

	assert.Equal(t, walletpref.TypeEmbedded, s.ActiveType())
	assert.Empty(t, s.TargetPackage())
	assert.False(t, s.NeedsWalletSelection())
}

func TestStore_PrimaryIsExclusive(t *testing.T) {
	t.Parallel()
	s, _ := openStore(t)
	require.NoError(t, s.Upsert(walletpref.WalletInfo{Address: "A", Primary: true}))
	require.NoError(t, s.Upsert(walletpref.WalletInfo{Address: "B", Primary: true}))

	a, _ := s.Get("A")
	b, _ := s.Get("B")
	assert.False(t, a.Primary)
	assert.True(t, b.Primary)
}

func TestStore_Errors(t *testing.T) {
	t.Parallel()
	s, _ := openStore(t)

	require.ErrorIs(t, s.Upsert(walletpref.WalletInfo{}), tserr.ErrInvalidInput)
	require.ErrorIs(t, s.SetActive("missing"), tserr.ErrNotFound)
	require.ErrorIs(t, s.Remove("missing"), tserr.ErrNotFound)
	require.ErrorIs(t, s.SetTargetPackage("missing", "app.phantom"), tserr.ErrNotFound)
}

func TestStore_RemoveActive(t *testing.T) {
	t.Parallel()
	s, _ := openStore(t)
	require.NoError(t, s.Upsert(walletpref.WalletInfo{Address: "A"}))
	require.NoError(t, s.SetActive("A"))
	require.NoError(t, s.Remove("A"))

	_, ok := s.Active()
	assert.False(t, ok)
	assert.Empty(t, s.List())
}

func TestSuggest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  string
	}{
		{"phantm", "app.phantom"},
		{"solflar", "com.solflare.mobile"},
		{"app.phantom", "app.phantom"},
		{"Backpak", "app.backpack.mobile"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got := walletpref.Suggest(tt.input)
			require.NotEmpty(t, got)
			assert.Equal(t, tt.want, got[0])
		})
	}

	assert.Empty(t, walletpref.Suggest("definitely-not-a-wallet"))
	assert.Empty(t, walletpref.Suggest(""))
}

func TestLookupAndClientType(t *testing.T) {
	t.Parallel()
	w, ok := walletpref.Lookup("Phantom")
	require.True(t, ok)
	assert.Equal(t, "app.phantom", w.Package)
	assert.True(t, w.Deeplink)

	assert.Equal(t, "solflare", walletpref.ClientType("com.solflare.mobile"))
	assert.Equal(t, "com.example.wallet", walletpref.ClientType("com.example.wallet"))
}

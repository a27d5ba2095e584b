package deeplink_test

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"

	"github.com/mrz1836/tessera/internal/deeplink"
	"github.com/mrz1836/tessera/internal/platform"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

const (
	phantomPkg  = "app.phantom"
	phantomBase = "https://phantom.app/ul/v1"
	redirect    = "tessera://wallet-callback"
)

// fakePhantom answers connect and signMessage links the way the wallet app
// would, producing the redirect it would send back.
type fakePhantom struct {
	t       *testing.T
	pub     *[32]byte
	priv    *[32]byte
	account solana.PrivateKey
	reject  string

	mu        sync.Mutex
	opened    []string
	callbacks []string
}

func newFakePhantom(t *testing.T) *fakePhantom {
	t.Helper()
	pub, priv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)
	account, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return &fakePhantom{t: t, pub: pub, priv: priv, account: account}
}

func (w *fakePhantom) Open(_ context.Context, link, _ string) error {
	u, err := url.Parse(link)
	require.NoError(w.t, err)
	q := u.Query()

	dappRaw, err := base58.Decode(q.Get("dapp_encryption_public_key"))
	require.NoError(w.t, err)
	var dappPub, shared [32]byte
	copy(dappPub[:], dappRaw)
	box.Precompute(&shared, &dappPub, w.priv)

	reply := url.Values{}
	switch {
	case w.reject != "":
		reply.Set("errorCode", w.reject)
		reply.Set("errorMessage", "User rejected the request.")
	case strings.HasSuffix(u.Path, deeplink.PathConnect):
		reply.Set("phantom_encryption_public_key", base58.Encode(w.pub[:]))
		w.sealInto(reply, shared, map[string]string{
			"public_key": w.account.PublicKey().String(),
			"session":    "session-token",
		})
	case strings.HasSuffix(u.Path, deeplink.PathSignMessage):
		var nonce [24]byte
		rawNonce, err := base58.Decode(q.Get("nonce"))
		require.NoError(w.t, err)
		copy(nonce[:], rawNonce)
		sealed, err := base58.Decode(q.Get("payload"))
		require.NoError(w.t, err)
		plain, ok := box.OpenAfterPrecomputation(nil, sealed, &nonce, &shared)
		require.True(w.t, ok)
		var payload struct {
			Message string `json:"message"`
			Session string `json:"session"`
		}
		require.NoError(w.t, json.Unmarshal(plain, &payload))
		assert.Equal(w.t, "session-token", payload.Session)
		msg, err := base58.Decode(payload.Message)
		require.NoError(w.t, err)
		sig, err := w.account.Sign(msg)
		require.NoError(w.t, err)
		w.sealInto(reply, shared, map[string]string{"signature": sig.String()})
	default:
		w.t.Fatalf("unexpected link %s", link)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.opened = append(w.opened, link)
	w.callbacks = append(w.callbacks, q.Get("redirect_link")+"?"+reply.Encode())
	return nil
}

func (w *fakePhantom) sealInto(reply url.Values, shared [32]byte, v any) {
	plain, err := json.Marshal(v)
	require.NoError(w.t, err)
	var nonce [24]byte
	_, err = rand.Read(nonce[:])
	require.NoError(w.t, err)
	reply.Set("nonce", base58.Encode(nonce[:]))
	reply.Set("data", base58.Encode(box.SealAfterPrecomputation(nil, plain, &nonce, &shared)))
}

func (w *fakePhantom) lastCallback() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	require.NotEmpty(w.t, w.callbacks)
	return w.callbacks[len(w.callbacks)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager(path string, launcher platform.Launcher, opts ...deeplink.Option) *deeplink.Manager {
	base := []deeplink.Option{
		deeplink.WithWallets(map[string]string{phantomPkg: phantomBase}),
		deeplink.WithRedirectLink(redirect),
		deeplink.WithAppURL("https://tessera.app"),
		deeplink.WithPollInterval(10 * time.Millisecond),
		deeplink.WithResumeTimeout(150 * time.Millisecond),
	}
	return deeplink.New(path, launcher, append(base, opts...)...)
}

func statePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), deeplink.FileName)
}

func connect(t *testing.T, m *deeplink.Manager, wallet *fakePhantom) string {
	t.Helper()
	ctx := context.Background()
	_, err := m.StartConnect(ctx, phantomPkg)
	require.NoError(t, err)
	handled, err := m.HandleWalletCallback(wallet.lastCallback())
	require.NoError(t, err)
	require.True(t, handled)
	addr, err := m.AwaitConnect(ctx)
	require.NoError(t, err)
	return addr
}

func TestHandshake(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	wallet := newFakePhantom(t)
	m := newManager(statePath(t), wallet)

	link, err := m.StartConnect(ctx, phantomPkg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, phantomBase+"/connect?"))
	assert.Equal(t, deeplink.FlowAwaitingConnect, m.Flow())
	assert.True(t, m.HasActiveSession())

	handled, err := m.HandleWalletCallback(wallet.lastCallback())
	require.NoError(t, err)
	require.True(t, handled)
	addr, err := m.AwaitConnect(ctx)
	require.NoError(t, err)
	assert.Equal(t, wallet.account.PublicKey().String(), addr)
	assert.Equal(t, addr, m.GetConnectedAddress())

	msg := []byte("tessera.app wants you to sign in with your Solana account")
	require.NoError(t, m.ResetCallbacks())
	link, err = m.StartSignMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, phantomBase+"/signMessage?"))
	assert.Equal(t, deeplink.FlowAwaitingSign, m.Flow())

	handled, err = m.HandleWalletCallback(wallet.lastCallback())
	require.NoError(t, err)
	require.True(t, handled)
	sig, err := m.AwaitSignature(ctx)
	require.NoError(t, err)
	assert.True(t, solana.SignatureFromBytes(sig).Verify(wallet.account.PublicKey(), msg))

	assert.Equal(t, deeplink.FlowIdle, m.Flow())
	assert.Equal(t, msg, m.PendingSiwsMessage())
	assert.Empty(t, m.LastError())
}

func TestStaleCallbacksIgnored(t *testing.T) {
	t.Parallel()
	wallet := newFakePhantom(t)
	m := newManager(statePath(t), wallet)

	handled, err := m.HandleWalletCallback(redirect + "?data=x")
	require.NoError(t, err)
	assert.False(t, handled)

	connect(t, m, wallet)
	_, err = m.StartSignMessage(context.Background(), []byte("hello"))
	require.NoError(t, err)
	cb := wallet.lastCallback()
	_, err = m.HandleWalletCallback(cb)
	require.NoError(t, err)
	_, err = m.AwaitSignature(context.Background())
	require.NoError(t, err)

	handled, err = m.HandleWalletCallback(cb)
	require.NoError(t, err)
	assert.False(t, handled, "a replayed callback after completion must be ignored")
}

func TestCallbackFromAnotherProcess(t *testing.T) {
	t.Parallel()
	path := statePath(t)
	wallet := newFakePhantom(t)
	waiter := newManager(path, wallet)

	_, err := waiter.StartConnect(context.Background(), phantomPkg)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		handler := newManager(path, wallet)
		_, _ = handler.HandleWalletCallback(wallet.lastCallback())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	addr, err := waiter.AwaitConnect(ctx)
	require.NoError(t, err)
	assert.Equal(t, wallet.account.PublicKey().String(), addr)
}

func TestResume(t *testing.T) {
	t.Parallel()

	t.Run("idle", func(t *testing.T) {
		t.Parallel()
		m := newManager(statePath(t), newFakePhantom(t))
		res, err := m.Resume(context.Background())
		require.NoError(t, err)
		assert.Equal(t, deeplink.FlowIdle, res.Flow)
	})

	t.Run("replays buffered connect callback", func(t *testing.T) {
		t.Parallel()
		path := statePath(t)
		wallet := newFakePhantom(t)
		_, err := newManager(path, wallet).StartConnect(context.Background(), phantomPkg)
		require.NoError(t, err)
		_, err = newManager(path, wallet).HandleWalletCallback(wallet.lastCallback())
		require.NoError(t, err)

		restarted := newManager(path, wallet)
		res, err := restarted.Resume(context.Background())
		require.NoError(t, err)
		assert.Equal(t, deeplink.FlowAwaitingConnect, res.Flow)
		assert.Equal(t, wallet.account.PublicKey().String(), res.Address)
	})

	t.Run("connected before restart", func(t *testing.T) {
		t.Parallel()
		path := statePath(t)
		wallet := newFakePhantom(t)
		connect(t, newManager(path, wallet), wallet)

		res, err := newManager(path, wallet).Resume(context.Background())
		require.NoError(t, err)
		assert.Equal(t, wallet.account.PublicKey().String(), res.Address)
		assert.Equal(t, phantomPkg, res.TargetPackage)
	})

	t.Run("replays buffered sign callback", func(t *testing.T) {
		t.Parallel()
		path := statePath(t)
		wallet := newFakePhantom(t)
		first := newManager(path, wallet)
		connect(t, first, wallet)
		msg := []byte("challenge")
		_, err := first.StartSignMessage(context.Background(), msg)
		require.NoError(t, err)
		_, err = newManager(path, wallet).HandleWalletCallback(wallet.lastCallback())
		require.NoError(t, err)

		res, err := newManager(path, wallet).Resume(context.Background())
		require.NoError(t, err)
		assert.Equal(t, deeplink.FlowAwaitingSign, res.Flow)
		assert.Equal(t, msg, res.Message)
		assert.Equal(t, wallet.account.PublicKey().String(), res.Address)
		assert.True(t, solana.SignatureFromBytes(res.Signature).Verify(wallet.account.PublicKey(), msg))
	})

	t.Run("interrupted", func(t *testing.T) {
		t.Parallel()
		path := statePath(t)
		wallet := newFakePhantom(t)
		first := newManager(path, wallet)
		connect(t, first, wallet)
		_, err := first.StartSignMessage(context.Background(), []byte("challenge"))
		require.NoError(t, err)

		restarted := newManager(path, wallet)
		_, err = restarted.Resume(context.Background())
		require.ErrorIs(t, err, tserr.ErrFlowInterrupted)
		assert.False(t, restarted.HasActiveSession())
		assert.Empty(t, restarted.GetConnectedAddress())
		assert.Nil(t, restarted.PendingSiwsMessage())
	})

	t.Run("expired buffer", func(t *testing.T) {
		t.Parallel()
		path := statePath(t)
		wallet := newFakePhantom(t)
		clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		opts := []deeplink.Option{deeplink.WithClock(clock.Now), deeplink.WithCallbackTTL(time.Minute)}

		_, err := newManager(path, wallet, opts...).StartConnect(context.Background(), phantomPkg)
		require.NoError(t, err)
		_, err = newManager(path, wallet, opts...).HandleWalletCallback(wallet.lastCallback())
		require.NoError(t, err)

		clock.Advance(2 * time.Minute)
		_, err = newManager(path, wallet, opts...).Resume(context.Background())
		require.ErrorIs(t, err, tserr.ErrFlowInterrupted)
	})
}

func TestWalletRejection(t *testing.T) {
	t.Parallel()
	wallet := newFakePhantom(t)
	wallet.reject = "4001"
	m := newManager(statePath(t), wallet)

	_, err := m.StartConnect(context.Background(), phantomPkg)
	require.NoError(t, err)
	_, err = m.HandleWalletCallback(wallet.lastCallback())
	require.NoError(t, err)

	_, err = m.AwaitConnect(context.Background())
	require.ErrorIs(t, err, tserr.ErrUserCancelled)
	assert.NotEmpty(t, m.LastError())
	assert.Equal(t, deeplink.FlowIdle, m.Flow())
}

func TestResetCallbacks(t *testing.T) {
	t.Parallel()
	wallet := newFakePhantom(t)
	m := newManager(statePath(t), wallet)

	_, err := m.StartConnect(context.Background(), phantomPkg)
	require.NoError(t, err)
	_, err = m.HandleWalletCallback(wallet.lastCallback())
	require.NoError(t, err)
	require.NoError(t, m.ResetCallbacks())

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, err = m.AwaitConnect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartErrors(t *testing.T) {
	t.Parallel()

	t.Run("unknown wallet", func(t *testing.T) {
		t.Parallel()
		m := newManager(statePath(t), newFakePhantom(t))
		_, err := m.StartConnect(context.Background(), "com.unknown.wallet")
		require.ErrorIs(t, err, tserr.ErrNotSupported)
	})

	t.Run("sign without connect", func(t *testing.T) {
		t.Parallel()
		m := newManager(statePath(t), newFakePhantom(t))
		_, err := m.StartSignMessage(context.Background(), []byte("x"))
		require.ErrorIs(t, err, tserr.ErrNoActiveSession)
	})

	t.Run("no handler", func(t *testing.T) {
		t.Parallel()
		m := newManager(statePath(t), noHandler{})
		_, err := m.StartConnect(context.Background(), phantomPkg)
		require.ErrorIs(t, err, tserr.ErrNoWalletInstalled)
		assert.False(t, m.HasActiveSession())
	})
}

type noHandler struct{}

func (noHandler) Open(context.Context, string, string) error { return platform.ErrNoHandler }

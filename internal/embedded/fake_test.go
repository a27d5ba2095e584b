package embedded_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/mrz1836/tessera/internal/embedded"
	"github.com/mrz1836/tessera/internal/siws"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

var (
	errSDK       = errors.New("sdk exploded")
	errTransient = errors.New("temporarily unavailable")
)

// fakeProvider is an in-memory custodial SDK with call counters.
type fakeProvider struct {
	mu sync.Mutex

	startErr       error
	notReadyPoll   int // Status returns NotReady this many times
	alwaysNotReady bool
	statusCalls    int
	sessionUser    *embedded.User
	token          string
	loginErr       error

	createCount   atomic.Int32
	createDelay   time.Duration
	createErr     error
	walletOnError bool // a failed create still leaves a wallet behind
	currentErr    error

	unlinkCalls  int
	refreshCalls int

	issued map[string]bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{token: "token-1", issued: make(map[string]bool)}
}

func (f *fakeProvider) Start(context.Context) error { return f.startErr }

func (f *fakeProvider) Status(context.Context) (embedded.ProviderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.alwaysNotReady || f.statusCalls <= f.notReadyPoll {
		return embedded.ProviderNotReady, nil
	}
	if f.sessionUser != nil {
		return embedded.ProviderAuthenticated, nil
	}
	return embedded.ProviderUnauthenticated, nil
}

func (f *fakeProvider) CurrentUser(context.Context) (*embedded.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	if f.sessionUser == nil {
		return nil, tserr.ErrNotAuthenticated
	}
	return f.sessionUser.Clone(), nil
}

func (f *fakeProvider) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeProvider) RefreshAccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.sessionUser == nil {
		return "", tserr.ErrNotAuthenticated
	}
	f.token = fmt.Sprintf("token-%d", f.refreshCalls+1)
	return f.token, nil
}

func (f *fakeProvider) signIn(account embedded.LinkedAccount) (*embedded.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	f.sessionUser = &embedded.User{ID: "user-1", LinkedAccounts: []embedded.LinkedAccount{account}}
	if account.Type == embedded.AccountEmail {
		f.sessionUser.Email = account.Subject
	}
	return f.sessionUser.Clone(), nil
}

func (f *fakeProvider) LoginWithOAuth(_ context.Context, provider string) (*embedded.User, error) {
	return f.signIn(embedded.LinkedAccount{Type: embedded.AccountOAuth, Provider: provider, Subject: "sub-1"})
}

func (f *fakeProvider) SendEmailCode(context.Context, string) error { return f.loginErr }

func (f *fakeProvider) VerifyEmailCode(_ context.Context, email, _ string) (*embedded.User, error) {
	return f.signIn(embedded.LinkedAccount{Type: embedded.AccountEmail, Subject: email})
}

func (f *fakeProvider) SendSmsCode(context.Context, string) error { return f.loginErr }

func (f *fakeProvider) VerifySmsCode(_ context.Context, phone, _ string) (*embedded.User, error) {
	return f.signIn(embedded.LinkedAccount{Type: embedded.AccountPhone, Subject: phone})
}

func (f *fakeProvider) GenerateSiwsMessage(_ context.Context, p embedded.PendingSiwsParams) (string, error) {
	nonce, err := siws.NewNonce()
	if err != nil {
		return "", err
	}
	text, err := siws.Build(&siws.Message{
		Domain: p.Domain, Address: p.WalletAddress, URI: p.URI,
		ChainID: "solana:mainnet", Nonce: nonce,
	})
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.issued[text] = true
	f.mu.Unlock()
	return text, nil
}

func (f *fakeProvider) verifySiws(message, signature string) (*siws.Message, error) {
	f.mu.Lock()
	ok := f.issued[message]
	delete(f.issued, message)
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("unknown challenge")
	}
	sig, err := siws.DecodeSignature(signature)
	if err != nil {
		return nil, err
	}
	return siws.Verify(message, sig, time.Now())
}

func (f *fakeProvider) LoginWithSiws(_ context.Context, message, signature string, meta embedded.SiwsMetadata) (*embedded.User, error) {
	m, err := f.verifySiws(message, signature)
	if err != nil {
		return nil, err
	}
	return f.signIn(embedded.LinkedAccount{Type: embedded.AccountWallet, Address: m.Address, WalletClientType: meta.WalletClientType})
}

func (f *fakeProvider) LinkWithSiws(_ context.Context, message, signature string, meta embedded.SiwsMetadata) (*embedded.User, error) {
	m, err := f.verifySiws(message, signature)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionUser == nil {
		return nil, tserr.ErrNotAuthenticated
	}
	f.sessionUser.LinkedAccounts = append(f.sessionUser.LinkedAccounts, embedded.LinkedAccount{
		Type: embedded.AccountWallet, Address: m.Address, WalletClientType: meta.WalletClientType,
	})
	return f.sessionUser.Clone(), nil
}

func (f *fakeProvider) LinkOAuth(_ context.Context, provider string) (*embedded.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionUser.LinkedAccounts = append(f.sessionUser.LinkedAccounts, embedded.LinkedAccount{
		Type: embedded.AccountOAuth, Provider: provider, Subject: "sub-2",
	})
	return f.sessionUser.Clone(), nil
}

func (f *fakeProvider) removeAccount(match func(embedded.LinkedAccount) bool) (*embedded.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlinkCalls++
	kept := f.sessionUser.LinkedAccounts[:0]
	for _, a := range f.sessionUser.LinkedAccounts {
		if !match(a) {
			kept = append(kept, a)
		}
	}
	f.sessionUser.LinkedAccounts = kept
	return f.sessionUser.Clone(), nil
}

func (f *fakeProvider) UnlinkOAuth(_ context.Context, provider, subject string) (*embedded.User, error) {
	return f.removeAccount(func(a embedded.LinkedAccount) bool {
		return a.Type == embedded.AccountOAuth && a.Provider == provider && a.Subject == subject
	})
}

func (f *fakeProvider) UnlinkWallet(_ context.Context, address string) (*embedded.User, error) {
	return f.removeAccount(func(a embedded.LinkedAccount) bool {
		return a.Type == embedded.AccountWallet && a.Address == address
	})
}

func (f *fakeProvider) CreateEmbeddedWallet(context.Context) (*embedded.Wallet, error) {
	f.createCount.Add(1)
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		if f.walletOnError {
			f.sessionUser.EmbeddedWallets = append(f.sessionUser.EmbeddedWallets, embedded.Wallet{Address: "RACED"})
		}
		return nil, f.createErr
	}
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}
	w := embedded.Wallet{Address: key.PublicKey().String(), Index: len(f.sessionUser.EmbeddedWallets)}
	f.sessionUser.EmbeddedWallets = append(f.sessionUser.EmbeddedWallets, w)
	return &w, nil
}

func (f *fakeProvider) SignMessage(_ context.Context, address string, message []byte) ([]byte, error) {
	return []byte(address + ":" + string(message)), nil
}

func (f *fakeProvider) SignTransaction(_ context.Context, address, tx string) (string, error) {
	return "signed:" + address + ":" + tx, nil
}

func (f *fakeProvider) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionUser = nil
	return nil
}

func (f *fakeProvider) setCurrentErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentErr = err
}

// fakeTokens is an in-memory TokenStore.
type fakeTokens struct {
	mu       sync.Mutex
	access   string
	fallback string
	clears   int
}

func (t *fakeTokens) AccessToken() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.access
}

func (t *fakeTokens) SetAccessToken(_ context.Context, token string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.access = token
	return nil
}

func (t *fakeTokens) FallbackAddress() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fallback
}

func (t *fakeTokens) SetFallbackAddress(_ context.Context, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fallback = address
	return nil
}

func (t *fakeTokens) Clear(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.access, t.fallback = "", ""
	t.clears++
	return nil
}

// recordingLogger captures critical messages.
type recordingLogger struct {
	mu       sync.Mutex
	critical []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Error(string, ...any) {}

func (l *recordingLogger) Critical(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.critical = append(l.critical, fmt.Sprintf(format, args...))
}

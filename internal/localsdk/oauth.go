package localsdk

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/mrz1836/tessera/internal/embedded"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

const callbackPath = "/callback"

// OAuthClient is an OIDC client used for social login.
type OAuthClient struct {
	Name     string
	Config   *oauth2.Config
	Verifier *oidc.IDTokenVerifier
}

// DiscoverOAuthClient builds a client from the issuer's discovery document.
func DiscoverOAuthClient(ctx context.Context, name, issuer, clientID, clientSecret string, scopes []string) (*OAuthClient, error) {
	if issuer == "" || clientID == "" {
		return nil, tserr.Wrap(tserr.ErrConfigInvalid, "oauth client %q requires issuer and client_id", name)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, tserr.WithCause(tserr.ErrNetworkError, err)
	}
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}
	return &OAuthClient{
		Name: name,
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       scopes,
			Endpoint:     provider.Endpoint(),
		},
		Verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

type oauthIdentity struct {
	Subject string
	Email   string
}

func (id oauthIdentity) account(provider string) embedded.LinkedAccount {
	return embedded.LinkedAccount{Type: embedded.AccountOAuth, Provider: provider, Subject: id.Subject}
}

func (id oauthIdentity) matcher(provider string) func(embedded.LinkedAccount) bool {
	return func(a embedded.LinkedAccount) bool {
		return a.Type == embedded.AccountOAuth && a.Provider == provider && a.Subject == id.Subject
	}
}

type callbackResult struct {
	code string
	err  error
}

// LoginWithOAuth runs the authorization code flow and signs in the identity.
func (p *Provider) LoginWithOAuth(ctx context.Context, provider string) (*embedded.User, error) {
	id, err := p.runOAuth(ctx, provider)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	user, err := p.signInLocked(id.account(provider), id.matcher(provider))
	if err != nil {
		return nil, err
	}
	if user.Email == "" && id.Email != "" {
		rec := p.sessionLocked()
		rec.User.Email = id.Email
		user.Email = id.Email
		if err := p.saveLocked(); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// runOAuth opens the browser at the provider's consent page and waits for
// the redirect on a loopback listener. PKCE, state and nonce are all checked.
func (p *Provider) runOAuth(ctx context.Context, name string) (oauthIdentity, error) {
	client, ok := p.oauth[name]
	if !ok {
		return oauthIdentity{}, tserr.Wrap(tserr.ErrNotSupported, "oauth provider %q is not configured", name)
	}
	if p.launcher == nil {
		return oauthIdentity{}, tserr.Wrap(tserr.ErrNotSupported, "no browser launcher")
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", p.listenAddr)
	if err != nil {
		return oauthIdentity{}, fmt.Errorf("starting redirect listener: %w", err)
	}

	cfg := *client.Config
	cfg.RedirectURL = "http://" + ln.Addr().String() + callbackPath

	state, err := randomToken()
	if err != nil {
		_ = ln.Close()
		return oauthIdentity{}, err
	}
	nonce, err := randomToken()
	if err != nil {
		_ = ln.Close()
		return oauthIdentity{}, err
	}
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		res := readCallback(r, state)
		if res.err != nil {
			http.Error(w, "Sign-in failed. You can close this window.", http.StatusBadRequest)
		} else {
			_, _ = w.Write([]byte("Signed in. You can close this window."))
		}
		select {
		case results <- res:
		default:
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := cfg.AuthCodeURL(state, oidc.Nonce(nonce), oauth2.S256ChallengeOption(verifier))
	if err := p.launcher.Open(ctx, authURL, ""); err != nil {
		return oauthIdentity{}, err
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return oauthIdentity{}, ctx.Err()
	}
	if res.err != nil {
		return oauthIdentity{}, res.err
	}

	token, err := cfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return oauthIdentity{}, tserr.WithCause(tserr.ErrAuthentication, err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return oauthIdentity{}, tserr.Wrap(tserr.ErrAuthentication, "missing id_token")
	}

	idToken, err := client.Verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return oauthIdentity{}, tserr.WithCause(tserr.ErrAuthentication, err)
	}
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		return oauthIdentity{}, tserr.Wrap(tserr.ErrAuthentication, "invalid nonce")
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return oauthIdentity{}, tserr.WithCause(tserr.ErrAuthentication, err)
	}
	return oauthIdentity{Subject: idToken.Subject, Email: claims.Email}, nil
}

func readCallback(r *http.Request, state string) callbackResult {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		if e == "access_denied" {
			return callbackResult{err: tserr.ErrUserCancelled}
		}
		return callbackResult{err: tserr.Wrap(tserr.ErrAuthentication, "provider error: %s", e)}
	}
	if subtle.ConstantTimeCompare([]byte(q.Get("state")), []byte(state)) != 1 {
		return callbackResult{err: tserr.Wrap(tserr.ErrAuthentication, "invalid state")}
	}
	code := q.Get("code")
	if code == "" {
		return callbackResult{err: tserr.Wrap(tserr.ErrAuthentication, "missing code")}
	}
	return callbackResult{code: code}
}

func randomToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

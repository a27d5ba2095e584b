package localsdk

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// TokenIssuer is the iss claim of locally issued access tokens.
const TokenIssuer = "tessera-local"

// tokenRenewSkew renews cached tokens this long before they expire.
const tokenRenewSkew = 30 * time.Second

func (p *Provider) signingKey() []byte {
	sum := sha256.Sum256([]byte("tessera-access-token:" + p.secret))
	return sum[:]
}

// AccessToken returns the session's access token, issuing one if the
// cached token is missing or about to expire.
func (p *Provider) AccessToken(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Add(tokenRenewSkew).Before(p.tokenExp) {
		return p.token, nil
	}
	return p.issueLocked()
}

// RefreshAccessToken always issues a new token.
func (p *Provider) RefreshAccessToken(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issueLocked()
}

func (p *Provider) issueLocked() (string, error) {
	rec := p.sessionLocked()
	if rec == nil {
		return "", tserr.ErrNotAuthenticated
	}

	now := p.now()
	exp := now.Add(p.tokenTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   rec.User.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey())
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}

	p.token = token
	p.tokenExp = exp
	return token, nil
}

// ValidateToken verifies a token issued by this provider and returns its subject.
func (p *Provider) ValidateToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.signingKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return "", tserr.WithCause(tserr.ErrAuthentication, err)
	}
	return claims.Subject, nil
}

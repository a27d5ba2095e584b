package localsdk

import (
	"context"
	"time"

	"github.com/mrz1836/tessera/internal/embedded"
	"github.com/mrz1836/tessera/internal/siws"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// ChallengeTTL is how long an issued SIWS challenge stays valid.
const ChallengeTTL = 10 * time.Minute

// GenerateSiwsMessage issues a challenge for the wallet address. Issuing a
// new challenge invalidates the previous one for that address.
func (p *Provider) GenerateSiwsMessage(_ context.Context, params embedded.PendingSiwsParams) (string, error) {
	nonce, err := siws.NewNonce()
	if err != nil {
		return "", err
	}

	now := p.now()
	text, err := siws.Build(&siws.Message{
		Domain:         params.Domain,
		Address:        params.WalletAddress,
		Statement:      p.statement,
		URI:            params.URI,
		ChainID:        p.chainID,
		Nonce:          nonce,
		IssuedAt:       now,
		ExpirationTime: now.Add(ChallengeTTL),
	})
	if err != nil {
		return "", tserr.WithCause(tserr.ErrInvalidInput, err)
	}

	p.mu.Lock()
	p.challenges[params.WalletAddress] = text
	p.mu.Unlock()
	return text, nil
}

// LoginWithSiws signs in (or signs up) the wallet that signed the challenge.
func (p *Provider) LoginWithSiws(_ context.Context, message, signature string, meta embedded.SiwsMetadata) (*embedded.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, err := p.consumeChallengeLocked(message, signature)
	if err != nil {
		return nil, err
	}
	account := embedded.LinkedAccount{Type: embedded.AccountWallet, Address: m.Address, WalletClientType: meta.WalletClientType}
	return p.signInLocked(account, walletMatcher(m.Address))
}

// LinkWithSiws links the wallet that signed the challenge to the session user.
func (p *Provider) LinkWithSiws(_ context.Context, message, signature string, meta embedded.SiwsMetadata) (*embedded.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, err := p.consumeChallengeLocked(message, signature)
	if err != nil {
		return nil, err
	}
	account := embedded.LinkedAccount{Type: embedded.AccountWallet, Address: m.Address, WalletClientType: meta.WalletClientType}
	return p.linkLocked(account, walletMatcher(m.Address))
}

// consumeChallengeLocked verifies message against the outstanding challenge
// for its address. The challenge is spent on any verification attempt.
func (p *Provider) consumeChallengeLocked(message, signature string) (*siws.Message, error) {
	parsed, err := siws.Parse(message)
	if err != nil {
		return nil, tserr.WithCause(tserr.ErrInvalidInput, err)
	}

	issued, ok := p.challenges[parsed.Address]
	if !ok {
		return nil, tserr.ErrNoPendingChallenge
	}
	delete(p.challenges, parsed.Address)
	if issued != message {
		return nil, tserr.ErrChallengeMismatch
	}

	sig, err := siws.DecodeSignature(signature)
	if err != nil {
		return nil, tserr.WithCause(tserr.ErrAuthentication, err)
	}
	verified, err := siws.Verify(message, sig, p.now())
	if err != nil {
		return nil, tserr.WithCause(tserr.ErrAuthentication, err)
	}
	return verified, nil
}

func walletMatcher(address string) func(embedded.LinkedAccount) bool {
	return func(a embedded.LinkedAccount) bool {
		return a.Type == embedded.AccountWallet && a.Address == address
	}
}

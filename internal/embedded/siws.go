package embedded

import (
	"context"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

const siwsConnectorType = "external_wallet"

// GenerateSiwsMessage issues a SIWS challenge for address. Any earlier
// pending challenge stops being usable.
func (m *Manager) GenerateSiwsMessage(ctx context.Context, address string) (string, error) {
	params := PendingSiwsParams{Domain: m.domain, URI: m.uri, WalletAddress: address}
	m.siws.set(params)

	message, err := m.provider.GenerateSiwsMessage(ctx, params)
	if err != nil {
		m.siws.clear()
		return "", providerError(err)
	}
	if !m.siws.setMessage(params, message) {
		return "", tserr.Wrap(tserr.ErrChallengeMismatch, "challenge superseded")
	}
	return message, nil
}

// PendingSiws returns the pending challenge params and message.
func (m *Manager) PendingSiws() (PendingSiwsParams, string, bool) {
	return m.siws.pending()
}

// ClearPendingSiws drops the pending challenge.
func (m *Manager) ClearPendingSiws() {
	m.siws.clear()
}

// LoginWithSiws completes a primary login with the signed pending challenge.
// message must be the exact text GenerateSiwsMessage returned. The pending
// challenge is consumed whatever the outcome.
func (m *Manager) LoginWithSiws(ctx context.Context, message, signature, walletClientType string) (*User, error) {
	params, err := m.siws.consume(message)
	if err != nil {
		m.metrics.RecordAuthFlow(MethodSIWS, err)
		return nil, err
	}

	meta := loginMeta{siws: true, walletClientType: walletClientType}
	user, err := m.login(ctx, MethodSIWS, meta, func(ctx context.Context) (*User, error) {
		return m.provider.LoginWithSiws(ctx, message, signature, SiwsMetadata{
			WalletClientType: walletClientType,
			ConnectorType:    siwsConnectorType,
		})
	})
	if err != nil {
		return nil, err
	}

	if err := m.tokens.SetFallbackAddress(ctx, params.WalletAddress); err != nil {
		m.logger.Error("embedded: persisting fallback address: %v", err)
	}
	return user, nil
}

// LinkWithSiws links the signing wallet to the current user. The auth
// state is left unchanged.
func (m *Manager) LinkWithSiws(ctx context.Context, message, signature, walletClientType string) (*User, error) {
	if _, err := m.siws.consume(message); err != nil {
		m.metrics.RecordAuthFlow("link_siws", err)
		return nil, err
	}

	user, err := m.provider.LinkWithSiws(ctx, message, signature, SiwsMetadata{
		WalletClientType: walletClientType,
		ConnectorType:    siwsConnectorType,
	})
	if err == nil && user == nil {
		err = tserr.ErrNotAuthenticated
	}
	if err != nil {
		err = providerError(err)
		m.metrics.RecordAuthFlow("link_siws", err)
		return nil, err
	}

	m.setUser(user)
	m.metrics.RecordAuthFlow("link_siws", nil)
	return user.Clone(), nil
}

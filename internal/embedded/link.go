package embedded

import (
	"context"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// LinkOAuth links an OAuth account to the current user.
func (m *Manager) LinkOAuth(ctx context.Context, provider string) (*User, error) {
	user, err := m.provider.LinkOAuth(ctx, provider)
	return m.linked(user, err)
}

// UnlinkOAuth removes an OAuth account. The user's only login method cannot be removed.
func (m *Manager) UnlinkOAuth(ctx context.Context, provider, subject string) (*User, error) {
	if err := m.checkUnlink(ctx, func(a LinkedAccount) bool {
		return a.Type == AccountOAuth && a.Provider == provider && a.Subject == subject
	}); err != nil {
		return nil, err
	}
	user, err := m.provider.UnlinkOAuth(ctx, provider, subject)
	return m.linked(user, err)
}

// UnlinkWallet removes a linked external wallet. The user's only login method cannot be removed.
func (m *Manager) UnlinkWallet(ctx context.Context, address string) (*User, error) {
	if err := m.checkUnlink(ctx, func(a LinkedAccount) bool {
		return a.Type == AccountWallet && a.Address == address
	}); err != nil {
		return nil, err
	}
	user, err := m.provider.UnlinkWallet(ctx, address)
	return m.linked(user, err)
}

// checkUnlink verifies the target account exists on the live user and is
// not the last remaining login method.
func (m *Manager) checkUnlink(ctx context.Context, match func(LinkedAccount) bool) error {
	user, err := m.liveUser(ctx)
	if err != nil {
		return err
	}

	found := false
	for _, a := range user.LinkedAccounts {
		if match(a) {
			found = true
			break
		}
	}
	if !found {
		return tserr.Wrap(tserr.ErrNotFound, "linked account")
	}
	if len(user.LinkedAccounts) <= 1 {
		return tserr.ErrLastLoginMethod
	}
	return nil
}

func (m *Manager) linked(user *User, err error) (*User, error) {
	if err == nil && user == nil {
		err = tserr.ErrNotAuthenticated
	}
	if err != nil {
		return nil, providerError(err)
	}
	m.setUser(user)
	if m.State().IsAuthenticated() {
		m.hub.set(AuthState{Kind: StateAuthenticated, User: user.Clone()})
	}
	return user.Clone(), nil
}

package mwa_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/tessera/internal/mwa"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

var errOpaque = errors.New("socket exploded")

func TestClassifyAndFallback(t *testing.T) {
	t.Parallel()
	mpe := &mwa.MessageProviderError{Auth: mwa.AuthResult{Address: "addr"}, Cause: errOpaque}

	tests := []struct {
		name     string
		err      error
		kind     mwa.FailureKind
		fallback bool
	}{
		{"user cancelled", tserr.Wrap(tserr.ErrUserCancelled, "declined"), mwa.KindUserCancelled, false},
		{"context cancelled", context.Canceled, mwa.KindUserCancelled, false},
		{"wallet rejected", tserr.ErrWalletRejected, mwa.KindWalletRejected, false},
		{"message provider failed", mpe, mwa.KindMessageProviderFailed, false},
		{"wrapped message provider failed", fmt.Errorf("login: %w", mpe), mwa.KindMessageProviderFailed, false},
		{"timeout", tserr.Wrap(tserr.ErrTimeout, "association"), mwa.KindTimeout, true},
		{"deadline", context.DeadlineExceeded, mwa.KindTimeout, true},
		{"session terminated", tserr.WithCause(tserr.ErrSessionTerminated, errOpaque), mwa.KindSessionTerminated, true},
		{"no wallet", tserr.ErrNoWalletInstalled, mwa.KindNoWalletInstalled, true},
		{"unknown", errOpaque, mwa.KindUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.kind, mwa.Classify(tt.err))
			assert.Equal(t, tt.fallback, mwa.ShouldFallback(tt.err))
		})
	}

	assert.False(t, mwa.ShouldFallback(nil))
}

func TestMessageProviderError(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("outer: %w", &mwa.MessageProviderError{Auth: mwa.AuthResult{Address: "addr"}, Cause: errOpaque})

	require.ErrorIs(t, err, tserr.ErrMessageProviderFailed)
	require.ErrorIs(t, err, errOpaque)
	require.NotErrorIs(t, err, tserr.ErrWalletRejected)

	mpe, ok := mwa.AsMessageProviderFailed(err)
	require.True(t, ok)
	assert.Equal(t, "addr", mpe.Auth.Address)
	assert.Contains(t, err.Error(), "socket exploded")

	_, ok = mwa.AsMessageProviderFailed(errOpaque)
	assert.False(t, ok)
}

func TestFailureKindString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "timeout", mwa.KindTimeout.String())
	assert.Equal(t, "unknown", mwa.FailureKind(99).String())
	assert.Equal(t, "signing_in_session", mwa.StateSigningInSession.String())
}

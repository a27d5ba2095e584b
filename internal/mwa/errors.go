package mwa

import (
	"context"
	"errors"
	"fmt"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// FailureKind classifies a failed wallet session.
type FailureKind int

// Failure kinds.
const (
	KindUnknown FailureKind = iota
	KindUserCancelled
	KindWalletRejected
	KindTimeout
	KindSessionTerminated
	KindNoWalletInstalled
	KindMessageProviderFailed
)

func (k FailureKind) String() string {
	switch k {
	case KindUserCancelled:
		return "user_cancelled"
	case KindWalletRejected:
		return "wallet_rejected"
	case KindTimeout:
		return "timeout"
	case KindSessionTerminated:
		return "session_terminated"
	case KindNoWalletInstalled:
		return "no_wallet_installed"
	case KindMessageProviderFailed:
		return "message_provider_failed"
	case KindUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// Classify maps a session error to its failure kind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, tserr.ErrMessageProviderFailed):
		return KindMessageProviderFailed
	case errors.Is(err, tserr.ErrUserCancelled), errors.Is(err, context.Canceled):
		return KindUserCancelled
	case errors.Is(err, tserr.ErrWalletRejected):
		return KindWalletRejected
	case errors.Is(err, tserr.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, tserr.ErrSessionTerminated):
		return KindSessionTerminated
	case errors.Is(err, tserr.ErrNoWalletInstalled):
		return KindNoWalletInstalled
	default:
		return KindUnknown
	}
}

// ShouldFallback reports whether a login should retry over the deeplink
// transport. Explicit user or wallet decisions never fall back.
func ShouldFallback(err error) bool {
	if err == nil {
		return false
	}
	switch Classify(err) {
	case KindUserCancelled, KindWalletRejected, KindMessageProviderFailed:
		return false
	case KindTimeout, KindSessionTerminated, KindNoWalletInstalled, KindUnknown:
		return true
	default:
		return true
	}
}

// MessageProviderError is returned when the wallet authorized but the
// message provider failed. Auth carries the completed authorization so the
// caller can sign in a second session without authorizing again.
type MessageProviderError struct {
	Auth  AuthResult
	Cause error
}

func (e *MessageProviderError) Error() string {
	return fmt.Sprintf("%s: %v", tserr.ErrMessageProviderFailed.Message, e.Cause)
}

func (e *MessageProviderError) Unwrap() error {
	return e.Cause
}

// Is matches ErrMessageProviderFailed.
func (e *MessageProviderError) Is(target error) bool {
	var te *tserr.TesseraError
	if errors.As(target, &te) {
		return te.Code == tserr.ErrMessageProviderFailed.Code
	}
	return false
}

// AsMessageProviderFailed extracts a MessageProviderError from err.
func AsMessageProviderFailed(err error) (*MessageProviderError, bool) {
	var mpe *MessageProviderError
	if errors.As(err, &mpe) {
		return mpe, true
	}
	return nil, false
}

// Wallet JSON-RPC error codes.
const (
	codeAuthorizationFailed = -1
	codeInvalidPayloads     = -2
	codeNotSigned           = -3
	codeNotSubmitted        = -4
	codeTooManyPayloads     = -5
	codeChainNotSupported   = -6
	codeAttestOrigin        = -100
	codeMethodNotFound      = -32601
)

// walletError maps a wallet JSON-RPC error to a Tessera error.
func walletError(code int, message string) error {
	details := map[string]string{"code": fmt.Sprint(code)}
	if message != "" {
		details["wallet_message"] = message
	}
	switch code {
	case codeNotSigned:
		return tserr.WithDetails(tserr.ErrUserCancelled, details)
	case codeAuthorizationFailed, codeInvalidPayloads, codeNotSubmitted,
		codeTooManyPayloads, codeChainNotSupported, codeAttestOrigin:
		return tserr.WithDetails(tserr.ErrWalletRejected, details)
	case codeMethodNotFound:
		return tserr.WithDetails(tserr.ErrNotSupported, details)
	default:
		return tserr.WithDetails(tserr.New("WALLET_ERROR", "wallet returned an error"), details)
	}
}

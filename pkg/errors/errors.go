// Package errors provides structured error handling for Tessera.
// It defines the sentinel taxonomy shared by the auth, signing and broadcast
// layers, exit codes for the CLI, and helpers for adding context, details,
// and suggestions to errors.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes returned by the CLI.
const (
	ExitSuccess    = 0 // Successful execution
	ExitGeneral    = 1 // General/unknown error
	ExitInput      = 2 // Invalid input
	ExitAuth       = 3 // Authentication failed
	ExitNotFound   = 4 // Resource not found
	ExitPermission = 5 // Permission denied or insufficient funds
)

// TesseraError is the structured error type for Tessera.
type TesseraError struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for user
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI

	// folded is set when Message already carries the message of Cause.
	folded bool
}

func (e *TesseraError) Error() string {
	msg := e.Message

	// Include details in error message (sorted for deterministic output)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	return msg + e.tail()
}

// tail renders the part of the cause chain not already in Message.
func (e *TesseraError) tail() string {
	if e.Cause == nil {
		return ""
	}
	if e.folded {
		if c, ok := e.Cause.(*TesseraError); ok {
			return c.tail()
		}
	}
	return ": " + e.Cause.Error()
}

func (e *TesseraError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for TesseraError. Two errors match when their codes match.
func (e *TesseraError) Is(target error) bool {
	var t *TesseraError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Generic sentinels.
var (
	ErrGeneral = &TesseraError{
		Code:     "GENERAL_ERROR",
		Message:  "an error occurred",
		ExitCode: ExitGeneral,
	}

	ErrInvalidInput = &TesseraError{
		Code:     "INVALID_INPUT",
		Message:  "invalid input",
		ExitCode: ExitInput,
	}

	ErrAuthentication = &TesseraError{
		Code:     "AUTHENTICATION_FAILED",
		Message:  "authentication failed",
		ExitCode: ExitAuth,
	}

	ErrNotFound = &TesseraError{
		Code:     "NOT_FOUND",
		Message:  "resource not found",
		ExitCode: ExitNotFound,
	}

	ErrPermission = &TesseraError{
		Code:     "PERMISSION_DENIED",
		Message:  "permission denied",
		ExitCode: ExitPermission,
	}

	ErrNetworkError = &TesseraError{
		Code:     "NETWORK_ERROR",
		Message:  "network communication failed",
		ExitCode: ExitGeneral,
	}

	ErrTimeout = &TesseraError{
		Code:     "TIMEOUT",
		Message:  "operation timed out",
		ExitCode: ExitGeneral,
	}

	ErrNotSupported = &TesseraError{
		Code:     "NOT_SUPPORTED",
		Message:  "operation not supported",
		ExitCode: ExitInput,
	}
)

// Wallet session sentinels. These classify external wallet outcomes.
var (
	ErrUserCancelled = &TesseraError{
		Code:     "USER_CANCELLED",
		Message:  "request cancelled by user",
		ExitCode: ExitSuccess,
	}

	ErrWalletRejected = &TesseraError{
		Code:     "WALLET_REJECTED",
		Message:  "wallet rejected the request",
		ExitCode: ExitAuth,
	}

	ErrSessionTerminated = &TesseraError{
		Code:     "SESSION_TERMINATED",
		Message:  "wallet session terminated unexpectedly",
		ExitCode: ExitGeneral,
	}

	ErrNoWalletInstalled = &TesseraError{
		Code:     "NO_WALLET_INSTALLED",
		Message:  "no compatible wallet app installed",
		ExitCode: ExitNotFound,
	}

	ErrMessageProviderFailed = &TesseraError{
		Code:     "MESSAGE_PROVIDER_FAILED",
		Message:  "wallet authorized but the message to sign could not be produced",
		ExitCode: ExitGeneral,
	}

	ErrWalletSelectionRequired = &TesseraError{
		Code:       "WALLET_SELECTION_REQUIRED",
		Message:    "no external wallet selected",
		Suggestion: "choose a wallet with 'tessera wallet use --package <name>'",
		ExitCode:   ExitInput,
	}

	ErrNoActiveSession = &TesseraError{
		Code:     "NO_ACTIVE_SESSION",
		Message:  "no active wallet session",
		ExitCode: ExitInput,
	}

	ErrFlowInterrupted = &TesseraError{
		Code:       "FLOW_INTERRUPTED",
		Message:    "wallet connection was interrupted",
		Suggestion: "start the wallet connection again",
		ExitCode:   ExitGeneral,
	}
)

// Auth sentinels.
var (
	ErrNotAuthenticated = &TesseraError{
		Code:       "NOT_AUTHENTICATED",
		Message:    "not signed in",
		Suggestion: "sign in with 'tessera login'",
		ExitCode:   ExitAuth,
	}

	ErrNoEmbeddedWallet = &TesseraError{
		Code:     "NO_EMBEDDED_WALLET",
		Message:  "no embedded wallet for this account",
		ExitCode: ExitNotFound,
	}

	ErrNoPendingChallenge = &TesseraError{
		Code:     "NO_PENDING_CHALLENGE",
		Message:  "no sign-in challenge is pending",
		ExitCode: ExitAuth,
	}

	ErrChallengeMismatch = &TesseraError{
		Code:     "CHALLENGE_MISMATCH",
		Message:  "signed message does not match the pending challenge",
		ExitCode: ExitAuth,
	}

	ErrLastLoginMethod = &TesseraError{
		Code:       "LAST_LOGIN_METHOD",
		Message:    "cannot unlink your only login method",
		Suggestion: "link another login method first",
		ExitCode:   ExitPermission,
	}

	ErrProviderNotReady = &TesseraError{
		Code:     "PROVIDER_NOT_READY",
		Message:  "auth provider is not ready",
		ExitCode: ExitGeneral,
	}
)

// Transaction sentinels.
var (
	ErrInvalidTransaction = &TesseraError{
		Code:     "INVALID_TRANSACTION",
		Message:  "invalid transaction",
		ExitCode: ExitInput,
	}

	ErrBlockhashExpired = &TesseraError{
		Code:       "BLOCKHASH_EXPIRED",
		Message:    "transaction blockhash expired",
		Suggestion: "refresh and retry the transaction",
		ExitCode:   ExitGeneral,
	}

	ErrInsufficientFunds = &TesseraError{
		Code:       "INSUFFICIENT_FUNDS",
		Message:    "insufficient funds for transaction",
		Suggestion: "add funds to the wallet and retry",
		ExitCode:   ExitPermission,
	}

	ErrRPC = &TesseraError{
		Code:     "RPC_ERROR",
		Message:  "RPC request failed",
		ExitCode: ExitGeneral,
	}

	ErrTransactionFailed = &TesseraError{
		Code:     "TRANSACTION_FAILED",
		Message:  "transaction failed on chain",
		ExitCode: ExitGeneral,
	}

	ErrConfirmationTimeout = &TesseraError{
		Code:       "CONFIRMATION_TIMEOUT",
		Message:    "transaction was not confirmed in time",
		Suggestion: "check the signature later with 'tessera tx confirm'",
		ExitCode:   ExitGeneral,
	}
)

// Config sentinels.
var (
	ErrConfigNotFound = &TesseraError{
		Code:     "CONFIG_NOT_FOUND",
		Message:  "configuration file not found",
		ExitCode: ExitNotFound,
	}

	ErrConfigInvalid = &TesseraError{
		Code:     "CONFIG_INVALID",
		Message:  "configuration file is invalid",
		ExitCode: ExitInput,
	}

	ErrUnknownConfigKey = &TesseraError{
		Code:     "UNKNOWN_CONFIG_KEY",
		Message:  "unknown config key",
		ExitCode: ExitInput,
	}
)

// New creates a new TesseraError with the given code and message.
func New(code, message string) *TesseraError {
	return &TesseraError{
		Code:     code,
		Message:  message,
		ExitCode: ExitGeneral,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var te *TesseraError
	if errors.As(err, &te) {
		_, direct := err.(*TesseraError) //nolint:errorlint // only a bare TesseraError is folded
		return &TesseraError{
			Code:       te.Code,
			Message:    fmt.Sprintf("%s: %s", msg, te.Message),
			Details:    te.Details,
			Suggestion: te.Suggestion,
			Cause:      err,
			ExitCode:   te.ExitCode,
			folded:     direct,
		}
	}

	return &TesseraError{
		Code:     "GENERAL_ERROR",
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithCause returns a copy of the sentinel carrying cause as the underlying error.
// The code and exit code of the sentinel are preserved.
func WithCause(sentinel *TesseraError, cause error) error {
	return &TesseraError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		Details:    sentinel.Details,
		Suggestion: sentinel.Suggestion,
		Cause:      cause,
		ExitCode:   sentinel.ExitCode,
	}
}

// WithDetails adds details to an error.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var te *TesseraError
	if errors.As(err, &te) {
		return &TesseraError{
			Code:       te.Code,
			Message:    te.Message,
			Details:    details,
			Suggestion: te.Suggestion,
			Cause:      te.Cause,
			ExitCode:   te.ExitCode,
			folded:     te.folded,
		}
	}

	return &TesseraError{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var te *TesseraError
	if errors.As(err, &te) {
		return &TesseraError{
			Code:       te.Code,
			Message:    te.Message,
			Details:    te.Details,
			Suggestion: suggestion,
			Cause:      te.Cause,
			ExitCode:   te.ExitCode,
			folded:     te.folded,
		}
	}

	return &TesseraError{
		Code:       "GENERAL_ERROR",
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var te *TesseraError
	if errors.As(err, &te) {
		return te.ExitCode
	}

	return ExitGeneral
}

// Code returns the error code for an error.
func Code(err error) string {
	var te *TesseraError
	if errors.As(err, &te) {
		return te.Code
	}
	return "GENERAL_ERROR"
}

// IsCancelled reports whether err represents a user cancellation.
// Cancellation is a normal outcome and should not be shown as a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrUserCancelled)
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}

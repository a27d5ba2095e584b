package api

import (
	"fmt"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// ErrorCode is a backend error code. Codes outside the known set decode as CodeUnknown.
type ErrorCode string

// Backend error codes.
const (
	CodeValidation          ErrorCode = "VALIDATION_ERROR"
	CodeAuthRequired        ErrorCode = "AUTH_REQUIRED"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeServerError         ErrorCode = "SERVER_ERROR"
	CodeNetworkError        ErrorCode = "NETWORK_ERROR"
	CodeTxFailed            ErrorCode = "TX_FAILED"
	CodeTxExpired           ErrorCode = "TX_EXPIRED"
	CodeTxNotFound          ErrorCode = "TX_NOT_FOUND"
	CodePurchaseNotFound    ErrorCode = "PURCHASE_NOT_FOUND"
	CodeEditionSoldOut      ErrorCode = "EDITION_SOLD_OUT"
	CodeInsufficientFunds   ErrorCode = "INSUFFICIENT_FUNDS"
	CodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	CodeDuplicateWallet     ErrorCode = "DUPLICATE_WALLET"
	CodeUnknown             ErrorCode = "UNKNOWN"
)

//nolint:gochecknoglobals // closed enumeration
var knownCodes = map[ErrorCode]struct{}{
	CodeValidation: {}, CodeAuthRequired: {}, CodeNotFound: {}, CodeRateLimited: {},
	CodeServerError: {}, CodeNetworkError: {}, CodeTxFailed: {}, CodeTxExpired: {},
	CodeTxNotFound: {}, CodePurchaseNotFound: {}, CodeEditionSoldOut: {},
	CodeInsufficientFunds: {}, CodeInsufficientBalance: {}, CodeDuplicateWallet: {},
	CodeUnknown: {},
}

// ParseErrorCode maps a wire code onto the closed set.
func ParseErrorCode(s string) ErrorCode {
	c := ErrorCode(s)
	if _, ok := knownCodes[c]; ok {
		return c
	}
	return CodeUnknown
}

// Error is a failed backend call.
type Error struct {
	Status    int
	Code      ErrorCode
	Message   string
	Details   map[string]any
	RequestID string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Status != 0 {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("api %s: %s", e.Code, msg)
}

// Unwrap exposes the matching Tessera sentinel so callers can use errors.Is.
func (e *Error) Unwrap() error {
	switch e.Code {
	case CodeValidation:
		return tserr.ErrInvalidInput
	case CodeAuthRequired:
		return tserr.ErrNotAuthenticated
	case CodeNotFound, CodePurchaseNotFound, CodeTxNotFound:
		return tserr.ErrNotFound
	case CodeRateLimited, CodeNetworkError:
		return tserr.ErrNetworkError
	case CodeInsufficientFunds, CodeInsufficientBalance:
		return tserr.ErrInsufficientFunds
	case CodeTxExpired:
		return tserr.ErrBlockhashExpired
	case CodeTxFailed:
		return tserr.ErrTransactionFailed
	case CodeServerError, CodeEditionSoldOut, CodeDuplicateWallet, CodeUnknown:
		return tserr.ErrGeneral
	default:
		return tserr.ErrGeneral
	}
}

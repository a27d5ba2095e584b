package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"github.com/mrz1836/tessera/internal/chain"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// Broadcast defaults.
const (
	DefaultRetryDelay     = 2 * time.Second
	DefaultPollInterval   = 2 * time.Second
	DefaultConfirmTimeout = 60 * time.Second
)

// Broadcaster submits signed transactions and polls for their confirmation.
type Broadcaster struct {
	client         *Client
	retryDelay     time.Duration
	maxAttempts    int
	pollInterval   time.Duration
	confirmTimeout time.Duration
	logger         LogWriter
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithRetryDelay sets the fixed delay between send attempts.
func WithRetryDelay(d time.Duration) BroadcasterOption {
	return func(b *Broadcaster) { b.retryDelay = d }
}

// WithMaxAttempts sets the number of send attempts, including the first.
func WithMaxAttempts(n int) BroadcasterOption {
	return func(b *Broadcaster) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

// WithPollInterval sets the confirmation polling interval.
func WithPollInterval(d time.Duration) BroadcasterOption {
	return func(b *Broadcaster) { b.pollInterval = d }
}

// WithConfirmTimeout sets the timeout used when ConfirmTransaction is given none.
func WithConfirmTimeout(d time.Duration) BroadcasterOption {
	return func(b *Broadcaster) { b.confirmTimeout = d }
}

// WithBroadcastLogger sets the logger.
func WithBroadcastLogger(l LogWriter) BroadcasterOption {
	return func(b *Broadcaster) { b.logger = l }
}

// NewBroadcaster creates a broadcaster over client.
func NewBroadcaster(client *Client, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		client:         client,
		retryDelay:     DefaultRetryDelay,
		pollInterval:   DefaultPollInterval,
		confirmTimeout: DefaultConfirmTimeout,
		logger:         client.logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SendTransaction submits a base64 encoded signed transaction and returns its
// base58 signature. Only network failures are retried, 3 attempts in total by default
// with a fixed delay. Node errors are classified and returned immediately.
func (b *Broadcaster) SendTransaction(ctx context.Context, signedTxBase64 string) (string, error) {
	if _, err := base64.StdEncoding.DecodeString(signedTxBase64); err != nil || signedTxBase64 == "" {
		return "", tserr.WithDetails(tserr.ErrInvalidTransaction, map[string]string{"reason": "not base64"})
	}

	cfg := chain.BroadcastRetryConfig(b.retryDelay)
	if b.maxAttempts > 0 {
		cfg.MaxAttempts = b.maxAttempts
	}
	cfg.OnRetry = func(attempt int, err error) {
		b.logger.Debug("sendTransaction attempt %d failed, retrying in %s: %v", attempt, b.retryDelay, err)
		if b.client.metrics != nil {
			b.client.metrics.RecordRPCRetry("sendTransaction")
		}
	}

	result, err := chain.RetryWithConfig(ctx, cfg, func() (json.RawMessage, error) {
		return b.client.Call(ctx, "sendTransaction", signedTxBase64, map[string]any{
			"encoding":            "base64",
			"skipPreflight":       false,
			"preflightCommitment": string(chain.CommitmentConfirmed),
		})
	})
	if err != nil {
		classified := classifySendError(err)
		b.logger.Error("sendTransaction failed: %v", classified)
		return "", classified
	}

	var signature string
	if err := json.Unmarshal(result, &signature); err != nil {
		return "", tserr.WithCause(tserr.ErrRPC, fmt.Errorf("parsing signature: %w", err))
	}
	if raw, err := base58.Decode(signature); err != nil || len(raw) != 64 {
		return "", tserr.WithDetails(tserr.ErrRPC, map[string]string{"reason": "malformed signature", "signature": signature})
	}

	return signature, nil
}

// ConfirmTransaction polls getSignatureStatuses until the signature reaches
// commitment, fails on chain, or timeout elapses. A zero timeout uses the
// broadcaster default. Transient network errors while polling are tolerated.
func (b *Broadcaster) ConfirmTransaction(ctx context.Context, signature string, commitment chain.Commitment, timeout time.Duration) (*SignatureStatus, error) {
	if timeout <= 0 {
		timeout = b.confirmTimeout
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		status, err := b.pollOnce(pollCtx, signature, commitment)
		if status != nil || (err != nil && !chain.IsNetworkError(err) && !errors.Is(err, context.DeadlineExceeded)) {
			return status, err
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, tserr.WithDetails(tserr.ErrConfirmationTimeout, map[string]string{
				"signature":  signature,
				"commitment": string(commitment),
			})
		case <-ticker.C:
		}
	}
}

// pollOnce returns a non-nil status once the commitment is satisfied.
func (b *Broadcaster) pollOnce(ctx context.Context, signature string, commitment chain.Commitment) (*SignatureStatus, error) {
	statuses, err := b.client.GetSignatureStatuses(ctx, signature)
	if err != nil {
		b.logger.Debug("getSignatureStatuses for %s: %v", signature, err)
		return nil, err
	}
	if len(statuses) == 0 || statuses[0] == nil {
		return nil, nil
	}

	status := statuses[0]
	if status.Failed() {
		return nil, tserr.WithDetails(tserr.ErrTransactionFailed, map[string]string{
			"signature": signature,
			"err":       string(status.Err),
		})
	}
	if commitment.SatisfiedBy(status.ConfirmationStatus) {
		return status, nil
	}
	return nil, nil
}

// classifySendError maps node errors to actionable sentinels by message content.
func classifySendError(err error) error {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}

	text := strings.ToLower(rpcErr.Message + " " + string(rpcErr.Data))
	switch {
	case strings.Contains(text, "blockhash not found"),
		strings.Contains(text, "blockhashnotfound"),
		strings.Contains(text, "block height exceeded"):
		return tserr.WithCause(tserr.ErrBlockhashExpired, rpcErr)
	case strings.Contains(text, "insufficient funds"),
		strings.Contains(text, "insufficient lamports"),
		strings.Contains(text, "insufficientfundsforfee"),
		strings.Contains(text, "no record of a prior credit"):
		return tserr.WithCause(tserr.ErrInsufficientFunds, rpcErr)
	default:
		return tserr.WithCause(tserr.ErrRPC, rpcErr)
	}
}

package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/mrz1836/tessera/internal/chain"
)

// SignatureStatus is one entry of a getSignatureStatuses response.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

// Failed reports whether the status carries an on-chain error.
func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

type contextValue[T any] struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value T `json:"value"`
}

// GetSignatureStatuses returns the status of each signature. Unknown signatures yield nil entries.
func (c *Client) GetSignatureStatuses(ctx context.Context, signatures ...string) ([]*SignatureStatus, error) {
	result, err := c.Call(ctx, "getSignatureStatuses", signatures, map[string]any{
		"searchTransactionHistory": true,
	})
	if err != nil {
		return nil, err
	}

	var out contextValue[[]*SignatureStatus]
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("parsing signature statuses: %w", err)
	}
	return out.Value, nil
}

// GetBalance returns the balance of an account in lamports.
func (c *Client) GetBalance(ctx context.Context, address string, commitment chain.Commitment) (uint64, error) {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", address, err)
	}

	result, err := c.Call(ctx, "getBalance", address, map[string]any{"commitment": string(commitment)})
	if err != nil {
		return 0, err
	}

	var out contextValue[uint64]
	if err := json.Unmarshal(result, &out); err != nil {
		return 0, fmt.Errorf("parsing balance: %w", err)
	}
	return out.Value, nil
}

// LatestBlockhash is the result of getLatestBlockhash.
type LatestBlockhash struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// GetLatestBlockhash returns the most recent blockhash.
func (c *Client) GetLatestBlockhash(ctx context.Context, commitment chain.Commitment) (*LatestBlockhash, error) {
	result, err := c.Call(ctx, "getLatestBlockhash", map[string]any{"commitment": string(commitment)})
	if err != nil {
		return nil, err
	}

	var out contextValue[struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	}]
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("parsing blockhash: %w", err)
	}

	hash, err := solana.HashFromBase58(out.Value.Blockhash)
	if err != nil {
		return nil, fmt.Errorf("parsing blockhash: %w", err)
	}

	return &LatestBlockhash{Blockhash: hash, LastValidBlockHeight: out.Value.LastValidBlockHeight}, nil
}

package mwa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// Wallet JSON-RPC methods.
const (
	MethodAuthorize        = "authorize"
	MethodReauthorize      = "reauthorize"
	MethodSignMessages     = "sign_messages"
	MethodSignTransactions = "sign_transactions"
)

const messageSignatureLength = 64

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type authorizeParams struct {
	Identity  AppIdentity `json:"identity"`
	Chain     string      `json:"chain,omitempty"`
	AuthToken string      `json:"auth_token,omitempty"`
}

type authorizeResult struct {
	AuthToken     string    `json:"auth_token"`
	Accounts      []account `json:"accounts"`
	WalletURIBase string    `json:"wallet_uri_base,omitempty"`
}

type account struct {
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

type signMessagesParams struct {
	Addresses []string `json:"addresses"`
	Payloads  []string `json:"payloads"`
}

type signTransactionsParams struct {
	Payloads []string `json:"payloads"`
}

type signedPayloads struct {
	SignedPayloads []string `json:"signed_payloads"`
}

// wsSession speaks encrypted JSON-RPC to a wallet over an established
// association.
type wsSession struct {
	conn   *websocket.Conn
	cipher *sessionCipher

	mu        sync.Mutex
	nextID    int
	closeOnce sync.Once
	closeErr  error
}

func newWSSession(conn *websocket.Conn, c *sessionCipher) *wsSession {
	return &wsSession{conn: conn, cipher: c}
}

func (s *wsSession) Authorize(ctx context.Context, identity AppIdentity, chain string) (AuthResult, error) {
	var res authorizeResult
	if err := s.call(ctx, MethodAuthorize, authorizeParams{Identity: identity, Chain: chain}, &res); err != nil {
		return AuthResult{}, err
	}
	return res.toAuth()
}

func (s *wsSession) Reauthorize(ctx context.Context, identity AppIdentity, authToken string) (AuthResult, error) {
	var res authorizeResult
	if err := s.call(ctx, MethodReauthorize, authorizeParams{Identity: identity, AuthToken: authToken}, &res); err != nil {
		return AuthResult{}, err
	}
	if res.AuthToken == "" {
		res.AuthToken = authToken
	}
	return res.toAuth()
}

func (s *wsSession) SignMessages(ctx context.Context, addresses []string, payloads [][]byte) ([][]byte, error) {
	params := signMessagesParams{
		Addresses: make([]string, 0, len(addresses)),
		Payloads:  encodeAll(payloads),
	}
	for _, addr := range addresses {
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, tserr.WithCause(tserr.ErrInvalidInput, err)
		}
		params.Addresses = append(params.Addresses, base64.StdEncoding.EncodeToString(pk.Bytes()))
	}

	var res signedPayloads
	if err := s.call(ctx, MethodSignMessages, params, &res); err != nil {
		return nil, err
	}
	signed, err := decodeAll(res.SignedPayloads, len(payloads))
	if err != nil {
		return nil, err
	}

	// Each signed payload is the message with its signature appended.
	sigs := make([][]byte, len(signed))
	for i, sp := range signed {
		if len(sp) < messageSignatureLength {
			return nil, tserr.Wrap(tserr.ErrWalletRejected, "signed payload %d too short", i)
		}
		sigs[i] = sp[len(sp)-messageSignatureLength:]
	}
	return sigs, nil
}

func (s *wsSession) SignTransactions(ctx context.Context, payloads [][]byte) ([][]byte, error) {
	var res signedPayloads
	if err := s.call(ctx, MethodSignTransactions, signTransactionsParams{Payloads: encodeAll(payloads)}, &res); err != nil {
		return nil, err
	}
	return decodeAll(res.SignedPayloads, len(payloads))
}

func (s *wsSession) Close() error {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *wsSession) call(ctx context.Context, method string, params, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	frame, err := s.cipher.seal(body)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
		_ = s.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return s.transportError(ctx, err)
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return s.transportError(ctx, err)
		}
		plaintext, err := s.cipher.open(data)
		if err != nil {
			return err
		}
		var rsp rpcResponse
		if err := json.Unmarshal(plaintext, &rsp); err != nil {
			return tserr.WithCause(tserr.ErrSessionTerminated, err)
		}
		if rsp.ID != id {
			continue
		}
		if rsp.Error != nil {
			return walletError(rsp.Error.Code, rsp.Error.Message)
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(rsp.Result, result); err != nil {
			return tserr.WithCause(tserr.ErrSessionTerminated, err)
		}
		return nil
	}
}

// transportError reports a dropped connection. The caller giving up wins
// over whatever the socket reported.
func (s *wsSession) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return tserr.WithCause(tserr.ErrSessionTerminated, err)
}

func (r authorizeResult) toAuth() (AuthResult, error) {
	if len(r.Accounts) == 0 {
		return AuthResult{}, tserr.Wrap(tserr.ErrWalletRejected, "wallet authorized no accounts")
	}
	raw, err := base64.StdEncoding.DecodeString(r.Accounts[0].Address)
	if err != nil || len(raw) != solana.PublicKeyLength {
		return AuthResult{}, tserr.Wrap(tserr.ErrWalletRejected, "wallet returned an invalid account address")
	}
	return AuthResult{
		Address:       solana.PublicKeyFromBytes(raw).String(),
		Label:         r.Accounts[0].Label,
		AuthToken:     r.AuthToken,
		WalletURIBase: r.WalletURIBase,
	}, nil
}

func encodeAll(payloads [][]byte) []string {
	out := make([]string, len(payloads))
	for i, p := range payloads {
		out[i] = base64.StdEncoding.EncodeToString(p)
	}
	return out
}

func decodeAll(encoded []string, want int) ([][]byte, error) {
	if len(encoded) != want {
		return nil, tserr.Wrap(tserr.ErrWalletRejected, "wallet returned %d signed payloads, want %d", len(encoded), want)
	}
	out := make([][]byte, len(encoded))
	for i, e := range encoded {
		b, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			return nil, tserr.WithCause(tserr.ErrWalletRejected, err)
		}
		out[i] = b
	}
	return out, nil
}

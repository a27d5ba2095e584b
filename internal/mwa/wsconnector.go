package mwa

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mrz1836/tessera/internal/platform"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// Local association defaults.
const (
	DefaultAssociationTimeout = 30 * time.Second
	DefaultDialInterval       = 150 * time.Millisecond

	// Subprotocol is the websocket subprotocol wallets expect.
	Subprotocol = "com.solana.mobilewalletadapter.v1"

	associationScheme = "solana-wallet:"
	associatePath     = "/v1/associate/local"
	websocketPath     = "/solana-wallet"
	minPort           = 49152
	maxPort           = 65535
)

// WebsocketConnector opens sessions with a wallet over a loopback websocket.
// The wallet is launched with an association URI and listens on the port
// named in it; the connector dials until the wallet accepts.
type WebsocketConnector struct {
	launcher     platform.Launcher
	logger       LogWriter
	timeout      time.Duration
	dialInterval time.Duration
	host         string
	pickPort     func() (int, error)
	dialer       *websocket.Dialer
}

// ConnectorOption configures a WebsocketConnector.
type ConnectorOption func(*WebsocketConnector)

// WithAssociationTimeout bounds how long Connect waits for the wallet.
func WithAssociationTimeout(d time.Duration) ConnectorOption {
	return func(c *WebsocketConnector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialInterval sets the pause between dial attempts.
func WithDialInterval(d time.Duration) ConnectorOption {
	return func(c *WebsocketConnector) {
		if d > 0 {
			c.dialInterval = d
		}
	}
}

// WithConnectorLogger sets the connector logger.
func WithConnectorLogger(l LogWriter) ConnectorOption {
	return func(c *WebsocketConnector) { c.logger = l }
}

// NewWebsocketConnector creates a connector that launches wallets with launcher.
func NewWebsocketConnector(launcher platform.Launcher, opts ...ConnectorOption) *WebsocketConnector {
	c := &WebsocketConnector{
		launcher:     launcher,
		logger:       nopLogger{},
		timeout:      DefaultAssociationTimeout,
		dialInterval: DefaultDialInterval,
		host:         "127.0.0.1",
		pickPort:     freePort,
		dialer: &websocket.Dialer{
			Subprotocols:     []string{Subprotocol},
			HandshakeTimeout: 5 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect launches the wallet, waits for its local endpoint and completes
// the HELLO exchange.
func (c *WebsocketConnector) Connect(ctx context.Context, target Target) (Session, error) {
	assoc, err := newAssociationKey()
	if err != nil {
		return nil, err
	}
	port, err := c.pickPort()
	if err != nil {
		return nil, tserr.WithCause(tserr.ErrSessionTerminated, err)
	}

	uri := AssociationURI(target.WalletURIBase, assoc.pub, port)
	c.logger.Debug("mwa: launching wallet package=%q port=%d", target.Package, port)
	if err := c.launcher.Open(ctx, uri, target.Package); err != nil {
		if errors.Is(err, platform.ErrNoHandler) {
			return nil, tserr.WithCause(tserr.ErrNoWalletInstalled, err)
		}
		return nil, tserr.WithCause(tserr.ErrSessionTerminated, err)
	}

	assocCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dial(assocCtx, port)
	if err != nil {
		return nil, connectError(ctx, err)
	}

	sc, err := c.hello(assocCtx, conn, assoc)
	if err != nil {
		_ = conn.Close()
		return nil, connectError(ctx, err)
	}
	c.logger.Debug("mwa: session established port=%d", port)
	return newWSSession(conn, sc), nil
}

func (c *WebsocketConnector) dial(ctx context.Context, port int) (*websocket.Conn, error) {
	endpoint := fmt.Sprintf("ws://%s%s", net.JoinHostPort(c.host, fmt.Sprint(port)), websocketPath)
	for {
		conn, _, err := c.dialer.DialContext(ctx, endpoint, nil) //nolint:bodyclose // handshake response body is owned by the dialer
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.dialInterval):
		}
	}
}

func (c *WebsocketConnector) hello(ctx context.Context, conn *websocket.Conn, assoc *associationKey) (*sessionCipher, error) {
	session, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	req, err := helloRequest(assoc, session)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	if err := conn.WriteMessage(websocket.BinaryMessage, req); err != nil {
		return nil, tserr.WithCause(tserr.ErrSessionTerminated, err)
	}
	_, rsp, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, tserr.WithCause(tserr.ErrSessionTerminated, err)
	}
	return deriveSessionCipher(session, rsp, assoc.pub)
}

// connectError maps association failures. A deadline on the association
// context is a timeout; a cancelled parent is the caller giving up.
func connectError(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return tserr.Wrap(tserr.ErrTimeout, "wallet did not accept the association")
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	return err
}

// AssociationURI builds the URI that launches a wallet into local
// association. An empty base uses the generic wallet scheme.
func AssociationURI(walletURIBase string, associationPub []byte, port int) string {
	base := associationScheme
	if walletURIBase != "" {
		base = strings.TrimRight(walletURIBase, "/")
	}
	q := url.Values{}
	q.Set("association", base64.RawURLEncoding.EncodeToString(associationPub))
	q.Set("port", fmt.Sprint(port))
	return base + associatePath + "?" + q.Encode()
}

// freePort picks a random port in the dynamic range that is currently unused.
func freePort() (int, error) {
	span := big.NewInt(maxPort - minPort + 1)
	var lastErr error
	for range 10 {
		n, err := rand.Int(rand.Reader, span)
		if err != nil {
			return 0, err
		}
		port := minPort + int(n.Int64())
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", fmt.Sprint(port)))
		if err != nil {
			lastErr = err
			continue
		}
		_ = l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free association port: %w", lastErr)
}

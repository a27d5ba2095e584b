package mwa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

const (
	// publicKeyLength is an uncompressed P-256 point.
	publicKeyLength = 65
	// helloSignatureLength is a raw r||s P-256 signature.
	helloSignatureLength = 64
	sessionKeyLength     = 16
	seqLength            = 4
	ivLength             = 12
	tagLength            = 16
)

var (
	errFrameTooShort = errors.New("encrypted frame too short")
	errFrameOrder    = errors.New("encrypted frame out of sequence")
)

// associationKey is the ephemeral keypair that binds a session to the
// intent that launched the wallet.
type associationKey struct {
	priv *ecdsa.PrivateKey
	pub  []byte
}

func newAssociationKey() (*associationKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate association key: %w", err)
	}
	ek, err := priv.PublicKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("encode association key: %w", err)
	}
	return &associationKey{priv: priv, pub: ek.Bytes()}, nil
}

// sign returns a raw r||s ECDSA-SHA256 signature over msg.
func (k *associationKey) sign(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	r, s, err := ecdsa.Sign(rand.Reader, k.priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign hello: %w", err)
	}
	out := make([]byte, helloSignatureLength)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out, nil
}

// helloRequest builds HELLO_REQ: the dapp's session public key followed by
// its signature under the association key.
func helloRequest(assoc *associationKey, session *ecdh.PrivateKey) ([]byte, error) {
	qd := session.PublicKey().Bytes()
	sig, err := assoc.sign(qd)
	if err != nil {
		return nil, err
	}
	return append(qd, sig...), nil
}

// sessionCipher encrypts protocol frames. Each direction carries its own
// strictly increasing sequence number, which is also the AEAD additional data.
type sessionCipher struct {
	aead cipher.AEAD

	mu      sync.Mutex
	sendSeq uint32
	recvSeq uint32
}

// deriveSessionCipher runs ECDH against the peer's session key and expands
// the shared secret with HKDF-SHA256, salted with the association public key.
func deriveSessionCipher(priv *ecdh.PrivateKey, peerPub, associationPub []byte) (*sessionCipher, error) {
	if len(peerPub) < publicKeyLength {
		return nil, tserr.Wrap(tserr.ErrSessionTerminated, "wallet session key too short")
	}
	peer, err := ecdh.P256().NewPublicKey(peerPub[:publicKeyLength])
	if err != nil {
		return nil, tserr.WithCause(tserr.ErrSessionTerminated, err)
	}
	secret, err := priv.ECDH(peer)
	if err != nil {
		return nil, tserr.WithCause(tserr.ErrSessionTerminated, err)
	}

	key := make([]byte, sessionKeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, associationPub, nil), key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create session cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create session cipher: %w", err)
	}
	return &sessionCipher{aead: aead}, nil
}

// seal encrypts plaintext into seq || iv || ciphertext.
func (c *sessionCipher) seal(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sendSeq++
	out := make([]byte, seqLength+ivLength, seqLength+ivLength+len(plaintext)+tagLength)
	binary.BigEndian.PutUint32(out[:seqLength], c.sendSeq)
	if _, err := io.ReadFull(rand.Reader, out[seqLength:]); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	return c.aead.Seal(out, out[seqLength:], plaintext, out[:seqLength]), nil
}

// open decrypts a frame and enforces the sequence ordering.
func (c *sessionCipher) open(frame []byte) ([]byte, error) {
	if len(frame) < seqLength+ivLength+tagLength {
		return nil, tserr.WithCause(tserr.ErrSessionTerminated, errFrameTooShort)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seq := binary.BigEndian.Uint32(frame[:seqLength])
	if seq != c.recvSeq+1 {
		return nil, tserr.WithCause(tserr.ErrSessionTerminated, errFrameOrder)
	}
	plaintext, err := c.aead.Open(nil, frame[seqLength:seqLength+ivLength], frame[seqLength+ivLength:], frame[:seqLength])
	if err != nil {
		return nil, tserr.WithCause(tserr.ErrSessionTerminated, err)
	}
	c.recvSeq = seq
	return plaintext, nil
}

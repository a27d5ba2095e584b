package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/zalando/go-keyring"

	"github.com/mrz1836/tessera/internal/fileutil"
)

// Keychain coordinates for the store's encryption identity.
const (
	keyringService = "tessera"
	keyringUser    = "credentials-key"
	identityFile   = "credentials.key"
)

// loadIdentity returns the age identity protecting the credential file.
// A local identity file, once created, always wins so that a keychain that
// later becomes available does not orphan existing credentials.
func loadIdentity(home string, kr Keyring) (*age.X25519Identity, error) {
	filePath := filepath.Join(home, identityFile)

	if data, err := os.ReadFile(filePath); err == nil { //nolint:gosec // G304: path derived from home dir
		return age.ParseX25519Identity(strings.TrimSpace(string(data)))
	}

	if kr != nil {
		secret, err := kr.Get(keyringService, keyringUser)
		switch {
		case err == nil:
			return age.ParseX25519Identity(secret)
		case errors.Is(err, keyring.ErrNotFound):
			id, genErr := age.GenerateX25519Identity()
			if genErr != nil {
				return nil, fmt.Errorf("generating identity: %w", genErr)
			}
			if setErr := kr.Set(keyringService, keyringUser, id.String()); setErr == nil {
				return id, nil
			}
			return writeIdentityFile(filePath, id)
		}
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}
	return writeIdentityFile(filePath, id)
}

func writeIdentityFile(path string, id *age.X25519Identity) (*age.X25519Identity, error) {
	if err := fileutil.WriteAtomic(path, []byte(id.String()+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("writing identity file: %w", err)
	}
	return id, nil
}

func encrypt(plaintext []byte, id *age.X25519Identity) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := age.Encrypt(buf, id.Recipient())
	if err != nil {
		return nil, fmt.Errorf("initializing encryption: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing encrypted data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func decrypt(ciphertext []byte, id *age.X25519Identity) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), id)
	if err != nil {
		return nil, fmt.Errorf("initializing decryption: %w", err)
	}
	return io.ReadAll(r)
}

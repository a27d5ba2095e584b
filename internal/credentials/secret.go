package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/mrz1836/tessera/internal/fileutil"
)

// LoadSecret returns the named random secret, creating it on first use. It
// lives in the OS keychain when one is available and in <home>/<name>.secret
// otherwise. An existing file always wins.
func LoadSecret(home, name string, kr Keyring) (string, error) {
	path := filepath.Join(home, name+".secret")
	if data, err := os.ReadFile(path); err == nil { //nolint:gosec // G304: path derived from home dir
		if s := strings.TrimSpace(string(data)); s != "" {
			return s, nil
		}
	}

	if kr != nil {
		secret, err := kr.Get(keyringService, name)
		switch {
		case err == nil && secret != "":
			return secret, nil
		case errors.Is(err, keyring.ErrNotFound):
			secret, genErr := newSecret()
			if genErr != nil {
				return "", genErr
			}
			if setErr := kr.Set(keyringService, name, secret); setErr == nil {
				return secret, nil
			}
			return secret, writeSecret(path, secret)
		}
	}

	secret, err := newSecret()
	if err != nil {
		return "", err
	}
	return secret, writeSecret(path, secret)
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func writeSecret(path, secret string) error {
	if err := fileutil.WriteAtomic(path, []byte(secret+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing secret file: %w", err)
	}
	return nil
}

// Package walletpref stores the wallets a user has connected and which one
// signs by default.
package walletpref

import (
	"sync"

	"github.com/mrz1836/tessera/internal/fileutil"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// FileName is the preference file inside the tessera home.
const FileName = "wallets.json"

// WalletType distinguishes the embedded wallet from external wallet apps.
type WalletType string

// Wallet types.
const (
	TypeEmbedded WalletType = "EMBEDDED"
	TypeExternal WalletType = "EXTERNAL"
)

// Connector is the transport used to reach an external wallet.
type Connector string

// Connectors.
const (
	ConnectorMWA      Connector = "mwa"
	ConnectorDeeplink Connector = "deeplink"
)

// WalletInfo describes one connected wallet.
type WalletInfo struct {
	Address       string     `json:"address"`
	Label         string     `json:"label,omitempty"`
	Type          WalletType `json:"type"`
	Connector     Connector  `json:"connector,omitempty"`
	TargetPackage string     `json:"target_package,omitempty"`
	Primary       bool       `json:"primary,omitempty"`
}

type prefsFile struct {
	Wallets []WalletInfo `json:"wallets"`
	Active  string       `json:"active,omitempty"`
}

// Store is a file-backed wallet preference store.
type Store struct {
	path string

	mu   sync.RWMutex
	data prefsFile
}

// Open loads the store at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if _, err := fileutil.ReadJSON(path, &s.data); err != nil {
		return nil, tserr.Wrap(err, "loading wallet preferences")
	}
	return s, nil
}

// List returns all known wallets.
func (s *Store) List() []WalletInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]WalletInfo(nil), s.data.Wallets...)
}

// Get returns the wallet with address.
func (s *Store) Get(address string) (WalletInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(address)
	if i < 0 {
		return WalletInfo{}, false
	}
	return s.data.Wallets[i], true
}

// Upsert adds or replaces a wallet by address. Marking a wallet primary
// clears the flag on every other wallet.
func (s *Store) Upsert(info WalletInfo) error {
	if info.Address == "" {
		return tserr.Wrap(tserr.ErrInvalidInput, "wallet address is required")
	}
	if info.Type == "" {
		info.Type = TypeExternal
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if info.Primary {
		for i := range s.data.Wallets {
			s.data.Wallets[i].Primary = false
		}
	}
	if i := s.indexLocked(info.Address); i >= 0 {
		s.data.Wallets[i] = info
	} else {
		s.data.Wallets = append(s.data.Wallets, info)
	}
	return s.saveLocked()
}

// Remove forgets a wallet. Removing the active wallet leaves none active.
func (s *Store) Remove(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(address)
	if i < 0 {
		return tserr.WithDetails(tserr.ErrNotFound, map[string]string{"address": address})
	}
	s.data.Wallets = append(s.data.Wallets[:i], s.data.Wallets[i+1:]...)
	if s.data.Active == address {
		s.data.Active = ""
	}
	return s.saveLocked()
}

// SetActive selects the signing wallet.
func (s *Store) SetActive(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(address) < 0 {
		return tserr.WithDetails(tserr.ErrNotFound, map[string]string{"address": address})
	}
	s.data.Active = address
	return s.saveLocked()
}

// Active returns the signing wallet, if one is selected.
func (s *Store) Active() (WalletInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(s.data.Active)
	if i < 0 {
		return WalletInfo{}, false
	}
	return s.data.Wallets[i], true
}

// ActiveType returns the type of the active wallet, or "" when none is active.
func (s *Store) ActiveType() WalletType {
	w, ok := s.Active()
	if !ok {
		return ""
	}
	return w.Type
}

// TargetPackage returns the remembered wallet app of the active external wallet.
func (s *Store) TargetPackage() string {
	w, ok := s.Active()
	if !ok || w.Type != TypeExternal {
		return ""
	}
	return w.TargetPackage
}

// NeedsWalletSelection reports whether the active wallet is external with
// no remembered app, so the user should pick one rather than the OS.
func (s *Store) NeedsWalletSelection() bool {
	return s.ActiveType() == TypeExternal && s.TargetPackage() == ""
}

// SetTargetPackage remembers the wallet app for an external wallet.
func (s *Store) SetTargetPackage(address, pkg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(address)
	if i < 0 {
		return tserr.WithDetails(tserr.ErrNotFound, map[string]string{"address": address})
	}
	s.data.Wallets[i].TargetPackage = pkg
	return s.saveLocked()
}

// Clear removes all wallets.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = prefsFile{}
	return s.saveLocked()
}

func (s *Store) indexLocked(address string) int {
	if address == "" {
		return -1
	}
	for i, w := range s.data.Wallets {
		if w.Address == address {
			return i
		}
	}
	return -1
}

func (s *Store) saveLocked() error {
	if err := fileutil.WriteJSON(s.path, s.data); err != nil {
		return tserr.Wrap(err, "saving wallet preferences")
	}
	return nil
}

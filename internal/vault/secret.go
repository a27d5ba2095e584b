package vault

import (
	"runtime"
	"sync"
)

// Secret holds sensitive bytes in memory that is mlocked when the platform
// allows it and zeroed on Destroy.
type Secret struct {
	mu     sync.Mutex
	data   []byte
	locked bool
}

// NewSecret copies data into a new Secret. The caller should zero its own copy.
func NewSecret(data []byte) *Secret {
	s := &Secret{data: make([]byte, len(data))}
	copy(s.data, data)
	s.locked = mlock(s.data)

	runtime.SetFinalizer(s, func(s *Secret) { s.Destroy() })
	return s
}

// Bytes returns the held bytes, or nil after Destroy.
func (s *Secret) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Len returns the number of held bytes.
func (s *Secret) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Locked reports whether the memory is locked against swapping.
func (s *Secret) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Destroy zeroes and releases the memory. It is safe to call more than once.
func (s *Secret) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return
	}
	Zero(s.data)
	if s.locked {
		munlock(s.data)
		s.locked = false
	}
	s.data = nil
	runtime.SetFinalizer(s, nil)
}

// Zero overwrites b with zeroes.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

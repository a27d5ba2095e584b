package embedded

import (
	"sync"
)

// StateKind enumerates auth states.
type StateKind int

// Auth states.
const (
	StateNotReady StateKind = iota
	StateLoading
	StateAuthenticated
	StateUnauthenticated
	StateError
)

func (k StateKind) String() string {
	switch k {
	case StateNotReady:
		return "not_ready"
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// AuthState is the app-wide authentication gate.
type AuthState struct {
	Kind    StateKind
	User    *User
	Message string
}

// IsAuthenticated reports whether the state carries a user.
func (s AuthState) IsAuthenticated() bool {
	return s.Kind == StateAuthenticated
}

// stateHub holds the current state and fans changes out to subscribers.
// Slow subscribers only ever see the latest state.
type stateHub struct {
	mu     sync.RWMutex
	state  AuthState
	subs   map[int]chan AuthState
	nextID int
}

func newStateHub() *stateHub {
	return &stateHub{
		state: AuthState{Kind: StateNotReady},
		subs:  make(map[int]chan AuthState),
	}
}

func (h *stateHub) get() AuthState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *stateHub) set(s AuthState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
	for _, ch := range h.subs {
		// Drop a stale pending value so the newest state always lands.
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (h *stateHub) subscribe() (<-chan AuthState, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan AuthState, 1)
	ch <- h.state
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

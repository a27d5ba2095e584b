// Package platform bridges the wallet core to its host: opening URIs in
// other apps, tracking whether the host is in the foreground, and probing
// which wallet apps are installed.
package platform

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoHandler is returned when no installed app can open a URI.
var ErrNoHandler = errors.New("no application can handle the uri")

// Launcher opens a URI. targetPackage restricts the handler to one app;
// empty lets the OS choose or show its picker.
type Launcher interface {
	Open(ctx context.Context, uri, targetPackage string) error
}

// ForegroundChecker reports whether the host app is in the foreground.
type ForegroundChecker interface {
	IsForeground() bool
}

// Probe reports whether an app package is installed.
type Probe interface {
	IsInstalled(pkg string) bool
}

// Foreground tracks the host's foreground state. The host calls
// SetForeground from its lifecycle callbacks.
type Foreground struct {
	mu sync.RWMutex
	fg bool
}

// NewForeground creates a tracker with the given initial state.
func NewForeground(initial bool) *Foreground {
	return &Foreground{fg: initial}
}

// IsForeground reports the current state.
func (f *Foreground) IsForeground() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fg
}

// SetForeground records a state change.
func (f *Foreground) SetForeground(fg bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fg = fg
}

// AlwaysForeground is a checker for hosts without a background state, such as a CLI.
type AlwaysForeground struct{}

// IsForeground always returns true.
func (AlwaysForeground) IsForeground() bool { return true }

// WaitForForeground polls f every poll until it reports foreground or
// timeout passes. It returns whether the host reached the foreground.
func WaitForForeground(ctx context.Context, f ForegroundChecker, poll, timeout time.Duration) bool {
	if f.IsForeground() {
		return true
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return f.IsForeground()
		case <-ticker.C:
			if f.IsForeground() {
				return true
			}
		}
	}
}

// StaticProbe is a Probe over a fixed package set. A nil StaticProbe
// reports every package as installed.
type StaticProbe map[string]bool

// IsInstalled reports whether pkg is in the set.
func (p StaticProbe) IsInstalled(pkg string) bool {
	if p == nil {
		return true
	}
	return p[pkg]
}

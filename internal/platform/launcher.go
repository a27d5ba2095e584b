package platform

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// SystemLauncher opens URIs with the desktop's default handler. The
// target package is ignored; desktops have no per-app routing.
type SystemLauncher struct {
	Logger LogWriter

	// command overrides the opener; used in tests.
	command func(ctx context.Context, uri string) *exec.Cmd
}

// NewSystemLauncher creates a launcher for the current OS.
func NewSystemLauncher(logger LogWriter) *SystemLauncher {
	if logger == nil {
		logger = nopLogger{}
	}
	return &SystemLauncher{Logger: logger}
}

// Open launches uri and returns once the opener has been started.
func (l *SystemLauncher) Open(ctx context.Context, uri, targetPackage string) error {
	cmd := l.cmd(ctx, uri)
	if cmd == nil {
		return ErrNoHandler
	}
	if cmd.Err != nil {
		return fmt.Errorf("%w: %w", ErrNoHandler, cmd.Err)
	}

	l.Logger.Debug("platform: opening %s (package %q)", uri, targetPackage)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrNoHandler, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func (l *SystemLauncher) cmd(ctx context.Context, uri string) *exec.Cmd {
	// The opener must outlive a flow that is cancelled right after launch.
	ctx = context.WithoutCancel(ctx)
	if l.command != nil {
		return l.command(ctx, uri)
	}
	switch runtime.GOOS {
	case "darwin":
		return exec.CommandContext(ctx, "open", uri)
	case "windows":
		return exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", uri)
	case "linux", "freebsd", "openbsd", "netbsd":
		return exec.CommandContext(ctx, "xdg-open", uri)
	default:
		return nil
	}
}

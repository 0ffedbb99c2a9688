package browser

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// Browser represents a running Chrome instance with CDP enabled.
type Browser struct {
	cmd  *exec.Cmd
	port int
}

// ErrStartTimeout is returned when the browser fails to start in time.
var ErrStartTimeout = errors.New("browser start timeout")

// Start launches a new Chrome browser with CDP enabled.
// It waits for the CDP endpoint to become available before returning.
func Start(opts LaunchOptions) (*Browser, error) {
	binPath, err := FindChrome()
	if err != nil {
		return nil, err
	}
	return StartWithBinary(binPath, opts)
}

// StartWithBinary launches Chrome using the specified binary path.
func StartWithBinary(binPath string, opts LaunchOptions) (*Browser, error) {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}

	cmd, err := spawnProcess(binPath, opts)
	if err != nil {
		return nil, err
	}

	b := &Browser{cmd: cmd, port: port}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.waitForCDP(ctx); err != nil {
		_ = b.Kill()
		return nil, err
	}

	return b, nil
}

// waitForCDP polls the CDP endpoint until it responds or context is cancelled.
func (b *Browser) waitForCDP(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ErrStartTimeout
		case <-ticker.C:
			if _, err := FetchVersion(ctx, "127.0.0.1", b.port); err == nil {
				return nil
			}
		}
	}
}

// Port returns the CDP debugging port.
func (b *Browser) Port() int {
	return b.port
}

// PID returns the browser process ID.
func (b *Browser) PID() int {
	if b.cmd == nil || b.cmd.Process == nil {
		return 0
	}
	return b.cmd.Process.Pid
}

// Version fetches the browser version information.
func (b *Browser) Version(ctx context.Context) (*VersionInfo, error) {
	return FetchVersion(ctx, "127.0.0.1", b.port)
}

// Kill terminates the browser process. The profile directory is left intact.
func (b *Browser) Kill() error {
	if b.cmd == nil || b.cmd.Process == nil {
		return nil
	}

	// SIGTERM first for graceful shutdown
	if err := b.cmd.Process.Signal(os.Interrupt); err != nil {
		if !errors.Is(err, os.ErrProcessDone) {
			_ = b.cmd.Process.Kill()
		}
	}

	_ = b.cmd.Wait()
	b.cmd = nil
	return nil
}

// KillPID terminates a browser process by PID, used when the daemon did
// not launch Chrome itself (cleanup of a cached chrome.pid).
func KillPID(pid int) error {
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(os.Interrupt); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return proc.Kill()
	}
	return nil
}

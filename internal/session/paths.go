// Package session manages the on-disk session directory: lock files,
// PID files, metadata, and the final telemetry output.
package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix scopes environment configuration, e.g. BDG_SESSION_DIR.
const envPrefix = "bdg"

// config holds environment-derived settings.
type config struct {
	SessionDir string `envconfig:"SESSION_DIR"`
}

// Dir is a resolved session directory. All well-known session files
// live directly beneath it.
type Dir struct {
	root string
}

// Resolve determines the session directory: BDG_SESSION_DIR when set,
// otherwise ~/.bdg.
func Resolve() (Dir, error) {
	var cfg config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Dir{}, fmt.Errorf("read environment: %w", err)
	}
	if cfg.SessionDir != "" {
		return Dir{root: cfg.SessionDir}, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Dir{}, fmt.Errorf("resolve home directory: %w", err)
	}
	return Dir{root: filepath.Join(home, ".bdg")}, nil
}

// At returns a Dir rooted at an explicit path, for tests and overrides.
func At(root string) Dir {
	return Dir{root: root}
}

// Ensure creates the directory with owner-only permissions.
func (d Dir) Ensure() error {
	return os.MkdirAll(d.root, 0700)
}

// Root returns the directory path.
func (d Dir) Root() string { return d.root }

// SessionPID is the worker PID file.
func (d Dir) SessionPID() string { return filepath.Join(d.root, "session.pid") }

// SessionLock is the worker lock file.
func (d Dir) SessionLock() string { return filepath.Join(d.root, "session.lock") }

// SessionMeta is the session metadata file.
func (d Dir) SessionMeta() string { return filepath.Join(d.root, "session.meta.json") }

// DaemonPID is the daemon PID file.
func (d Dir) DaemonPID() string { return filepath.Join(d.root, "daemon.pid") }

// DaemonSocket is the IPC socket path.
func (d Dir) DaemonSocket() string { return filepath.Join(d.root, "daemon.sock") }

// DaemonLock is the daemon lock file.
func (d Dir) DaemonLock() string { return filepath.Join(d.root, "daemon.lock") }

// ChromePID caches the launched Chrome PID across sessions.
func (d Dir) ChromePID() string { return filepath.Join(d.root, "chrome.pid") }

// Output is the final telemetry output file.
func (d Dir) Output() string { return filepath.Join(d.root, "session.json") }

// ChromeProfile is the Chrome user data directory.
func (d Dir) ChromeProfile() string { return filepath.Join(d.root, "chrome-profile") }

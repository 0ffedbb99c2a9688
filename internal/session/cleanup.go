package session

import (
	"fmt"
	"os"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Overridable in tests.
var (
	termProcess = func(pid int) error {
		proc, err := os.FindProcess(pid)
		if err != nil {
			return err
		}
		return proc.Signal(syscall.SIGTERM)
	}
	forceKillProcess = func(pid int) error {
		proc, err := os.FindProcess(pid)
		if err != nil {
			return err
		}
		return proc.Kill()
	}
)

// CleanupResult reports what a cleanup pass did.
type CleanupResult struct {
	Cleaned      bool
	KilledWorker bool
	KilledChrome bool
}

// Cleanup removes stale session files left behind by a crashed daemon.
// It runs under the session lock: a live session holds that lock and
// makes Cleanup fail with ErrLockHeld. An orphaned worker (alive while
// the daemon is dead) is force-killed. session.json, chrome.pid, and
// the Chrome profile are preserved. Repeated calls are no-ops.
func Cleanup(d Dir, log logrus.FieldLogger) (CleanupResult, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	var res CleanupResult

	if err := AcquireLock(d.SessionLock()); err != nil {
		return res, err
	}
	defer ReleaseLock(d.SessionLock())

	workerPID, _ := ReadPID(d.SessionPID())
	daemonPID, _ := ReadPID(d.DaemonPID())

	if PIDAlive(workerPID) && !PIDAlive(daemonPID) {
		log.WithField("pid", workerPID).Warn("killing orphaned worker")
		if err := forceKillProcess(workerPID); err != nil {
			return res, fmt.Errorf("kill orphaned worker %d: %w", workerPID, err)
		}
		res.KilledWorker = true
	}

	stale := []string{
		d.SessionPID(),
		d.SessionMeta(),
		d.DaemonPID(),
		d.DaemonSocket(),
		d.DaemonLock(),
	}
	for _, path := range stale {
		if err := os.Remove(path); err == nil {
			res.Cleaned = true
		} else if !os.IsNotExist(err) {
			return res, fmt.Errorf("remove %s: %w", path, err)
		}
	}

	if chromePID, err := ReadPID(d.ChromePID()); err == nil && PIDAlive(chromePID) {
		log.WithField("pid", chromePID).Info("terminating cached Chrome process")
		if err := termProcess(chromePID); err != nil {
			log.WithError(err).Warn("could not terminate Chrome")
		} else {
			res.KilledChrome = true
		}
	}

	return res, nil
}

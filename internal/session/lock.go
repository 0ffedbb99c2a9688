package session

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrLockHeld is returned when a lock file belongs to a live process.
var ErrLockHeld = errors.New("lock held by running process")

// AcquireLock takes a PID lock file with exclusive-create semantics.
// On conflict the stored PID is probed: a dead holder's file is removed
// and the acquisition retried once; a live holder yields ErrLockHeld.
func AcquireLock(path string) error {
	if err := tryCreateLock(path); err == nil {
		return nil
	} else if !os.IsExist(err) {
		return fmt.Errorf("create lock %s: %w", path, err)
	}

	holder, err := readHolder(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Holder vanished between the create attempt and the read.
			err = tryCreateLock(path)
			if err == nil {
				return nil
			}
			if os.IsExist(err) {
				return fmt.Errorf("%w: pid unknown", ErrLockHeld)
			}
			return fmt.Errorf("create lock %s: %w", path, err)
		}
		// Still unreadable after the grace period, treat as stale.
		holder = 0
	}
	if PIDAlive(holder) {
		return fmt.Errorf("%w: pid %d", ErrLockHeld, holder)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale lock %s: %w", path, err)
	}

	if err := tryCreateLock(path); err != nil {
		if os.IsExist(err) {
			// Lost the race to another acquirer.
			return fmt.Errorf("%w: pid unknown", ErrLockHeld)
		}
		return fmt.Errorf("create lock %s: %w", path, err)
	}
	return nil
}

// readHolder reads the owning PID from a lock file. A freshly created
// lock may not have its PID written yet, so unparseable content is
// retried briefly before being reported.
func readHolder(path string) (int, error) {
	var (
		pid int
		err error
	)
	for i := 0; i < 10; i++ {
		pid, err = ReadPID(path)
		if err == nil || os.IsNotExist(err) {
			return pid, err
		}
		time.Sleep(5 * time.Millisecond)
	}
	return pid, err
}

// tryCreateLock creates the lock file with O_EXCL and writes the
// caller's PID.
func tryCreateLock(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if werr != nil {
		os.Remove(path)
		return werr
	}
	if cerr != nil {
		os.Remove(path)
		return cerr
	}
	return nil
}

// ReleaseLock removes a lock file. Missing files are not an error.
func ReleaseLock(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

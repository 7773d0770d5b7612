package plan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const lockFileName = "run.lock"

// ErrLocked is returned when another live process holds the run lock.
var ErrLocked = errors.New("loop is already running")

// RunLock is a PID file that keeps two processes from driving the same
// workspace at once.
type RunLock struct {
	path string
}

// NewRunLock creates a lock manager storing its file in dir.
func NewRunLock(dir string) *RunLock {
	return &RunLock{
		path: filepath.Join(dir, lockFileName),
	}
}

// Acquire takes the lock. Stale locks left by dead processes are removed
// and the acquisition is retried once.
func (l *RunLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := l.create()
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return err
		}

		held, checkErr := l.IsLocked()
		if checkErr != nil {
			return checkErr
		}
		if held {
			pid, _ := l.readPID()
			return fmt.Errorf("%w (PID %d)", ErrLocked, pid)
		}
		// IsLocked removed the stale file; loop to retry once.
	}

	return fmt.Errorf("%w: lock acquired by another process during retry", ErrLocked)
}

// create writes our PID with O_EXCL so only one process can win.
func (l *RunLock) create() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return err
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	_, writeErr := fmt.Fprintf(f, "%d", os.Getpid())
	f.Close()
	if writeErr != nil {
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock file: %w", writeErr)
	}
	return nil
}

// Release removes the lock file. Releasing an absent lock is not an error.
func (l *RunLock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// IsLocked reports whether a live process holds the lock.
// Stale or unreadable lock files are removed and reported as unlocked.
func (l *RunLock) IsLocked() (bool, error) {
	pid, err := l.readPID()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		var numErr *strconv.NumError
		if !errors.As(err, &numErr) {
			return false, fmt.Errorf("failed to read existing lock file: %w", err)
		}
		// Garbage in the lock file: fall through and treat as stale.
	} else if processExists(pid) {
		return true, nil
	}

	if removeErr := os.Remove(l.path); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to remove stale lock file: %w", removeErr)
	}
	return false, nil
}

func (l *RunLock) readPID() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processExists checks if a process with the given PID is running.
// Signal 0 probes for existence without delivering anything.
func processExists(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

package session

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	lockRetries    = 50
	lockRetryDelay = 100 * time.Millisecond
	lockStaleAfter = 30 * time.Second
)

// fileLock is a cross-process lock implemented as an exclusively created sibling file.
type fileLock struct {
	file *os.File
	path string
}

// acquireFileLock locks path by creating path+".lock", waiting for other
// holders and breaking locks older than lockStaleAfter.
func acquireFileLock(path string) (*fileLock, error) {
	lockPath := path + ".lock"

	for range lockRetries {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// PID helps when inspecting a stuck lock by hand.
			fmt.Fprintf(f, "%d", os.Getpid())
			return &fileLock{file: f, path: lockPath}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil &&
			time.Since(info.ModTime()) > lockStaleAfter {
			if remErr := os.Remove(lockPath); remErr != nil && !errors.Is(remErr, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, remErr)
			}
			continue
		}

		time.Sleep(lockRetryDelay)
	}

	return nil, fmt.Errorf(
		"timeout waiting for file lock after %v",
		time.Duration(lockRetries)*lockRetryDelay,
	)
}

// release removes the lock file. Calling it twice returns the removal error.
func (l *fileLock) release() error {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	return os.Remove(l.path)
}

package store

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	lockSuffix     = ".lock"
	lockRetryDelay = 100 * time.Millisecond
	lockWait       = 5 * time.Second
	lockStaleAfter = 30 * time.Second
)

// fileLock guards writes to the shared token file across dashboard
// processes with a sibling lock file created O_EXCL. A lock left behind by
// a crashed process is taken over once it ages past lockStaleAfter.
type fileLock struct {
	f    *os.File
	path string
}

// acquireFileLock takes the lock for the given token file, waiting up to
// lockWait for a live holder to release it.
func acquireFileLock(tokenPath string) (*fileLock, error) {
	path := tokenPath + lockSuffix
	deadline := time.Now().Add(lockWait)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// Record the holder so a stuck lock can be traced to a process.
			fmt.Fprintf(f, "%d", os.Getpid())
			return &fileLock{f: f, path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("store: acquire token file lock: %w", err)
		}

		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			if remErr := os.Remove(path); remErr != nil && !errors.Is(remErr, os.ErrNotExist) {
				return nil, fmt.Errorf("store: remove stale lock %s: %w", path, remErr)
			}
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("store: token file still locked after %v", lockWait)
		}
		time.Sleep(lockRetryDelay)
	}
}

// release drops the lock. Safe to call even when the lock file was already
// stolen by a stale takeover.
func (l *fileLock) release() error {
	if l.f != nil {
		_ = l.f.Close()
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store: release token file lock: %w", err)
	}
	return nil
}

// Package lock guards a session directory against a second daemon.
// Both the archive database and the protocol session store assume a
// single writer, so exactly one chatvaultd may own a session at a
// time.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockHeldError reports that another process already owns the session.
type LockHeldError struct {
	PID  int
	Path string
}

func (e *LockHeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("session already in use by pid %d (%s)", e.PID, e.Path)
	}
	return fmt.Sprintf("session already in use (%s)", e.Path)
}

// Lock is a held flock on a session directory.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes the exclusive session lock, creating the directory if
// needed. When the lock is held elsewhere it returns *LockHeldError
// carrying the owner's pid, if the lock file records one.
func Acquire(sessionDir string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(sessionDir, "LOCK")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		owner := ownerPID(path)
		_ = f.Close()
		return nil, &LockHeldError{PID: owner, Path: path}
	}
	if err := stampOwner(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{f: f, path: path}, nil
}

// Release drops the lock and removes its file. Safe on a nil or
// already-released lock.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.f.Close()
	l.f = nil
	return err
}

// stampOwner records who holds the lock, for the message the next
// contender prints.
func stampOwner(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nacquired=%s\n",
		os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func ownerPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if rest, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(rest)
			return pid
		}
	}
	return 0
}

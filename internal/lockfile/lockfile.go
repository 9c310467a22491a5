// Package lockfile guards the state directory so only one ChatWarden process
// owns the WhatsApp session and the moderation document at a time.
//
// The lock is an flock on a file inside the state directory; the kernel drops
// it when the process exits, so a crash never leaves the directory locked.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "chatwarden.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Host    string
	Started time.Time
}

func (h Holder) String() string {
	if h.PID == 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if isProcessRunning(h.PID) {
		state = "running"
	}
	s := fmt.Sprintf("PID %d (%s)", h.PID, state)
	if h.Host != "" {
		s += " on " + h.Host
	}
	if !h.Started.IsZero() {
		s += " since " + h.Started.Format(time.RFC3339)
	}
	return s
}

// AcquireLock takes an exclusive, non-blocking lock on stateDir. When another
// process holds it the returned error is a *LockError naming that process.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// no O_TRUNC: the current holder's details must survive a failed attempt
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := readHolder(lockPath)
		slog.Error("Lockfile: state directory already locked", "lock_path", lockPath, "holder", holder.String())
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	host, _ := os.Hostname()
	info := fmt.Sprintf("pid=%d\nhost=%s\nstarted=%s\n", os.Getpid(), host, time.Now().UTC().Format(time.RFC3339))
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Lockfile: acquired state directory lock", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

func writeInfo(f *os.File, info string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(info), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("Lockfile: sync failed", "error", err, "lock_path", f.Name())
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// remove first so a waiting process never sees our stale details
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lockfile: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lockfile: failed to unlock", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Lockfile: released state directory lock", "lock_path", l.path)
	return err
}

// LockError is returned when another process holds the state directory.
type LockError struct {
	LockPath string
	Holder   Holder
	Cause    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("state directory is locked by another ChatWarden instance: %s (lock file %s). "+
		"If that process is gone the lock is stale and the file can be removed manually; "+
		"running two instances against one state directory corrupts the session and the moderation document",
		e.Holder, e.LockPath)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// readHolder parses the key=value lines written by AcquireLock.
func readHolder(lockPath string) Holder {
	var h Holder
	f, err := os.Open(lockPath)
	if err != nil {
		return h
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(val)
		case "host":
			h.Host = val
		case "started":
			h.Started, _ = time.Parse(time.RFC3339, val)
		}
	}
	return h
}

// isProcessRunning sends signal 0, which only checks that pid exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

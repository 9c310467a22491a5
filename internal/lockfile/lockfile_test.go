package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %s", lock.Path())
	}
	h := readHolder(lock.Path())
	if h.PID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", h.PID, os.Getpid())
	}
	if h.Started.IsZero() {
		t.Error("start time should be recorded")
	}
}

func TestSecondAcquireFails(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	defer first.Release()

	second, err := AcquireLock(dir)
	if err == nil {
		second.Release()
		t.Fatal("second acquisition should fail")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("failed attempt must not clobber holder details, got pid %d", lockErr.Holder.PID)
	}
	if !strings.Contains(err.Error(), "another ChatWarden instance") || !strings.Contains(err.Error(), dir) {
		t.Errorf("error should name the instance and lock path: %s", err)
	}
	if lockErr.Unwrap() == nil {
		t.Error("cause should be preserved")
	}
}

func TestReleaseRemovesFileAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file should be removed")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op: %v", err)
	}

	again, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	again.Release()
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Errorf("state directory not created: %v", err)
	}
}

func TestReadHolder(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
		host    string
	}{
		{"full", "pid=12345\nhost=box\nstarted=2025-01-02T03:04:05Z\n", 12345, "box"},
		{"pid only", "pid=67890", 67890, ""},
		{"invalid pid", "pid=abc\nhost=x", 0, "x"},
		{"no separator", "pid12345", 0, ""},
		{"empty", "", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), LockFileName)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			h := readHolder(path)
			if h.PID != tt.pid || h.Host != tt.host {
				t.Errorf("readHolder = %+v, want pid %d host %q", h, tt.pid, tt.host)
			}
		})
	}
	if h := readHolder(filepath.Join(t.TempDir(), "missing")); h.PID != 0 {
		t.Errorf("missing file should yield zero holder, got %+v", h)
	}
}

func TestHolderString(t *testing.T) {
	if s := (Holder{}).String(); s != "unknown process" {
		t.Errorf("zero holder = %q", s)
	}
	s := Holder{PID: os.Getpid(), Host: "box"}.String()
	if !strings.Contains(s, fmt.Sprintf("PID %d (running)", os.Getpid())) || !strings.Contains(s, "on box") {
		t.Errorf("unexpected holder string %q", s)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("own process should be running")
	}
}

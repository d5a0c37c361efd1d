// Package lock keeps two clients from holding the same profile's push
// connection at once.
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

// FileName is the lock file created inside a profile directory.
const FileName = "livesync.lock"

// HeldError is returned when another process owns the profile.
type HeldError struct {
	PID     int
	Profile string
}

func (e *HeldError) Error() string {
	if e.PID == 0 {
		return fmt.Sprintf("profile %s is in use by another process", e.Profile)
	}
	return fmt.Sprintf("profile %s is in use by PID %d", e.Profile, e.PID)
}

// Profile is an exclusive advisory lock on a profile directory.
type Profile struct {
	file *os.File
	path string
}

// Acquire takes the lock in dir without blocking.
func Acquire(dir string) (*Profile, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(path)
		_ = f.Close()
		return nil, &HeldError{PID: ownerPID(string(data)), Profile: filepath.Base(dir)}
	}
	if err := stamp(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Profile{file: f, path: path}, nil
}

func stamp(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nsince=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

// Release drops the lock. Safe on a nil or released lock.
func (p *Profile) Release() error {
	if p == nil || p.file == nil {
		return nil
	}
	_ = os.Remove(p.path)
	err := p.file.Close()
	p.file = nil
	return err
}

func ownerPID(content string) int {
	for line := range strings.SplitSeq(content, "\n") {
		if v, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(v)
			return pid
		}
	}
	return 0
}

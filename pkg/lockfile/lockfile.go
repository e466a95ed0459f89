// Package lockfile guards a backup destination against concurrent runs.
//
// The lock is a small JSON file created with O_EXCL in the destination root.
// A background heartbeat refreshes it; a lock whose heartbeat stopped longer
// than the stale timeout ago is taken over through an atomic rename.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulschiretz/pgl-filebackup/pkg/compression"
	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// LockFileName is the name of the lock file created in the destination directory.
const LockFileName = ".pgl-filebackup.lock"

// LockContent defines the structure of the data written to the lock file.
type LockContent struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	Operation  string    `json:"operation"`
	Token      string    `json:"token"` // unique per holder; resolves takeover races
	LastUpdate time.Time `json:"lastUpdate"`
}

// ErrLockActive is returned when a lock is already held by another process.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	Operation string
	TimeSince time.Duration
}

// Error implements the error interface for ErrLockActive.
func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("destination is locked by a %s run, PID %d on host '%s', last updated %s ago",
		e.Operation, e.PID, e.Hostname, e.TimeSince.Truncate(time.Second))
}

// ErrLostRace is returned when another process wins a stale lock takeover.
var ErrLostRace = errors.New("lost race during stale lock takeover")

// ErrCorruptLockFile indicates that the lock file on disk is empty or not valid JSON.
var ErrCorruptLockFile = errors.New("lock file is corrupt or empty")

// These are vars to allow modification during testing.
var (
	heartbeatInterval = 1 * time.Minute
	staleTimeout      = 3 * heartbeatInterval
)

// Lock is an acquired lock.
type Lock struct {
	path    string
	content LockContent
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	held    bool
}

// Acquire takes the lock for dirPath. It returns *ErrLockActive if another
// live process holds it.
func Acquire(ctx context.Context, dirPath, operation string) (*Lock, error) {
	lockPath := filepath.Join(dirPath, LockFileName)
	const maxAttempts = 3

	for range maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content, err := newContent(operation)
		if err != nil {
			return nil, err
		}

		err = tryCreate(lockPath, content)
		if err == nil {
			return start(lockPath, content), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}

		existing, readErr := readLockContent(lockPath)
		switch {
		case readErr == nil:
			elapsed := time.Since(existing.LastUpdate)
			if elapsed < staleTimeout {
				return nil, &ErrLockActive{
					PID:       existing.PID,
					Hostname:  existing.Hostname,
					Operation: existing.Operation,
					TimeSince: elapsed,
				}
			}
			plog.Warn("Found stale lock, attempting takeover", "pid", existing.PID, "age", elapsed.Truncate(time.Second))
		case errors.Is(readErr, ErrCorruptLockFile):
			plog.Warn("Found corrupt lock file, treating as stale", "path", lockPath, "error", readErr)
		case os.IsNotExist(readErr):
			continue // released between our create and read
		default:
			return nil, fmt.Errorf("failed to read lock file: %w", readErr)
		}

		if err := takeover(lockPath, content); err != nil {
			if errors.Is(err, ErrLostRace) {
				plog.Debug("Lock takeover race lost, retrying acquisition")
			} else {
				plog.Warn("Failed to take over lock, retrying", "error", err)
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		return start(lockPath, content), nil
	}
	return nil, fmt.Errorf("failed to acquire lock after %d attempts (contention)", maxAttempts)
}

// Release stops the heartbeat and removes the lock file. It is idempotent.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.cancel()
	<-l.done
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
	} else {
		plog.Debug("Lock released", "path", l.path)
	}
	l.held = false
}

func newContent(operation string) (LockContent, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return LockContent{}, fmt.Errorf("failed to read hostname: %w", err)
	}
	return LockContent{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		Operation:  operation,
		Token:      uuid.NewString(),
		LastUpdate: time.Now().UTC(),
	}, nil
}

// tryCreate uses O_EXCL to guarantee "I created this file first".
func tryCreate(lockPath string, content LockContent) error {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return err
	}
	if err := writeLockContent(f, content); err != nil {
		f.Close()
		os.Remove(lockPath)
		return err
	}
	return f.Close()
}

// takeover replaces a stale lock and reads it back to confirm we won.
func takeover(lockPath string, content LockContent) error {
	if err := writeAtomic(lockPath, content); err != nil {
		return err
	}
	readback, err := readLockContent(lockPath)
	if err != nil {
		return fmt.Errorf("failed to read back lock file after takeover: %w", err)
	}
	if readback.Token != content.Token {
		return ErrLostRace
	}
	plog.Debug("Took over stale lock", "path", lockPath)
	return nil
}

func start(lockPath string, content LockContent) *Lock {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Lock{path: lockPath, content: content, cancel: cancel, done: make(chan struct{}), held: true}
	go l.heartbeat(ctx)
	return l
}

func (l *Lock) heartbeat(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.content.LastUpdate = time.Now().UTC()
			if err := writeAtomic(l.path, l.content); err != nil {
				plog.Warn("Heartbeat failed to update lock file", "error", err)
			}
		}
	}
}

// writeAtomic writes content to a temp file beside lockPath and renames it
// over the lock, so the lock file is never observed half-written.
func writeAtomic(lockPath string, content LockContent) error {
	tmpF, err := os.CreateTemp(filepath.Dir(lockPath), compression.TempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	tmpName := tmpF.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := writeLockContent(tmpF, content); err != nil {
		tmpF.Close()
		return err
	}
	if err := tmpF.Close(); err != nil {
		return fmt.Errorf("failed to close temp lock file: %w", err)
	}
	if err := os.Rename(tmpName, lockPath); err != nil {
		return fmt.Errorf("failed to rename temp file to lock file: %w", err)
	}
	return nil
}

func writeLockContent(w io.Writer, content LockContent) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write lock content: %w", err)
	}
	return nil
}

// readLockContent reads the lock file. An empty or unparsable file yields
// ErrCorruptLockFile.
func readLockContent(lockPath string) (LockContent, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return LockContent{}, err
	}
	if len(data) == 0 {
		return LockContent{}, fmt.Errorf("%w: file is empty", ErrCorruptLockFile)
	}
	var content LockContent
	if err := json.Unmarshal(data, &content); err != nil {
		return LockContent{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, err)
	}
	return content, nil
}

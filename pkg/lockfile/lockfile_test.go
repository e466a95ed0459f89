package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

func writeStaleLock(t *testing.T, lockPath string) {
	t.Helper()
	staleContent := LockContent{
		PID:        12345,
		Hostname:   "stale-host",
		Operation:  "backup",
		Token:      "stale-token",
		LastUpdate: time.Now().Add(-(staleTimeout + time.Minute)),
	}
	data, _ := json.Marshal(staleContent)
	if err := os.WriteFile(lockPath, data, util.UserWritableFilePerms); err != nil {
		t.Fatalf("failed to create stale lock file: %v", err)
	}
}

// TestAcquireAndRelease verifies the basic functionality of acquiring and releasing a lock.
func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	expectedLockPath := filepath.Join(dir, LockFileName)

	lock, err := Acquire(context.Background(), dir, "backup")
	if err != nil {
		t.Fatalf("expected to acquire lock, but got error: %v", err)
	}

	if _, err := os.Stat(expectedLockPath); os.IsNotExist(err) {
		t.Fatal("lock file was not created after acquiring lock")
	}

	lock.Release()

	if _, err := os.Stat(expectedLockPath); !os.IsNotExist(err) {
		t.Fatal("lock file was not removed after releasing lock")
	}
}

// TestContention ensures that a second run cannot acquire an active lock.
func TestContention(t *testing.T) {
	dir := t.TempDir()

	lock1, err := Acquire(context.Background(), dir, "backup")
	if err != nil {
		t.Fatalf("first run failed to acquire lock: %v", err)
	}
	defer lock1.Release()

	_, err = Acquire(context.Background(), dir, "restore")
	if err == nil {
		t.Fatal("second run unexpectedly acquired an active lock")
	}

	var lockErr *ErrLockActive
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected error of type *ErrLockActive, but got %T: %v", err, err)
	}
	if lockErr.Operation != "backup" {
		t.Errorf("expected lock error to report operation 'backup', but got '%s'", lockErr.Operation)
	}
	if lockErr.PID != int64(os.Getpid()) {
		t.Errorf("expected lock error to report PID %d, got %d", os.Getpid(), lockErr.PID)
	}
	if !strings.Contains(lockErr.Error(), "locked by a backup run") {
		t.Errorf("unexpected error message: %s", lockErr.Error())
	}
}

// TestStaleLockCleanup verifies that a stale lock can be acquired.
func TestStaleLockCleanup(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)
	writeStaleLock(t, lockPath)

	lock, err := Acquire(context.Background(), dir, "restore")
	if err != nil {
		t.Fatalf("failed to acquire stale lock: %v", err)
	}
	defer lock.Release()

	content, err := readLockContent(lockPath)
	if err != nil {
		t.Fatalf("failed to read content of newly acquired lock: %v", err)
	}
	if content.Operation != "restore" {
		t.Errorf("expected new lock to have operation 'restore', but got '%s'", content.Operation)
	}
	if content.Token == "stale-token" {
		t.Error("expected the stale token to be replaced")
	}
}

// TestStaleLockContention simulates two runs racing for the same stale lock.
// At most one of them may win while the other is reported as active.
func TestStaleLockContention(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)
	writeStaleLock(t, lockPath)

	var wg sync.WaitGroup
	locks := make([]*Lock, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			locks[i], errs[i] = Acquire(context.Background(), dir, "backup")
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := range 2 {
		if errs[i] == nil {
			winners++
			defer locks[i].Release()
		}
	}
	if winners < 1 {
		t.Fatalf("expected at least one run to take over the stale lock, errors: %v, %v", errs[0], errs[1])
	}
	if winners == 2 {
		// Both takeovers completed; the lock must name exactly one of them.
		content, err := readLockContent(lockPath)
		if err != nil {
			t.Fatalf("failed to read lock: %v", err)
		}
		if content.Token != locks[0].content.Token && content.Token != locks[1].content.Token {
			t.Error("lock file token matches neither holder")
		}
	}
}

// TestHeartbeatEffect verifies that the heartbeat refreshes LastUpdate.
func TestHeartbeatEffect(t *testing.T) {
	originalHeartbeat := heartbeatInterval
	heartbeatInterval = 20 * time.Millisecond
	defer func() { heartbeatInterval = originalHeartbeat }()

	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)

	lock, err := Acquire(context.Background(), dir, "backup")
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	defer lock.Release()

	initial, err := readLockContent(lockPath)
	if err != nil {
		t.Fatalf("failed to read initial lock content: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(30 * time.Millisecond)
		current, err := readLockContent(lockPath)
		if err != nil {
			continue
		}
		if current.LastUpdate.After(initial.LastUpdate) {
			return
		}
	}
	t.Error("heartbeat did not update LastUpdate")
}

// TestReleaseIdempotency ensures calling Release multiple times does not panic.
func TestReleaseIdempotency(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(context.Background(), dir, "backup")
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	lock.Release()
	lock.Release()
}

// TestAcquireCancelledContext ensures a cancelled context aborts acquisition.
func TestAcquireCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Acquire(ctx, t.TempDir(), "backup"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestReadLockContent(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)

	t.Run("Empty", func(t *testing.T) {
		if err := os.WriteFile(lockPath, nil, util.UserWritableFilePerms); err != nil {
			t.Fatal(err)
		}
		if _, err := readLockContent(lockPath); !errors.Is(err, ErrCorruptLockFile) {
			t.Errorf("expected ErrCorruptLockFile, got %v", err)
		}
	})

	t.Run("Garbage", func(t *testing.T) {
		if err := os.WriteFile(lockPath, []byte("{not json"), util.UserWritableFilePerms); err != nil {
			t.Fatal(err)
		}
		if _, err := readLockContent(lockPath); !errors.Is(err, ErrCorruptLockFile) {
			t.Errorf("expected ErrCorruptLockFile, got %v", err)
		}
	})

	t.Run("CorruptIsTakenOver", func(t *testing.T) {
		lock, err := Acquire(context.Background(), dir, "backup")
		if err != nil {
			t.Fatalf("expected corrupt lock to be taken over, got %v", err)
		}
		lock.Release()
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := readLockContent(filepath.Join(dir, "nope")); !os.IsNotExist(err) {
			t.Errorf("expected not-exist error, got %v", err)
		}
	})
}

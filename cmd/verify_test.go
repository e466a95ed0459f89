package cmd_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulschiretz/pgl-filebackup/cmd"
	"github.com/paulschiretz/pgl-filebackup/pkg/compression"
	"github.com/paulschiretz/pgl-filebackup/pkg/conflict"
	"github.com/paulschiretz/pgl-filebackup/pkg/engine"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
)

// backupTree writes a small tree and backs it up with the engine.
func backupTree(t *testing.T, kind compression.Kind) (src, backupDir string) {
	t.Helper()
	src = t.TempDir()
	backupDir = t.TempDir()
	files := map[string]string{
		"a.txt":       "some text that compresses well well well well",
		"dir/b.txt":   "another file",
		"dir/c/d.dat": "deep",
	}
	for rel, content := range files {
		path := filepath.Join(src, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	opts := engine.DefaultOptions()
	opts.Recursive = true
	opts.Compression = kind
	opts.Conflict = conflict.Overwrite
	e, err := engine.New(opts)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	if _, err := e.Backup(context.Background(), src, backupDir); err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	return src, backupDir
}

func TestRunVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("Intact Backup", func(t *testing.T) {
		src, backupDir := backupTree(t, compression.Gzip)
		if err := cmd.RunVerify(ctx, map[string]any{"base": backupDir, "quiet": true}); err != nil {
			t.Errorf("expected intact backup to verify, got %v", err)
		}
		if err := cmd.RunVerify(ctx, map[string]any{"base": backupDir, "source": src, "quiet": true}); err != nil {
			t.Errorf("expected intact backup to match its source, got %v", err)
		}
	})

	t.Run("Corrupt Stored File", func(t *testing.T) {
		_, backupDir := backupTree(t, compression.Zstd)
		if err := os.WriteFile(filepath.Join(backupDir, "dir", "b.txt.zst"), []byte("garbage"), 0644); err != nil {
			t.Fatal(err)
		}
		err := cmd.RunVerify(ctx, map[string]any{"base": backupDir, "quiet": true})
		if code := resultcode.CodeOf(err); code != resultcode.CompressionError && code != resultcode.ChecksumError {
			t.Errorf("expected CompressionError or ChecksumError, got %v", err)
		}
	})

	t.Run("Tampered Uncompressed File", func(t *testing.T) {
		_, backupDir := backupTree(t, compression.None)
		if err := os.WriteFile(filepath.Join(backupDir, "a.txt"), []byte("changed"), 0644); err != nil {
			t.Fatal(err)
		}
		err := cmd.RunVerify(ctx, map[string]any{"base": backupDir, "quiet": true})
		if !resultcode.Is(err, resultcode.ChecksumError) {
			t.Errorf("expected ChecksumError, got %v", err)
		}
	})

	t.Run("Source Changed Since Backup", func(t *testing.T) {
		src, backupDir := backupTree(t, compression.Lz4)
		if err := os.WriteFile(filepath.Join(src, "dir", "c", "d.dat"), []byte("DEEP"), 0644); err != nil {
			t.Fatal(err)
		}
		err := cmd.RunVerify(ctx, map[string]any{"base": backupDir, "source": src, "quiet": true})
		if !resultcode.Is(err, resultcode.ChecksumError) {
			t.Errorf("expected ChecksumError, got %v", err)
		}
	})

	t.Run("Missing Stored File", func(t *testing.T) {
		_, backupDir := backupTree(t, compression.None)
		if err := os.Remove(filepath.Join(backupDir, "dir", "b.txt")); err != nil {
			t.Fatal(err)
		}
		err := cmd.RunVerify(ctx, map[string]any{"base": backupDir, "quiet": true})
		if !resultcode.Is(err, resultcode.FileOpenError) {
			t.Errorf("expected FileOpenError, got %v", err)
		}
	})
}

package metadata

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// createFile is a helper to create a file with specific content and mode.
func createFile(t *testing.T, path string, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatalf("failed to create file %s: %v", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatalf("failed to chmod %s: %v", path, err)
	}
}

func TestApply(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not preserved on windows")
	}

	base := t.TempDir()
	src := filepath.Join(base, "src.sh")
	dst := filepath.Join(base, "dst.sh")
	createFile(t, src, 0750)
	createFile(t, dst, 0600)

	mtime := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	atime := time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := os.Chtimes(src, atime, mtime); err != nil {
		t.Fatal(err)
	}

	t.Run("Copies permissions and timestamps", func(t *testing.T) {
		res := Apply(src, dst, Options{Permissions: true, Timestamps: true})
		if !res.OK() {
			t.Fatalf("expected no warnings, got %v", res.Warnings)
		}
		if !res.Permissions || !res.Timestamps {
			t.Errorf("expected permissions and timestamps applied, got %+v", res)
		}

		info, err := os.Stat(dst)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0750 {
			t.Errorf("expected mode 0750, got %o", info.Mode().Perm())
		}
		if !info.ModTime().Equal(mtime) {
			t.Errorf("expected mtime %v, got %v", mtime, info.ModTime())
		}
	})

	t.Run("Does nothing when nothing is requested", func(t *testing.T) {
		other := filepath.Join(base, "other")
		createFile(t, other, 0600)
		before, _ := os.Stat(other)

		res := Apply(src, other, Options{})
		if res.Permissions || res.Timestamps || res.Owner {
			t.Errorf("expected nothing applied, got %+v", res)
		}
		after, _ := os.Stat(other)
		if after.Mode() != before.Mode() {
			t.Errorf("expected mode to stay %v, got %v", before.Mode(), after.Mode())
		}
	})

	t.Run("Timestamps only leaves permissions", func(t *testing.T) {
		other := filepath.Join(base, "other2")
		createFile(t, other, 0600)

		res := Apply(src, other, Options{Timestamps: true})
		if res.Permissions || !res.Timestamps {
			t.Errorf("expected only timestamps applied, got %+v", res)
		}
		info, _ := os.Stat(other)
		if info.Mode().Perm() != 0600 {
			t.Errorf("expected mode 0600 to be kept, got %o", info.Mode().Perm())
		}
	})

	t.Run("Missing destination is a warning, not a panic", func(t *testing.T) {
		res := Apply(src, filepath.Join(base, "missing"), Options{Permissions: true, Timestamps: true})
		if res.OK() {
			t.Error("expected warnings for a missing destination")
		}
	})

	t.Run("Missing source is a warning", func(t *testing.T) {
		res := Apply(filepath.Join(base, "nope"), dst, Options{Timestamps: true})
		if len(res.Warnings) != 1 {
			t.Errorf("expected exactly one warning, got %v", res.Warnings)
		}
	})
}

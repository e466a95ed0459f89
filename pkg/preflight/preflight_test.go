package preflight

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
)

func TestCheckTargetAccessible(t *testing.T) {
	t.Run("Happy Path - Target Exists", func(t *testing.T) {
		if err := CheckTargetAccessible(t.TempDir(), true); err != nil {
			t.Errorf("expected no error for existing directory, but got: %v", err)
		}
	})

	t.Run("Happy Path - Target Does Not Exist, Ancestor Exists", func(t *testing.T) {
		targetDir := filepath.Join(t.TempDir(), "a", "b", "new_dir")
		if err := CheckTargetAccessible(targetDir, true); err != nil {
			t.Errorf("expected no error when an ancestor exists, but got: %v", err)
		}
	})

	t.Run("Error - Target Is a File", func(t *testing.T) {
		targetFile := filepath.Join(t.TempDir(), "target.txt")
		if err := os.WriteFile(targetFile, []byte("i am a file"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		err := CheckTargetAccessible(targetFile, true)
		if err == nil {
			t.Fatal("expected an error when target is a file, but got nil")
		}
		if !strings.Contains(err.Error(), "is not a directory") {
			t.Errorf("expected error to be about 'not a directory', but got: %v", err)
		}
		if err := CheckTargetAccessible(targetFile, false); err != nil {
			t.Errorf("expected a file target to be accepted for a file source, got: %v", err)
		}
	})

	t.Run("Error - Ancestor Is a File", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(file, nil, 0644); err != nil {
			t.Fatal(err)
		}
		for _, target := range []string{
			filepath.Join(file, "sub"),
			filepath.Join(file, "sub", "deeper"),
		} {
			err := CheckTargetAccessible(target, true)
			if !resultcode.Is(err, resultcode.InvalidParams) {
				t.Errorf("expected InvalidParams for %s, got %v", target, err)
			}
			if err != nil && !strings.Contains(err.Error(), "is not a directory") {
				t.Errorf("expected the error to name the file ancestor, got %v", err)
			}
		}
	})
}

func TestCheckSourceAccessible(t *testing.T) {
	t.Run("Happy Path - Source is a directory", func(t *testing.T) {
		if err := CheckSourceAccessible(t.TempDir()); err != nil {
			t.Errorf("expected no error for existing directory, but got: %v", err)
		}
	})

	t.Run("Happy Path - Source is a file", func(t *testing.T) {
		srcFile := filepath.Join(t.TempDir(), "source.txt")
		if err := os.WriteFile(srcFile, []byte("i am a file"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		if err := CheckSourceAccessible(srcFile); err != nil {
			t.Errorf("expected no error for a regular file, but got: %v", err)
		}
	})

	t.Run("Error - Source does not exist", func(t *testing.T) {
		err := CheckSourceAccessible(filepath.Join(t.TempDir(), "nonexistent"))
		if !resultcode.Is(err, resultcode.FileNotFound) {
			t.Fatalf("expected FileNotFound, got: %v", err)
		}
		if !strings.Contains(err.Error(), "does not exist") {
			t.Errorf("expected error about non-existent source, but got: %v", err)
		}
	})
}

func TestCheckTargetWritable(t *testing.T) {
	t.Run("Happy Path - Directory is created", func(t *testing.T) {
		targetDir := filepath.Join(t.TempDir(), "new")
		if err := CheckTargetWritable(targetDir); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		entries, err := os.ReadDir(targetDir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Errorf("expected write test file to be removed, found %d entries", len(entries))
		}
	})

	t.Run("Error - Target is a file", func(t *testing.T) {
		targetFile := filepath.Join(t.TempDir(), "target.txt")
		os.WriteFile(targetFile, []byte("i am a file"), 0644)
		if err := CheckTargetWritable(targetFile); !resultcode.Is(err, resultcode.FileWriteError) {
			t.Errorf("expected FileWriteError, but got: %v", err)
		}
	})

	t.Run("Error - Read-only directory", func(t *testing.T) {
		if runtime.GOOS == "windows" || os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced")
		}
		dir := t.TempDir()
		if err := os.Chmod(dir, 0555); err != nil {
			t.Fatal(err)
		}
		defer os.Chmod(dir, 0755)
		if err := CheckTargetWritable(dir); !resultcode.Is(err, resultcode.FileWriteError) {
			t.Errorf("expected FileWriteError, but got: %v", err)
		}
	})
}

func TestCheckPathNesting(t *testing.T) {
	src := t.TempDir()
	other := t.TempDir()

	testCases := []struct {
		name    string
		target  string
		wantErr bool
	}{
		{"Sibling", other, false},
		{"Same", src, true},
		{"Nested", filepath.Join(src, "backup"), true},
		{"DeeplyNestedMissing", filepath.Join(src, "a", "b"), true},
		{"PrefixOnly", src + "-backup", false},
		{"Parent", filepath.Dir(src), false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckPathNesting(src, tc.target)
			if (err != nil) != tc.wantErr {
				t.Errorf("CheckPathNesting(%q) error = %v, wantErr %v", tc.target, err, tc.wantErr)
			}
		})
	}
}

func TestRun(t *testing.T) {
	src := t.TempDir()
	target := filepath.Join(t.TempDir(), "out")

	plan := &Plan{SourceAccessible: true, TargetAccessible: true, TargetWritable: true, PathNesting: true}
	if err := Run(plan, src, target); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("expected target to be created: %v", err)
	}

	missing := filepath.Join(src, "missing")
	if err := Run(plan, missing, target); !resultcode.Is(err, resultcode.FileNotFound) {
		t.Errorf("expected FileNotFound for missing source, got %v", err)
	}

	dryPlan := &Plan{SourceAccessible: true, TargetAccessible: true}
	dryTarget := filepath.Join(t.TempDir(), "dry")
	if err := Run(dryPlan, src, dryTarget); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := os.Stat(dryTarget); !os.IsNotExist(err) {
		t.Error("expected a plan without TargetWritable to leave the target alone")
	}
}

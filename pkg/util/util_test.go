package util

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestWithUserWritePermission(t *testing.T) {
	testCases := []struct {
		name     string
		input    os.FileMode
		expected os.FileMode
	}{
		{
			name:     "Read-only permission",
			input:    0444, // r--r--r--
			expected: 0644, // rw-r--r--
		},
		{
			name:     "Already has write permission",
			input:    0755, // rwxr-xr-x
			expected: 0755, // rwxr-xr-x (should not change)
		},
		{
			name:     "No permissions",
			input:    0000, // ---------
			expected: 0200, // -w-------
		},
		{
			name:     "Execute-only permission",
			input:    0111, // --x--x--x
			expected: 0311, // -wx--x--x
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := WithUserWritePermission(tc.input)
			if result != tc.expected {
				t.Errorf("expected permission %o, but got %o", tc.expected, result)
			}
		})
	}
}

func TestEnsureDir(t *testing.T) {
	t.Run("Creates missing ancestors", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "a", "b", "c")
		if err := EnsureDir(target); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		info, err := os.Stat(target)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected %s to be a directory, got err=%v", target, err)
		}
	})

	t.Run("Is idempotent", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "x")
		for i := 0; i < 3; i++ {
			if err := EnsureDir(target); err != nil {
				t.Fatalf("call %d: expected no error, got %v", i, err)
			}
		}
	})

	t.Run("Fails when a file is in the way", func(t *testing.T) {
		base := t.TempDir()
		file := filepath.Join(base, "file")
		if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := EnsureDir(file); err == nil {
			t.Error("expected an error for an existing file, got nil")
		}
		if err := EnsureDir(filepath.Join(file, "child")); err == nil {
			t.Error("expected an error for a path beneath a file, got nil")
		}
	})

	t.Run("Rejects empty path", func(t *testing.T) {
		if err := EnsureDir(""); err == nil {
			t.Error("expected an error for an empty path")
		}
	})
}

func TestByteCountIEC(t *testing.T) {
	testCases := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tc := range testCases {
		if got := ByteCountIEC(tc.in); got != tc.want {
			t.Errorf("ByteCountIEC(%d): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestMergeAndDeduplicate(t *testing.T) {
	got := MergeAndDeduplicate([]string{"*.tmp", "*.log"}, []string{"*.log", "cache/"}, nil)
	want := []string{"*.tmp", "*.log", "cache/"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestInvertMap(t *testing.T) {
	inv := InvertMap(map[int]string{1: "one", 2: "two"})
	if inv["one"] != 1 || inv["two"] != 2 || len(inv) != 2 {
		t.Errorf("unexpected inverted map: %v", inv)
	}
}

func TestNormalizePath(t *testing.T) {
	in := filepath.Join("docs", ".", "report.txt")
	if got := NormalizePath(in); got != "docs/report.txt" {
		t.Errorf("expected %q, got %q", "docs/report.txt", got)
	}
}

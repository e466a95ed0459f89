// Package preflight provides functions for validation and checks that run before
// a backup or restore begins. Apart from CheckTargetWritable, which creates the
// target directory, the checks do not change the state of the system.
package preflight

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/paulschiretz/pgl-filebackup/pkg/compression"
	"github.com/paulschiretz/pgl-filebackup/pkg/pathclass"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// CheckSourceAccessible validates that the source path exists and is a regular
// file or a directory.
func CheckSourceAccessible(srcPath string) error {
	info, err := pathclass.Classify(srcPath)
	if err != nil {
		return err
	}
	switch info.Type {
	case pathclass.Missing:
		return resultcode.Newf(resultcode.FileNotFound, "preflight", srcPath, "source does not exist")
	case pathclass.Other:
		return resultcode.Newf(resultcode.InvalidParams, "preflight", srcPath, "source is neither a regular file nor a directory")
	}
	return nil
}

// CheckTargetAccessible ensures the target can be used. It provides more
// user-friendly errors than letting os.MkdirAll fail.
//
// If the target exists and requireDir is set, it must be a directory. If it
// does not exist, its deepest existing ancestor must be a directory so the
// missing levels can be created.
func CheckTargetAccessible(targetPath string, requireDir bool) error {
	info, err := os.Stat(targetPath)
	if err == nil {
		if requireDir && !info.IsDir() {
			return resultcode.Newf(resultcode.InvalidParams, "preflight", targetPath, "target path exists but is not a directory")
		}
		return nil
	}
	if !isMissing(err) {
		return resultcode.New(resultcode.FileOpenError, "preflight", targetPath, err)
	}

	ancestor := targetPath
	for {
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			break // hit root
		}
		ancestor = parent
		ai, err := os.Stat(ancestor)
		if isMissing(err) {
			continue
		}
		if err != nil {
			return resultcode.New(resultcode.FileOpenError, "preflight", ancestor, err)
		}
		if !ai.IsDir() {
			return resultcode.Newf(resultcode.InvalidParams, "preflight", targetPath, "ancestor %s is not a directory", ancestor)
		}
		break
	}
	return nil
}

// isMissing reports a path that does not exist, including one below a
// regular file, which stat reports as ENOTDIR.
func isMissing(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR)
}

// CheckTargetWritable ensures the target directory exists and is writable by
// creating and deleting a temporary file in it.
func CheckTargetWritable(targetPath string) error {
	if err := util.EnsureDir(targetPath); err != nil {
		return resultcode.New(resultcode.FileWriteError, "preflight", targetPath, err)
	}
	f, err := os.CreateTemp(targetPath, compression.TempPattern)
	if err != nil {
		return resultcode.Newf(resultcode.FileWriteError, "preflight", targetPath, "target directory is not writable: %v", err)
	}
	name := f.Name()
	f.Close()
	_ = os.Remove(name)
	return nil
}

// CheckPathNesting rejects a target that lies inside the source tree, which
// would make the walk pick up its own output.
func CheckPathNesting(srcPath, targetPath string) error {
	src, err := filepath.Abs(srcPath)
	if err != nil {
		return resultcode.New(resultcode.InvalidParams, "preflight", srcPath, err)
	}
	dst, err := filepath.Abs(targetPath)
	if err != nil {
		return resultcode.New(resultcode.InvalidParams, "preflight", targetPath, err)
	}
	if resolved, err := filepath.EvalSymlinks(src); err == nil {
		src = resolved
	}
	if resolved, err := resolveExisting(dst); err == nil {
		dst = resolved
	}
	rel, err := filepath.Rel(src, dst)
	if err != nil {
		return nil // different volumes
	}
	if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return resultcode.Newf(resultcode.InvalidParams, "preflight", targetPath, "target is inside the source %s", srcPath)
	}
	return nil
}

// resolveExisting evaluates symlinks on the deepest existing part of p and
// re-appends the missing tail.
func resolveExisting(p string) (string, error) {
	var tail []string
	cur := p
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

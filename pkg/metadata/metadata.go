// Package metadata copies permission bits, timestamps and ownership from a
// source path to its backed-up or restored counterpart. Every failure here is
// non-fatal: the transfer already succeeded, so problems are reported as
// warnings on the Result.
package metadata

import (
	"fmt"
	"os"
	"time"

	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
)

// Options selects which metadata to copy.
type Options struct {
	Permissions bool // also attempts ownership when running privileged
	Timestamps  bool
}

// Result reports what was applied and what failed.
type Result struct {
	Permissions bool
	Timestamps  bool
	Owner       bool
	Warnings    []error
}

// OK reports whether every requested change was applied.
func (r Result) OK() bool { return len(r.Warnings) == 0 }

// sourceMeta is the metadata read once from the source.
type sourceMeta struct {
	mode     os.FileMode
	atime    time.Time
	mtime    time.Time
	uid, gid int
	hasOwner bool
}

// Apply copies the selected metadata from srcPath to dstPath. Failures are
// logged as warnings and returned in Result; they never abort the caller.
func Apply(srcPath, dstPath string, opts Options) Result {
	var res Result
	if !opts.Permissions && !opts.Timestamps {
		return res
	}

	meta, err := readSource(srcPath)
	if err != nil {
		res.warn(dstPath, fmt.Errorf("failed to read source metadata %s: %w", srcPath, err))
		return res
	}

	if opts.Permissions {
		if err := os.Chmod(dstPath, meta.mode&os.ModePerm); err != nil {
			res.warn(dstPath, fmt.Errorf("failed to set permissions: %w", err))
		} else {
			res.Permissions = true
		}

		if meta.hasOwner && canChown() {
			if err := chown(dstPath, meta.uid, meta.gid); err != nil {
				res.warn(dstPath, fmt.Errorf("failed to set owner: %w", err))
			} else {
				res.Owner = true
			}
		}
	}

	if opts.Timestamps {
		if err := setTimes(dstPath, meta.atime, meta.mtime); err != nil {
			res.warn(dstPath, fmt.Errorf("failed to set timestamps: %w", err))
		} else {
			res.Timestamps = true
		}
	}
	return res
}

func (r *Result) warn(path string, err error) {
	plog.Warn("Failed to preserve metadata", "path", path, "error", err)
	r.Warnings = append(r.Warnings, err)
}

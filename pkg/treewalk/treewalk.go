// Package treewalk enumerates a source tree for backup and restore.
//
// The walk is depth-first and pre-order: a directory is visited before any
// entry beneath it, so callers can create the matching destination directory
// first. Children are visited in lexical order. Symlinks and special files are
// never visited.
package treewalk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-filebackup/pkg/pathclass"
	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// Action tells the walker how to continue after a visit.
type Action int

const (
	// Continue proceeds with the walk.
	Continue Action = iota
	// SkipDir does not descend into the visited directory.
	SkipDir
)

// FileEntry describes one visited node.
type FileEntry struct {
	SourcePath string // absolute source path
	RelPath    string // slash-separated path relative to the walk root
	DestPath   string // destination candidate before any codec suffix
	Type       pathclass.Type
	Size       int64
	ModTime    time.Time
	Mode       os.FileMode
	// Excluded names the filter that rejected the entry; empty for eligible entries.
	Excluded string
}

// IsEligible reports whether the entry passed the filters.
func (e FileEntry) IsEligible() bool { return e.Excluded == "" }

// VisitFunc is called for every regular file and directory. A non-nil err
// reports a directory that could not be read; its children are not visited.
type VisitFunc func(entry FileEntry, err error) Action

// Options configures a Walker.
type Options struct {
	Recursive   bool
	MaxFileSize int64 // 0 means unlimited
	Exclude     []string
	DestRoot    string
	// Ignore reports engine-internal names that are neither visited nor counted.
	Ignore func(relPath, name string) bool
	// Cancelled is polled before every step alongside the context.
	Cancelled func() bool
}

// Walker walks source trees with a fixed filter.
type Walker struct {
	opts       Options
	exclusions exclusionSet
}

// New validates opts and returns a Walker.
func New(opts Options) (*Walker, error) {
	set, err := makeExclusionSet(opts.Exclude)
	if err != nil {
		return nil, resultcode.New(resultcode.ConfigError, "walk", "", err)
	}
	if opts.MaxFileSize < 0 {
		return nil, resultcode.Newf(resultcode.InvalidParams, "walk", "", "max file size must not be negative, got %d", opts.MaxFileSize)
	}
	return &Walker{opts: opts, exclusions: set}, nil
}

// RootInfo classifies root after resolving symlinks. It fails with
// FileNotFound for a missing root and InvalidParams for a special file.
func RootInfo(root string) (string, pathclass.Info, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", pathclass.Info{}, resultcode.New(resultcode.InvalidParams, "walk", root, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := pathclass.Classify(abs)
	if err != nil {
		return "", pathclass.Info{}, err
	}
	switch info.Type {
	case pathclass.Missing:
		return "", info, resultcode.Newf(resultcode.FileNotFound, "walk", abs, "source does not exist")
	case pathclass.Other:
		return "", info, resultcode.Newf(resultcode.InvalidParams, "walk", abs, "source is neither a file nor a directory")
	}
	return abs, info, nil
}

// Walk visits root. A regular-file root is visited once. A directory root
// requires Recursive; the root itself is not visited, only its descendants.
// Walk returns an Interrupted error when cancelled, after the entry in
// progress has been handled.
func (w *Walker) Walk(ctx context.Context, root string, visit VisitFunc) error {
	absRoot, info, err := RootInfo(root)
	if err != nil {
		return err
	}

	if info.Type == pathclass.Regular {
		if err := w.checkCancelled(ctx); err != nil {
			return err
		}
		name := filepath.Base(absRoot)
		entry := FileEntry{
			SourcePath: absRoot,
			RelPath:    name,
			DestPath:   fileRootDest(w.opts.DestRoot, name),
			Type:       info.Type,
			Size:       info.Size,
			ModTime:    info.ModTime,
			Mode:       info.Mode,
		}
		entry.Excluded = w.filter(entry)
		visit(entry, nil)
		return nil
	}

	if !w.opts.Recursive {
		return resultcode.Newf(resultcode.ConfigError, "walk", absRoot, "source is a directory, recursive mode is required")
	}

	entries, err := os.ReadDir(absRoot)
	if err != nil {
		return resultcode.New(resultcode.FileOpenError, "walk", absRoot, err)
	}
	return w.walkChildren(ctx, absRoot, "", entries, visit)
}

func (w *Walker) walkChildren(ctx context.Context, dirPath, relDir string, entries []os.DirEntry, visit VisitFunc) error {
	for _, d := range entries {
		if err := w.checkCancelled(ctx); err != nil {
			return err
		}

		name := d.Name()
		rel := name
		if relDir != "" {
			rel = relDir + "/" + name
		}
		if w.opts.Ignore != nil && w.opts.Ignore(rel, name) {
			continue
		}

		srcPath := filepath.Join(dirPath, name)
		fi, err := d.Info()
		if err != nil {
			// Vanished between ReadDir and Info.
			plog.Debug("Skipping entry that disappeared during walk", "path", srcPath, "error", err)
			continue
		}
		info := pathclass.FromFileInfo(fi)
		if info.Type == pathclass.Other {
			plog.Debug("Skipping symlink or special file", "path", srcPath, "mode", fi.Mode().String())
			continue
		}

		entry := FileEntry{
			SourcePath: srcPath,
			RelPath:    rel,
			DestPath:   filepath.Join(w.opts.DestRoot, util.DenormalizePath(rel)),
			Type:       info.Type,
			Size:       info.Size,
			ModTime:    info.ModTime,
			Mode:       info.Mode,
		}
		entry.Excluded = w.filter(entry)

		if entry.Type == pathclass.Regular || !entry.IsEligible() {
			visit(entry, nil)
			continue
		}

		// Directory: read first, so an unreadable directory is reported
		// once with its error instead of being visited as if it were fine.
		children, readErr := os.ReadDir(srcPath)
		if readErr != nil {
			visit(entry, resultcode.New(resultcode.FileOpenError, "walk", srcPath, readErr))
			continue
		}
		if visit(entry, nil) == SkipDir {
			continue
		}
		if err := w.walkChildren(ctx, srcPath, rel, children, visit); err != nil {
			return err
		}
	}
	return nil
}

// filter applies the size limit, then the exclude patterns.
func (w *Walker) filter(e FileEntry) string {
	if e.Type == pathclass.Regular && w.opts.MaxFileSize > 0 && e.Size > w.opts.MaxFileSize {
		return fmt.Sprintf("larger than %s", util.ByteCountIEC(w.opts.MaxFileSize))
	}
	if p := w.exclusions.match(filepath.Base(e.SourcePath), e.RelPath, e.SourcePath); p != "" {
		return "matches " + p
	}
	return ""
}

func (w *Walker) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return resultcode.New(resultcode.Interrupted, "walk", "", err)
	}
	if w.opts.Cancelled != nil && w.opts.Cancelled() {
		return resultcode.Newf(resultcode.Interrupted, "walk", "", "cancelled")
	}
	return nil
}

// fileRootDest places a single-file source inside destRoot when destRoot is
// an existing directory, and at destRoot itself otherwise.
func fileRootDest(destRoot, name string) string {
	if destRoot == "" {
		return name
	}
	if info, err := os.Stat(destRoot); err == nil && info.IsDir() {
		return filepath.Join(destRoot, name)
	}
	return destRoot
}

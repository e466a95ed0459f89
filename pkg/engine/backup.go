package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-filebackup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-filebackup/pkg/compression"
	"github.com/paulschiretz/pgl-filebackup/pkg/hints"
	"github.com/paulschiretz/pgl-filebackup/pkg/metadata"
	"github.com/paulschiretz/pgl-filebackup/pkg/metafile"
	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
	"github.com/paulschiretz/pgl-filebackup/pkg/preflight"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/paulschiretz/pgl-filebackup/pkg/treewalk"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
	"github.com/paulschiretz/pgl-filebackup/pkg/verify"
)

const opBackup = "backup"

// Backup mirrors srcPath into dstPath, compressing every regular file with
// the configured codec. srcPath may be a single file or, with Recursive, a
// directory. The returned error is the first failure of the run; the Result
// is filled in either way.
func (e *Engine) Backup(ctx context.Context, srcPath, dstPath string) (Result, error) {
	r := e.newRun(opBackup)
	r.tracker.Start()
	res, err := r.finish(r.backup(ctx, srcPath, dstPath))
	r.runPostHooks(ctx, res.Code)
	return res, err
}

func (r *run) backup(ctx context.Context, srcPath, dstPath string) error {
	if err := ctx.Err(); err != nil {
		return resultcode.New(resultcode.Interrupted, opBackup, srcPath, err)
	}
	if err := r.resolveRoots(srcPath, dstPath); err != nil {
		return err
	}

	plan := &preflight.Plan{
		SourceAccessible: true,
		TargetAccessible: true,
		TargetWritable:   !r.opts.DryRun,
		PathNesting:      r.isDirRun(),
		SourceIsFile:     !r.isDirRun(),
	}
	if err := preflight.Run(plan, r.srcRoot, r.dstRoot); err != nil {
		return err
	}

	release, err := r.lock(ctx, r.dstRoot, true)
	if err != nil {
		return err
	}
	defer release()

	if err := r.runPreHooks(ctx); err != nil {
		return err
	}

	if r.isDirRun() && (r.opts.Mode == Incremental || r.opts.WriteIndex) {
		r.loadPrevious()
	}

	plog.Info("Starting backup", "source", r.srcRoot, "target", r.dstRoot,
		"compression", r.opts.Compression, "conflict", r.opts.Conflict, "mode", r.opts.Mode, "workers", r.opts.Workers)

	w, err := r.walker(r.dstRoot)
	if err != nil {
		return err
	}
	walkErr := r.transfer(ctx, w, r.backupFile)
	r.tracker.Finish()

	if r.opts.WriteIndex && !r.opts.DryRun && r.isDirRun() {
		r.writeIndex(walkErr)
	}
	return walkErr
}

// loadPrevious reads the index of the last run. It drives incremental
// decisions and supplies the entries of stored files this run leaves alone.
func (r *run) loadPrevious() {
	content, err := metafile.Read(r.dstRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			plog.Warn("Could not read previous backup index, treating every file as changed", "error", err)
		}
		return
	}
	r.previous = content.EntryMap()
	plog.Debug("Loaded previous backup index", "entries", len(r.previous), "uuid", content.UUID)
}

// backupFile runs the per-file state machine: conflict or incremental check,
// dry run, compress and write, metadata, optional verification.
func (r *run) backupFile(entry treewalk.FileEntry) fileResult {
	kind := r.opts.Compression
	ext := compression.Extension(kind)
	dest := entry.DestPath + ext

	destInfo, err := os.Stat(dest)
	switch {
	case err == nil:
		if r.opts.Mode == Incremental && r.upToDate(entry, dest, destInfo, kind) {
			return fileResult{Outcome: Skipped, Err: errUpToDate}
		}
		decision, err := r.resolver.Resolve(dest, ext)
		if err != nil {
			return fileResult{Outcome: Failed, Err: err}
		}
		if !decision.Proceed {
			return fileResult{Outcome: Skipped, Err: hints.Newf("destination exists, conflict mode %s", r.opts.Conflict)}
		}
		if decision.FinalPath != dest {
			plog.Notice("RENAME", "path", entry.RelPath, "to", r.relDest(decision.FinalPath))
		}
		dest = decision.FinalPath
	case !os.IsNotExist(err):
		return fileResult{Outcome: Failed, Err: resultcode.New(resultcode.FileOpenError, opBackup, dest, err)}
	}

	if r.opts.DryRun {
		plog.Notice("[DRY RUN] COPY", "path", entry.RelPath, "to", r.relDest(dest))
		return fileResult{Outcome: Success, BytesRead: entry.Size, BytesWritten: entry.Size}
	}

	releaseMem, err := r.acquireMemory(entry.SourcePath, kind)
	if err != nil {
		r.resolver.Release(dest)
		return fileResult{Outcome: Failed, Err: err}
	}
	defer releaseMem()

	written, err := compression.EncodeFile(entry.SourcePath, dest, kind)
	if err != nil {
		r.resolver.Release(dest)
		return fileResult{Outcome: Failed, Err: err}
	}
	metadata.Apply(entry.SourcePath, dest, r.metadataOptions())
	plog.Notice("COPY", "path", entry.RelPath, "to", r.relDest(dest), "size", util.ByteCountIEC(written.BytesRead), "stored", util.ByteCountIEC(written.BytesWritten))

	res := fileResult{Outcome: Success, BytesRead: written.BytesRead, BytesWritten: written.BytesWritten}
	if r.opts.Verify {
		if ok, err := verify.Verify(entry.SourcePath, dest, kind); !ok {
			res.Err = err
		}
	}
	if r.opts.WriteIndex && r.isDirRun() {
		r.indexEntry(entry, dest, kind, written)
	}
	return res
}

// upToDate reports whether the stored copy of entry can be kept. With an
// index entry the recorded size and mtime must match; without one the stored
// file must not be older than the source and, uncompressed, equal in size.
func (r *run) upToDate(entry treewalk.FileEntry, dest string, destInfo os.FileInfo, kind compression.Kind) bool {
	if prev, ok := r.previous[r.relDest(dest)]; ok && prev.Source == entry.RelPath {
		return prev.Kind == kind &&
			prev.Size == entry.Size &&
			prev.ModTime.Equal(entry.ModTime) &&
			prev.StoredSize == destInfo.Size()
	}
	if destInfo.ModTime().Before(entry.ModTime) {
		return false
	}
	return kind != compression.None || destInfo.Size() == entry.Size
}

func (r *run) indexEntry(entry treewalk.FileEntry, dest string, kind compression.Kind, written compression.Result) {
	sum, err := verify.Checksum(entry.SourcePath)
	if err != nil {
		plog.Warn("Could not checksum file for the index", "path", entry.RelPath, "error", err)
	}
	stored := r.relDest(dest)
	r.entries.Store(stored, metafile.Entry{
		Path:       stored,
		Source:     entry.RelPath,
		Size:       written.BytesRead,
		StoredSize: written.BytesWritten,
		ModTime:    entry.ModTime,
		Kind:       kind,
		Checksum:   sum,
	})
}

// carriedEntries returns the previous entries this run did not rewrite whose
// stored file is still in place: skipped, failed, renamed-around or no longer
// present in the source.
func (r *run) carriedEntries() []metafile.Entry {
	var carried []metafile.Entry
	for stored, prev := range r.previous {
		if _, ok := r.entries.Load(stored); ok {
			continue
		}
		info, err := os.Stat(filepath.Join(r.dstRoot, filepath.FromSlash(stored)))
		if err != nil || !info.Mode().IsRegular() {
			plog.Debug("Dropping index entry without stored file", "path", stored)
			continue
		}
		carried = append(carried, prev)
	}
	return carried
}

// writeIndex stores the run's index at the destination root.
func (r *run) writeIndex(walkErr error) {
	runErr := r.first.Err()
	if runErr == nil {
		runErr = walkErr
	}
	s := r.tracker.Stats()
	content := &metafile.Content{
		Version:      buildinfo.Version,
		UUID:         metafile.NewUUID(),
		TimestampUTC: s.StartTime.UTC().Truncate(time.Second),
		Mode:         r.opts.Mode.String(),
		Source:       r.srcRoot,
		Compression:  r.opts.Compression,
		Result:       resultcode.CodeOf(runErr),
		Stats:        s,
	}
	for _, e := range r.entries.Items() {
		content.Entries = append(content.Entries, e)
	}
	content.Entries = append(content.Entries, r.carriedEntries()...)
	content.SortEntries()

	if err := metafile.Write(r.dstRoot, content); err != nil {
		r.fail(metafile.IndexFileName, resultcode.New(resultcode.FileWriteError, opBackup, r.dstRoot, err))
		return
	}
	plog.Debug("Wrote backup index", "entries", len(content.Entries), "uuid", content.UUID)
}

package engine

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/paulschiretz/pgl-filebackup/pkg/compression"
	"github.com/paulschiretz/pgl-filebackup/pkg/hints"
	"github.com/paulschiretz/pgl-filebackup/pkg/metadata"
	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
	"github.com/paulschiretz/pgl-filebackup/pkg/preflight"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/paulschiretz/pgl-filebackup/pkg/treewalk"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
	"github.com/paulschiretz/pgl-filebackup/pkg/verify"
)

const opRestore = "restore"

// Restore recreates the tree stored at srcPath in dstPath. Each file's codec
// is detected from its extension, which is stripped from the restored name.
// The configured Compression and Mode are ignored; the index and lock files
// of a backup are never restored.
func (e *Engine) Restore(ctx context.Context, srcPath, dstPath string) (Result, error) {
	r := e.newRun(opRestore)
	r.tracker.Start()
	res, err := r.finish(r.restore(ctx, srcPath, dstPath))
	r.runPostHooks(ctx, res.Code)
	return res, err
}

func (r *run) restore(ctx context.Context, srcPath, dstPath string) error {
	if err := ctx.Err(); err != nil {
		return resultcode.New(resultcode.Interrupted, opRestore, srcPath, err)
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

	// Lock the backup being read so no backup run rewrites it meanwhile. The
	// backup may sit on read-only media, so failing to lock is not fatal.
	release, err := r.lock(ctx, r.srcRoot, false)
	if err != nil {
		return err
	}
	defer release()

	if err := r.runPreHooks(ctx); err != nil {
		return err
	}

	plog.Info("Starting restore", "source", r.srcRoot, "target", r.dstRoot,
		"conflict", r.opts.Conflict, "workers", r.opts.Workers)

	w, err := r.walker(r.dstRoot)
	if err != nil {
		return err
	}
	err = r.transfer(ctx, w, r.restoreFile)
	r.tracker.Finish()
	return err
}

// restoreDest returns the restored path and codec for a stored file. The
// extension is only stripped when the walker derived the name from the
// source; an explicit file destination is used as given.
func restoreDest(entry treewalk.FileEntry) (string, compression.Kind) {
	kind := compression.DetectKind(filepath.Base(entry.SourcePath))
	if kind == compression.None || filepath.Base(entry.DestPath) != path.Base(entry.RelPath) {
		return entry.DestPath, kind
	}
	stripped, _ := compression.StripExtension(entry.DestPath)
	return stripped, kind
}

// restoreFile mirrors backupFile with decompression instead of compression.
func (r *run) restoreFile(entry treewalk.FileEntry) fileResult {
	dest, kind := restoreDest(entry)

	_, err := os.Stat(dest)
	switch {
	case err == nil:
		decision, err := r.resolver.Resolve(dest, "")
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
		return fileResult{Outcome: Failed, Err: resultcode.New(resultcode.FileOpenError, opRestore, dest, err)}
	}

	if r.opts.DryRun {
		plog.Notice("[DRY RUN] RESTORE", "path", entry.RelPath, "to", r.relDest(dest), "compression", kind)
		return fileResult{Outcome: Success, BytesRead: entry.Size, BytesWritten: entry.Size}
	}

	releaseMem, err := r.acquireMemory(entry.SourcePath, kind)
	if err != nil {
		r.resolver.Release(dest)
		return fileResult{Outcome: Failed, Err: err}
	}
	defer releaseMem()

	written, err := compression.DecodeFile(entry.SourcePath, dest, kind)
	if err != nil {
		r.resolver.Release(dest)
		return fileResult{Outcome: Failed, Err: err}
	}
	metadata.Apply(entry.SourcePath, dest, r.metadataOptions())
	plog.Notice("RESTORE", "path", entry.RelPath, "to", r.relDest(dest), "size", util.ByteCountIEC(written.BytesWritten))

	// Stats count the restored size as processed and the stored size as compressed.
	res := fileResult{Outcome: Success, BytesRead: written.BytesWritten, BytesWritten: written.BytesRead}
	if r.opts.Verify {
		if ok, err := verify.Verify(dest, entry.SourcePath, kind); !ok {
			res.Err = err
		}
	}
	return res
}

// Package engine drives backup and restore runs over a file or directory tree.
//
// A run walks the source with treewalk, creates destination directories in
// walk order and hands each regular file to a bounded pool of workers. A
// failing file is recorded and never aborts its siblings; the run result is
// the first non-success code encountered. Directory metadata is applied after
// all files are written, deepest directory first, so that writing children
// does not disturb the copied timestamps.
package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-filebackup/pkg/compression"
	"github.com/paulschiretz/pgl-filebackup/pkg/conflict"
	"github.com/paulschiretz/pgl-filebackup/pkg/hints"
	"github.com/paulschiretz/pgl-filebackup/pkg/hook"
	"github.com/paulschiretz/pgl-filebackup/pkg/limiter"
	"github.com/paulschiretz/pgl-filebackup/pkg/lockfile"
	"github.com/paulschiretz/pgl-filebackup/pkg/metadata"
	"github.com/paulschiretz/pgl-filebackup/pkg/metafile"
	"github.com/paulschiretz/pgl-filebackup/pkg/pathclass"
	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/paulschiretz/pgl-filebackup/pkg/sharded"
	"github.com/paulschiretz/pgl-filebackup/pkg/stats"
	"github.com/paulschiretz/pgl-filebackup/pkg/treewalk"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// Outcome is the final state of one file.
type Outcome int

const (
	Success Outcome = iota
	Skipped
	Failed
)

var outcomeToString = map[Outcome]string{Success: "success", Skipped: "skipped", Failed: "failed"}

func (o Outcome) String() string {
	if str, ok := outcomeToString[o]; ok {
		return str
	}
	return "unknown_outcome"
}

// errUpToDate marks an incremental skip.
var errUpToDate = hints.New("destination is up to date")

// fileResult is what a file job reports back to the run.
type fileResult struct {
	Outcome      Outcome
	BytesRead    int64
	BytesWritten int64
	// Err explains a Failed or Skipped outcome. On Success it carries a
	// verification failure of an otherwise completed transfer.
	Err error
}

// Failure is a file or directory that could not be handled.
type Failure struct {
	Path string // relative to the source root
	Err  error
}

// Result summarizes a finished run.
type Result struct {
	Code     resultcode.Code
	Stats    stats.Stats
	Failures []Failure // sorted by path
}

// Engine runs backups and restores with a fixed set of options.
type Engine struct {
	opts  Options
	hooks *hook.HookExecutor

	mu        sync.Mutex
	current   *stats.Tracker
	cancelled atomic.Bool
}

// New validates opts and returns an Engine.
func New(opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.ExcludePatterns = util.MergeAndDeduplicate(opts.ExcludePatterns)
	return &Engine{
		opts:  opts,
		hooks: hook.NewHookExecutor(nil),
	}, nil
}

// Options returns the engine's options.
func (e *Engine) Options() Options { return e.opts }

// Cancel asks the running operation to stop at the next traversal step.
// Files already being transferred are completed. Cancellation is permanent:
// every later Backup or Restore on this Engine, including one started after
// a Cancel with no run active, stops immediately with Interrupted. Create a
// new Engine to run again.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
	e.mu.Lock()
	if e.current != nil {
		e.current.Cancel()
	}
	e.mu.Unlock()
}

// run holds the state of one Backup or Restore call.
type run struct {
	op       string
	opts     Options
	engine   *Engine
	tracker  *stats.Tracker
	resolver *conflict.Resolver
	memory   *limiter.Memory
	first    resultcode.First
	failures *sharded.ShardedMap[error]
	entries  *sharded.ShardedMap[metafile.Entry]
	previous map[string]metafile.Entry

	srcRoot string
	dstRoot string
	srcInfo pathclass.Info

	// dirs are the created destination directories in walk order.
	dirs []treewalk.FileEntry

	hookEnv      hook.Env
	hookPlan     *hook.Plan
	hooksRunning bool
}

func (e *Engine) newRun(op string) *run {
	r := &run{
		op:       op,
		opts:     e.opts,
		engine:   e,
		tracker:  stats.NewTracker(),
		resolver: conflict.NewResolver(e.opts.Conflict, e.opts.Prompter),
		failures: sharded.NewShardedMap[error](),
		entries:  sharded.NewShardedMap[metafile.Entry](),
		previous: map[string]metafile.Entry{},
		hookPlan: &hook.Plan{
			Enabled:          len(e.opts.PreHookCommands) > 0 || len(e.opts.PostHookCommands) > 0,
			PreHookCommands:  e.opts.PreHookCommands,
			PostHookCommands: e.opts.PostHookCommands,
			DryRun:           e.opts.DryRun,
			FailFast:         e.opts.FailFast,
		},
	}
	if e.opts.MemoryLimit > 0 {
		r.memory = limiter.NewMemory(e.opts.MemoryLimit)
	}
	e.mu.Lock()
	e.current = r.tracker
	e.mu.Unlock()
	if e.cancelled.Load() {
		r.tracker.Cancel()
	}
	return r
}

// resolveRoots classifies the source and makes both roots absolute.
func (r *run) resolveRoots(srcPath, dstPath string) error {
	absSrc, info, err := treewalk.RootInfo(srcPath)
	if err != nil {
		return err
	}
	if info.Type == pathclass.Directory && !r.opts.Recursive {
		return resultcode.Newf(resultcode.ConfigError, r.op, absSrc, "source is a directory, recursive mode is required")
	}
	absDst, err := filepath.Abs(dstPath)
	if err != nil {
		return resultcode.New(resultcode.InvalidParams, r.op, dstPath, err)
	}
	r.srcRoot, r.dstRoot, r.srcInfo = absSrc, absDst, info
	r.hookEnv = hook.Env{Source: absSrc, Target: absDst}
	return nil
}

func (r *run) isDirRun() bool { return r.srcInfo.Type == pathclass.Directory }

// lock takes the destination lock for directory runs. The returned release
// func is never nil.
func (r *run) lock(ctx context.Context, dir string, required bool) (func(), error) {
	if r.opts.DryRun || !r.isDirRun() {
		return func() {}, nil
	}
	plog.Debug("Attempting to acquire lock", "path", dir)
	l, err := lockfile.Acquire(ctx, dir, r.op)
	if err != nil {
		var lockErr *lockfile.ErrLockActive
		if errors.As(err, &lockErr) {
			return nil, resultcode.New(resultcode.GeneralError, r.op, dir, lockErr)
		}
		if ctx.Err() != nil {
			return nil, resultcode.New(resultcode.Interrupted, r.op, dir, err)
		}
		if !required {
			plog.Warn("Could not lock directory, continuing without lock", "path", dir, "error", err)
			return func() {}, nil
		}
		return nil, resultcode.New(resultcode.FileWriteError, r.op, dir, err)
	}
	plog.Debug("Lock acquired successfully.")
	return l.Release, nil
}

// runPreHooks runs the pre commands; only a FailFast failure aborts the run.
func (r *run) runPreHooks(ctx context.Context) error {
	err := r.engine.hooks.RunPreHook(ctx, r.op, r.hookPlan, r.hookEnv)
	if err != nil && !hints.IsHint(err) {
		return err
	}
	r.hooksRunning = r.hookPlan.Enabled
	return nil
}

func (r *run) runPostHooks(ctx context.Context, code resultcode.Code) {
	if !r.hooksRunning {
		return
	}
	env := r.hookEnv
	env.Result = code
	if err := r.engine.hooks.RunPostHook(ctx, r.op, r.hookPlan, env); err != nil && !hints.IsHint(err) {
		if resultcode.Is(err, resultcode.Interrupted) {
			plog.Info("Post-" + r.op + " hooks skipped due to cancellation.")
		} else {
			plog.Warn("Post-"+r.op+" hook failed", "error", err)
		}
	}
}

// walker builds the treewalk.Walker shared by the pre-scan and the transfer pass.
func (r *run) walker(destRoot string) (*treewalk.Walker, error) {
	return treewalk.New(treewalk.Options{
		Recursive:   r.opts.Recursive,
		MaxFileSize: r.opts.MaxFileSize,
		Exclude:     r.opts.ExcludePatterns,
		DestRoot:    destRoot,
		Ignore:      isInternal,
		Cancelled:   r.tracker.Cancelled,
	})
}

// isInternal reports the engine's own files: the index and lock at the tree
// root and in-flight temp files anywhere.
func isInternal(relPath, name string) bool {
	if relPath == name && (name == metafile.IndexFileName || name == metafile.ConfigFileName || name == lockfile.LockFileName) {
		return true
	}
	matched, _ := filepath.Match(compression.TempPattern, name)
	return matched
}

// prescan counts the eligible files and bytes for progress reporting.
func (r *run) prescan(ctx context.Context, w *treewalk.Walker) error {
	var files, bytes int64
	err := w.Walk(ctx, r.srcRoot, func(entry treewalk.FileEntry, err error) treewalk.Action {
		if err != nil || !entry.IsEligible() {
			return treewalk.SkipDir
		}
		if entry.Type == pathclass.Regular {
			files++
			bytes += entry.Size
		}
		return treewalk.Continue
	})
	if err != nil {
		return err
	}
	r.tracker.SetTotals(files, bytes)
	plog.Debug("Pre-scan complete", "files", files, "bytes", util.ByteCountIEC(bytes))
	return nil
}

// transfer walks the source and dispatches every eligible file to fileJob.
// It returns the walk error; file failures are only recorded.
func (r *run) transfer(ctx context.Context, w *treewalk.Walker, fileJob func(treewalk.FileEntry) fileResult) error {
	if r.opts.Progress {
		if err := r.prescan(ctx, w); err != nil {
			return err
		}
		r.tracker.StartProgress("Progress", r.opts.ProgressInterval)
		defer r.tracker.StopProgress()
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Workers)

	walkErr := w.Walk(ctx, r.srcRoot, func(entry treewalk.FileEntry, err error) treewalk.Action {
		if err != nil {
			r.tracker.AddDirFailed()
			r.fail(entry.RelPath, err)
			return treewalk.SkipDir
		}
		if !entry.IsEligible() {
			plog.Notice("EXCL", "reason", entry.Excluded, "path", entry.RelPath)
			if entry.Type == pathclass.Regular {
				r.tracker.AddFileSkipped()
			}
			return treewalk.SkipDir
		}
		if entry.Type == pathclass.Directory {
			return r.enterDir(entry)
		}
		g.Go(func() error {
			r.record(entry, fileJob(entry))
			return nil
		})
		return treewalk.Continue
	})
	// Workers only record failures, so Wait never returns an error.
	_ = g.Wait()

	r.applyDirMetadata()
	return walkErr
}

// record rolls a file's outcome into the counters.
func (r *run) record(entry treewalk.FileEntry, res fileResult) {
	switch res.Outcome {
	case Success:
		r.tracker.AddFileProcessed(res.BytesRead, res.BytesWritten)
		if res.Err != nil {
			r.fail(entry.RelPath, res.Err)
		}
	case Skipped:
		r.tracker.AddFileSkipped()
		if res.Err != nil {
			plog.Notice("SKIP", "reason", res.Err.Error(), "path", entry.RelPath)
		}
	case Failed:
		r.fileFailed(entry.RelPath, res.Err)
	}
	r.tracker.Advance(entry.Size)
}

// enterDir creates the destination directory before any file beneath it is queued.
func (r *run) enterDir(entry treewalk.FileEntry) treewalk.Action {
	if r.opts.DryRun {
		plog.Notice("[DRY RUN] DIR", "path", entry.RelPath)
	} else {
		if err := util.EnsureDir(entry.DestPath); err != nil {
			r.tracker.AddDirFailed()
			r.fail(entry.RelPath, resultcode.New(resultcode.FileWriteError, r.op, entry.DestPath, err))
			return treewalk.SkipDir
		}
		plog.Notice("DIR", "path", entry.RelPath)
		r.dirs = append(r.dirs, entry)
	}
	r.tracker.AddDirProcessed()
	return treewalk.Continue
}

func (r *run) metadataOptions() metadata.Options {
	return metadata.Options{Permissions: r.opts.PreservePermissions, Timestamps: r.opts.PreserveTimestamps}
}

// applyDirMetadata copies directory metadata deepest first.
func (r *run) applyDirMetadata() {
	opts := r.metadataOptions()
	if !opts.Permissions && !opts.Timestamps || len(r.dirs) == 0 {
		return
	}
	plog.Debug("Applying directory metadata", "dirs", len(r.dirs))
	for i := len(r.dirs) - 1; i >= 0; i-- {
		d := r.dirs[i]
		metadata.Apply(d.SourcePath, d.DestPath, opts)
	}
}

// acquireMemory reserves codec memory for one file.
func (r *run) acquireMemory(path string, kind compression.Kind) (func(), error) {
	if r.memory == nil {
		return func() {}, nil
	}
	need := compression.MemoryEstimate(kind)
	if err := r.memory.Acquire(context.Background(), need); err != nil {
		if errors.Is(err, limiter.ErrExceedsCapacity) {
			return nil, resultcode.Newf(resultcode.MemoryError, r.op, path,
				"%s codec needs %s, budget is %s", kind, util.ByteCountIEC(need), util.ByteCountIEC(r.memory.Capacity()))
		}
		return nil, resultcode.New(resultcode.MemoryError, r.op, path, err)
	}
	return func() { r.memory.Release(need) }, nil
}

// fail records a failure without touching the file counters.
func (r *run) fail(relPath string, err error) {
	r.first.Record(err)
	r.failures.Store(relPath, err)
	plog.Error("FAIL", "path", relPath, "error", err)
}

// fileFailed records a failed file.
func (r *run) fileFailed(relPath string, err error) {
	r.tracker.AddFileFailed()
	r.fail(relPath, err)
}

// relDest returns p relative to the destination root, with forward slashes.
func (r *run) relDest(p string) string {
	if rel, err := filepath.Rel(r.dstRoot, p); err == nil && rel != "." {
		return util.NormalizePath(rel)
	}
	return p
}

// finish closes the run: it records err, stamps the end time, logs the
// summary and builds the Result. The summary is logged whatever happened.
func (r *run) finish(err error) (Result, error) {
	r.first.Record(err)
	r.tracker.StopProgress()
	if r.tracker.Stats().EndTime.IsZero() {
		r.tracker.Finish()
	}

	res := Result{Stats: r.tracker.Stats()}
	for path, ferr := range r.failures.Items() {
		res.Failures = append(res.Failures, Failure{Path: path, Err: ferr})
	}
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Path < res.Failures[j].Path })

	runErr := r.first.Err()
	res.Code = resultcode.CodeOf(runErr)

	msg := "Backup summary"
	if r.op == opRestore {
		msg = "Restore summary"
	}
	if r.opts.DryRun {
		msg = "[DRY RUN] " + msg
	}
	r.tracker.LogSummary(msg)
	if runErr != nil {
		plog.Error(r.op+" finished with errors", "result", res.Code, "failures", len(res.Failures), "error", runErr)
	} else {
		plog.Info(r.op + " completed")
	}

	r.engine.mu.Lock()
	r.engine.current = nil
	r.engine.mu.Unlock()
	return res, runErr
}

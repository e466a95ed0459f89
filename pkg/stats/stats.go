// Package stats tracks the counters and progress of a backup or restore run.
//
// A Tracker is owned by one engine run and shared with its workers. All
// counters sit behind a single mutex that is held only for the increment
// itself, never across I/O.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// Stats are the aggregate counters of a run. Counters only ever grow.
type Stats struct {
	FilesProcessed  int64     `json:"filesProcessed"`
	FilesSkipped    int64     `json:"filesSkipped"`
	FilesFailed     int64     `json:"filesFailed"`
	DirsProcessed   int64     `json:"dirsProcessed"`
	DirsFailed      int64     `json:"dirsFailed"`
	BytesProcessed  int64     `json:"bytesProcessed"`
	BytesCompressed int64     `json:"bytesCompressed"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
}

// Elapsed is the run duration, or the time since start for a running run.
func (s Stats) Elapsed() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// CompressionRatio returns the space saved in percent, 0 when nothing was processed.
func (s Stats) CompressionRatio() float64 {
	if s.BytesProcessed == 0 {
		return 0
	}
	return (1 - float64(s.BytesCompressed)/float64(s.BytesProcessed)) * 100
}

// Throughput returns processed bytes per second.
func (s Stats) Throughput() float64 {
	secs := s.Elapsed().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.BytesProcessed) / secs
}

// Progress tracks completion against the totals found by a pre-scan.
type Progress struct {
	TotalFiles   int64
	TotalBytes   int64
	CurrentFiles int64
	CurrentBytes int64
}

// Percent returns completion by bytes, falling back to files for empty trees.
func (p Progress) Percent() float64 {
	switch {
	case p.TotalBytes > 0:
		return float64(p.CurrentBytes) / float64(p.TotalBytes) * 100
	case p.TotalFiles > 0:
		return float64(p.CurrentFiles) / float64(p.TotalFiles) * 100
	default:
		return 0
	}
}

// Tracker owns the Stats and Progress of one run.
type Tracker struct {
	mu       sync.Mutex
	stats    Stats
	progress Progress

	cancelled atomic.Bool

	stopMu   sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// NewTracker returns a Tracker with zeroed counters.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Start records the start time.
func (t *Tracker) Start() {
	t.mu.Lock()
	t.stats.StartTime = time.Now()
	t.mu.Unlock()
}

// Finish records the end time.
func (t *Tracker) Finish() {
	t.mu.Lock()
	t.stats.EndTime = time.Now()
	t.mu.Unlock()
}

// AddFileProcessed records a transferred file with its source and stored sizes.
func (t *Tracker) AddFileProcessed(bytes, compressed int64) {
	t.mu.Lock()
	t.stats.FilesProcessed++
	t.stats.BytesProcessed += bytes
	t.stats.BytesCompressed += compressed
	t.mu.Unlock()
}

// AddFileSkipped records a file that was filtered out or deliberately not transferred.
func (t *Tracker) AddFileSkipped() {
	t.mu.Lock()
	t.stats.FilesSkipped++
	t.mu.Unlock()
}

// AddFileFailed records a file whose transfer failed.
func (t *Tracker) AddFileFailed() {
	t.mu.Lock()
	t.stats.FilesFailed++
	t.mu.Unlock()
}

// AddDirProcessed records a created or traversed directory.
func (t *Tracker) AddDirProcessed() {
	t.mu.Lock()
	t.stats.DirsProcessed++
	t.mu.Unlock()
}

// AddDirFailed records a directory that could not be created or read.
func (t *Tracker) AddDirFailed() {
	t.mu.Lock()
	t.stats.DirsFailed++
	t.mu.Unlock()
}

// SetTotals stores the pre-scan result.
func (t *Tracker) SetTotals(files, bytes int64) {
	t.mu.Lock()
	t.progress.TotalFiles = files
	t.progress.TotalBytes = bytes
	t.mu.Unlock()
}

// Advance moves progress forward by one eligible file of the given size,
// whatever its outcome.
func (t *Tracker) Advance(bytes int64) {
	t.mu.Lock()
	t.progress.CurrentFiles++
	t.progress.CurrentBytes += bytes
	t.mu.Unlock()
}

// Cancel raises the cancellation flag. Traversal polls it between steps.
func (t *Tracker) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (t *Tracker) Cancelled() bool {
	return t.cancelled.Load()
}

// Snapshot returns a consistent copy of the counters.
func (t *Tracker) Snapshot() (Stats, Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats, t.progress
}

// Stats returns a copy of the counters.
func (t *Tracker) Stats() Stats {
	s, _ := t.Snapshot()
	return s
}

// StartProgress logs progress every interval until StopProgress is called.
func (t *Tracker) StartProgress(msg string, interval time.Duration) {
	t.stopMu.Lock()
	defer t.stopMu.Unlock()
	if t.stopChan != nil {
		return
	}
	t.stopChan = make(chan struct{})
	t.done = make(chan struct{})
	stop, done := t.stopChan, t.done

	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.LogProgress(msg)
			case <-stop:
				return
			}
		}
	}()
}

// StopProgress stops the progress ticker and waits for it to exit.
func (t *Tracker) StopProgress() {
	t.stopMu.Lock()
	defer t.stopMu.Unlock()
	if t.stopChan == nil {
		return
	}
	close(t.stopChan)
	<-t.done
	t.stopChan = nil
	t.done = nil
}

// LogProgress logs the current completion.
func (t *Tracker) LogProgress(msg string) {
	s, p := t.Snapshot()
	plog.Info(msg,
		"percent", int(p.Percent()),
		"files", p.CurrentFiles,
		"total_files", p.TotalFiles,
		"bytes", util.ByteCountIEC(p.CurrentBytes),
		"total_bytes", util.ByteCountIEC(p.TotalBytes),
		"failed", s.FilesFailed,
		"elapsed", s.Elapsed().Round(time.Second),
	)
}

// LogSummary prints a summary of the run with a custom message.
// This can be called by a background ticker or at the end of the run.
func (t *Tracker) LogSummary(msg string) {
	s := t.Stats()
	plog.Info(msg,
		"files_processed", s.FilesProcessed,
		"files_skipped", s.FilesSkipped,
		"files_failed", s.FilesFailed,
		"dirs_processed", s.DirsProcessed,
		"dirs_failed", s.DirsFailed,
		"bytes_processed", util.ByteCountIEC(s.BytesProcessed),
		"bytes_stored", util.ByteCountIEC(s.BytesCompressed),
		"saved_percent", int(s.CompressionRatio()),
		"duration", s.Elapsed().Round(time.Millisecond),
		"throughput", util.ByteCountIEC(int64(s.Throughput()))+"/s",
	)
}

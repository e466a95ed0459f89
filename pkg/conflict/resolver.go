// Package conflict decides what happens when a destination path already exists.
package conflict

import (
	"fmt"
	"strings"
	"sync"

	"github.com/paulschiretz/pgl-filebackup/pkg/pathclass"
	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/paulschiretz/pgl-filebackup/pkg/sharded"
)

// MaxRenameSuffix is the largest N tried for "name.N".
const MaxRenameSuffix = 1000

// Decision is the outcome of resolving a conflict.
type Decision struct {
	FinalPath string
	Proceed   bool
}

// Resolver applies a Mode to existing destination paths. It is safe for
// concurrent use: rename candidates are reserved so two workers never pick
// the same name, and prompts are asked one at a time.
type Resolver struct {
	mode     Mode
	prompter Prompter
	promptMu sync.Mutex
	reserved *sharded.ShardedSet
}

// NewResolver returns a Resolver for mode. prompter is only consulted in Ask mode.
func NewResolver(mode Mode, prompter Prompter) *Resolver {
	return &Resolver{
		mode:     mode,
		prompter: prompter,
		reserved: sharded.NewShardedSet(),
	}
}

// Mode returns the configured mode.
func (r *Resolver) Mode() Mode { return r.mode }

// Resolve decides how to handle destPath, which must already exist. ext is the
// compression extension the caller appended to destPath, if any; renamed
// candidates keep it as the final suffix so the codec stays detectable.
func (r *Resolver) Resolve(destPath, ext string) (Decision, error) {
	switch r.mode {
	case Overwrite:
		return Decision{FinalPath: destPath, Proceed: true}, nil
	case Skip:
		plog.Debug("Skipping existing file", "path", destPath)
		return Decision{FinalPath: destPath}, nil
	case Rename:
		return r.rename(destPath, ext)
	case Ask:
		return r.ask(destPath)
	default:
		return Decision{}, resultcode.Newf(resultcode.InvalidParams, "resolve conflict", destPath, "unsupported conflict mode %q", r.mode)
	}
}

// Release drops a rename reservation, e.g. after the write to it failed.
func (r *Resolver) Release(path string) {
	r.reserved.Delete(path)
}

func (r *Resolver) rename(destPath, ext string) (Decision, error) {
	stem := strings.TrimSuffix(destPath, ext)
	for n := 1; n <= MaxRenameSuffix; n++ {
		candidate := fmt.Sprintf("%s.%d%s", stem, n, ext)
		if pathclass.Exists(candidate) {
			continue
		}
		if r.reserved.LoadOrStore(candidate) {
			continue // taken by a concurrent worker
		}
		plog.Debug("Renaming conflicting destination", "path", destPath, "to", candidate)
		return Decision{FinalPath: candidate, Proceed: true}, nil
	}
	return Decision{}, resultcode.Newf(resultcode.GeneralError, "resolve conflict", destPath, "no free name after %d attempts", MaxRenameSuffix)
}

func (r *Resolver) ask(destPath string) (Decision, error) {
	if r.prompter == nil {
		return Decision{}, resultcode.Newf(resultcode.InvalidParams, "resolve conflict", destPath, "ask mode requires a prompter")
	}
	r.promptMu.Lock()
	yes, err := r.prompter.Confirm(destPath)
	r.promptMu.Unlock()
	if err != nil {
		return Decision{}, resultcode.New(resultcode.GeneralError, "resolve conflict", destPath, err)
	}
	return Decision{FinalPath: destPath, Proceed: yes}, nil
}

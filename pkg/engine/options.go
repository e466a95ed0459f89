package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-filebackup/pkg/compression"
	"github.com/paulschiretz/pgl-filebackup/pkg/conflict"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// Mode selects how a backup treats files already present at the destination.
type Mode int

const (
	// Full transfers every eligible file, handing collisions to the conflict policy.
	Full Mode = iota
	// Incremental skips files whose stored copy is up to date.
	Incremental
)

var modeToString = map[Mode]string{Full: "full", Incremental: "incremental"}
var stringToMode map[string]Mode

func init() {
	stringToMode = util.InvertMap(modeToString)
}

// String returns the string representation of a Mode.
func (m Mode) String() string {
	if str, ok := modeToString[m]; ok {
		return str
	}
	return fmt.Sprintf("unknown_mode(%d)", m)
}

// ParseMode parses a string into a Mode.
func ParseMode(s string) (Mode, error) {
	if mode, ok := stringToMode[strings.ToLower(s)]; ok {
		return mode, nil
	}
	return 0, fmt.Errorf("invalid Mode: %q. Must be 'full' or 'incremental'", s)
}

// MarshalJSON implements the json.Marshaler interface for Mode.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Mode.
func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("Mode should be a string, got %s", data)
	}
	mode, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// MaxWorkers caps the number of concurrent file workers.
const MaxWorkers = 8

// DefaultMemoryLimit is the codec memory budget shared by all workers.
const DefaultMemoryLimit = 512 << 20

// Options is the immutable configuration of one backup or restore run.
type Options struct {
	Recursive           bool
	Compression         compression.Kind // ignored by restore, which detects it per file
	Conflict            conflict.Mode
	PreservePermissions bool
	PreserveTimestamps  bool
	DryRun              bool
	Verify              bool
	MaxFileSize         int64 // 0 means unlimited
	ExcludePatterns     []string
	Progress            bool
	ProgressInterval    time.Duration

	Workers     int
	Mode        Mode
	WriteIndex  bool
	MemoryLimit int64 // 0 disables the budget

	// Prompter answers Ask conflicts. Required for conflict.Ask.
	Prompter conflict.Prompter

	PreHookCommands  []string
	PostHookCommands []string
	FailFast         bool // abort when a hook command fails
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Recursive:          false,
		Compression:        compression.None,
		Conflict:           conflict.Ask,
		PreserveTimestamps: true,
		ProgressInterval:   5 * time.Second,
		Workers:            1,
		Mode:               Full,
		WriteIndex:         true,
		MemoryLimit:        DefaultMemoryLimit,
	}
}

// Validate checks the options for values no run could use.
func (o *Options) Validate() error {
	if kind, err := compression.ParseKind(string(o.Compression)); err != nil || kind != o.Compression {
		return resultcode.Newf(resultcode.InvalidParams, "options", "", "unknown compression %q", string(o.Compression))
	}
	if mode, err := conflict.ParseMode(string(o.Conflict)); err != nil || mode != o.Conflict {
		return resultcode.Newf(resultcode.InvalidParams, "options", "", "unknown conflict mode %q", string(o.Conflict))
	}
	if o.Conflict == conflict.Ask && o.Prompter == nil {
		return resultcode.Newf(resultcode.InvalidParams, "options", "", "conflict mode 'ask' requires a prompter")
	}
	if o.Workers < 1 || o.Workers > MaxWorkers {
		return resultcode.Newf(resultcode.InvalidParams, "options", "", "workers must be between 1 and %d, got %d", MaxWorkers, o.Workers)
	}
	if o.MaxFileSize < 0 {
		return resultcode.Newf(resultcode.InvalidParams, "options", "", "max file size must not be negative, got %d", o.MaxFileSize)
	}
	if o.MemoryLimit < 0 {
		return resultcode.Newf(resultcode.InvalidParams, "options", "", "memory limit must not be negative, got %d", o.MemoryLimit)
	}
	if _, ok := modeToString[o.Mode]; !ok {
		return resultcode.Newf(resultcode.InvalidParams, "options", "", "unknown mode %d", o.Mode)
	}
	if o.Progress && o.ProgressInterval <= 0 {
		return resultcode.Newf(resultcode.InvalidParams, "options", "", "progress interval must be positive, got %s", o.ProgressInterval)
	}
	return nil
}

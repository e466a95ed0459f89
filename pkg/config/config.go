package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-filebackup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-filebackup/pkg/compression"
	"github.com/paulschiretz/pgl-filebackup/pkg/conflict"
	"github.com/paulschiretz/pgl-filebackup/pkg/engine"
	"github.com/paulschiretz/pgl-filebackup/pkg/flagparse"
	"github.com/paulschiretz/pgl-filebackup/pkg/metafile"
	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = metafile.ConfigFileName

type BackupPolicyConfig struct {
	Compression string `json:"compression"`
	Conflict    string `json:"conflict"`
	Mode        string `json:"mode"`
	WriteIndex  bool   `json:"writeIndex"`
}

type RestorePolicyConfig struct {
	Conflict string `json:"conflict"`
}

type TransferConfig struct {
	Recursive        bool  `json:"recursive"`
	Verify           bool  `json:"verify"`
	MaxFileSizeBytes int64 `json:"maxFileSizeBytes" comment:"Files larger than this are skipped. 0 means unlimited."`
}

type PreserveConfig struct {
	Permissions bool `json:"permissions"`
	Timestamps  bool `json:"timestamps"`
}

type ExcludeConfig struct {
	DefaultExclude []string `json:"defaultExclude,omitempty"`
	// Note: omitempty is intentionally not used for user-configurable slices
	// so that they appear in the generated config file for better discoverability.
	UserExclude []string `json:"userExclude"`
}

type EnginePerformanceConfig struct {
	Workers       int `json:"workers"`
	MemoryLimitMB int `json:"memoryLimitMB" comment:"Memory budget shared by all codecs in MiB. 0 disables the budget."`
}

type EngineConfig struct {
	FailFast                bool                    `json:"failFast"`
	Progress                bool                    `json:"progress"`
	ProgressIntervalSeconds int                     `json:"progressIntervalSeconds"`
	Performance             EnginePerformanceConfig `json:"performance"`
}

type HooksConfig struct {
	// Note: omitempty is intentionally not used so that the hook fields
	// appear in the generated config file for better discoverability.
	// SECURITY: These commands are executed as provided. Ensure they are from a trusted source.
	PreBackup   []string `json:"preBackup"`
	PostBackup  []string `json:"postBackup"`
	PreRestore  []string `json:"preRestore"`
	PostRestore []string `json:"postRestore"`
}

type RuntimeConfig struct {
	DryRun bool
	Quiet  bool
}

type Config struct {
	Version  string              `json:"version"`
	Source   string              `json:"source"`
	Target   string              `json:"-"` // Never added to config file
	Runtime  RuntimeConfig       `json:"-"` // Never added to config file
	LogLevel string              `json:"logLevel"`
	Backup   BackupPolicyConfig  `json:"backup"`
	Restore  RestorePolicyConfig `json:"restore"`
	Transfer TransferConfig      `json:"transfer"`
	Preserve PreserveConfig      `json:"preserve"`
	Exclude  ExcludeConfig       `json:"exclude"`
	Engine   EngineConfig        `json:"engine"`
	Hooks    HooksConfig         `json:"hooks"`
}

// ValidationOptions selects the path checks Validate performs.
type ValidationOptions struct {
	CheckSource       bool // source must be set
	CheckSourceExists bool // source must exist on disk
	CheckTarget       bool // target must be set
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		Source:   "",     // Intentionally empty to force user configuration.
		Target:   "",     // Intentionally empty to force user configuration.
		LogLevel: "info", // Default log level.
		Backup: BackupPolicyConfig{
			Compression: compression.None.String(),
			Conflict:    conflict.Ask.String(),
			Mode:        engine.Full.String(),
			WriteIndex:  true,
		},
		Restore: RestorePolicyConfig{
			Conflict: conflict.Ask.String(),
		},
		Transfer: TransferConfig{
			Recursive:        false, // A directory source must opt in explicitly.
			Verify:           false,
			MaxFileSizeBytes: 0,
		},
		Preserve: PreserveConfig{
			Permissions: false,
			Timestamps:  true,
		},
		Exclude: ExcludeConfig{
			UserExclude: []string{}, // User-defined list of names and paths to exclude.
			DefaultExclude: []string{
				// Common temporary and system files across platforms.
				"*.swp",       // Vim swap files
				"desktop.ini", // Windows folder customization file
				".DS_Store",   // macOS folder customization file
				"Thumbs.db",   // Windows image thumbnail cache
				"$Recycle.Bin",
				"#recycle", // Synology recycle bin
			},
		},
		Engine: EngineConfig{
			FailFast:                false,
			Progress:                false,
			ProgressIntervalSeconds: 5,
			Performance: EnginePerformanceConfig{
				Workers:       1,                               // Default to 1. Codecs like pgzip already parallelize a single file.
				MemoryLimitMB: engine.DefaultMemoryLimit >> 20, // 512 MiB
			},
		},
		Hooks: HooksConfig{
			PreBackup:   []string{},
			PostBackup:  []string{},
			PreRestore:  []string{},
			PostRestore: []string{},
		},
	}
}

// Load attempts to load a configuration from "pgl-filebackup.config.json" in dir.
// If the file doesn't exist, it returns the default config without an error.
// If the file exists but fails to parse, it returns an error and a zero-value config.
func Load(dir string) (Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return Config{}, resultcode.Newf(resultcode.ConfigError, "load config", dir, "could not determine absolute path: %v", err)
	}

	configPath := filepath.Join(absDir, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefault(), nil // Config file doesn't exist, which is a normal case.
		}
		return Config{}, resultcode.New(resultcode.ConfigError, "load config", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	// Start with default values, then overwrite with the file's content.
	// This makes the config loading resilient to missing fields in the JSON file.
	config := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, resultcode.Newf(resultcode.ConfigError, "load config", configPath, "could not parse: %v", err)
	}

	// NOTE: if config.Version differs from the running version a migration step goes here.
	if config.Version != buildinfo.Version {
		config.Version = buildinfo.Version
	}
	return config, nil
}

// Generate creates or overwrites the config file in the config's target directory.
func Generate(configToGenerate Config) error {
	if configToGenerate.Target == "" {
		return resultcode.Newf(resultcode.ConfigError, "generate config", "", "target path cannot be empty")
	}
	if err := util.EnsureDir(configToGenerate.Target); err != nil {
		return resultcode.New(resultcode.FileWriteError, "generate config", configToGenerate.Target, err)
	}
	configPath := filepath.Join(configToGenerate.Target, ConfigFileName)

	// Marshal the config into nicely formatted JSON.
	jsonData, err := json.MarshalIndent(configToGenerate, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return resultcode.New(resultcode.FileWriteError, "generate config", configPath, err)
	}

	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// Validate checks the configuration for logical errors and inconsistencies.
// Paths are expanded and cleaned in place. Every failure is a ConfigError.
func (c *Config) Validate(opts ValidationOptions) error {
	invalid := func(format string, args ...any) error {
		return resultcode.Newf(resultcode.ConfigError, "validate config", "", format, args...)
	}

	// --- Strict Path Validation (Fail-Fast) ---
	if opts.CheckSource && c.Source == "" {
		return invalid("source path cannot be empty")
	}
	if opts.CheckTarget && c.Target == "" {
		return invalid("target path cannot be empty")
	}

	var err error
	if c.Source != "" {
		c.Source, err = util.ExpandPath(c.Source)
		if err != nil {
			return invalid("could not expand source path: %v", err)
		}
		c.Source = filepath.Clean(c.Source)

		if opts.CheckSourceExists {
			if _, err := os.Lstat(c.Source); os.IsNotExist(err) {
				return resultcode.Newf(resultcode.FileNotFound, "validate config", c.Source, "source path does not exist")
			}
		}
	}
	if c.Target != "" {
		c.Target, err = util.ExpandPath(c.Target)
		if err != nil {
			return invalid("could not expand target path: %v", err)
		}
		c.Target = filepath.Clean(c.Target)
	}

	if _, err := plog.LevelFromString(c.LogLevel); err != nil {
		return invalid("logLevel: %v", err)
	}
	if _, err := compression.ParseKind(c.Backup.Compression); err != nil {
		return invalid("backup.compression: %v", err)
	}
	if _, err := conflict.ParseMode(c.Backup.Conflict); err != nil {
		return invalid("backup.conflict: %v", err)
	}
	if _, err := conflict.ParseMode(c.Restore.Conflict); err != nil {
		return invalid("restore.conflict: %v", err)
	}
	if _, err := engine.ParseMode(c.Backup.Mode); err != nil {
		return invalid("backup.mode: %v", err)
	}

	if c.Transfer.MaxFileSizeBytes < 0 {
		return invalid("transfer.maxFileSizeBytes cannot be negative")
	}

	// --- Validate Engine Settings ---
	if c.Engine.Performance.Workers < 1 || c.Engine.Performance.Workers > engine.MaxWorkers {
		return invalid("engine.performance.workers must be between 1 and %d", engine.MaxWorkers)
	}
	if c.Engine.Performance.MemoryLimitMB < 0 {
		return invalid("engine.performance.memoryLimitMB cannot be negative")
	}
	if c.Engine.Progress && c.Engine.ProgressIntervalSeconds <= 0 {
		return invalid("engine.progressIntervalSeconds must be greater than 0 when progress is enabled")
	}

	if err := validateGlobPatterns("exclude.defaultExclude", c.Exclude.DefaultExclude); err != nil {
		return err
	}
	if err := validateGlobPatterns("exclude.userExclude", c.Exclude.UserExclude); err != nil {
		return err
	}
	return nil
}

// validateGlobPatterns checks if a list of strings are valid glob patterns.
func validateGlobPatterns(fieldName string, patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return resultcode.Newf(resultcode.ConfigError, "validate config", "", "invalid glob pattern for %s: %q - %v", fieldName, pattern, err)
		}
	}
	return nil
}

// ExcludePatterns returns the final, combined slice of exclusion patterns,
// default patterns first. It automatically handles deduplication.
func (e *ExcludeConfig) ExcludePatterns() []string {
	return util.MergeAndDeduplicate(e.DefaultExclude, e.UserExclude)
}

// ToOptions converts the validated configuration into engine options for command.
// The prompter is only consulted for the 'ask' conflict mode.
func (c *Config) ToOptions(command flagparse.Command, prompter conflict.Prompter) (engine.Options, error) {
	opts := engine.DefaultOptions()

	conflictName := c.Backup.Conflict
	switch command {
	case flagparse.Backup:
		kind, err := compression.ParseKind(c.Backup.Compression)
		if err != nil {
			return engine.Options{}, resultcode.New(resultcode.ConfigError, "config", "", err)
		}
		mode, err := engine.ParseMode(c.Backup.Mode)
		if err != nil {
			return engine.Options{}, resultcode.New(resultcode.ConfigError, "config", "", err)
		}
		opts.Compression = kind
		opts.Mode = mode
		opts.WriteIndex = c.Backup.WriteIndex
		opts.PreHookCommands = c.Hooks.PreBackup
		opts.PostHookCommands = c.Hooks.PostBackup
	case flagparse.Restore:
		conflictName = c.Restore.Conflict
		opts.PreHookCommands = c.Hooks.PreRestore
		opts.PostHookCommands = c.Hooks.PostRestore
	default:
		return engine.Options{}, fmt.Errorf("command %s does not run the engine", command)
	}

	mode, err := conflict.ParseMode(conflictName)
	if err != nil {
		return engine.Options{}, resultcode.New(resultcode.ConfigError, "config", "", err)
	}
	opts.Conflict = mode
	if mode == conflict.Ask {
		opts.Prompter = prompter
	}

	opts.Recursive = c.Transfer.Recursive
	opts.Verify = c.Transfer.Verify
	opts.MaxFileSize = c.Transfer.MaxFileSizeBytes
	opts.PreservePermissions = c.Preserve.Permissions
	opts.PreserveTimestamps = c.Preserve.Timestamps
	opts.ExcludePatterns = c.Exclude.ExcludePatterns()
	opts.DryRun = c.Runtime.DryRun
	opts.Progress = c.Engine.Progress
	opts.ProgressInterval = time.Duration(c.Engine.ProgressIntervalSeconds) * time.Second
	opts.Workers = c.Engine.Performance.Workers
	opts.MemoryLimit = int64(c.Engine.Performance.MemoryLimitMB) << 20
	opts.FailFast = c.Engine.FailFast
	return opts, nil
}

// LogSummary prints a user-friendly summary of the configuration for command.
func (c *Config) LogSummary(command flagparse.Command) {
	logArgs := []interface{}{
		"command", command.String(),
		"log_level", c.LogLevel,
		"source", c.Source,
		"target", c.Target,
		"dry_run", c.Runtime.DryRun,
		"recursive", c.Transfer.Recursive,
		"verify", c.Transfer.Verify,
		"workers", c.Engine.Performance.Workers,
		"memory_limit_mb", c.Engine.Performance.MemoryLimitMB,
		"preserve", fmt.Sprintf("perm:%t time:%t", c.Preserve.Permissions, c.Preserve.Timestamps),
	}
	switch command {
	case flagparse.Backup:
		logArgs = append(logArgs, "mode", c.Backup.Mode)
		logArgs = append(logArgs, "compression", c.Backup.Compression)
		logArgs = append(logArgs, "conflict", c.Backup.Conflict)
		if !c.Backup.WriteIndex {
			logArgs = append(logArgs, "index", "disabled")
		}
		if len(c.Hooks.PreBackup) > 0 {
			logArgs = append(logArgs, "pre_backup_hooks", strings.Join(c.Hooks.PreBackup, "; "))
		}
		if len(c.Hooks.PostBackup) > 0 {
			logArgs = append(logArgs, "post_backup_hooks", strings.Join(c.Hooks.PostBackup, "; "))
		}
	case flagparse.Restore:
		logArgs = append(logArgs, "conflict", c.Restore.Conflict)
		if len(c.Hooks.PreRestore) > 0 {
			logArgs = append(logArgs, "pre_restore_hooks", strings.Join(c.Hooks.PreRestore, "; "))
		}
		if len(c.Hooks.PostRestore) > 0 {
			logArgs = append(logArgs, "post_restore_hooks", strings.Join(c.Hooks.PostRestore, "; "))
		}
	}
	if c.Transfer.MaxFileSizeBytes > 0 {
		logArgs = append(logArgs, "max_file_size", util.ByteCountIEC(c.Transfer.MaxFileSizeBytes))
	}
	if finalExclude := c.Exclude.ExcludePatterns(); len(finalExclude) > 0 {
		logArgs = append(logArgs, "exclude", strings.Join(finalExclude, ", "))
	}
	plog.Info("Configuration loaded", logArgs...)
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "source":
			merged.Source = value.(string)
		case "target":
			merged.Target = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "quiet":
			merged.Runtime.Quiet = value.(bool)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "recursive":
			merged.Transfer.Recursive = value.(bool)
		case "verify":
			merged.Transfer.Verify = value.(bool)
		case "max-file-size":
			merged.Transfer.MaxFileSizeBytes = value.(int64)
		case "conflict":
			switch command {
			case flagparse.Restore:
				merged.Restore.Conflict = value.(string)
			default:
				merged.Backup.Conflict = value.(string)
			}
		case "compression":
			merged.Backup.Compression = value.(string)
		case "mode":
			merged.Backup.Mode = value.(string)
		case "write-index":
			merged.Backup.WriteIndex = value.(bool)
		case "preserve-permissions":
			merged.Preserve.Permissions = value.(bool)
		case "preserve-timestamps":
			merged.Preserve.Timestamps = value.(bool)
		case "exclude":
			merged.Exclude.UserExclude = value.([]string)
		case "workers":
			merged.Engine.Performance.Workers = value.(int)
		case "memory-limit-mb":
			merged.Engine.Performance.MemoryLimitMB = value.(int)
		case "progress":
			merged.Engine.Progress = value.(bool)
		case "progress-interval":
			merged.Engine.ProgressIntervalSeconds = value.(int)
		case "fail-fast":
			merged.Engine.FailFast = value.(bool)
		case "pre-hooks":
			switch command {
			case flagparse.Restore:
				merged.Hooks.PreRestore = value.([]string)
			default:
				merged.Hooks.PreBackup = value.([]string)
			}
		case "post-hooks":
			switch command {
			case flagparse.Restore:
				merged.Hooks.PostRestore = value.([]string)
			default:
				merged.Hooks.PostBackup = value.([]string)
			}
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}

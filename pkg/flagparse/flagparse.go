package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-filebackup/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	LogLevel *string
	Quiet    *bool

	// Shared: Backup / Restore / Init
	Source              *string
	Target              *string
	DryRun              *bool
	Recursive           *bool
	Conflict            *string
	PreservePermissions *bool
	PreserveTimestamps  *bool
	Verify              *bool
	MaxFileSize         *int64
	Exclude             *string
	Workers             *int
	MemoryLimitMB       *int
	Progress            *bool
	ProgressInterval    *int
	FailFast            *bool
	PreHooks            *string
	PostHooks           *string

	// Backup specific
	Compression *string
	Mode        *string
	WriteIndex  *bool

	// List / Verify
	Base *string
	JSON *bool

	// Init specific
	Force   *bool
	Default *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.Quiet = fs.Bool("quiet", false, "Suppress all output except warnings and errors.")
}

func registerTransferFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Source = fs.String("source", "", "File or directory to read from. (Required)")
	f.Target = fs.String("target", "", "File or directory to write to. (Required)")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
	f.Recursive = fs.Bool("recursive", false, "Descend into subdirectories. Required when the source is a directory.")
	f.Conflict = fs.String("conflict", "ask", "What to do when a destination file exists: 'ask', 'overwrite', 'skip', 'rename'.")
	f.PreservePermissions = fs.Bool("preserve-permissions", false, "Copy permission bits (and ownership when run as root) to the destination.")
	f.PreserveTimestamps = fs.Bool("preserve-timestamps", true, "Copy access and modification times to the destination.")
	f.Verify = fs.Bool("verify", false, "Re-read every written file and compare it with its source.")
	f.MaxFileSize = fs.Int64("max-file-size", 0, "Skip files larger than this many bytes (0 = unlimited).")
	f.Exclude = fs.String("exclude", "", "Comma-separated list of case-insensitive names or paths to exclude (supports glob patterns).")
	f.Workers = fs.Int("workers", 0, "Number of files processed concurrently (1-8).")
	f.MemoryLimitMB = fs.Int("memory-limit-mb", 0, "Memory budget in MiB shared by all codecs (0 = unlimited).")
	f.Progress = fs.Bool("progress", false, "Log periodic progress updates.")
	f.ProgressInterval = fs.Int("progress-interval", 5, "Seconds between progress updates.")
	f.FailFast = fs.Bool("fail-fast", false, "Abort the run when a hook command fails.")
	f.PreHooks = fs.String("pre-hooks", "", "Comma-separated list of commands to run before the transfer.")
	f.PostHooks = fs.String("post-hooks", "", "Comma-separated list of commands to run after the transfer.")
}

func registerBackupFlags(fs *flag.FlagSet, f *cliFlags) {
	registerTransferFlags(fs, f)
	f.Compression = fs.String("compression", "none", "Compression applied to every file: 'none', 'gzip', 'zlib', 'lz4', 'zstd'.")
	f.Mode = fs.String("mode", "full", "Backup mode: 'full' or 'incremental'.")
	f.WriteIndex = fs.Bool("write-index", true, "Write a backup index used by 'list', 'verify' and incremental runs.")
}

func registerRestoreFlags(fs *flag.FlagSet, f *cliFlags) {
	registerTransferFlags(fs, f)
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	// Init supports all backup flags (to generate config) plus 'force' and 'default'.
	registerBackupFlags(fs, f)
	f.Force = fs.Bool("force", false, "Bypass confirmation prompts.")
	f.Default = fs.Bool("default", false, "Overwrite existing configuration with defaults.")
}

func registerListFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Base = fs.String("base", "", "Backup directory containing the index. (Required)")
	f.JSON = fs.Bool("json", false, "Print the raw index as JSON.")
}

func registerVerifyFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Base = fs.String("base", "", "Backup directory containing the index. (Required)")
	f.Source = fs.String("source", "", "Original source tree to compare byte-for-byte against. (Optional)")
}

// subcommands maps each runnable command to its description and flag registration.
var subcommands = map[Command]struct {
	desc     string
	register func(*flag.FlagSet, *cliFlags)
}{
	Backup:  {"Back up a file or directory, optionally compressing every file.", registerBackupFlags},
	Restore: {"Restore a backup, decompressing files by their extension.", registerRestoreFlags},
	Verify:  {"Check every file recorded in a backup index.", registerVerifyFlags},
	List:    {"List the files recorded in a backup index.", registerListFlags},
	Init:    {"Write a configuration file into a backup directory.", registerInitFlags},
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the command and flag map.
func Parse(args []string) (Command, map[string]interface{}, error) {
	// Handle top-level help
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}

	if command == Version {
		return command, nil, nil
	}

	sub, ok := subcommands[command]
	if !ok {
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
	registerGlobalFlags(fs, f)
	sub.register(fs, f)

	// Custom usage for the subcommand
	fs.Usage = func() {
		printSubcommandUsage(command, sub.desc, fs)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	if fs.NArg() > 0 {
		return command, nil, fmt.Errorf("unexpected arguments for %s: %s", command, strings.Join(fs.Args(), " "))
	}

	flagMap, err := flagsToMap(fs, f)
	return command, flagMap, err
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) (map[string]interface{}, error) {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "quiet", f.Quiet)

	addIfUsed(flagMap, usedFlags, "source", f.Source)
	addIfUsed(flagMap, usedFlags, "target", f.Target)
	addIfUsed(flagMap, usedFlags, "base", f.Base)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "recursive", f.Recursive)
	addIfUsed(flagMap, usedFlags, "conflict", f.Conflict)
	addIfUsed(flagMap, usedFlags, "preserve-permissions", f.PreservePermissions)
	addIfUsed(flagMap, usedFlags, "preserve-timestamps", f.PreserveTimestamps)
	addIfUsed(flagMap, usedFlags, "verify", f.Verify)
	addIfUsed(flagMap, usedFlags, "max-file-size", f.MaxFileSize)
	addIfUsed(flagMap, usedFlags, "workers", f.Workers)
	addIfUsed(flagMap, usedFlags, "memory-limit-mb", f.MemoryLimitMB)
	addIfUsed(flagMap, usedFlags, "progress", f.Progress)
	addIfUsed(flagMap, usedFlags, "progress-interval", f.ProgressInterval)
	addIfUsed(flagMap, usedFlags, "fail-fast", f.FailFast)

	addIfUsed(flagMap, usedFlags, "compression", f.Compression)
	addIfUsed(flagMap, usedFlags, "mode", f.Mode)
	addIfUsed(flagMap, usedFlags, "write-index", f.WriteIndex)

	addIfUsed(flagMap, usedFlags, "json", f.JSON)
	addIfUsed(flagMap, usedFlags, "force", f.Force)
	addIfUsed(flagMap, usedFlags, "default", f.Default)

	// Handle flags that require parsing/validation.
	addParsedIfUsed(flagMap, usedFlags, "exclude", f.Exclude, ParseExcludeList)
	addParsedIfUsed(flagMap, usedFlags, "pre-hooks", f.PreHooks, ParseCmdList)
	addParsedIfUsed(flagMap, usedFlags, "post-hooks", f.PostHooks, ParseCmdList)

	return flagMap, nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "A per-file compressing backup and restore utility.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  backup      Back up a file or directory\n")
	fmt.Fprintf(fs.Output(), "  restore     Restore a backup\n")
	fmt.Fprintf(fs.Output(), "  verify      Check a backup against its index\n")
	fmt.Fprintf(fs.Output(), "  list        List the files in a backup\n")
	fmt.Fprintf(fs.Output(), "  init        Initialize a new configuration\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "A per-file compressing backup and restore utility.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseCmdList parses a comma-separated list of shell-like commands.
// It preserves quotes and handles backslash escapes so they can be interpreted by the shell.
func ParseCmdList(s string) []string {
	return parseListInternal(s, true, true)
}

// ParseExcludeList parses a comma-separated list of file or directory patterns.
// It removes quotes, as they are only used for grouping items with spaces.
// It treats backslashes as literal characters for Windows path compatibility.
func ParseExcludeList(s string) []string {
	return parseListInternal(s, false, false)
}

// parseListInternal is the core implementation for parsing a comma-separated list. It supports
// both single (') and double (") quotes to allow items to contain commas or spaces.
// - `keepQuotes`: Preserves quote characters in the output.
// - `handleEscapes`: Treats backslashes as escape characters.
func parseListInternal(s string, keepQuotes, handleEscapes bool) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	// Helper to add the current buffered item to the list after trimming whitespace.
	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	var isEscaped bool
	for _, r := range s {
		if isEscaped {
			current.WriteRune(r)
			isEscaped = false
			continue
		}

		switch {
		case r == '\\' && handleEscapes:
			isEscaped = true
			// For commands, we also keep the backslash for the shell to interpret.
			current.WriteRune(r)
		case r == '\'' || r == '"':
			if quoteChar == 0 { // Start of a new quoted section.
				quoteChar = r
				if keepQuotes {
					current.WriteRune(r)
				}
			} else if quoteChar == r { // End of the current quoted section.
				quoteChar = 0
				if keepQuotes {
					current.WriteRune(r)
				}
			} else { // A different quote character inside an existing quoted section.
				current.WriteRune(r) // Treat it as a literal character.
			}
		case r == ',' && quoteChar == 0: // Comma outside of any quotes.
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem() // Add the final item after the loop finishes.
	return list
}

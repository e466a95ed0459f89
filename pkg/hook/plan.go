package hook

// Plan holds the commands run around a backup or restore.
type Plan struct {
	Enabled bool

	PreHookCommands  []string
	PostHookCommands []string

	// Global Flags
	DryRun   bool
	FailFast bool
}

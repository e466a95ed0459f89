package cmd

import (
	"os"

	"github.com/paulschiretz/pgl-filebackup/pkg/config"
	"github.com/paulschiretz/pgl-filebackup/pkg/engine"
	"github.com/paulschiretz/pgl-filebackup/pkg/flagparse"
	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
)

// loadConfig loads the config file stored in dir. A dir that does not exist
// yet, or that is a plain file, has no config and yields the defaults.
func loadConfig(dir string) (config.Config, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return config.NewDefault(), nil
	}
	return config.Load(dir)
}

// prepareRun builds the validated run configuration for a backup or restore.
// configDir is the backup directory: the target of a backup or the source of a restore.
func prepareRun(command flagparse.Command, flagMap map[string]interface{}, configDir string) (config.Config, error) {
	loadedConfig, err := loadConfig(configDir)
	if err != nil {
		return config.Config{}, err
	}

	// Merge the flag values over the loaded config to get the final run config.
	runConfig := config.MergeConfigWithFlags(command, loadedConfig, flagMap)

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(config.ValidationOptions{
		CheckSource:       true,
		CheckSourceExists: true,
		CheckTarget:       true,
	}); err != nil {
		return config.Config{}, err
	}

	applyLogSettings(runConfig)
	runConfig.LogSummary(command)
	return runConfig, nil
}

// applyLogSettings sets the global log level and quiet mode from the configuration.
func applyLogSettings(c config.Config) {
	if level, err := plog.LevelFromString(c.LogLevel); err == nil {
		plog.SetLevel(level)
	}
	plog.SetQuiet(c.Runtime.Quiet)
}

// requireFlag returns the non-empty string value of a mandatory flag.
func requireFlag(command flagparse.Command, flagMap map[string]interface{}, name string) (string, error) {
	value, ok := flagMap[name].(string)
	if !ok || value == "" {
		return "", resultcode.Newf(resultcode.InvalidParams, command.String(), "", "the -%s flag is required", name)
	}
	return value, nil
}

// logFailures lists every file that failed during a run.
func logFailures(res engine.Result) {
	for _, f := range res.Failures {
		plog.Warn("FAILED", "path", f.Path, "result", resultcode.CodeOf(f.Err), "error", f.Err)
	}
}

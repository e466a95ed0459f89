package cmd

import (
	"context"
	"time"

	"github.com/paulschiretz/pgl-filebackup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-filebackup/pkg/conflict"
	"github.com/paulschiretz/pgl-filebackup/pkg/engine"
	"github.com/paulschiretz/pgl-filebackup/pkg/flagparse"
	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
)

// RunBackup handles the logic for the backup command.
func RunBackup(ctx context.Context, flagMap map[string]interface{}) error {
	return runBackup(ctx, flagMap, conflict.NewTerminalPrompter())
}

func runBackup(ctx context.Context, flagMap map[string]interface{}, prompter conflict.Prompter) error {
	if _, err := requireFlag(flagparse.Backup, flagMap, "source"); err != nil {
		return err
	}
	target, err := requireFlag(flagparse.Backup, flagMap, "target")
	if err != nil {
		return err
	}

	// The config lives in the backup directory, which is the target.
	runConfig, err := prepareRun(flagparse.Backup, flagMap, target)
	if err != nil {
		return err
	}

	opts, err := runConfig.ToOptions(flagparse.Backup, prompter)
	if err != nil {
		return err
	}
	backupEngine, err := engine.New(opts)
	if err != nil {
		return err
	}

	startTime := time.Now()
	res, err := backupEngine.Backup(ctx, runConfig.Source, runConfig.Target)
	duration := time.Since(startTime).Round(time.Millisecond)
	logFailures(res)
	if err != nil {
		return err // The error will be logged with full details by main()
	}
	plog.Info(buildinfo.Name+" backup finished successfully.", "duration", duration)
	return nil
}

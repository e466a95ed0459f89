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

// RunRestore handles the logic for the restore command.
func RunRestore(ctx context.Context, flagMap map[string]interface{}) error {
	return runRestore(ctx, flagMap, conflict.NewTerminalPrompter())
}

func runRestore(ctx context.Context, flagMap map[string]interface{}, prompter conflict.Prompter) error {
	// The source of a restore is the backup; its stored config never names it.
	source, err := requireFlag(flagparse.Restore, flagMap, "source")
	if err != nil {
		return err
	}
	if _, err := requireFlag(flagparse.Restore, flagMap, "target"); err != nil {
		return err
	}

	runConfig, err := prepareRun(flagparse.Restore, flagMap, source)
	if err != nil {
		return err
	}

	opts, err := runConfig.ToOptions(flagparse.Restore, prompter)
	if err != nil {
		return err
	}
	restoreEngine, err := engine.New(opts)
	if err != nil {
		return err
	}

	startTime := time.Now()
	res, err := restoreEngine.Restore(ctx, runConfig.Source, runConfig.Target)
	duration := time.Since(startTime).Round(time.Millisecond)
	logFailures(res)
	if err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" restore finished successfully.", "duration", duration)
	return nil
}

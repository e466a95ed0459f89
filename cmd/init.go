package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-filebackup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-filebackup/pkg/config"
	"github.com/paulschiretz/pgl-filebackup/pkg/flagparse"
	"github.com/paulschiretz/pgl-filebackup/pkg/lockfile"
	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
	"github.com/paulschiretz/pgl-filebackup/pkg/preflight"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// RunInit handles the logic for the 'init' command.
func RunInit(ctx context.Context, flagMap map[string]interface{}) error {
	// For init, the target flag is mandatory to know where to look/write.
	target, err := requireFlag(flagparse.Init, flagMap, "target")
	if err != nil {
		return err
	}

	absTargetPath, err := filepath.Abs(target)
	if err != nil {
		return resultcode.Newf(resultcode.InvalidParams, "init", target, "could not determine absolute target path: %v", err)
	}
	absTargetPath = util.DenormalizePath(absTargetPath)

	var baseConfig config.Config

	initDefault, _ := flagMap["default"].(bool)
	if initDefault {
		// Check for force flag to bypass confirmation
		force, _ := flagMap["force"].(bool)
		if !force {
			absConfigFilePath := filepath.Join(absTargetPath, config.ConfigFileName)
			if _, err := os.Stat(absConfigFilePath); err == nil {
				fmt.Printf("WARNING: Configuration file already exists at %s.\n", absConfigFilePath)
				fmt.Printf("Using -default will overwrite it with default values. All custom settings will be lost.\n")
				if !PromptForConfirmation("Are you sure you want to continue?", false) {
					plog.Info(buildinfo.Name + " init operation canceled.")
					return nil
				}
			}
		}
		baseConfig = config.NewDefault()
	} else {
		// Try to load existing config to preserve settings.
		// If it fails (e.g. corrupt JSON), we fall back to defaults.
		baseConfig, err = loadConfig(absTargetPath)
		if err != nil {
			plog.Warn("Could not load existing configuration, starting with defaults.", "reason", err)
			baseConfig = config.NewDefault()
		}
	}

	// Create a config from base merged with user flags.
	runConfig := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)
	runConfig.Target = absTargetPath

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(config.ValidationOptions{
		CheckSource:       true,
		CheckSourceExists: true,
		CheckTarget:       true,
	}); err != nil {
		return err
	}
	applyLogSettings(runConfig)

	startTime := time.Now()

	// Ensure the target directory can be created and written, and is not inside the source.
	pfPlan := &preflight.Plan{
		SourceAccessible: true,
		TargetAccessible: true,
		TargetWritable:   !runConfig.Runtime.DryRun,
		PathNesting:      true,
	}
	if err := preflight.Run(pfPlan, runConfig.Source, runConfig.Target); err != nil {
		return err
	}

	if runConfig.Runtime.DryRun {
		plog.Info("[DRY RUN] Initialization complete. No changes made.")
		return nil
	}

	// Ensure exclusive access to the target directory.
	lock, err := lockfile.Acquire(ctx, runConfig.Target, flagparse.Init.String())
	if err != nil {
		return resultcode.New(resultcode.GeneralError, "init", runConfig.Target, err)
	}
	defer lock.Release()

	if err := config.Generate(runConfig); err != nil {
		return err
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" target successfully initialized.", "duration", duration)
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}

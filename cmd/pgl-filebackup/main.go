package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-filebackup/cmd"
	"github.com/paulschiretz/pgl-filebackup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-filebackup/pkg/flagparse"
	"github.com/paulschiretz/pgl-filebackup/pkg/hints"
	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
)

// run encapsulates the main application logic and returns an error if something
// goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context, args []string) error {
	command, flagMap, err := flagparse.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return resultcode.New(resultcode.InvalidParams, "parse flags", "", err)
	}

	switch command {
	case flagparse.None:
		return nil // Help was printed.
	case flagparse.Version:
		return cmd.RunVersion(buildinfo.Name, buildinfo.Version)
	}

	plog.Info("Starting "+buildinfo.Name, "version", buildinfo.Version, "command", command, "pid", os.Getpid())

	switch command {
	case flagparse.Backup:
		return cmd.RunBackup(ctx, flagMap)
	case flagparse.Restore:
		return cmd.RunRestore(ctx, flagMap)
	case flagparse.Verify:
		return cmd.RunVerify(ctx, flagMap)
	case flagparse.List:
		return cmd.RunList(ctx, flagMap)
	case flagparse.Init:
		return cmd.RunInit(ctx, flagMap)
	default:
		return resultcode.Newf(resultcode.InvalidParams, "run", "", "internal error: unknown command %s", command)
	}
}

// exitCode maps the outcome of run to the process exit status.
func exitCode(err error) int {
	if hints.IsHint(err) {
		return resultcode.Success.ExitCode()
	}
	return resultcode.CodeOf(err).ExitCode()
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:])
	if err != nil && !hints.IsHint(err) {
		plog.Error(buildinfo.Name+" exited with error", "result", resultcode.CodeOf(err), "error", err)
	}
	os.Exit(exitCode(err))
}

// Package hook runs user-defined shell commands before and after an operation.
//
// Commands see the operation's paths through the environment variables
// PGL_FILEBACKUP_SOURCE and PGL_FILEBACKUP_TARGET; post hooks also get
// PGL_FILEBACKUP_RESULT holding the run's result code name.
package hook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/paulschiretz/pgl-filebackup/pkg/hints"
	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
)

var ErrNothingToExecute = hints.New("nothing to execute")
var ErrDisabled = hints.New("hook execution is disabled")

// Env carries the values exported to hook commands.
type Env struct {
	Source string
	Target string
	Result resultcode.Code
}

func (e Env) vars(post bool) []string {
	vars := []string{
		"PGL_FILEBACKUP_SOURCE=" + e.Source,
		"PGL_FILEBACKUP_TARGET=" + e.Target,
	}
	if post {
		vars = append(vars, "PGL_FILEBACKUP_RESULT="+e.Result.String())
	}
	return vars
}

type HookExecutor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewHookExecutor creates a HookExecutor. A nil commandContext uses exec.CommandContext.
func NewHookExecutor(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *HookExecutor {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &HookExecutor{
		commandContext: commandContext,
	}
}

// RunPreHook runs the plan's pre commands. A failing command aborts the
// operation only with FailFast.
func (e *HookExecutor) RunPreHook(ctx context.Context, hookName string, p *Plan, env Env) error {
	return e.run(ctx, "Pre-"+hookName, p.PreHookCommands, p, env.vars(false))
}

// RunPostHook runs the plan's post commands.
func (e *HookExecutor) RunPostHook(ctx context.Context, hookName string, p *Plan, env Env) error {
	return e.run(ctx, "Post-"+hookName, p.PostHookCommands, p, env.vars(true))
}

func (e *HookExecutor) run(ctx context.Context, label string, commands []string, p *Plan, vars []string) error {
	if !p.Enabled {
		return ErrDisabled
	}
	if len(commands) == 0 {
		return ErrNothingToExecute
	}

	plog.Info(fmt.Sprintf("Running %s hook commands", label))

	for _, hookCommand := range commands {
		if err := ctx.Err(); err != nil {
			return resultcode.New(resultcode.Interrupted, "hook", "", err)
		}

		if p.DryRun {
			plog.Notice("[DRY RUN] Executing command", "command", hookCommand)
			continue
		}
		plog.Info("Executing command", "command", hookCommand)

		cmd := e.createCommand(ctx, hookCommand)
		cmd.Env = append(cmd.Environ(), vars...)
		// Pipe output to our logger for visibility
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			// A cancelled context makes Run fail too; report it as such.
			if errors.Is(ctx.Err(), context.Canceled) {
				return resultcode.New(resultcode.Interrupted, "hook", "", ctx.Err())
			}
			if p.FailFast {
				return resultcode.Newf(resultcode.GeneralError, "hook", "", "command '%s' failed: %v", hookCommand, err)
			}
			plog.Warn("Hook command failed", "command", hookCommand, "error", err)
		}
	}
	return nil
}

package deploy

import (
	"context"
	"fmt"

	"gantry/internal/shell"
)

// ScriptProvider runs a user-supplied command as the deploy step, for
// providers gantry does not speak natively. Credentials are exposed to
// the command as DEPLOY_USERNAME / DEPLOY_PASSWORD.
type ScriptProvider struct {
	// Executor defaults to a fresh executor with default config.
	Executor *shell.Executor
}

// Name implements Provider.
func (p *ScriptProvider) Name() string { return "script" }

func (p *ScriptProvider) executor() *shell.Executor {
	if p.Executor != nil {
		return p.Executor
	}
	return shell.NewExecutor(shell.DefaultExecutorConfig())
}

// Deploy runs settings["command"] and fails on non-zero exit.
func (p *ScriptProvider) Deploy(ctx context.Context, req Request) error {
	line := req.Settings["command"]
	if line == "" {
		return fmt.Errorf("script provider: settings.command required")
	}

	env := []string{
		"DEPLOY_USERNAME=" + req.Username,
		"DEPLOY_PASSWORD=" + req.Password,
		"DEPLOY_TAG=" + req.Context.Tag,
		"DEPLOY_BRANCH=" + req.Context.Branch,
	}

	res, err := p.executor().Run(ctx, shell.Command{Line: line, Dir: req.Context.Workspace, Env: env})
	if err != nil {
		return fmt.Errorf("script provider: %w", err)
	}
	if !res.Ok() {
		return fmt.Errorf("script provider: command exited %d: %s", res.ExitCode, res.Combined())
	}
	return nil
}

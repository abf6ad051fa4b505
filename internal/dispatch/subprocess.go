package dispatch

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
	"github.com/MagicBeansAI/magictunnel/internal/routing"
	"github.com/MagicBeansAI/magictunnel/internal/substitution"
)

// maxDrainedOutput bounds how much of stdout/stderr is retained in memory;
// beyond this the agent keeps draining (to avoid a deadlocked child, spec
// §8 boundary behavior) but discards the overflow.
const maxDrainedOutput = 8 << 20 // 8 MiB

// SubprocessAgent spawns a local command per call (spec §4.A Subprocess).
type SubprocessAgent struct{}

func NewSubprocessAgent() *SubprocessAgent { return &SubprocessAgent{} }

func (a *SubprocessAgent) Execute(ctx context.Context, d *routing.Descriptor, params substitution.Params) (Result, error) {
	cfg := d.Subprocess
	if cfg == nil {
		return Result{}, mcperr.New(mcperr.KindConfig, "subprocess routing missing subprocess config")
	}

	command, err := substitution.Render(cfg.Command, params)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering command", err)
	}
	args := make([]string, len(cfg.Args))
	for i, raw := range cfg.Args {
		rendered, err := substitution.Render(raw, params)
		if err != nil {
			return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering args", err)
		}
		args[i] = rendered
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		env := make([]string, 0, len(cfg.Env))
		for k, raw := range cfg.Env {
			v, err := substitution.Render(raw, params)
			if err != nil {
				return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering env", err)
			}
			env = append(env, k+"="+v)
		}
		cmd.Env = append(cmd.Env, env...)
	}
	// Ensure the whole process group is killed on timeout, not just the
	// immediate child (spec §4.A "kill process tree").
	cmd.SysProcAttr = processGroupAttr()
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return nil
	}

	if cfg.Stdin != "" {
		stdin, err := substitution.Render(cfg.Stdin, params)
		if err != nil {
			return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering stdin", err)
		}
		cmd.Stdin = strings.NewReader(stdin)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindBackend, "opening stdout pipe", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindBackend, "opening stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindBackend, "starting command", err)
	}

	// Drain stdout and stderr concurrently so a child that floods one
	// stream cannot deadlock the other (spec §8 boundary behavior).
	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer
	wg.Add(2)
	go func() { defer wg.Done(); drainBounded(&stdoutBuf, stdoutPipe) }()
	go func() { defer wg.Done(); drainBounded(&stderrBuf, stderrPipe) }()
	wg.Wait()

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		killProcessGroup(cmd)
		return Result{}, mcperr.Wrap(mcperr.KindTimeout, "subprocess timed out", ctx.Err())
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, mcperr.Wrap(mcperr.KindBackend, "running command", waitErr)
		}
	}

	success := exitCode == 0
	return Result{
		Success: success,
		Output: map[string]interface{}{
			"stdout": stdoutBuf.String(),
			"stderr": stderrBuf.String(),
			"exit":   exitCode,
		},
	}, nil
}

func drainBounded(dst *bytes.Buffer, src io.Reader) {
	_, _ = io.CopyN(dst, src, maxDrainedOutput)
	_, _ = io.Copy(io.Discard, src) // keep draining past the cap so the child never blocks on a full pipe
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if pgid, err := processGroupID(cmd); err == nil {
		if killProcessGroupByID(pgid) == nil {
			return
		}
	}
	_ = cmd.Process.Kill()
}

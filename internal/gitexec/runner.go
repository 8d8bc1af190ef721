// Package gitexec runs external programs (git, type-checkers, build tools,
// service CLIs) as child processes in a working directory.
package gitexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// DefaultWaitDelay is how long a cancelled process gets between SIGTERM and
// a forced kill.
const DefaultWaitDelay = 10 * time.Second

// Result is the outcome of one finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Output returns the most useful text for an error message: stderr when the
// process wrote any, otherwise stdout.
func (r Result) Output() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}

// ExitError is returned when a process runs to completion with a non-zero
// exit code.
type ExitError struct {
	Name   string
	Args   []string
	Result Result
}

func (e *ExitError) Error() string {
	if out := e.Result.Output(); out != "" {
		return out
	}
	return fmt.Sprintf("%s %s failed with code %d", e.Name, strings.Join(e.Args, " "), e.Result.ExitCode)
}

// Runner executes name with args in dir and waits for it to exit. A
// non-zero exit is reported as *ExitError alongside the filled Result.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (Result, error)
}

// ExecRunner is the Runner backed by os/exec.
type ExecRunner struct {
	// WaitDelay overrides DefaultWaitDelay.
	WaitDelay time.Duration
}

// Run starts the process and blocks until it exits or ctx is done. On
// cancellation the process receives SIGTERM, then is killed after WaitDelay.
func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	cmd := buildCommand(ctx, dir, name, args, r.WaitDelay)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("gitexec: %s: %w", name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Name: name, Args: args, Result: res}
	}
	res.ExitCode = -1
	return res, fmt.Errorf("gitexec: start %s: %w", name, err)
}

// buildCommand constructs the exec.Cmd with graceful cancellation.
func buildCommand(ctx context.Context, dir, name string, args []string, waitDelay time.Duration) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	if waitDelay <= 0 {
		waitDelay = DefaultWaitDelay
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

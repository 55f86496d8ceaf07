// Package analytics hands accepted uploads to the external analysis scripts.
//
// Scripts are run as Python modules and print one JSON document to stdout.
// The service never interprets that document; it is forwarded verbatim.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// ErrBadOutput is returned when a script exits cleanly but prints something
// that is not JSON.
var ErrBadOutput = errors.New("failed to parse analytics output")

// Runner executes one analysis script.
type Runner interface {
	Run(ctx context.Context, script string, args ...string) (json.RawMessage, error)
}

// ProcessError is returned when a script exits non-zero or cannot start.
type ProcessError struct {
	Script   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return fmt.Sprintf("analytics script %s failed: %s", e.Script, msg)
	}
	if e.ExitCode > 0 {
		return fmt.Sprintf("analytics script %s exited with code %d", e.Script, e.ExitCode)
	}
	return fmt.Sprintf("analytics script %s failed: %v", e.Script, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ProcessRunner runs `<Python> -m <ModulePrefix>.<script> args...` in WorkDir.
type ProcessRunner struct {
	Python       string
	ModulePrefix string
	WorkDir      string
	// PythonPath entries are prepended to PYTHONPATH along with WorkDir.
	PythonPath []string
	Logger     *slog.Logger
}

// Run executes script and returns its stdout as raw JSON.
func (p *ProcessRunner) Run(ctx context.Context, script string, args ...string) (json.RawMessage, error) {
	python := p.Python
	if python == "" {
		python = "python3"
	}
	module := script
	if p.ModulePrefix != "" {
		module = p.ModulePrefix + "." + script
	}

	cmd := exec.CommandContext(ctx, python, append([]string{"-m", module}, args...)...)
	cmd.Dir = p.WorkDir
	cmd.Env = p.env()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		pe := &ProcessError{Script: script, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			pe.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			pe.Err = ctx.Err()
		}
		p.logger().Error("analytics: script failed",
			"script", script,
			"exit_code", pe.ExitCode,
			"stderr", truncate(pe.Stderr, 500),
		)
		return nil, pe
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if !json.Valid(out) {
		return nil, fmt.Errorf("%w: %s", ErrBadOutput, truncate(string(out), 200))
	}
	return json.RawMessage(out), nil
}

func (p *ProcessRunner) env() []string {
	parts := make([]string, 0, len(p.PythonPath)+2)
	if p.WorkDir != "" {
		parts = append(parts, p.WorkDir)
	}
	parts = append(parts, p.PythonPath...)
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		parts = append(parts, existing)
	}

	env := os.Environ()
	if len(parts) > 0 {
		env = append(env, "PYTHONPATH="+strings.Join(parts, string(os.PathListSeparator)))
	}
	return env
}

func (p *ProcessRunner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Package executor implements the Task Executor (C2): launches a task's
// command as a child OS process with a timeout, captures merged
// stdout/stderr into a bounded buffer, and interprets the exit code.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer emits the span SPEC_FULL.md commits to around Execute.
var tracer = otel.Tracer("github.com/minisource/orchestrator/internal/executor")

// maxOutputBytes bounds the captured output buffer so a runaway task
// cannot exhaust memory (§4.2 "bounded buffer").
const maxOutputBytes = 1 << 20 // 1MB

// Result is the outcome of one task execution attempt.
type Result struct {
	Success      bool
	ExitCode     int
	Output       string
	ErrorMessage string
}

// Task is the minimal view of a TaskInstance the executor needs: a
// fully placeholder-substituted command, an optional working directory,
// and a timeout.
type Task struct {
	Command        string
	WorkingDir     string
	TimeoutMinutes int
}

// Executor runs tasks as child processes.
type Executor struct{}

// New creates a subprocess-backed executor.
func New() *Executor {
	return &Executor{}
}

// Execute runs task.Command, splitting it on whitespace into argv with
// no shell interpretation (§4.2, §6.4 — callers needing a shell invoke one
// explicitly, e.g. "cmd /c ..." or "/bin/sh -c ...").
func (e *Executor) Execute(ctx context.Context, task Task) Result {
	ctx, span := tracer.Start(ctx, "executor.Execute", trace.WithAttributes(
		attribute.String("command", task.Command),
		attribute.Int("timeout_minutes", task.TimeoutMinutes),
	))
	defer span.End()

	result := e.execute(ctx, task)
	if !result.Success {
		span.SetStatus(codes.Error, result.ErrorMessage)
	}
	return result
}

func (e *Executor) execute(ctx context.Context, task Task) Result {
	args := strings.Fields(task.Command)
	if len(args) == 0 {
		return Result{Success: false, ErrorMessage: "empty command"}
	}

	timeout := time.Duration(task.TimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = time.Hour
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	if task.WorkingDir != "" {
		cmd.Dir = task.WorkingDir
	}

	var out boundedBuffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{
			Success:      false,
			Output:       output,
			ErrorMessage: fmt.Sprintf("Task timed out after %d minutes", task.TimeoutMinutes),
		}
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			return Result{
				Success:      false,
				ExitCode:     code,
				Output:       output,
				ErrorMessage: fmt.Sprintf("Task failed with exit code %d\nOutput: %s", code, output),
			}
		}
		// Launch failure: program not found, I/O error, etc.
		return Result{
			Success:      false,
			Output:       output,
			ErrorMessage: err.Error(),
		}
	}

	return Result{Success: true, ExitCode: 0, Output: output}
}

// boundedBuffer caps the number of bytes retained, discarding the tail
// once the cap is reached instead of growing without bound.
type boundedBuffer struct {
	buf bytes.Buffer
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := maxOutputBytes - b.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}

package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecute_SuccessCapturesOutput(t *testing.T) {
	e := New()

	result := e.Execute(context.Background(), Task{
		Command:        "echo hello-orchestrator",
		TimeoutMinutes: 1,
	})

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Output, "hello-orchestrator")
}

func TestExecute_NonZeroExitIsFailure(t *testing.T) {
	e := New()

	result := e.Execute(context.Background(), Task{
		Command:        "false",
		TimeoutMinutes: 1,
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.ErrorMessage, "exit code 1")
}

func TestExecute_EmptyCommandFailsFast(t *testing.T) {
	e := New()

	result := e.Execute(context.Background(), Task{Command: "   "})

	assert.False(t, result.Success)
	assert.Equal(t, "empty command", result.ErrorMessage)
}

func TestExecute_LaunchFailureReportsError(t *testing.T) {
	e := New()

	result := e.Execute(context.Background(), Task{
		Command:        "this-binary-does-not-exist-anywhere --flag",
		TimeoutMinutes: 1,
	})

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestExecute_OutputIsBoundedUnderHeavyWriter(t *testing.T) {
	var out boundedBuffer
	chunk := strings.Repeat("x", 1<<18) // 256KB

	for i := 0; i < 10; i++ {
		n, err := out.Write([]byte(chunk))
		assert.NoError(t, err)
		assert.Equal(t, len(chunk), n) // Write always reports full consumption, even once capped
	}

	assert.LessOrEqual(t, len(out.String()), maxOutputBytes)
}

package tools

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startScript(t *testing.T, ctx context.Context, script string) Handle {
	t.Helper()
	runner := NewExecRunner(Spec{
		Type:    "script",
		Command: "/bin/sh",
		Args:    []string{"-c", script},
	}, testLogger())

	h, err := runner.Start(ctx, Invocation{JobID: "j1", JobName: "test"})
	require.NoError(t, err)
	return h
}

func waitForExit(t *testing.T, h Handle) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		st = h.Poll()
		return !st.Running
	}, 5*time.Second, 20*time.Millisecond)
	return st
}

func TestExecRunnerCountsSteps(t *testing.T) {
	h := startScript(t, context.Background(), "echo STEP one; echo noise; echo STEP two")

	st := waitForExit(t, h)
	assert.Equal(t, 0, st.ExitCode)
	assert.Equal(t, 2, st.StepsDone)
	assert.NoError(t, st.Err)
}

func TestExecRunnerCancelSendsTermSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := startScript(t, ctx, "trap 'exit 3' TERM; while true; do sleep 0.05; done")

	// Let the trap install before cancelling.
	time.Sleep(100 * time.Millisecond)
	cancel()

	// The trap runs only if the process received TERM rather than KILL.
	st := waitForExit(t, h)
	assert.Equal(t, 3, st.ExitCode)
}

func TestExecRunnerTerminateKills(t *testing.T) {
	h := startScript(t, context.Background(), "trap '' TERM; while true; do sleep 0.05; done")

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, h.Terminate())

	st := waitForExit(t, h)
	assert.Equal(t, -1, st.ExitCode)
}

package tools

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// waitDelay bounds how long Wait blocks on the output pipes after the
// context is cancelled, in case a terminated tool leaves them open.
const waitDelay = 30 * time.Second

// ExecRunner launches the configured command as a child process. Progress is
// read from the process stdout: each line starting with "STEP" advances the
// step counter (the wrapper scripts around MaxQuant/DIA-NN emit these).
type ExecRunner struct {
	spec   Spec
	logger *slog.Logger
}

// NewExecRunner creates a runner for one tool spec.
func NewExecRunner(spec Spec, logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{spec: spec, logger: logger}
}

// Start launches the process and begins consuming its progress stream.
func (r *ExecRunner) Start(ctx context.Context, inv Invocation) (Handle, error) {
	args := expandArgs(r.spec.Args, inv)

	cmd := exec.CommandContext(ctx, r.spec.Command, args...)
	// Context cancellation asks the tool to stop; Terminate does the hard
	// kill once the grace period has run out.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = waitDelay
	if inv.WorkDir != "" {
		cmd.Dir = inv.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", r.spec.Type, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.spec.Type, err)
	}

	h := &execHandle{cmd: cmd, done: make(chan struct{})}

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "STEP") {
				h.mu.Lock()
				h.steps++
				h.mu.Unlock()
			}
			r.logger.Debug("tool output", "type", r.spec.Type, "job", inv.JobID, "line", line)
		}
		h.waitErr = cmd.Wait()
		close(h.done)
	}()

	r.logger.Info("started tool process",
		"type", r.spec.Type, "job", inv.JobID, "pid", cmd.Process.Pid)

	return h, nil
}

type execHandle struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error

	mu    sync.Mutex
	steps int
}

func (h *execHandle) Poll() Status {
	h.mu.Lock()
	steps := h.steps
	h.mu.Unlock()

	select {
	case <-h.done:
		code := h.cmd.ProcessState.ExitCode()
		var err error
		if h.waitErr != nil && code == 0 {
			// Wait failed for a reason other than exit status (stream error).
			err = h.waitErr
		}
		return Status{Running: false, ExitCode: code, StepsDone: steps, Err: err}
	default:
		return Status{Running: true, StepsDone: steps}
	}
}

func (h *execHandle) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// expandArgs substitutes {key} placeholders from the invocation demands.
// {file} expands to the first input file, {files} to all of them.
func expandArgs(args []string, inv Invocation) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "{files}" {
			out = append(out, inv.Files...)
			continue
		}
		if strings.Contains(a, "{file}") && len(inv.Files) > 0 {
			a = strings.ReplaceAll(a, "{file}", inv.Files[0])
		}
		for key, val := range inv.Demands {
			a = strings.ReplaceAll(a, "{"+key+"}", val)
		}
		out = append(out, a)
	}
	return out
}

package tools

import (
	"context"
	"sync"
	"time"
)

// SimRunner simulates a search run without launching a process. It mirrors
// the simulated MaxQuant/DIA-NN handlers used for frontend integration
// testing: advance through the configured steps on a timer, honor stop
// requests, then exit 0.
type SimRunner struct {
	totalSteps int
	stepDelay  time.Duration
	exitCode   int
}

// NewSimRunner creates a simulator that completes totalSteps steps.
func NewSimRunner(totalSteps int) *SimRunner {
	if totalSteps <= 0 {
		totalSteps = 4
	}
	return &SimRunner{totalSteps: totalSteps, stepDelay: 500 * time.Millisecond}
}

// WithStepDelay overrides the delay between simulated steps.
func (r *SimRunner) WithStepDelay(d time.Duration) *SimRunner {
	r.stepDelay = d
	return r
}

// WithExitCode makes the simulator finish with the given exit code.
func (r *SimRunner) WithExitCode(code int) *SimRunner {
	r.exitCode = code
	return r
}

func (r *SimRunner) Start(ctx context.Context, inv Invocation) (Handle, error) {
	h := &simHandle{done: make(chan struct{}), stop: make(chan struct{})}

	go func() {
		defer close(h.done)
		for i := 0; i < r.totalSteps; i++ {
			select {
			case <-ctx.Done():
				h.setExit(-1)
				return
			case <-h.stop:
				h.setExit(-1)
				return
			case <-time.After(r.stepDelay):
				h.mu.Lock()
				h.steps++
				h.mu.Unlock()
			}
		}
		h.setExit(r.exitCode)
	}()

	return h, nil
}

type simHandle struct {
	done chan struct{}
	stop chan struct{}

	mu       sync.Mutex
	steps    int
	exitCode int
	stopped  bool
}

func (h *simHandle) setExit(code int) {
	h.mu.Lock()
	h.exitCode = code
	h.mu.Unlock()
}

func (h *simHandle) Poll() Status {
	h.mu.Lock()
	steps := h.steps
	code := h.exitCode
	h.mu.Unlock()

	select {
	case <-h.done:
		return Status{Running: false, ExitCode: code, StepsDone: steps}
	default:
		return Status{Running: true, StepsDone: steps}
	}
}

func (h *simHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stopped {
		h.stopped = true
		close(h.stop)
	}
	return nil
}

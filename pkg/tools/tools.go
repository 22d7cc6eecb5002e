// Package tools abstracts the invocation of external proteomics search
// executables. The job engine depends only on the Runner/Handle contract:
// start an invocation, poll it for status and progress, terminate it.
package tools

import (
	"context"
)

// Invocation carries everything a runner needs to launch one job.
type Invocation struct {
	JobID   string
	JobName string
	Demands map[string]string // tool-specific parameters, passed through verbatim
	Files   []string          // input files captured for this job
	WorkDir string
}

// Status is one observation of a running invocation.
type Status struct {
	Running   bool
	ExitCode  int // valid once Running is false
	StepsDone int
	Err       error // start/stream error, distinct from a non-zero exit
}

// Handle tracks a started invocation.
type Handle interface {
	// Poll returns the latest observed state. It never blocks.
	Poll() Status
	// Terminate forcibly stops the process. Poll still reports the final
	// state after the process has actually exited.
	Terminate() error
}

// Runner launches invocations for one job type.
type Runner interface {
	Start(ctx context.Context, inv Invocation) (Handle, error)
}

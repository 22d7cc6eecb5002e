package tools

import (
	"log/slog"
	"sort"

	"github.com/yoniyamin/cnio-prot-ui/pkg/query"
)

// Registry resolves job types to their runner and spec.
type Registry struct {
	specs   map[string]Spec
	runners map[string]Runner
	logger  *slog.Logger
}

// NewRegistry builds a registry from config. Simulated specs get the built-in
// simulator; everything else gets an exec runner for its command.
func NewRegistry(cfg *Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		specs:   make(map[string]Spec),
		runners: make(map[string]Runner),
		logger:  logger,
	}

	for _, spec := range cfg.Tools {
		r.specs[spec.Type] = spec
		if spec.Simulate {
			r.runners[spec.Type] = NewSimRunner(spec.TotalSteps)
			logger.Info("registered simulated tool", "type", spec.Type)
		} else {
			r.runners[spec.Type] = NewExecRunner(spec, logger)
			logger.Info("registered tool", "type", spec.Type, "command", spec.Command)
		}
	}

	return r
}

// Register adds or replaces a tool. Lets the server wire ad-hoc runners
// without going through config.
func (r *Registry) Register(spec Spec, runner Runner) {
	r.specs[spec.Type] = spec
	r.runners[spec.Type] = runner
}

// Lookup returns the runner for a job type.
func (r *Registry) Lookup(jobType string) (Runner, bool) {
	runner, ok := r.runners[jobType]
	return runner, ok
}

// Spec returns the spec for a job type.
func (r *Registry) Spec(jobType string) (Spec, bool) {
	spec, ok := r.specs[jobType]
	return spec, ok
}

// Types returns all registered job types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.specs))
	for t := range r.specs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ValidateDemands checks that jobType is registered and that every required
// demand key is present. Runs before any state mutation.
func (r *Registry) ValidateDemands(jobType string, demands map[string]string) error {
	spec, ok := r.specs[jobType]
	if !ok {
		return query.Errorf(query.CodeValidation, "unknown job type %q", jobType)
	}
	for _, key := range spec.RequiredDemands {
		if _, ok := demands[key]; !ok {
			return query.Errorf(query.CodeValidation, "job type %q requires demand %q", jobType, key)
		}
	}
	return nil
}

package jobs

import (
	"github.com/go-chi/chi/v5"

	"github.com/yoniyamin/cnio-prot-ui/pkg/tools"
)

// Routes returns the job API routes, mounted by the server under /api/jobs.
// The files sub-route is mounted separately because captured files live in
// the watcher ledger.
func Routes(store *Store, engine *Engine, registry *tools.Registry, cancelWatcher WatcherCanceller) chi.Router {
	r := chi.NewRouter()

	r.Get("/", ListJobsHandler(store))
	r.Post("/", SubmitJobHandler(store, registry))
	r.Get("/{jobId}", GetJobHandler(store))
	r.Get("/{jobId}/demands", GetJobDemandsHandler(store))
	r.Post("/{jobId}/stop", StopJobHandler(store, engine, cancelWatcher))

	return r
}

package watchers

import (
	"github.com/go-chi/chi/v5"

	"github.com/yoniyamin/cnio-prot-ui/pkg/tools"
)

// Routes returns the watcher API routes, mounted by the server under
// /api/watchers.
func Routes(store *Store, engine *Engine, registry *tools.Registry) chi.Router {
	r := chi.NewRouter()

	r.Get("/", ListWatchersHandler(store))
	r.Post("/", CreateWatcherHandler(store, engine, registry))
	r.Get("/{watcherId}/files", WatcherFilesHandler(store))
	r.Post("/{watcherId}/update-status", UpdateWatcherStatusHandler(engine))
	r.Post("/{watcherId}/rescan", RescanWatcherHandler(store, engine))

	return r
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/yoniyamin/cnio-prot-ui/pkg/audit"
	"github.com/yoniyamin/cnio-prot-ui/pkg/cache"
	"github.com/yoniyamin/cnio-prot-ui/pkg/dblock"
	"github.com/yoniyamin/cnio-prot-ui/pkg/jobs"
	"github.com/yoniyamin/cnio-prot-ui/pkg/query"
	"github.com/yoniyamin/cnio-prot-ui/pkg/tools"
	"github.com/yoniyamin/cnio-prot-ui/pkg/watchers"
)

// Options bundles the per-subsystem configuration for New. Nil fields get
// their package defaults.
type Options struct {
	Jobs     *jobs.Config
	Watchers *watchers.Config
	Audit    *audit.Config
	Cache    *cache.Config
}

// Server assembles the stores, engines, and HTTP routes of the dashboard
// backend. The engines own all writes; the HTTP layer reads snapshots and
// forwards action requests.
type Server struct {
	router chi.Router
	db     *gorm.DB
	logger *slog.Logger

	registry       *tools.Registry
	jobStore       *jobs.Store
	jobEngine      *jobs.Engine
	watcherStore   *watchers.Store
	watcherEngine  *watchers.Engine
	auditStore     *audit.Store
	auditCfg       *audit.Config
	auditRetention *audit.RetentionWorker
	cacheMgr       *cache.Manager

	startedAt time.Time
}

// New migrates the schema, builds both engines, and mounts the routes.
// Migrations run under the migration lock so multiple replicas sharing a
// database never interleave schema changes.
func New(db *gorm.DB, registry *tools.Registry, opts Options, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Jobs == nil {
		opts.Jobs = jobs.DefaultConfig()
	}
	if opts.Watchers == nil {
		opts.Watchers = watchers.DefaultConfig()
	}
	if opts.Audit == nil {
		opts.Audit = audit.DefaultConfig()
	}
	if opts.Cache == nil {
		opts.Cache = cache.DefaultConfig()
	}

	jobStore := jobs.NewStore(db)
	watcherStore := watchers.NewStore(db)
	auditStore := audit.NewStore(db)

	locker := dblock.NewMigrationLocker(db)
	err := locker.WithLock(context.Background(), func() error {
		if err := jobStore.AutoMigrate(); err != nil {
			return err
		}
		if err := watcherStore.AutoMigrate(); err != nil {
			return err
		}
		return auditStore.Migrate()
	})
	if err != nil {
		return nil, err
	}

	watcherEngine := watchers.NewEngine(watcherStore, jobStore, registry, opts.Watchers, logger)
	jobEngine := jobs.NewEngine(jobStore, registry, watcherStore, opts.Jobs, logger)

	s := &Server{
		db:             db,
		logger:         logger,
		registry:       registry,
		jobStore:       jobStore,
		jobEngine:      jobEngine,
		watcherStore:   watcherStore,
		watcherEngine:  watcherEngine,
		auditStore:     auditStore,
		auditCfg:       opts.Audit,
		auditRetention: audit.NewRetentionWorker(auditStore, opts.Audit.RetentionDays, logger),
		cacheMgr:       cache.NewManager(opts.Cache),
		startedAt:      time.Now(),
	}
	s.mountRoutes()
	return s, nil
}

func (s *Server) mountRoutes() {
	s.router = chi.NewRouter()

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		query.WriteError(w, query.Errorf(query.CodeNotFound, "no route for %s %s", r.Method, r.URL.Path))
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		query.WriteError(w, query.Errorf(query.CodeValidation, "method %s not allowed for %s", r.Method, r.URL.Path))
	})

	s.router.Get("/healthz", s.healthHandler)
	s.router.Get("/livez", s.healthHandler)
	s.router.Get("/readyz", s.readyHandler)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(audit.Middleware(s.auditStore, s.auditCfg, s.logger))

		r.Mount("/jobs", jobs.Routes(s.jobStore, s.jobEngine, s.registry, s.watcherEngine.CancelWatcher))
		// Captured files live in the watcher ledger, so the job files
		// route is served from there.
		r.Get("/jobs/{jobId}/files", watchers.JobFilesHandler(s.jobStore, s.watcherStore))
		// Demands are immutable after submit, so the cached route shadows
		// the one inside the jobs router.
		r.With(s.cacheMgr.DemandsMiddleware()).
			Get("/jobs/{jobId}/demands", jobs.GetJobDemandsHandler(s.jobStore))
		r.Mount("/watchers", watchers.Routes(s.watcherStore, s.watcherEngine, s.registry))
		r.With(s.cacheMgr.ToolsMiddleware()).
			Get("/tools", tools.ListToolsHandler(s.registry))
		r.Mount("/audit", audit.Routes(s.auditStore))
	})
}

// Router returns the assembled HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

// RunEngines starts the background engines and the audit retention worker
// and blocks until the context is cancelled and they have drained.
func (s *Server) RunEngines(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.jobEngine.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.watcherEngine.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.auditRetention.Run(ctx)
	}()
	wg.Wait()
}

// recoverer turns panics into the standard JSON error envelope so no client
// ever sees a non-JSON body.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic serving request",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()))
				query.WriteError(w, query.Errorf(query.CodeUnknown, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler verifies DB connectivity before reporting ready.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	dbStatus := map[string]string{"status": "up"}
	ready := true

	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		ready = false
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		ready = false
	}

	status := http.StatusOK
	overall := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": overall,
		"checks": map[string]any{"database": dbStatus},
	})
}

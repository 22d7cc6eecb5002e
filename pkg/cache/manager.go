package cache

import (
	"net/http"
)

// Manager holds the per-endpoint caches. The tools cache covers the
// registry listing, which is fixed for the life of the process; the
// demands cache covers per-job demands, which never change after submit.
type Manager struct {
	tools   *TTLCache
	demands *TTLCache
}

// NewManager builds a Manager from cfg; a nil or disabled cfg yields nil,
// and a nil Manager passes every request through uncached.
func NewManager(cfg *Config) *Manager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &Manager{
		tools:   NewTTLCache(cfg.MaxSize, cfg.ToolsTTL),
		demands: NewTTLCache(cfg.MaxSize, cfg.DemandsTTL),
	}
}

// ToolsMiddleware caches the tool registry listing.
func (m *Manager) ToolsMiddleware() func(http.Handler) http.Handler {
	if m == nil {
		return passthrough
	}
	return Middleware(m.tools)
}

// DemandsMiddleware caches per-job demands responses.
func (m *Manager) DemandsMiddleware() func(http.Handler) http.Handler {
	if m == nil {
		return passthrough
	}
	return Middleware(m.demands)
}

// InvalidateAll clears both caches.
func (m *Manager) InvalidateAll() {
	if m == nil {
		return
	}
	m.tools.InvalidateAll()
	m.demands.InvalidateAll()
}

func passthrough(next http.Handler) http.Handler { return next }

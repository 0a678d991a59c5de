package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/aegis/pkg/http"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// PendingReporter reports buffered audit writes
type PendingReporter interface {
	Pending() (logs, events int)
}

// HealthHandler answers /health. Each named dependency is pinged; any failure makes the
// service unhealthy.
type HealthHandler struct {
	deps   map[string]Pinger
	audit  PendingReporter
	logger *slog.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(deps map[string]Pinger, audit PendingReporter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, audit: audit, logger: logger}
}

type healthResponse struct {
	Status        string            `json:"status"`
	Dependencies  map[string]string `json:"dependencies"`
	PendingLogs   int               `json:"pendingLogs"`
	PendingEvents int               `json:"pendingEvents"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy", Dependencies: make(map[string]string, len(h.deps))}
	status := http.StatusOK

	for name, dep := range h.deps {
		if err := dep.HealthCheck(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", slog.String("dependency", name), slog.Any("error", err))
			resp.Dependencies[name] = "down"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Dependencies[name] = "up"
	}

	if h.audit != nil {
		resp.PendingLogs, resp.PendingEvents = h.audit.Pending()
	}

	pkghttp.WriteJSON(w, status, resp)
}

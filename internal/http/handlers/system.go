package handlers

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mhire/triage-assistant/internal/http/respond"
	"github.com/mhire/triage-assistant/pkg/logging"
)

const (
	defaultLogLimit    = 100
	healthCheckTimeout = 2 * time.Second
)

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// SystemHandler serves liveness, health and the in-memory application log.
type SystemHandler struct {
	ring   *logging.Ring
	checks map[string]HealthCheck
	logger *logging.Logger
}

// SystemOption customizes a SystemHandler.
type SystemOption func(*SystemHandler)

// WithHealthCheck registers a named dependency probe reported by /health.
func WithHealthCheck(name string, check HealthCheck) SystemOption {
	return func(h *SystemHandler) {
		if name != "" && check != nil {
			h.checks[name] = check
		}
	}
}

// NewSystemHandler builds the handler. ring may be nil, in which case /logs
// reports an empty buffer.
func NewSystemHandler(ring *logging.Ring, logger *logging.Logger, opts ...SystemOption) *SystemHandler {
	if logger == nil {
		logger = logging.Default()
	}
	h := &SystemHandler{
		ring:   ring,
		checks: map[string]HealthCheck{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the system endpoints on r.
func (h *SystemHandler) Routes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/logs", h.Logs)
	r.Post("/logs/clear", h.ClearLogs)
}

// Root reports that the API is up.
// GET /
func (h *SystemHandler) Root(w http.ResponseWriter, r *http.Request) {
	respond.Success(w, r, time.Now(), http.StatusOK, "API is running", map[string]string{"status": "active"})
}

// Health runs every registered check. Any failure turns the response into a
// 503 with the failing check named.
// GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if len(h.checks) == 0 {
		respond.Success(w, r, start, http.StatusOK, "Service is healthy", map[string]string{"status": "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	var failed []string
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("health check failed", "check", name, "error", err)
			results[name] = err.Error()
			failed = append(failed, name)
			continue
		}
		results[name] = "ok"
	}

	if len(failed) > 0 {
		respond.JSON(w, http.StatusServiceUnavailable, respond.Envelope{
			Success:    false,
			StatusCode: http.StatusServiceUnavailable,
			Error:      "Unhealthy dependencies: " + strings.Join(failed, ", "),
			Data:       map[string]any{"status": "degraded", "checks": results},
			Resource:   r.URL.Path,
			DurationMS: time.Since(start).Milliseconds(),
			Timestamp:  time.Now().UTC(),
		})
		return
	}
	respond.Success(w, r, start, http.StatusOK, "Service is healthy", map[string]any{"status": "healthy", "checks": results})
}

// LogsResponse is the payload of GET /logs.
type LogsResponse struct {
	Logs       []logging.Entry `json:"logs"`
	MemoryInfo MemoryInfo      `json:"memory_info"`
}

// MemoryInfo describes the log ring's occupancy.
type MemoryInfo struct {
	TotalLogs int `json:"total_logs"`
	MaxLogs   int `json:"max_logs"`
}

// Logs returns recent log records, newest first, optionally filtered by level.
// GET /logs?limit=100&level=ERROR
func (h *SystemHandler) Logs(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit := defaultLogLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respond.Error(w, r, start, http.StatusBadRequest, "Limit must be a positive integer")
			return
		}
		limit = n
	}

	resp := LogsResponse{Logs: []logging.Entry{}, MemoryInfo: MemoryInfo{MaxLogs: logging.DefaultRingCapacity}}
	if h.ring != nil {
		resp.Logs = h.ring.Recent(limit, r.URL.Query().Get("level"))
		resp.MemoryInfo = MemoryInfo{TotalLogs: h.ring.Len(), MaxLogs: h.ring.Cap()}
	}
	respond.Success(w, r, start, http.StatusOK, "Application logs retrieved successfully", resp)
}

// ClearLogs empties the log ring.
// POST /logs/clear
func (h *SystemHandler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cleared := 0
	if h.ring != nil {
		cleared = h.ring.Clear()
	}
	h.logger.Info("application logs cleared", "count", cleared)
	respond.Success(w, r, start, http.StatusOK, "Application logs cleared successfully",
		map[string]any{"cleared": true, "count": cleared})
}

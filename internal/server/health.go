package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/teemow/mailmirror/internal/syncer"
)

const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
	healthStatusDegraded     = "degraded"

	remoteConnected    = "connected"
	remoteDisconnected = "disconnected"
)

// HealthChecker serves the liveness, readiness and detailed health probes.
// The remote session is reported but never gates readiness: the cache keeps
// answering reads while the Bridge is away.
type HealthChecker struct {
	ready   atomic.Bool
	sc      *ServerContext
	started time.Time
}

// NewHealthChecker returns a checker that starts out ready. sc may be nil.
func NewHealthChecker(sc *ServerContext) *HealthChecker {
	h := &HealthChecker{sc: sc, started: time.Now()}
	h.ready.Store(true)
	return h
}

// SetReady flips the readiness flag, e.g. while draining on shutdown.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports the readiness flag.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// HealthResponse is the body of /healthz and /readyz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse is the body of /healthz/detailed.
type DetailedHealthResponse struct {
	Status           string   `json:"status"`
	Uptime           string   `json:"uptime"`
	Remote           string   `json:"remote,omitempty"`
	CachedMessages   int      `json:"cachedMessages"`
	PendingMutations int      `json:"pendingMutations"`
	Folders          int      `json:"folders"`
	FailedFolders    []string `json:"failedFolders,omitempty"`
}

// RegisterHealthEndpoints mounts the probes on mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}

// LivenessHandler answers ok for as long as the process can serve HTTP.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler answers 503 when the flag is off or the server context
// is shutting down.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status: healthStatusOK,
			Checks: map[string]string{
				"ready":    healthStatusOK,
				"shutdown": healthStatusOK,
			},
		}
		if !h.ready.Load() {
			resp.Checks["ready"] = healthStatusNotReady
			resp.Status = healthStatusNotReady
		}
		if h.shuttingDown() {
			resp.Checks["shutdown"] = healthStatusShuttingDown
			resp.Status = healthStatusNotReady
		}
		if remote := h.remote(); remote != "" {
			resp.Checks["remote"] = remote
		}

		code := http.StatusOK
		if resp.Status != healthStatusOK {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})
}

// DetailedHealthHandler adds cache and sync figures. A lost remote or a
// failed folder degrades the status without failing the probe.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := DetailedHealthResponse{
			Status: healthStatusOK,
			Uptime: time.Since(h.started).Truncate(time.Second).String(),
			Remote: h.remote(),
		}
		if h.sc != nil {
			st := h.sc.Engine().Status()
			resp.CachedMessages = st.CachedMessages
			resp.PendingMutations = len(st.Pending)
			resp.Folders = len(st.Folders)
			for _, f := range st.Folders {
				if f.State == syncer.StateFailed {
					resp.FailedFolders = append(resp.FailedFolders, f.Folder)
				}
			}
		}

		code := http.StatusOK
		switch {
		case !h.ready.Load():
			resp.Status, code = healthStatusNotReady, http.StatusServiceUnavailable
		case h.shuttingDown():
			resp.Status, code = healthStatusShuttingDown, http.StatusServiceUnavailable
		case resp.Remote == remoteDisconnected || len(resp.FailedFolders) > 0:
			resp.Status = healthStatusDegraded
		}
		writeJSON(w, code, resp)
	})
}

func (h *HealthChecker) shuttingDown() bool {
	return h.sc != nil && h.sc.IsShutdown()
}

func (h *HealthChecker) remote() string {
	switch {
	case h.sc == nil:
		return ""
	case h.sc.Engine().Connected():
		return remoteConnected
	default:
		return remoteDisconnected
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

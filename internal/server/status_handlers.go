package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/harvest/internal/pipeline"
)

// StatusHandlers serves run status, quota usage, and manual run triggers.
type StatusHandlers struct {
	log     zerolog.Logger
	quotas  QuotaSource
	runFunc func()

	running atomic.Bool

	mu         sync.RWMutex
	lastReport *pipeline.RunReport
}

// NewStatusHandlers creates the status handlers.
func NewStatusHandlers(log zerolog.Logger, quotas QuotaSource, runFunc func()) *StatusHandlers {
	return &StatusHandlers{
		log:     log.With().Str("component", "status_handlers").Logger(),
		quotas:  quotas,
		runFunc: runFunc,
	}
}

// SetLastReport records the most recent run report for the status API.
func (h *StatusHandlers) SetLastReport(report *pipeline.RunReport) {
	h.mu.Lock()
	h.lastReport = report
	h.mu.Unlock()
}

// SetRunning flags whether a pipeline run is in flight.
func (h *StatusHandlers) SetRunning(running bool) {
	h.running.Store(running)
}

// HandleHealth returns a basic liveness response.
// GET /health
func (h *StatusHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleStatus returns the last run report.
// GET /api/status
func (h *StatusHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	report := h.lastReport
	h.mu.RUnlock()

	response := map[string]interface{}{
		"running": h.running.Load(),
	}
	if report != nil {
		response["last_run"] = report
	}
	writeJSON(w, response)
}

// HandleQuotas returns current per-account quota usage.
// GET /api/quotas
func (h *StatusHandlers) HandleQuotas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"accounts": h.quotas.Snapshot(),
	})
}

// HandleTriggerRun starts a pipeline run unless one is already in flight.
// POST /api/run
func (h *StatusHandlers) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.runFunc == nil {
		http.Error(w, "manual runs not enabled", http.StatusServiceUnavailable)
		return
	}
	if h.running.Load() {
		writeJSONStatus(w, http.StatusConflict, map[string]string{"status": "already running"})
		return
	}

	h.log.Info().Msg("Manual run triggered via API")
	go h.runFunc()

	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

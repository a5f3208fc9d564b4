// Package api provides the Admin HTTP API for Beacon queue and ledger
// inspection.
//
// All routes are mounted under a configurable prefix (default: /beacon).
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/trackwell/beacon/ledger"
	"github.com/trackwell/beacon/queue"
)

// Handler is the root HTTP handler for the Beacon admin API.
type Handler struct {
	queueSvc  *queue.Service
	ledgerSvc *ledger.Service
	logger    *slog.Logger
	mux       *http.ServeMux
}

// NewHandler creates a new admin API handler.
func NewHandler(queueSvc *queue.Service, ledgerSvc *ledger.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		queueSvc:  queueSvc,
		ledgerSvc: ledgerSvc,
		logger:    logger,
		mux:       http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// Queue
	h.mux.HandleFunc("GET /queue", h.listQueue)
	h.mux.HandleFunc("GET /queue/stats", h.getQueueStats)
	h.mux.HandleFunc("GET /queue/{id}", h.getQueueItem)
	h.mux.HandleFunc("POST /queue/{id}/retry", h.retryQueueItem)
	h.mux.HandleFunc("POST /queue/{id}/cancel", h.cancelQueueItem)
	h.mux.HandleFunc("POST /queue/cleanup", h.cleanupQueue)

	// Orders
	h.mux.HandleFunc("GET /orders/{id}/queue", h.getOrderQueue)
	h.mux.HandleFunc("GET /orders/{id}/logs", h.getOrderLogs)

	// Ledger
	h.mux.HandleFunc("GET /ledger/stats", h.getLedgerStats)
	h.mux.HandleFunc("POST /ledger/purge", h.purgeLedger)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	var n int
	for _, c := range v {
		if c < '0' || c > '9' {
			return defaultVal
		}
		n = n*10 + int(c-'0')
	}
	return n
}

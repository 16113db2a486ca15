// Package admin exposes the Gateway Front's JSON/SSE audit surface:
// operators inspecting the audit trail for a specific principal,
// server, or tool without re-deriving it from raw logs. Built as a
// functional-options handler reading from whichever audit.AuditStore
// the boot sequence wires in.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mcpgw/gateway/internal/domain/audit"
)

// AuditReader is the subset of audit.AuditStore the admin surface
// needs: recent-record tailing for the SSE stream, and filtered
// querying for the list/export endpoints. MemoryAuditStore satisfies
// this directly; FileAuditStore does not implement Query and so cannot
// back this handler.
type AuditReader interface {
	GetRecent(n int) []audit.AuditRecord
	Query(filter audit.AuditFilter) ([]audit.AuditRecord, string, error)
}

// AdminAPIHandler serves the /admin/api/audit* routes.
type AdminAPIHandler struct {
	auditReader AuditReader
	logger      *slog.Logger
}

// Option configures an AdminAPIHandler.
type Option func(*AdminAPIHandler)

// WithAuditReader wires the audit store the handler reads from. When
// omitted, every route responds 503 (audit reader not configured).
func WithAuditReader(r AuditReader) Option {
	return func(h *AdminAPIHandler) { h.auditReader = r }
}

// WithLogger sets the handler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *AdminAPIHandler) { h.logger = logger }
}

// NewAdminAPIHandler builds an AdminAPIHandler.
func NewAdminAPIHandler(opts ...Option) *AdminAPIHandler {
	h := &AdminAPIHandler{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the mux serving this handler's endpoints, mounted by
// the caller under /admin/api/.
func (h *AdminAPIHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/api/audit", h.handleQueryAudit)
	mux.HandleFunc("/admin/api/audit/stream", h.handleAuditStream)
	mux.HandleFunc("/admin/api/audit/export", h.handleAuditExport)
	return mux
}

func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{Error: message})
}

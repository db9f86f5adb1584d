// Package api exposes the operator-facing HTTP surface: alert listing and
// lifecycle actions, rule management, and dry-run simulation.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"zonealert/internal/alerts"
	"zonealert/internal/rules"
)

// Server holds the handler dependencies for the operator API.
// Params: alert lifecycle manager, rule repository, and logger.
// Returns: route registrar for the service mux.
type Server struct {
	alerts *alerts.Manager
	rules  *rules.Repository
	logger *slog.Logger
}

// NewServer creates the API server.
// Params: alert manager, rule repository, and logger.
// Returns: initialized server.
func NewServer(alertManager *alerts.Manager, ruleRepo *rules.Repository, logger *slog.Logger) *Server {
	return &Server{
		alerts: alertManager,
		rules:  ruleRepo,
		logger: logger,
	}
}

// Register mounts all API routes on the mux.
// Params: service mux.
// Returns: routes registered in place.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/alerts", s.handleListAlerts)
	mux.HandleFunc("POST /api/alerts/{id}/ack", s.handleAcknowledge)
	mux.HandleFunc("POST /api/alerts/{id}/snooze", s.handleSnooze)
	mux.HandleFunc("POST /api/alerts/{id}/resolve", s.handleResolve)

	mux.HandleFunc("GET /api/rules", s.handleListRules)
	mux.HandleFunc("POST /api/rules", s.handleCreateRule)
	mux.HandleFunc("PUT /api/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("POST /api/rules/{id}/enabled", s.handleSetRuleEnabled)

	mux.HandleFunc("POST /api/simulate", s.handleSimulate)
}

// writeJSON writes one JSON response with status code.
func (s *Server) writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		s.logger.Error("encode api response", "error", err.Error())
	}
}

// writeError writes one JSON error envelope.
func (s *Server) writeError(writer http.ResponseWriter, status int, message string) {
	s.writeJSON(writer, status, map[string]string{"error": message})
}

// decodeBody decodes one JSON request body into dst.
func decodeBody(request *http.Request, dst any) error {
	decoder := json.NewDecoder(request.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

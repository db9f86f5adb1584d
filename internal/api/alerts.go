package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"zonealert/internal/alerts"
	"zonealert/internal/domain"
)

const defaultAlertPageLimit = 100

// alertListResponse is the GET /api/alerts envelope. Degraded responses
// mark themselves instead of failing the dashboard outright.
type alertListResponse struct {
	Alerts   []domain.Alert `json:"alerts"`
	Total    int            `json:"total"`
	Degraded bool           `json:"degraded,omitempty"`
}

// handleListAlerts lists alerts with filtering and pagination.
// When the state backend is unreachable the endpoint degrades to an empty
// marked response rather than a hard failure.
func (s *Server) handleListAlerts(writer http.ResponseWriter, request *http.Request) {
	filter, err := parseAlertFilter(request)
	if err != nil {
		s.writeError(writer, http.StatusBadRequest, err.Error())
		return
	}

	page, total, err := s.alerts.Query(request.Context(), filter)
	if err != nil {
		s.logger.Error("alert query degraded", "error", err.Error())
		s.writeJSON(writer, http.StatusOK, alertListResponse{
			Alerts:   []domain.Alert{},
			Degraded: true,
		})
		return
	}
	s.writeJSON(writer, http.StatusOK, alertListResponse{Alerts: page, Total: total})
}

// handleAcknowledge marks one alert as acknowledged by an operator.
func (s *Server) handleAcknowledge(writer http.ResponseWriter, request *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := decodeBody(request, &body); err != nil {
		s.writeError(writer, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.UserID) == "" {
		s.writeError(writer, http.StatusBadRequest, "user_id is required")
		return
	}

	alert, err := s.alerts.Acknowledge(request.Context(), request.PathValue("id"), body.UserID)
	if err != nil {
		s.writeAlertMutationError(writer, err)
		return
	}
	s.writeJSON(writer, http.StatusOK, alert)
}

// handleSnooze mutes one alert for a requested number of minutes.
func (s *Server) handleSnooze(writer http.ResponseWriter, request *http.Request) {
	var body struct {
		Minutes int `json:"minutes"`
	}
	if err := decodeBody(request, &body); err != nil {
		s.writeError(writer, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := s.alerts.Snooze(request.Context(), request.PathValue("id"), body.Minutes)
	if err != nil {
		if errors.Is(err, alerts.ErrInvalidSnooze) {
			s.writeError(writer, http.StatusBadRequest, err.Error())
			return
		}
		s.writeAlertMutationError(writer, err)
		return
	}
	s.writeJSON(writer, http.StatusOK, alert)
}

// handleResolve closes one alert; resolving twice is a no-op success.
func (s *Server) handleResolve(writer http.ResponseWriter, request *http.Request) {
	alert, err := s.alerts.Resolve(request.Context(), request.PathValue("id"))
	if err != nil {
		s.writeAlertMutationError(writer, err)
		return
	}
	s.writeJSON(writer, http.StatusOK, alert)
}

// writeAlertMutationError maps lifecycle errors onto HTTP statuses.
func (s *Server) writeAlertMutationError(writer http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alerts.ErrNotFound):
		s.writeError(writer, http.StatusNotFound, "alert not found")
	case errors.Is(err, alerts.ErrAlertResolved):
		s.writeError(writer, http.StatusConflict, err.Error())
	default:
		s.logger.Error("alert mutation failed", "error", err.Error())
		s.writeError(writer, http.StatusInternalServerError, "alert update failed")
	}
}

// parseAlertFilter builds a query filter from URL parameters.
// Params: HTTP request.
// Returns: filter or validation error on bad state/priority tokens.
func parseAlertFilter(request *http.Request) (alerts.QueryFilter, error) {
	query := request.URL.Query()
	filter := alerts.QueryFilter{
		WarehouseID: query.Get("warehouse_id"),
		ZoneID:      query.Get("zone_id"),
		ShiftCode:   query.Get("shift_code"),
		Limit:       defaultAlertPageLimit,
	}

	for _, raw := range query["state"] {
		for _, token := range strings.Split(raw, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			state := domain.AlertState(token)
			if !state.Valid() {
				return alerts.QueryFilter{}, errors.New("unknown state " + strconv.Quote(token))
			}
			filter.States = append(filter.States, state)
		}
	}

	if raw := query.Get("priority"); raw != "" {
		priority, ok := domain.ParsePriority(raw)
		if !ok {
			return alerts.QueryFilter{}, &domain.UnknownPriorityError{Raw: raw}
		}
		filter.Priority = &priority
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return alerts.QueryFilter{}, errors.New("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return alerts.QueryFilter{}, errors.New("offset must not be negative")
		}
		filter.Offset = offset
	}
	return filter, nil
}

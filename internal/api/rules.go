package api

import (
	"errors"
	"net/http"

	"zonealert/internal/config"
	"zonealert/internal/domain"
	"zonealert/internal/engine"
	"zonealert/internal/rules"
)

// handleListRules lists every configured rule.
func (s *Server) handleListRules(writer http.ResponseWriter, _ *http.Request) {
	s.writeJSON(writer, http.StatusOK, map[string]any{"rules": s.rules.List()})
}

// handleCreateRule validates and adds one rule.
func (s *Server) handleCreateRule(writer http.ResponseWriter, request *http.Request) {
	var rule config.AlertRule
	if err := decodeBody(request, &rule); err != nil {
		s.writeError(writer, http.StatusBadRequest, "invalid rule body: "+err.Error())
		return
	}
	if err := config.ValidateRule(rule); err != nil {
		s.writeError(writer, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.rules.Create(rule); err != nil {
		if errors.Is(err, rules.ErrRuleExists) {
			s.writeError(writer, http.StatusConflict, err.Error())
			return
		}
		s.writeError(writer, http.StatusInternalServerError, "rule create failed")
		return
	}
	s.logger.Info("rule created", "rule", rule.ID)
	s.writeJSON(writer, http.StatusCreated, rule)
}

// handleUpdateRule validates and replaces one rule. A rule edit applies to
// alerts fired after the change; existing alerts keep their captured rule
// context.
func (s *Server) handleUpdateRule(writer http.ResponseWriter, request *http.Request) {
	var rule config.AlertRule
	if err := decodeBody(request, &rule); err != nil {
		s.writeError(writer, http.StatusBadRequest, "invalid rule body: "+err.Error())
		return
	}
	rule.ID = request.PathValue("id")
	if err := config.ValidateRule(rule); err != nil {
		s.writeError(writer, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.rules.Update(rule); err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			s.writeError(writer, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(writer, http.StatusInternalServerError, "rule update failed")
		return
	}
	s.logger.Info("rule updated", "rule", rule.ID)
	s.writeJSON(writer, http.StatusOK, rule)
}

// handleSetRuleEnabled toggles one rule without replacing it.
func (s *Server) handleSetRuleEnabled(writer http.ResponseWriter, request *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(request, &body); err != nil {
		s.writeError(writer, http.StatusBadRequest, "invalid request body")
		return
	}
	id := request.PathValue("id")
	if err := s.rules.SetEnabled(id, body.Enabled); err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			s.writeError(writer, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(writer, http.StatusInternalServerError, "rule toggle failed")
		return
	}
	s.logger.Info("rule toggled", "rule", id, "enabled", body.Enabled)
	s.writeJSON(writer, http.StatusOK, map[string]any{"id": id, "enabled": body.Enabled})
}

// simulateRequest carries a dry-run replay: a metric series and optionally
// an ad-hoc rule set. With no rules given the replay uses the enabled
// production rules; rule_id narrows the replay to one rule.
type simulateRequest struct {
	RuleID string                  `json:"rule_id,omitempty"`
	Rules  []config.AlertRule      `json:"rules,omitempty"`
	Events []domain.MetricSnapshot `json:"events"`
}

// handleSimulate replays a metric series against rules without touching
// production state or sending notifications.
func (s *Server) handleSimulate(writer http.ResponseWriter, request *http.Request) {
	var body simulateRequest
	if err := decodeBody(request, &body); err != nil {
		s.writeError(writer, http.StatusBadRequest, "invalid simulate body: "+err.Error())
		return
	}
	if len(body.Events) == 0 {
		s.writeError(writer, http.StatusBadRequest, "events are required")
		return
	}
	for index := range body.Events {
		if err := body.Events[index].Validate(); err != nil {
			s.writeError(writer, http.StatusBadRequest, err.Error())
			return
		}
	}

	ruleSet := body.Rules
	if len(ruleSet) == 0 {
		ruleSet = s.rules.ListEnabled()
	} else {
		for index := range ruleSet {
			if err := config.ValidateRule(ruleSet[index]); err != nil {
				s.writeError(writer, http.StatusUnprocessableEntity, err.Error())
				return
			}
		}
	}
	if body.RuleID != "" {
		narrowed := ruleSet[:0]
		for _, rule := range ruleSet {
			if rule.ID == body.RuleID {
				narrowed = append(narrowed, rule)
			}
		}
		if len(narrowed) == 0 {
			s.writeError(writer, http.StatusNotFound, "rule "+body.RuleID+" not found in replay set")
			return
		}
		ruleSet = narrowed
	}

	events := engine.Simulate(ruleSet, body.Events)
	if events == nil {
		events = []engine.SimulatedEvent{}
	}
	s.writeJSON(writer, http.StatusOK, map[string]any{"events": events})
}

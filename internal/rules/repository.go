package rules

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"zonealert/internal/config"
)

var (
	// ErrRuleNotFound indicates an absent rule id.
	ErrRuleNotFound = errors.New("rule not found")
	// ErrRuleExists indicates a duplicate rule id on create.
	ErrRuleExists = errors.New("rule already exists")
)

// Repository holds alert rule definitions; read-mostly, consulted per cycle.
// Params: in-memory rule map seeded from configuration.
// Returns: validated rule source for the evaluation pipeline and API.
type Repository struct {
	mu    sync.RWMutex
	rules map[string]config.AlertRule
}

// NewRepository creates a repository seeded with configured rules.
// Params: validated seed rules (config load already rejected malformed ones).
// Returns: initialized repository.
func NewRepository(seed []config.AlertRule) *Repository {
	rules := make(map[string]config.AlertRule, len(seed))
	for _, rule := range seed {
		rules[rule.ID] = rule
	}
	return &Repository{rules: rules}
}

// Create adds one new rule after validation.
// Params: candidate rule.
// Returns: validation error or ErrRuleExists on duplicate id.
func (r *Repository) Create(rule config.AlertRule) error {
	if err := config.ValidateRule(rule); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
	}
	r.rules[rule.ID] = rule
	return nil
}

// Update replaces one existing rule after validation.
// Updates never retroactively alter alerts already created from the rule;
// rule name and priority are denormalized into alerts at creation time.
// Params: replacement rule (id selects the target).
// Returns: validation error or ErrRuleNotFound.
func (r *Repository) Update(rule config.AlertRule) error {
	if err := config.ValidateRule(rule); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rules[rule.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	r.rules[rule.ID] = rule
	return nil
}

// SetEnabled toggles one rule without touching its definition.
// Params: rule id and desired enabled flag.
// Returns: ErrRuleNotFound when absent.
func (r *Repository) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, exists := r.rules[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	rule.Enabled = enabled
	r.rules[id] = rule
	return nil
}

// Get returns one rule by id.
// Params: rule id.
// Returns: rule copy and presence flag.
func (r *Repository) Get(id string) (config.AlertRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, exists := r.rules[id]
	return rule, exists
}

// List returns all rules in stable id order.
// Params: none.
// Returns: rule copies sorted by id.
func (r *Repository) List() []config.AlertRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]config.AlertRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListEnabled returns enabled rules in stable id order.
// Params: none.
// Returns: enabled rule copies sorted by id.
func (r *Repository) ListEnabled() []config.AlertRule {
	all := r.List()
	out := all[:0]
	for _, rule := range all {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out
}

// Package plan defines build-plan steps and their automatability classification.
package plan

import "fmt"

// Step is a single entry in a build plan. Steps execute in Index order.
type Step struct {
	Index       int               `json:"index"`
	ActionType  string            `json:"action_type,omitempty"`
	Action      string            `json:"action"`
	Source      string            `json:"source,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Automatable bool              `json:"automatable"`
}

// String returns a short human-readable form for logs.
func (s Step) String() string {
	kind := "manual"
	if s.Automatable {
		kind = "auto"
	}
	if s.ActionType != "" {
		return fmt.Sprintf("step %d [%s/%s] %s", s.Index, s.ActionType, kind, s.Action)
	}
	return fmt.Sprintf("step %d [%s] %s", s.Index, kind, s.Action)
}

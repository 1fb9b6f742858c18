package workflow

import "fmt"

// State is the pipeline state of one workflow session.
type State string

const (
	StateIdle                  State = "idle"
	StateAnalyzingTarget       State = "analyzing_target"
	StateTargetReady           State = "target_ready"
	StateResolvingSources      State = "resolving_sources"
	StateSourcesReady          State = "sources_ready"
	StateExploringCapabilities State = "exploring_capabilities"
	StateCapabilitiesSuspended State = "capabilities_suspended"
	StateCapabilitiesReady     State = "capabilities_ready"
	StateSynthesizingPlan      State = "synthesizing_plan"
	StatePlanReady             State = "plan_ready"
	StateExecuting             State = "executing"
	StateExecutionSuspended    State = "execution_suspended"
	StateCompleted             State = "completed"
	StateFailed                State = "failed"
)

// allowedTransitions is the full transition table. Capability exploration is
// optional: sources_ready may go straight to plan synthesis. Source
// resolution is optional too: with a selected skillset or site targets
// standing in for source files, target_ready may enter synthesis or
// exploration directly. Failed only leaves through a user retry, which
// re-enters the recorded stage.
var allowedTransitions = map[State][]State{
	StateIdle:                  {StateAnalyzingTarget},
	StateAnalyzingTarget:       {StateTargetReady, StateFailed},
	StateTargetReady:           {StateResolvingSources, StateSynthesizingPlan, StateExploringCapabilities, StateAnalyzingTarget},
	StateResolvingSources:      {StateSourcesReady, StateFailed},
	StateSourcesReady:          {StateExploringCapabilities, StateSynthesizingPlan, StateAnalyzingTarget, StateResolvingSources},
	StateExploringCapabilities: {StateCapabilitiesReady, StateCapabilitiesSuspended, StateFailed},
	StateCapabilitiesSuspended: {StateCapabilitiesReady, StateCapabilitiesSuspended, StateFailed},
	StateCapabilitiesReady:     {StateSynthesizingPlan, StateExploringCapabilities, StateAnalyzingTarget, StateResolvingSources},
	StateSynthesizingPlan:      {StatePlanReady, StateFailed},
	StatePlanReady:             {StateExecuting, StateSynthesizingPlan, StateAnalyzingTarget, StateResolvingSources, StateExploringCapabilities},
	StateExecuting:             {StateCompleted, StateExecutionSuspended, StateFailed},
	StateExecutionSuspended:    {StateExecuting, StateExecutionSuspended, StateFailed},
	StateCompleted:             {StateExecuting, StateAnalyzingTarget, StateResolvingSources, StateExploringCapabilities, StateSynthesizingPlan},
	StateFailed:                {StateAnalyzingTarget, StateResolvingSources, StateExploringCapabilities, StateSynthesizingPlan, StateExecuting},
}

// Transition validates and applies a state change on the session.
func (s *Session) Transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to State) error {
	for _, allowed := range allowedTransitions[s.state] {
		if allowed == to {
			from := s.state
			s.state = to
			s.appendEventLocked(Event{
				Type: EventTransition,
				From: string(from),
				To:   string(to),
			})
			return nil
		}
	}
	return fmt.Errorf("disallowed transition: %s -> %s", s.state, to)
}

// Suspended reports whether the state is a credential suspension point.
func (s State) Suspended() bool {
	return s == StateCapabilitiesSuspended || s == StateExecutionSuspended
}

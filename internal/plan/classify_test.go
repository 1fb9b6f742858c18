package plan

import "testing"

func TestClassify_ActionTypeTrusted(t *testing.T) {
	// An allow-listed action type wins even when the text smells manual.
	steps := []Step{
		{Index: 1, ActionType: "NAVIGATE_WEBSITE", Action: "navigate to the review dashboard"},
	}
	Classify(steps)
	if !steps[0].Automatable {
		t.Error("NAVIGATE_WEBSITE step should be automatable despite 'review' in text")
	}
}

func TestClassify_ManualSignalWins(t *testing.T) {
	steps := []Step{
		{Index: 4, Action: "collect stakeholder sign-off on the final numbers"},
	}
	Classify(steps)
	if steps[0].Automatable {
		t.Error("step with 'stakeholder sign-off' should be manual")
	}
}

func TestClassify_ManualBeatsAutomatableInFallback(t *testing.T) {
	// Both signal kinds present, no action type: manual wins.
	steps := []Step{
		{Index: 2, Action: "export the summary and have finance review it"},
	}
	Classify(steps)
	if steps[0].Automatable {
		t.Error("mixed signals should classify manual")
	}
}

func TestClassify_FallbackAutomatable(t *testing.T) {
	steps := []Step{
		{Index: 1, Action: "download the monthly ledger", Source: "portal"},
		{Index: 2, Action: "extract totals from column B"},
	}
	Classify(steps)
	for _, s := range steps {
		if !s.Automatable {
			t.Errorf("step %d should be automatable: %q", s.Index, s.Action)
		}
	}
}

func TestClassify_UnknownActionTypeFallsBack(t *testing.T) {
	steps := []Step{
		{Index: 1, ActionType: "MEDITATE", Action: "have the CFO approve the draft"},
	}
	Classify(steps)
	if steps[0].Automatable {
		t.Error("unknown action type with manual text should be manual")
	}
}

func TestClassify_NoSignalDefaultsManual(t *testing.T) {
	steps := []Step{{Index: 1, Action: "finalize quarterly narrative"}}
	manual := Classify(steps)
	if steps[0].Automatable {
		t.Error("signal-free step should default to manual")
	}
	if manual != 1 {
		t.Errorf("expected 1 manual step, got %d", manual)
	}
}

func TestClassify_CountsManual(t *testing.T) {
	steps := []Step{
		{Index: 1, ActionType: "LOAD_EXCEL_FILE", Action: "load sales.xlsx"},
		{Index: 2, ActionType: "EXTRACT_COLUMNS", Action: "extract revenue columns"},
		{Index: 3, ActionType: "CALCULATE", Action: "compute net revenue"},
		{Index: 4, Action: "stakeholder review of the assembled report"},
	}
	manual := Classify(steps)
	if manual != 1 {
		t.Errorf("expected 1 manual step, got %d", manual)
	}
	for _, s := range steps[:3] {
		if !s.Automatable {
			t.Errorf("step %d should be automatable", s.Index)
		}
	}
	if steps[3].Automatable {
		t.Error("step 4 should be manual")
	}
}

package plan

import "strings"

// Automatable action types, grouped by category. A step that declares one of
// these is trusted as machine-executable regardless of its free text.
var automatableActionTypes = map[string]bool{
	// Navigation
	"NAVIGATE_WEBSITE": true,
	"OPEN_PAGE":        true,
	"CLICK_ELEMENT":    true,
	"FILL_FORM":        true,
	"SUBMIT_FORM":      true,

	// Data extraction
	"LOAD_EXCEL_FILE": true,
	"LOAD_CSV_FILE":   true,
	"EXTRACT_COLUMNS": true,
	"EXTRACT_TABLE":   true,
	"DOWNLOAD_FILE":   true,

	// Data transform
	"CALCULATE":      true,
	"AGGREGATE":      true,
	"TRANSFORM_DATA": true,
	"FILTER_ROWS":    true,
	"JOIN_SOURCES":   true,

	// Formatting
	"FORMAT_CELLS":   true,
	"APPLY_TEMPLATE": true,
	"SET_STYLES":     true,

	// Report assembly
	"ASSEMBLE_REPORT": true,
	"WRITE_REPORT":    true,
	"EXPORT_REPORT":   true,
	"SAVE_OUTPUT":     true,
}

// Textual signals used when a step carries no recognized action type.
// Manual signals win when both kinds are present.
var (
	manualSignals = []string{
		"review", "approve", "approval", "sign-off", "signoff", "sign off",
		"consult", "stakeholder", "manually", "manual", "human", "verify with",
		"ask ", "confirm with", "escalate",
	}
	automatableSignals = []string{
		"navigate", "export", "download", "extract", "load", "open",
		"copy", "fetch", "calculate", "transform", "fill", "format", "upload",
	}
)

// Classify sets the Automatable flag on every step in place and returns the
// number of steps classified manual.
//
// Precedence: an explicit action type from the allow-list is trusted as-is.
// Otherwise the free-text fields decide, with manual signals overriding
// automatable ones when both appear.
func Classify(steps []Step) int {
	manual := 0
	for i := range steps {
		steps[i].Automatable = classifyStep(&steps[i])
		if !steps[i].Automatable {
			manual++
		}
	}
	return manual
}

func classifyStep(s *Step) bool {
	if s.ActionType != "" && automatableActionTypes[s.ActionType] {
		return true
	}
	text := strings.ToLower(s.Action + " " + s.Source)
	if containsAny(text, manualSignals) {
		return false
	}
	if containsAny(text, automatableSignals) {
		return true
	}
	// No signal either way: surface to a human rather than run blind.
	return false
}

func containsAny(text string, signals []string) bool {
	for _, sig := range signals {
		if strings.Contains(text, sig) {
			return true
		}
	}
	return false
}

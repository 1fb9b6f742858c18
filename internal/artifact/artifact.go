// Package artifact defines the typed stage artifacts, content-addressed
// fingerprints, and the artifact cache.
package artifact

import (
	"fmt"
	"time"

	"github.com/reportforge/reportforge/internal/ledger"
	"github.com/reportforge/reportforge/internal/plan"
)

// Kind identifies which stage produced an artifact.
type Kind string

const (
	KindTargetAnalysis  Kind = "target_analysis"
	KindSourceMapping   Kind = "source_mapping"
	KindCapabilitySet   Kind = "capability_set"
	KindBuildPlan       Kind = "build_plan"
	KindExecutionResult Kind = "execution_result"
)

// Kinds lists every artifact kind in pipeline order.
var Kinds = []Kind{
	KindTargetAnalysis,
	KindSourceMapping,
	KindCapabilitySet,
	KindBuildPlan,
	KindExecutionResult,
}

// TargetAnalysis describes the structure of the uploaded report template.
type TargetAnalysis struct {
	ReportName string   `json:"report_name"`
	Format     string   `json:"format"` // xlsx, docx, ...
	Fields     []string `json:"fields"`
	Notes      string   `json:"notes,omitempty"`
}

// FieldMapping maps one target field onto a source location.
type FieldMapping struct {
	TargetField  string `json:"target_field"`
	SourceFile   string `json:"source_file"`
	SourceColumn string `json:"source_column,omitempty"`
	Transform    string `json:"transform,omitempty"`
}

// SourceMapping is the resolved mapping from source files to the target.
type SourceMapping struct {
	Mappings    []FieldMapping          `json:"mappings"`
	Resolutions []ledger.TermResolution `json:"resolutions,omitempty"`
}

// SiteCapabilities is the capability list discovered for one website.
type SiteCapabilities struct {
	URL          string   `json:"url"`
	SiteName     string   `json:"site_name,omitempty"`
	Capabilities []string `json:"capabilities"`
	Confidence   string   `json:"confidence,omitempty"`
}

// CapabilitySet aggregates the findings of one exploration run. Partial is
// true when at least one site succeeded while others stayed suspended on
// credentials.
type CapabilitySet struct {
	Sites   []SiteCapabilities `json:"sites"`
	Partial bool               `json:"partial,omitempty"`
}

// BuildPlan is the ordered, classified list of build steps.
type BuildPlan struct {
	Steps    []plan.Step `json:"steps"`
	Strategy string      `json:"strategy,omitempty"`
}

// StepResult records the outcome of one executed plan step.
type StepResult struct {
	Index   int    `json:"index"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ExecutionResult reports plan execution, including partial completion.
type ExecutionResult struct {
	Success        bool         `json:"success"`
	CompletedSteps int          `json:"completed_steps"`
	TotalSteps     int          `json:"total_steps"`
	StepResults    []StepResult `json:"step_results"`
	OutputArtifact string       `json:"output_artifact,omitempty"`
	Note           string       `json:"note,omitempty"`
}

// Artifact is the tagged union carried between stages. Exactly one payload
// pointer is non-nil, matching Kind. Artifacts are immutable once produced;
// regeneration creates a new one.
type Artifact struct {
	Kind        Kind        `json:"kind"`
	Fingerprint Fingerprint `json:"fingerprint"`
	FromCache   bool        `json:"from_cache"`
	ProducedAt  time.Time   `json:"produced_at"`

	Target       *TargetAnalysis  `json:"target,omitempty"`
	Mapping      *SourceMapping   `json:"mapping,omitempty"`
	Capabilities *CapabilitySet   `json:"capabilities,omitempty"`
	Plan         *BuildPlan       `json:"plan,omitempty"`
	Execution    *ExecutionResult `json:"execution,omitempty"`
}

// New wraps a payload in an Artifact of the matching kind.
func New(fp Fingerprint, payload interface{}) (*Artifact, error) {
	a := &Artifact{Fingerprint: fp, ProducedAt: time.Now()}
	switch p := payload.(type) {
	case *TargetAnalysis:
		a.Kind, a.Target = KindTargetAnalysis, p
	case *SourceMapping:
		a.Kind, a.Mapping = KindSourceMapping, p
	case *CapabilitySet:
		a.Kind, a.Capabilities = KindCapabilitySet, p
	case *BuildPlan:
		a.Kind, a.Plan = KindBuildPlan, p
	case *ExecutionResult:
		a.Kind, a.Execution = KindExecutionResult, p
	default:
		return nil, fmt.Errorf("unsupported artifact payload %T", payload)
	}
	return a, nil
}

// Validate checks the kind/payload pairing.
func (a *Artifact) Validate() error {
	var ok bool
	switch a.Kind {
	case KindTargetAnalysis:
		ok = a.Target != nil
	case KindSourceMapping:
		ok = a.Mapping != nil
	case KindCapabilitySet:
		ok = a.Capabilities != nil
	case KindBuildPlan:
		ok = a.Plan != nil
	case KindExecutionResult:
		ok = a.Execution != nil
	default:
		return fmt.Errorf("unknown artifact kind %q", a.Kind)
	}
	if !ok {
		return fmt.Errorf("artifact kind %q has no matching payload", a.Kind)
	}
	return nil
}

// Package producer defines the uniform contract between the orchestration
// engine and its external stage producers. Producers are opaque asynchronous
// collaborators; this package also ships scripted implementations used by
// the CLI demo mode and tests.
package producer

import (
	"context"

	"github.com/reportforge/reportforge/internal/artifact"
	"github.com/reportforge/reportforge/internal/credential"
	"github.com/reportforge/reportforge/internal/ledger"
)

// TargetFile identifies an uploaded file by path and content fingerprint.
type TargetFile struct {
	Path        string
	Fingerprint artifact.Fingerprint
}

// SourceFileInfo describes one source file forwarded to plan synthesis.
type SourceFileInfo struct {
	Path        string
	Fingerprint artifact.Fingerprint
}

// TargetAnalyzer analyzes the uploaded report template.
type TargetAnalyzer interface {
	AnalyzeTarget(ctx context.Context, target TargetFile) (*artifact.TargetAnalysis, error)
}

// SourceResolver maps source files onto the analyzed target structure.
type SourceResolver interface {
	ResolveSources(ctx context.Context, analysis *artifact.TargetAnalysis, sources []SourceFileInfo) (*artifact.SourceMapping, error)
}

// SiteRequest names one website candidate for capability exploration,
// optionally with a credential snapshot injected at the call boundary.
type SiteRequest struct {
	URL         string
	Credentials credential.Values
}

// ExplorationFinding is the per-site result of capability exploration.
// NeedsLogin with a populated LoginFields list is a suspension signal, not
// an error: the discovered fields are partial progress to preserve.
type ExplorationFinding struct {
	URL          string
	SiteName     string
	Success      bool
	NeedsLogin   bool
	LoginFields  []credential.Field
	Capabilities []string
	Confidence   string
}

// CapabilityExplorer explores a single site. Fan-out across sites is the
// controller's responsibility.
type CapabilityExplorer interface {
	ExploreSite(ctx context.Context, site SiteRequest) (*ExplorationFinding, error)

	// ResumeSite re-invokes a suspended exploration with the discovered
	// field list plus user-supplied values. Invalid credentials return an
	// error wrapping ErrAuthentication; the finding still carries the field
	// list so no re-discovery is needed.
	ResumeSite(ctx context.Context, site SiteRequest, fields []credential.Field, values credential.Values) (*ExplorationFinding, error)
}

// SynthesisInput is everything the Plan Synthesizer receives. Confirmed and
// better-than-low-confidence terms arrive as ground truth; the rest are
// forwarded as unresolved items.
type SynthesisInput struct {
	Target     *artifact.TargetAnalysis
	Sources    []SourceFileInfo
	SkillsetID string
	Resolved   []ledger.TermResolution
	Unresolved []ledger.TermResolution
}

// PlanSynthesizer produces an ordered build plan. Steps may arrive without
// an Automatable flag; the controller classifies them.
type PlanSynthesizer interface {
	SynthesizePlan(ctx context.Context, input SynthesisInput) (*artifact.BuildPlan, error)
}

// ExecutionInput carries the plan plus resume state. StartAt is the first
// step index to run; PriorOutputs holds retained outputs of already
// completed steps.
type ExecutionInput struct {
	Plan         *artifact.BuildPlan
	StartAt      int
	PriorOutputs map[int]string
	Credentials  credential.Values
}

// ExecutionOutcome is the result of one executor invocation. Suspended is a
// control-flow signal: execution stopped at SuspendedAt needing credentials,
// with everything before it complete and recorded in Result.
type ExecutionOutcome struct {
	Result      *artifact.ExecutionResult
	Suspended   bool
	SuspendedAt int
	LoginFields []credential.Field
}

// PlanExecutor executes build-plan steps in order.
type PlanExecutor interface {
	ExecutePlan(ctx context.Context, input ExecutionInput) (*ExecutionOutcome, error)
}

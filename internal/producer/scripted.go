package producer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/reportforge/reportforge/internal/artifact"
	"github.com/reportforge/reportforge/internal/credential"
	"github.com/reportforge/reportforge/internal/ledger"
	"github.com/reportforge/reportforge/internal/plan"
)

// ScriptedAnalyzer is a deterministic TargetAnalyzer. Zero-value behavior
// derives a plausible analysis from the file name; Analysis and Err override
// it for tests.
type ScriptedAnalyzer struct {
	Analysis *artifact.TargetAnalysis
	Err      error

	mu    sync.Mutex
	calls int
}

// Calls reports how many times the producer was invoked.
func (a *ScriptedAnalyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *ScriptedAnalyzer) AnalyzeTarget(_ context.Context, target TargetFile) (*artifact.TargetAnalysis, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	if a.Err != nil {
		return nil, a.Err
	}
	if a.Analysis != nil {
		cp := *a.Analysis
		return &cp, nil
	}
	base := filepath.Base(target.Path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return &artifact.TargetAnalysis{
		ReportName: name,
		Format:     strings.TrimPrefix(filepath.Ext(base), "."),
		Fields:     []string{"Period", "Net Revenue", "Total Units"},
	}, nil
}

// ScriptedResolver is a deterministic SourceResolver.
type ScriptedResolver struct {
	Mapping *artifact.SourceMapping
	Err     error

	mu    sync.Mutex
	calls int
}

func (r *ScriptedResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *ScriptedResolver) ResolveSources(_ context.Context, analysis *artifact.TargetAnalysis, sources []SourceFileInfo) (*artifact.SourceMapping, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	if r.Mapping != nil {
		cp := *r.Mapping
		return &cp, nil
	}

	mapping := &artifact.SourceMapping{}
	for _, field := range analysis.Fields {
		for _, src := range sources {
			mapping.Mappings = append(mapping.Mappings, artifact.FieldMapping{
				TargetField: field,
				SourceFile:  filepath.Base(src.Path),
			})
			break
		}
	}
	mapping.Resolutions = []ledger.TermResolution{
		{Term: "Net Revenue", Answer: "Gross revenue minus discounts", Confidence: ledger.ConfidenceMedium, FoundIn: "column header"},
	}
	return mapping, nil
}

// SiteScript describes the scripted behavior for one site.
type SiteScript struct {
	SiteName     string
	Capabilities []string
	Confidence   string
	NeedsLogin   bool
	LoginFields  []credential.Field
	// Password accepted by ResumeSite when NeedsLogin. Any other value
	// yields ErrAuthentication.
	Password string
	Err      error
}

// ScriptedExplorer explores sites according to a per-URL script.
type ScriptedExplorer struct {
	Sites map[string]SiteScript

	mu          sync.Mutex
	exploreHits map[string]int
	resumeHits  map[string]int
}

func (e *ScriptedExplorer) ExploreCalls(url string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exploreHits[url]
}

func (e *ScriptedExplorer) ResumeCalls(url string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resumeHits[url]
}

func (e *ScriptedExplorer) record(m *map[string]int, url string) {
	e.mu.Lock()
	if *m == nil {
		*m = make(map[string]int)
	}
	(*m)[url]++
	e.mu.Unlock()
}

func (e *ScriptedExplorer) ExploreSite(_ context.Context, site SiteRequest) (*ExplorationFinding, error) {
	e.record(&e.exploreHits, site.URL)

	script, ok := e.Sites[site.URL]
	if !ok {
		return nil, fmt.Errorf("unreachable site %s", site.URL)
	}
	if script.Err != nil {
		return nil, script.Err
	}
	if script.NeedsLogin && site.Credentials["password"] != script.Password {
		fields := script.LoginFields
		if len(fields) == 0 {
			fields = []credential.Field{
				{Name: "username", Kind: "text"},
				{Name: "password", Kind: "password"},
			}
		}
		return &ExplorationFinding{
			URL:         site.URL,
			SiteName:    script.SiteName,
			NeedsLogin:  true,
			LoginFields: fields,
		}, nil
	}
	return &ExplorationFinding{
		URL:          site.URL,
		SiteName:     script.SiteName,
		Success:      true,
		Capabilities: append([]string(nil), script.Capabilities...),
		Confidence:   script.Confidence,
	}, nil
}

func (e *ScriptedExplorer) ResumeSite(_ context.Context, site SiteRequest, fields []credential.Field, values credential.Values) (*ExplorationFinding, error) {
	e.record(&e.resumeHits, site.URL)

	script, ok := e.Sites[site.URL]
	if !ok {
		return nil, fmt.Errorf("unreachable site %s", site.URL)
	}
	if values["password"] != script.Password {
		return &ExplorationFinding{
			URL:         site.URL,
			SiteName:    script.SiteName,
			NeedsLogin:  true,
			LoginFields: fields,
		}, fmt.Errorf("login to %s: %w", site.URL, ErrAuthentication)
	}
	return &ExplorationFinding{
		URL:          site.URL,
		SiteName:     script.SiteName,
		Success:      true,
		Capabilities: append([]string(nil), script.Capabilities...),
		Confidence:   script.Confidence,
	}, nil
}

// ScriptedSynthesizer is a deterministic PlanSynthesizer. The default plan
// mirrors a spreadsheet report build: load, extract, calculate, then a
// human review step. Steps touching unresolved terms come back manual.
type ScriptedSynthesizer struct {
	Plan *artifact.BuildPlan
	Err  error

	mu        sync.Mutex
	calls     int
	lastInput SynthesisInput
}

func (s *ScriptedSynthesizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LastInput returns the input of the most recent call, for assertions on
// what confirmation state was forwarded.
func (s *ScriptedSynthesizer) LastInput() SynthesisInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInput
}

func (s *ScriptedSynthesizer) SynthesizePlan(_ context.Context, input SynthesisInput) (*artifact.BuildPlan, error) {
	s.mu.Lock()
	s.calls++
	s.lastInput = input
	s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	if s.Plan != nil {
		cp := *s.Plan
		cp.Steps = append([]plan.Step(nil), s.Plan.Steps...)
		return &cp, nil
	}

	sourceName := "source data"
	if len(input.Sources) > 0 {
		sourceName = filepath.Base(input.Sources[0].Path)
	}
	steps := []plan.Step{
		{Index: 1, ActionType: "LOAD_EXCEL_FILE", Action: "load " + sourceName},
		{Index: 2, ActionType: "EXTRACT_COLUMNS", Action: "extract mapped columns"},
		{Index: 3, ActionType: "CALCULATE", Action: "compute derived fields"},
		{Index: 4, Action: "stakeholder review of the assembled report"},
	}
	return &artifact.BuildPlan{Steps: steps, Strategy: "spreadsheet"}, nil
}

// ScriptedExecutor executes plans step by step. FailAt marks a step index
// that fails; SuspendAt marks a step that needs credentials until resumed
// with Password.
type ScriptedExecutor struct {
	FailAt    int
	SuspendAt int
	Password  string
	Err       error

	mu    sync.Mutex
	calls int
}

func (x *ScriptedExecutor) Calls() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.calls
}

func (x *ScriptedExecutor) ExecutePlan(_ context.Context, input ExecutionInput) (*ExecutionOutcome, error) {
	x.mu.Lock()
	x.calls++
	x.mu.Unlock()

	if x.Err != nil {
		return nil, x.Err
	}

	result := &artifact.ExecutionResult{TotalSteps: len(input.Plan.Steps)}
	result.CompletedSteps = input.StartAt

	for _, step := range input.Plan.Steps {
		if step.Index <= input.StartAt {
			continue
		}
		if x.SuspendAt != 0 && step.Index == x.SuspendAt {
			if input.Credentials["password"] == x.Password && x.Password != "" {
				// Credentials supplied: fall through and run the step.
			} else if len(input.Credentials) > 0 {
				return nil, fmt.Errorf("step %d login: %w", step.Index, ErrAuthentication)
			} else {
				return &ExecutionOutcome{
					Result:      result,
					Suspended:   true,
					SuspendedAt: step.Index,
					LoginFields: []credential.Field{
						{Name: "username", Kind: "text"},
						{Name: "password", Kind: "password"},
					},
				}, nil
			}
		}
		if !step.Automatable {
			result.Note = fmt.Sprintf("step %d requires a human: %s", step.Index, step.Action)
			result.Success = false
			return &ExecutionOutcome{Result: result}, nil
		}
		if x.FailAt != 0 && step.Index == x.FailAt {
			result.StepResults = append(result.StepResults, artifact.StepResult{
				Index: step.Index, Success: false, Error: "step failed",
			})
			result.Success = false
			result.Note = fmt.Sprintf("step %d failed", step.Index)
			return &ExecutionOutcome{Result: result}, nil
		}
		result.StepResults = append(result.StepResults, artifact.StepResult{
			Index: step.Index, Success: true, Output: fmt.Sprintf("output-%d", step.Index),
		})
		result.CompletedSteps++
	}

	result.Success = result.CompletedSteps == result.TotalSteps
	if result.Success {
		result.OutputArtifact = "report-output"
	}
	return &ExecutionOutcome{Result: result}, nil
}

// Package controller implements the build-plan orchestration engine: stage
// sequencing, artifact caching with forced regeneration, credential
// suspension/resume, confirmation gating, and plan execution.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/reportforge/reportforge/internal/artifact"
	"github.com/reportforge/reportforge/internal/credential"
	"github.com/reportforge/reportforge/internal/ledger"
	"github.com/reportforge/reportforge/internal/plan"
	"github.com/reportforge/reportforge/internal/producer"
	"github.com/reportforge/reportforge/internal/skillset"
	"github.com/reportforge/reportforge/internal/telemetry"
	"github.com/reportforge/reportforge/internal/workflow"
)

// ExecutionTarget is the credential-request target ID for a suspended plan
// execution, as opposed to a website URL.
const ExecutionTarget = "execution"

// Producers bundles the external stage producers consumed by the engine.
type Producers struct {
	Analyzer    producer.TargetAnalyzer
	Resolver    producer.SourceResolver
	Explorer    producer.CapabilityExplorer
	Synthesizer producer.PlanSynthesizer
	Executor    producer.PlanExecutor
}

// downstream lists the artifact kinds derived (directly or transitively)
// from each stage's output. Regenerating a stage invalidates these.
var downstream = map[workflow.Stage][]artifact.Kind{
	workflow.StageAnalyzeTarget: {
		artifact.KindSourceMapping, artifact.KindBuildPlan, artifact.KindExecutionResult,
	},
	workflow.StageResolveSources: {
		artifact.KindBuildPlan, artifact.KindExecutionResult,
	},
	workflow.StageExploreCapabilities: {
		artifact.KindBuildPlan, artifact.KindExecutionResult,
	},
	workflow.StageSynthesizePlan: {
		artifact.KindExecutionResult,
	},
	workflow.StageExecutePlan: {},
}

// Controller is the orchestration state machine for one workflow session.
// Stages run one at a time; capability exploration is the only internal
// fan-out.
type Controller struct {
	mu sync.Mutex

	sess     *workflow.Session
	cache    *artifact.Cache
	creds    *credential.Manager
	terms    *ledger.Ledger
	registry *skillset.Store

	producers Producers
	logger    *zap.Logger

	// Exploration bookkeeping across suspension points.
	lastSiteURLs []string
	pendingSites map[string][]credential.Field
	findings     map[string]artifact.SiteCapabilities

	// OnTransition fires after every accepted state change. Used by the
	// event bridge; must not block.
	OnTransition func(sessionID string, from, to workflow.State)

	// SkipExploration refuses ExploreCapabilities entirely; synthesis
	// then works from source files or a stored skillset only.
	SkipExploration bool

	// MaxConcurrentSites bounds the exploration fan-out. Zero means
	// unlimited.
	MaxConcurrentSites int
}

// New creates a controller with a fresh session.
func New(cache *artifact.Cache, registry *skillset.Store, producers Producers, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		sess:         workflow.NewSession(),
		cache:        cache,
		creds:        credential.NewManager(),
		terms:        ledger.New(),
		registry:     registry,
		producers:    producers,
		logger:       logger,
		pendingSites: make(map[string][]credential.Field),
		findings:     make(map[string]artifact.SiteCapabilities),
	}
}

// Session exposes the current session for inspection.
func (c *Controller) Session() *workflow.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Ledger exposes the confidence ledger.
func (c *Controller) Ledger() *ledger.Ledger { return c.terms }

// Credentials exposes the suspension manager (read-only use: listing
// outstanding requests).
func (c *Controller) Credentials() *credential.Manager { return c.creds }

// UploadTarget fingerprints and records the target report template.
func (c *Controller) UploadTarget(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fp, err := artifact.FileFingerprint(path)
	if err != nil {
		return err
	}
	c.sess.SetTarget(workflow.FileRef{Path: path, Fingerprint: fp})
	c.logger.Info("target uploaded",
		zap.String("path", path),
		zap.String("fingerprint", fp.Short()))
	return nil
}

// AddSources fingerprints and records the source data files, replacing the
// current set.
func (c *Controller) AddSources(paths ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	refs := make([]workflow.FileRef, 0, len(paths))
	for _, path := range paths {
		fp, err := artifact.FileFingerprint(path)
		if err != nil {
			return err
		}
		refs = append(refs, workflow.FileRef{Path: path, Fingerprint: fp})
	}
	c.sess.SetSources(refs)
	return nil
}

// WatchedFiles returns the target and source paths of the current session,
// target first.
func (c *Controller) WatchedFiles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var paths []string
	if target, ok := c.sess.Target(); ok {
		paths = append(paths, target.Path)
	}
	for _, src := range c.sess.Sources() {
		paths = append(paths, src.Path)
	}
	return paths
}

// FileChanged invalidates the artifacts derived from an input file that
// changed on disk. A changed target invalidates everything; a changed
// source leaves the target analysis intact. Artifacts are marked stale,
// never deleted.
func (c *Controller) FileChanged(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []artifact.Kind
	if target, ok := c.sess.Target(); ok && target.Path == path {
		stale = append([]artifact.Kind{artifact.KindTargetAnalysis},
			downstream[workflow.StageAnalyzeTarget]...)
	} else {
		for _, src := range c.sess.Sources() {
			if src.Path == path {
				stale = append([]artifact.Kind{artifact.KindSourceMapping},
					downstream[workflow.StageResolveSources]...)
				break
			}
		}
	}
	if len(stale) == 0 {
		return
	}

	c.sess.MarkStale(stale...)
	c.sess.AppendEvent(workflow.Event{
		Type:    workflow.EventInvalidation,
		Message: "input file changed on disk",
		Fields:  map[string]string{"path": path},
	})
	c.logger.Info("input file changed, artifacts invalidated",
		zap.String("path", path),
		zap.Int("stale", len(stale)))
}

// SelectSkillset records a previously explored skillset for this session.
func (c *Controller) SelectSkillset(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.registry.GetByID(id); !ok {
		return fmt.Errorf("no skillset with id %q", id)
	}
	if err := c.registry.Touch(id); err != nil {
		return err
	}
	c.sess.SelectSkillset(id)
	return nil
}

// Confirm marks a term resolution as confirmed by the user.
func (c *Controller) Confirm(term string) error {
	if err := c.terms.Confirm(term); err != nil {
		return err
	}
	c.sess.AppendEvent(workflow.Event{
		Type:    workflow.EventConfirmation,
		Message: "confirmed",
		Fields:  map[string]string{"term": term},
	})
	return nil
}

// Correct records a user-supplied answer for a term; correcting implies
// confirming.
func (c *Controller) Correct(term, text string) error {
	if err := c.terms.Correct(term, text); err != nil {
		return err
	}
	c.sess.AppendEvent(workflow.Event{
		Type:    workflow.EventConfirmation,
		Message: "corrected",
		Fields:  map[string]string{"term": term},
	})
	return nil
}

// Cancel abandons the session: in-memory state is discarded, the artifact
// cache and skillset registry are untouched.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("session cancelled", zap.String("session", c.sess.ID))
	c.sess = workflow.NewSession()
	c.creds = credential.NewManager()
	c.terms = ledger.New()
	c.lastSiteURLs = nil
	c.pendingSites = make(map[string][]credential.Field)
	c.findings = make(map[string]artifact.SiteCapabilities)
}

// Retry re-enters the stage recorded at failure time. No automatic retry,
// no stage skipping.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	state := c.sess.State()
	stage := c.sess.FailedStage()
	c.mu.Unlock()

	if state != workflow.StateFailed {
		return fmt.Errorf("retry only applies to a failed session (state %s)", state)
	}
	switch stage {
	case workflow.StageAnalyzeTarget:
		return c.AnalyzeTarget(ctx, false)
	case workflow.StageResolveSources:
		return c.ResolveSources(ctx, false)
	case workflow.StageExploreCapabilities:
		return c.reExplore(ctx)
	case workflow.StageSynthesizePlan:
		return c.SynthesizePlan(ctx, false)
	case workflow.StageExecutePlan:
		return c.ExecutePlan(ctx)
	}
	return fmt.Errorf("no failed stage recorded")
}

// Regenerate forces a fresh producer call for a completed stage, bypassing
// the cache, and invalidates (without deleting) all downstream artifacts of
// this session.
func (c *Controller) Regenerate(ctx context.Context, stage workflow.Stage) error {
	switch stage {
	case workflow.StageAnalyzeTarget:
		return c.AnalyzeTarget(ctx, true)
	case workflow.StageResolveSources:
		return c.ResolveSources(ctx, true)
	case workflow.StageExploreCapabilities:
		return c.reExplore(ctx)
	case workflow.StageSynthesizePlan:
		return c.SynthesizePlan(ctx, true)
	case workflow.StageExecutePlan:
		return c.ExecutePlan(ctx)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

// AnalyzeTarget runs the target-analysis stage.
func (c *Controller) AnalyzeTarget(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, ok := c.sess.Target()
	if !ok {
		return fmt.Errorf("no target file uploaded")
	}
	if err := c.enterStage(workflow.StageAnalyzeTarget, workflow.StateAnalyzingTarget); err != nil {
		return err
	}

	fp := artifact.Compute(artifact.KindTargetAnalysis, string(target.Fingerprint))
	art, err := c.runStage(ctx, workflow.StageAnalyzeTarget, fp, force, func(ctx context.Context) (*artifact.Artifact, error) {
		analysis, err := c.producers.Analyzer.AnalyzeTarget(ctx, producer.TargetFile{
			Path:        target.Path,
			Fingerprint: target.Fingerprint,
		})
		if err != nil {
			return nil, err
		}
		return artifact.New(fp, analysis)
	})
	if err != nil {
		return c.fail(workflow.StageAnalyzeTarget, err)
	}

	c.adopt(workflow.StageAnalyzeTarget, art, force)
	return c.transition(workflow.StateTargetReady)
}

// ResolveSources runs the source-resolution stage. Requires a valid target
// analysis; its fingerprint covers the analysis identity plus the source
// file set.
func (c *Controller) ResolveSources(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	analysisArt, ok := c.sess.Artifact(artifact.KindTargetAnalysis)
	if !ok {
		return fmt.Errorf("target analysis required before source resolution (regenerate it if stale)")
	}
	sources := c.sess.Sources()
	if len(sources) == 0 {
		return fmt.Errorf("no source files uploaded")
	}
	if err := c.enterStage(workflow.StageResolveSources, workflow.StateResolvingSources); err != nil {
		return err
	}

	sourceIDs := make([]string, len(sources))
	infos := make([]producer.SourceFileInfo, len(sources))
	for i, src := range sources {
		sourceIDs[i] = string(src.Fingerprint)
		infos[i] = producer.SourceFileInfo{Path: src.Path, Fingerprint: src.Fingerprint}
	}

	fp := artifact.ComputeSet(artifact.KindSourceMapping, []string{string(analysisArt.Fingerprint)}, sourceIDs)
	art, err := c.runStage(ctx, workflow.StageResolveSources, fp, force, func(ctx context.Context) (*artifact.Artifact, error) {
		mapping, err := c.producers.Resolver.ResolveSources(ctx, analysisArt.Target, infos)
		if err != nil {
			return nil, err
		}
		return artifact.New(fp, mapping)
	})
	if err != nil {
		return c.fail(workflow.StageResolveSources, err)
	}

	c.adopt(workflow.StageResolveSources, art, force)
	c.terms.Replace(art.Mapping.Resolutions)
	return c.transition(workflow.StateSourcesReady)
}

// SynthesizePlan runs the plan-synthesis stage. Synthesis may proceed before
// every term is confirmed: unconfirmed low-confidence resolutions travel as
// unresolved items, not ground truth. Steps are classified on return.
func (c *Controller) SynthesizePlan(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	analysisArt, ok := c.sess.Artifact(artifact.KindTargetAnalysis)
	if !ok {
		return fmt.Errorf("target analysis required before plan synthesis")
	}
	sources := c.sess.Sources()
	skillsetID := c.sess.SkillsetID()
	if len(sources) == 0 && skillsetID == "" {
		return fmt.Errorf("plan synthesis needs source files or a selected skillset")
	}

	// A stale mapping may not be silently reused: regenerate it first.
	var mappingArt *artifact.Artifact
	if len(sources) > 0 {
		mappingArt, ok = c.sess.Artifact(artifact.KindSourceMapping)
		if !ok {
			if c.sess.Stale(artifact.KindSourceMapping) {
				return fmt.Errorf("source mapping is stale after upstream regeneration; regenerate it before synthesis")
			}
			return fmt.Errorf("source mapping required before plan synthesis")
		}
	}

	if err := c.enterStage(workflow.StageSynthesizePlan, workflow.StateSynthesizingPlan); err != nil {
		return err
	}

	resolved := c.terms.Resolved()
	unresolved := c.terms.Unresolved()

	parts := []string{string(analysisArt.Fingerprint), skillsetID}
	if mappingArt != nil {
		parts = append(parts, string(mappingArt.Fingerprint))
	}
	// Confirmation state is a synthesis input: confirming or correcting a
	// term must produce a different fingerprint.
	for _, r := range append(append([]ledger.TermResolution(nil), resolved...), unresolved...) {
		parts = append(parts, fmt.Sprintf("%s|%s|%s|%t|%s", r.Term, r.Answer, r.Confidence, r.Confirmed, r.Correction))
	}
	fp := artifact.Compute(artifact.KindBuildPlan, parts...)

	infos := make([]producer.SourceFileInfo, len(sources))
	for i, src := range sources {
		infos[i] = producer.SourceFileInfo{Path: src.Path, Fingerprint: src.Fingerprint}
	}

	art, err := c.runStage(ctx, workflow.StageSynthesizePlan, fp, force, func(ctx context.Context) (*artifact.Artifact, error) {
		buildPlan, err := c.producers.Synthesizer.SynthesizePlan(ctx, producer.SynthesisInput{
			Target:     analysisArt.Target,
			Sources:    infos,
			SkillsetID: skillsetID,
			Resolved:   resolved,
			Unresolved: unresolved,
		})
		if err != nil {
			return nil, err
		}
		manual := plan.Classify(buildPlan.Steps)
		c.logger.Info("plan synthesized",
			zap.Int("steps", len(buildPlan.Steps)),
			zap.Int("manual", manual))
		return artifact.New(fp, buildPlan)
	})
	if err != nil {
		return c.fail(workflow.StageSynthesizePlan, err)
	}

	c.adopt(workflow.StageSynthesizePlan, art, force)
	return c.transition(workflow.StatePlanReady)
}

// enterStage validates stage entry: a failed session only re-enters its
// recorded failing stage, then transitions into the stage state.
func (c *Controller) enterStage(stage workflow.Stage, running workflow.State) error {
	if c.sess.State() == workflow.StateFailed && c.sess.FailedStage() != stage {
		return fmt.Errorf("session failed in stage %s; retry that stage", c.sess.FailedStage())
	}
	return c.transition(running)
}

// runStage consults the cache, then invokes produce on miss or force. The
// producer call is traced; cache decisions are logged and recorded in the
// session event log.
func (c *Controller) runStage(ctx context.Context, stage workflow.Stage, fp artifact.Fingerprint, force bool, produce func(context.Context) (*artifact.Artifact, error)) (*artifact.Artifact, error) {
	kind := stage.ArtifactKind()

	if !force {
		if cached, err := c.cache.Get(kind, fp); err == nil {
			c.sess.AppendEvent(workflow.Event{
				Type:  workflow.EventCacheHit,
				Stage: string(stage),
				Fields: map[string]string{
					"fingerprint": fp.Short(),
				},
			})
			return cached, nil
		} else if !errors.Is(err, artifact.ErrCacheMiss) {
			return nil, producer.NewFailure(string(stage), err)
		}
	}

	ctx, span := telemetry.StartStageSpan(ctx, string(stage), force)
	art, err := produce(ctx)
	telemetry.EndStageSpan(span, false, err)
	if err != nil {
		return nil, producer.NewFailure(string(stage), err)
	}

	c.sess.AppendEvent(workflow.Event{
		Type:    workflow.EventProducerCall,
		Stage:   string(stage),
		Message: "fresh artifact produced",
		Fields:  map[string]string{"fingerprint": fp.Short()},
	})
	if err := c.cache.Put(kind, fp, art); err != nil {
		return nil, producer.NewFailure(string(stage), err)
	}
	return art, nil
}

// adopt stores a stage artifact in the session and invalidates downstream
// slots when the artifact changed or a regeneration was forced.
func (c *Controller) adopt(stage workflow.Stage, art *artifact.Artifact, force bool) {
	kind := stage.ArtifactKind()
	prev, had := c.sess.Artifact(kind)
	changed := !had || prev.Fingerprint != art.Fingerprint

	c.sess.SetArtifact(art)

	if force || changed {
		kinds := downstream[stage]
		c.sess.MarkStale(kinds...)
		if len(kinds) > 0 {
			c.sess.AppendEvent(workflow.Event{
				Type:    workflow.EventInvalidation,
				Stage:   string(stage),
				Message: "downstream artifacts invalidated",
			})
		}
	}
}

// fail records the triggering stage and moves to the failed state. Producer
// errors are never swallowed: stage identity and message surface together.
func (c *Controller) fail(stage workflow.Stage, err error) error {
	c.sess.SetFailedStage(stage)
	c.sess.AppendEvent(workflow.Event{
		Type:    workflow.EventFailure,
		Stage:   string(stage),
		Message: err.Error(),
	})
	if terr := c.transition(workflow.StateFailed); terr != nil {
		c.logger.Error("failed-state transition rejected", zap.Error(terr))
	}
	c.logger.Error("stage failed", zap.String("stage", string(stage)), zap.Error(err))
	return err
}

// transition applies a state change and fires the transition callback.
func (c *Controller) transition(to workflow.State) error {
	from := c.sess.State()
	if err := c.sess.Transition(to); err != nil {
		return err
	}
	c.logger.Info("state transition",
		zap.String("session", c.sess.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	if c.OnTransition != nil {
		c.OnTransition(c.sess.ID, from, to)
	}
	return nil
}

// Package workflow holds the per-run session: pipeline state, artifact
// slots, retained step outputs, and the forensic event log.
package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reportforge/reportforge/internal/artifact"
)

// Stage names the producer call behind each pipeline stage. Recorded on
// failure so retry re-enters the same stage.
type Stage string

const (
	StageAnalyzeTarget       Stage = "analyze_target"
	StageResolveSources      Stage = "resolve_sources"
	StageExploreCapabilities Stage = "explore_capabilities"
	StageSynthesizePlan      Stage = "synthesize_plan"
	StageExecutePlan         Stage = "execute_plan"
)

// ArtifactKind maps a stage to the artifact it produces.
func (s Stage) ArtifactKind() artifact.Kind {
	switch s {
	case StageAnalyzeTarget:
		return artifact.KindTargetAnalysis
	case StageResolveSources:
		return artifact.KindSourceMapping
	case StageExploreCapabilities:
		return artifact.KindCapabilitySet
	case StageSynthesizePlan:
		return artifact.KindBuildPlan
	case StageExecutePlan:
		return artifact.KindExecutionResult
	}
	return ""
}

// FileRef is an uploaded file plus its content fingerprint.
type FileRef struct {
	Path        string               `json:"path"`
	Fingerprint artifact.Fingerprint `json:"fingerprint"`
}

// slot holds a stage's artifact. Invalidation marks it stale without
// deleting the artifact; a stale slot must be regenerated before reuse.
type slot struct {
	art   *artifact.Artifact
	stale bool
}

// Session is one user-initiated workflow run. In-memory only: cancel or
// start-over discards it. The artifact cache and skillset registry live
// outside and survive it.
type Session struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	mu            sync.Mutex
	state         State
	target        *FileRef
	sources       []FileRef
	skillsetID    string
	slots         map[artifact.Kind]*slot
	stepOutputs   map[int]string
	suspendedStep int
	failedStage   Stage

	seq    uint64
	events []Event
}

// NewSession creates an idle session.
func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:          uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
		state:       StateIdle,
		slots:       make(map[artifact.Kind]*slot),
		stepOutputs: make(map[int]string),
	}
}

// State returns the current pipeline state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetTarget records the uploaded target file.
func (s *Session) SetTarget(ref FileRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = &ref
	s.UpdatedAt = time.Now()
}

// Target returns the uploaded target file, if any.
func (s *Session) Target() (FileRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return FileRef{}, false
	}
	return *s.target, true
}

// SetSources replaces the source file set.
func (s *Session) SetSources(refs []FileRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append([]FileRef(nil), refs...)
	s.UpdatedAt = time.Now()
}

// Sources returns the source file set.
func (s *Session) Sources() []FileRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FileRef(nil), s.sources...)
}

// SelectSkillset records the chosen skillset ID ("" clears it).
func (s *Session) SelectSkillset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skillsetID = id
}

// SkillsetID returns the selected skillset ID.
func (s *Session) SkillsetID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skillsetID
}

// SetArtifact stores a freshly produced or cache-served artifact in its
// stage slot, clearing any staleness mark.
func (s *Session) SetArtifact(a *artifact.Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[a.Kind] = &slot{art: a}
	s.UpdatedAt = time.Now()
}

// Artifact returns the artifact in a slot if present and not stale.
func (s *Session) Artifact(kind artifact.Kind) (*artifact.Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[kind]
	if !ok || sl.stale || sl.art == nil {
		return nil, false
	}
	return sl.art, true
}

// Stale reports whether a slot holds an invalidated artifact.
func (s *Session) Stale(kind artifact.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[kind]
	return ok && sl.stale
}

// MarkStale invalidates slots without deleting their artifacts.
func (s *Session) MarkStale(kinds ...artifact.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range kinds {
		if sl, ok := s.slots[kind]; ok && sl.art != nil {
			sl.stale = true
		}
	}
}

// SetStepOutput retains a completed plan step's output for the session
// lifetime so a resumed execution does not redo the step.
func (s *Session) SetStepOutput(index int, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepOutputs[index] = output
}

// StepOutputs returns a copy of retained step outputs.
func (s *Session) StepOutputs() map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]string, len(s.stepOutputs))
	for k, v := range s.stepOutputs {
		out[k] = v
	}
	return out
}

// ClearStepOutputs drops retained outputs (fresh execution run).
func (s *Session) ClearStepOutputs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepOutputs = make(map[int]string)
	s.suspendedStep = 0
}

// SetSuspendedStep records where execution suspended.
func (s *Session) SetSuspendedStep(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspendedStep = index
}

// SuspendedStep returns the step index execution suspended at (0 if none).
func (s *Session) SuspendedStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspendedStep
}

// SetFailedStage records which stage caused a failure.
func (s *Session) SetFailedStage(stage Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedStage = stage
}

// FailedStage returns the stage recorded at failure time.
func (s *Session) FailedStage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedStage
}

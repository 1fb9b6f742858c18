package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/reportforge/reportforge/internal/artifact"
	"github.com/reportforge/reportforge/internal/credential"
	"github.com/reportforge/reportforge/internal/plan"
	"github.com/reportforge/reportforge/internal/producer"
	"github.com/reportforge/reportforge/internal/workflow"
)

// automatedPlan is a four step plan with no manual work, for executor tests
// that need to reach the end.
func automatedPlan() *artifact.BuildPlan {
	return &artifact.BuildPlan{
		Strategy: "spreadsheet",
		Steps: []plan.Step{
			{Index: 1, ActionType: "LOAD_EXCEL_FILE", Action: "load sales.xlsx"},
			{Index: 2, ActionType: "NAVIGATE_WEBSITE", Action: "open the sales portal"},
			{Index: 3, ActionType: "EXTRACT_TABLE", Action: "pull region totals"},
			{Index: 4, ActionType: "ASSEMBLE_REPORT", Action: "fill the template"},
		},
	}
}

func (f *fixture) synthesize(t *testing.T) {
	t.Helper()
	f.upload(t)
	f.analyzeAndResolve(t)
	if err := f.ctrl.SynthesizePlan(context.Background(), false); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
}

func TestExecute_SuspendAndResume(t *testing.T) {
	f := newFixture(t)
	f.synthesizer.Plan = automatedPlan()
	f.executor.SuspendAt = 2
	f.executor.Password = "s3cret"
	f.synthesize(t)
	ctx := context.Background()

	if err := f.ctrl.ExecutePlan(ctx); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := f.ctrl.Session().State(); got != workflow.StateExecutionSuspended {
		t.Fatalf("expected suspension, got %s", got)
	}
	if got := f.ctrl.Session().SuspendedStep(); got != 2 {
		t.Errorf("suspended step = %d, want 2", got)
	}
	if _, ok := f.ctrl.Credentials().Outstanding(ExecutionTarget); !ok {
		t.Fatal("expected an execution credential request")
	}
	// Step 1 completed before the suspension and its output is retained.
	if out := f.ctrl.Session().StepOutputs(); out[1] == "" {
		t.Error("completed step output should be retained across suspension")
	}

	err := f.ctrl.SupplyCredentials(ctx, ExecutionTarget,
		credential.Values{"username": "pat", "password": "s3cret"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := f.ctrl.Session().State(); got != workflow.StateCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	if f.executor.Calls() != 2 {
		t.Errorf("executor called %d times, want 2", f.executor.Calls())
	}

	art, ok := f.ctrl.Session().Artifact(artifact.KindExecutionResult)
	if !ok {
		t.Fatal("execution result missing")
	}
	res := art.Execution
	if !res.Success || res.CompletedSteps != 4 {
		t.Errorf("expected full success 4/4, got success=%t %d/%d",
			res.Success, res.CompletedSteps, res.TotalSteps)
	}
	// The merged report covers every step, including the pre-suspension one.
	if len(res.StepResults) != 4 {
		t.Fatalf("merged results have %d entries, want 4", len(res.StepResults))
	}
	for i, sr := range res.StepResults {
		if sr.Index != i+1 {
			t.Errorf("result %d has index %d, want %d", i, sr.Index, i+1)
		}
	}
}

func TestExecute_BadCredentialsStaySuspended(t *testing.T) {
	f := newFixture(t)
	f.synthesizer.Plan = automatedPlan()
	f.executor.SuspendAt = 3
	f.executor.Password = "s3cret"
	f.synthesize(t)
	ctx := context.Background()

	if err := f.ctrl.ExecutePlan(ctx); err != nil {
		t.Fatal(err)
	}

	err := f.ctrl.SupplyCredentials(ctx, ExecutionTarget,
		credential.Values{"username": "pat", "password": "wrong"})
	if !errors.Is(err, producer.ErrAuthentication) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if got := f.ctrl.Session().State(); got != workflow.StateExecutionSuspended {
		t.Errorf("bad credentials should return to suspension, got %s", got)
	}
	req, ok := f.ctrl.Credentials().Outstanding(ExecutionTarget)
	if !ok {
		t.Fatal("request should be reinstated")
	}
	if len(req.Fields) == 0 {
		t.Error("reinstated request lost its field list")
	}

	err = f.ctrl.SupplyCredentials(ctx, ExecutionTarget,
		credential.Values{"username": "pat", "password": "s3cret"})
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if got := f.ctrl.Session().State(); got != workflow.StateCompleted {
		t.Errorf("expected completed, got %s", got)
	}
}

func TestExecute_StepFailureReportedNotRolledBack(t *testing.T) {
	f := newFixture(t)
	f.synthesizer.Plan = automatedPlan()
	f.executor.FailAt = 3
	f.synthesize(t)
	ctx := context.Background()

	if err := f.ctrl.ExecutePlan(ctx); err != nil {
		t.Fatal(err)
	}
	// A failing step is a result, not a pipeline failure.
	if got := f.ctrl.Session().State(); got != workflow.StateCompleted {
		t.Fatalf("expected completed, got %s", got)
	}

	art, _ := f.ctrl.Session().Artifact(artifact.KindExecutionResult)
	res := art.Execution
	if res.Success {
		t.Error("run with a failed step must not report success")
	}
	if res.CompletedSteps != 2 {
		t.Errorf("completed steps = %d, want 2", res.CompletedSteps)
	}
	var failed *artifact.StepResult
	for i := range res.StepResults {
		if res.StepResults[i].Index == 3 {
			failed = &res.StepResults[i]
		}
	}
	if failed == nil || failed.Success || failed.Error == "" {
		t.Errorf("step 3 failure should be reported per step, got %+v", failed)
	}
	// Earlier steps keep their results.
	if res.StepResults[0].Index != 1 || !res.StepResults[0].Success {
		t.Errorf("completed steps before the failure must be preserved: %+v", res.StepResults[0])
	}
}

func TestExecute_RequiresFreshPlan(t *testing.T) {
	f := newFixture(t)
	f.synthesizer.Plan = automatedPlan()
	f.synthesize(t)
	ctx := context.Background()

	// Upstream regeneration marks the plan stale.
	if err := f.ctrl.Regenerate(ctx, workflow.StageResolveSources); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.ExecutePlan(ctx); err == nil {
		t.Error("a stale plan must not execute")
	}

	if err := f.ctrl.SynthesizePlan(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.ExecutePlan(ctx); err != nil {
		t.Errorf("execution after re-synthesis: %v", err)
	}
}

func TestExecute_AuthErrorWithoutResumeCredentialsFailsStage(t *testing.T) {
	f := newFixture(t)
	f.synthesizer.Plan = automatedPlan()
	f.executor.Err = fmt.Errorf("session cookie expired: %w", producer.ErrAuthentication)
	f.synthesize(t)

	err := f.ctrl.ExecutePlan(context.Background())
	if err == nil {
		t.Fatal("executor auth error must surface")
	}
	// No credentials were supplied, so this is a stage failure with retry,
	// not a suspension signal.
	if got := f.ctrl.Session().State(); got != workflow.StateFailed {
		t.Errorf("expected failed, got %s", got)
	}
	var failure *producer.Failure
	if !errors.As(err, &failure) {
		t.Errorf("expected a stage failure, got %v", err)
	}
	if _, ok := f.ctrl.Credentials().Outstanding(ExecutionTarget); ok {
		t.Error("no credential request should be opened for a first-call auth error")
	}

	f.executor.Err = nil
	if err := f.ctrl.Retry(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestExecute_ProducerErrorFailsStage(t *testing.T) {
	f := newFixture(t)
	f.synthesizer.Plan = automatedPlan()
	f.executor.Err = errors.New("runner crashed")
	f.synthesize(t)

	err := f.ctrl.ExecutePlan(context.Background())
	if err == nil {
		t.Fatal("executor error must surface")
	}
	if f.ctrl.Session().State() != workflow.StateFailed {
		t.Errorf("expected failed, got %s", f.ctrl.Session().State())
	}
	if f.ctrl.Session().FailedStage() != workflow.StageExecutePlan {
		t.Errorf("failure should name the executing stage, got %s", f.ctrl.Session().FailedStage())
	}

	f.executor.Err = nil
	if err := f.ctrl.Retry(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.ctrl.Session().State() != workflow.StateCompleted {
		t.Errorf("retry should complete the run, got %s", f.ctrl.Session().State())
	}
}

package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/reportforge/reportforge/internal/artifact"
	"github.com/reportforge/reportforge/internal/credential"
	"github.com/reportforge/reportforge/internal/producer"
	"github.com/reportforge/reportforge/internal/telemetry"
	"github.com/reportforge/reportforge/internal/workflow"
)

// ExecutePlan runs the synthesized plan from the first step. Automatable
// steps run without pausing; a step raising a credential need suspends
// execution exactly like capability exploration. Partial failure is
// reported per step, never rolled back.
func (c *Controller) ExecutePlan(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	planArt, ok := c.sess.Artifact(artifact.KindBuildPlan)
	if !ok {
		if c.sess.Stale(artifact.KindBuildPlan) {
			return fmt.Errorf("build plan is stale after upstream regeneration; regenerate it before executing")
		}
		return fmt.Errorf("no build plan to execute")
	}
	if err := c.enterStage(workflow.StageExecutePlan, workflow.StateExecuting); err != nil {
		return err
	}

	c.sess.ClearStepOutputs()
	return c.runExecutor(ctx, planArt, producer.ExecutionInput{
		Plan:         planArt.Plan,
		StartAt:      0,
		PriorOutputs: nil,
	})
}

// resumeExecution re-invokes the executor from the suspended step, reusing
// retained outputs of completed steps. Called with the controller lock held.
func (c *Controller) resumeExecution(ctx context.Context, req *credential.Request, values credential.Values) error {
	if c.sess.State() != workflow.StateExecutionSuspended {
		return fmt.Errorf("no suspended execution to resume (state %s)", c.sess.State())
	}
	planArt, ok := c.sess.Artifact(artifact.KindBuildPlan)
	if !ok {
		return fmt.Errorf("build plan missing for suspended execution")
	}

	suspended := c.sess.SuspendedStep()
	if suspended == 0 {
		return fmt.Errorf("no suspension point recorded")
	}

	rctx, span := telemetry.StartResumeSpan(ctx, ExecutionTarget)
	defer span.End()

	if err := c.transition(workflow.StateExecuting); err != nil {
		return err
	}
	err := c.runExecutor(rctx, planArt, producer.ExecutionInput{
		Plan:         planArt.Plan,
		StartAt:      suspended - 1,
		PriorOutputs: c.sess.StepOutputs(),
		Credentials:  values,
	})
	if err != nil && errors.Is(err, producer.ErrAuthentication) {
		// Bad credentials: back to suspended, fields preserved, values
		// re-requested.
		c.creds.Reopen(req)
		if terr := c.transition(workflow.StateExecutionSuspended); terr != nil {
			return terr
		}
		c.sess.AppendEvent(workflow.Event{
			Type:    workflow.EventSuspension,
			Stage:   string(workflow.StageExecutePlan),
			Message: "authentication failed; credentials re-requested",
		})
		return err
	}
	return err
}

// runExecutor invokes the plan executor once and interprets the outcome:
// suspension, partial completion, or full success.
func (c *Controller) runExecutor(ctx context.Context, planArt *artifact.Artifact, input producer.ExecutionInput) error {
	outcome, err := c.producers.Executor.ExecutePlan(ctx, input)
	if err != nil {
		// An auth error is only a resume signal when credentials were
		// actually supplied; on a first call it is a producer failure like
		// any other, so the session cannot wedge in executing.
		if errors.Is(err, producer.ErrAuthentication) && len(input.Credentials) > 0 {
			return err
		}
		return c.fail(workflow.StageExecutePlan,
			producer.NewFailure(string(workflow.StageExecutePlan), err))
	}

	// Retain completed step outputs for the session so a resume does not
	// redo work.
	for _, sr := range outcome.Result.StepResults {
		if sr.Success {
			c.sess.SetStepOutput(sr.Index, sr.Output)
		}
	}

	if outcome.Suspended {
		c.sess.SetSuspendedStep(outcome.SuspendedAt)
		req := c.creds.Open(ExecutionTarget, outcome.LoginFields)
		c.sess.AppendEvent(workflow.Event{
			Type:    workflow.EventSuspension,
			Stage:   string(workflow.StageExecutePlan),
			Message: fmt.Sprintf("execution suspended at step %d", outcome.SuspendedAt),
			Fields:  map[string]string{"request": req.ID},
		})
		return c.transition(workflow.StateExecutionSuspended)
	}

	result := c.mergeResult(outcome.Result)
	fp := artifact.Compute(artifact.KindExecutionResult, string(planArt.Fingerprint))
	art, aerr := artifact.New(fp, result)
	if aerr != nil {
		return c.fail(workflow.StageExecutePlan,
			producer.NewFailure(string(workflow.StageExecutePlan), aerr))
	}
	c.sess.SetArtifact(art)
	if cerr := c.cache.Put(artifact.KindExecutionResult, fp, art); cerr != nil {
		return c.fail(workflow.StageExecutePlan,
			producer.NewFailure(string(workflow.StageExecutePlan), cerr))
	}
	return c.transition(workflow.StateCompleted)
}

// mergeResult folds retained outputs of previously completed steps into the
// final report, so resumed runs present the whole plan's results.
func (c *Controller) mergeResult(res *artifact.ExecutionResult) *artifact.ExecutionResult {
	seen := make(map[int]bool, len(res.StepResults))
	for _, sr := range res.StepResults {
		seen[sr.Index] = true
	}

	merged := *res
	for index, output := range c.sess.StepOutputs() {
		if !seen[index] {
			merged.StepResults = append(merged.StepResults, artifact.StepResult{
				Index:   index,
				Success: true,
				Output:  output,
			})
		}
	}
	sort.Slice(merged.StepResults, func(i, j int) bool {
		return merged.StepResults[i].Index < merged.StepResults[j].Index
	})
	return &merged
}

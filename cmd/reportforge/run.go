// Package main implements the run command: one full pipeline pass.
package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/reportforge/reportforge/internal/artifact"
	"github.com/reportforge/reportforge/internal/credential"
	"github.com/reportforge/reportforge/internal/producer"
)

// Run drives the pipeline from target analysis through plan execution,
// printing a stage summary as it goes. A credential suspension stops the
// run with instructions; resume happens over the command queue (serve).
func (r *RunCmd) Run() error {
	rt, err := newRuntime(r.Config)
	if err != nil {
		return err
	}
	defer rt.close()
	defer rt.saveSession()

	ctx := context.Background()

	if err := rt.ctrl.UploadTarget(r.Target); err != nil {
		return fmt.Errorf("uploading target: %w", err)
	}
	if len(r.Source) > 0 {
		if err := rt.ctrl.AddSources(r.Source...); err != nil {
			return fmt.Errorf("adding sources: %w", err)
		}
	}

	if err := rt.ctrl.AnalyzeTarget(ctx, r.Force); err != nil {
		return err
	}
	printAnalysis(rt)

	if len(r.Source) > 0 {
		if err := rt.ctrl.ResolveSources(ctx, r.Force); err != nil {
			return err
		}
		printResolutions(rt)
	}

	if r.Skillset != "" {
		if err := rt.ctrl.SelectSkillset(r.Skillset); err != nil {
			return err
		}
	} else if len(r.Site) > 0 {
		if rt.cfg.Engine.SkipExploration {
			fmt.Println("site exploration is disabled by config; skipping requested sites")
		} else {
			if err := r.explore(ctx, rt); err != nil {
				return err
			}
			if rt.ctrl.Session().State().Suspended() {
				printSuspension(rt)
				return nil
			}
		}
	}

	if err := rt.ctrl.SynthesizePlan(ctx, r.Force); err != nil {
		return err
	}
	printPlan(rt)

	if err := rt.ctrl.ExecutePlan(ctx); err != nil {
		return err
	}
	if rt.ctrl.Session().State().Suspended() {
		printSuspension(rt)
		return nil
	}
	printResult(rt)
	return nil
}

// explore fans out over the requested sites. The built-in explorer is
// seeded with a permissive script per site so demo runs succeed.
func (r *RunCmd) explore(ctx context.Context, rt *runtime) error {
	sites := make([]producer.SiteRequest, 0, len(r.Site))
	for _, raw := range r.Site {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" {
			return fmt.Errorf("invalid site URL %q", raw)
		}
		rt.explorer.Sites[raw] = producer.SiteScript{
			SiteName:     parsed.Host,
			Capabilities: []string{"navigate", "download data"},
			Confidence:   "medium",
		}
		sites = append(sites, producer.SiteRequest{URL: raw})
	}
	return rt.ctrl.ExploreCapabilities(ctx, sites)
}

func printAnalysis(rt *runtime) {
	art, ok := rt.ctrl.Session().Artifact(artifact.KindTargetAnalysis)
	if !ok {
		return
	}
	fmt.Printf("Target: %s (%s)%s\n", art.Target.ReportName, art.Target.Format, cacheTag(art))
	fmt.Printf("  fields: %s\n", strings.Join(art.Target.Fields, ", "))
}

func printResolutions(rt *runtime) {
	unresolved := rt.ctrl.Ledger().Unresolved()
	if len(unresolved) == 0 {
		return
	}
	fmt.Println("Needs confirmation:")
	for _, term := range unresolved {
		fmt.Printf("  %s = %q (%s confidence, found in %s)\n",
			term.Term, term.Answer, term.Confidence, term.FoundIn)
	}
	fmt.Println("  confirm or correct these over the command queue before trusting the plan")
}

func printPlan(rt *runtime) {
	art, ok := rt.ctrl.Session().Artifact(artifact.KindBuildPlan)
	if !ok {
		return
	}
	fmt.Printf("Plan (%d steps)%s\n", len(art.Plan.Steps), cacheTag(art))
	for _, step := range art.Plan.Steps {
		marker := "auto"
		if !step.Automatable {
			marker = "manual"
		}
		fmt.Printf("  %2d. [%s] %s\n", step.Index, marker, step.Action)
	}
}

func printResult(rt *runtime) {
	art, ok := rt.ctrl.Session().Artifact(artifact.KindExecutionResult)
	if !ok {
		return
	}
	res := art.Execution
	fmt.Printf("Executed %d/%d steps\n", res.CompletedSteps, res.TotalSteps)
	if res.Note != "" {
		fmt.Printf("  %s\n", res.Note)
	}
	if res.OutputArtifact != "" {
		fmt.Printf("  output: %s\n", res.OutputArtifact)
	}
}

func printSuspension(rt *runtime) {
	fmt.Println(suspensionNotice(rt.ctrl.Credentials().List()))
}

// suspensionNotice renders the outstanding credential requests. A run
// session lives only as long as this process, so resume is only possible
// when the whole pipeline is driven through a served engine.
func suspensionNotice(reqs []*credential.Request) string {
	var b strings.Builder
	b.WriteString("Suspended waiting for credentials:\n")
	for _, req := range reqs {
		names := make([]string, len(req.Fields))
		for i, f := range req.Fields {
			names[i] = f.Name
		}
		fmt.Fprintf(&b, "  %s needs %s (request %s)\n", req.TargetID, strings.Join(names, ", "), req.ID)
	}
	b.WriteString("this session ends with the process; to supply credentials, drive the pipeline through 'reportforge serve' and its command queue")
	return b.String()
}

func cacheTag(art *artifact.Artifact) string {
	if art.FromCache {
		return " [cached]"
	}
	return ""
}

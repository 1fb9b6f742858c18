package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reportforge/reportforge/internal/artifact"
	"github.com/reportforge/reportforge/internal/credential"
	"github.com/reportforge/reportforge/internal/producer"
	"github.com/reportforge/reportforge/internal/workflow"
)

const (
	siteOpen   = "https://data.example.com"
	sitePortal = "https://portal.example.com"
	siteStats  = "https://stats.example.com"
)

func (f *fixture) scriptSites() {
	f.explorer.Sites = map[string]producer.SiteScript{
		siteOpen: {
			SiteName:     "Open Data",
			Capabilities: []string{"download quarterly CSV"},
			Confidence:   "high",
		},
		sitePortal: {
			SiteName:     "Sales Portal",
			Capabilities: []string{"export region totals"},
			Confidence:   "medium",
			NeedsLogin:   true,
			Password:     "s3cret",
		},
		siteStats: {
			SiteName:     "Stats Hub",
			Capabilities: []string{"list published periods"},
			Confidence:   "high",
		},
	}
}

func (f *fixture) explore(t *testing.T, urls ...string) error {
	t.Helper()
	f.upload(t)
	f.analyzeAndResolve(t)
	sites := make([]producer.SiteRequest, len(urls))
	for i, url := range urls {
		sites[i] = producer.SiteRequest{URL: url}
	}
	return f.ctrl.ExploreCapabilities(context.Background(), sites)
}

func TestExplore_OneLoginDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	f.scriptSites()
	if err := f.explore(t, siteOpen, sitePortal, siteStats); err != nil {
		t.Fatalf("explore: %v", err)
	}

	if got := f.ctrl.Session().State(); got != workflow.StateCapabilitiesSuspended {
		t.Fatalf("expected suspension, got %s", got)
	}

	// The two open sites completed; the portal opened one credential request.
	art, ok := f.ctrl.Session().Artifact(artifact.KindCapabilitySet)
	if !ok {
		t.Fatal("capability set missing")
	}
	if !art.Capabilities.Partial || len(art.Capabilities.Sites) != 2 {
		t.Errorf("expected partial set with 2 sites, got partial=%t sites=%d",
			art.Capabilities.Partial, len(art.Capabilities.Sites))
	}
	req, ok := f.ctrl.Credentials().Outstanding(sitePortal)
	if !ok {
		t.Fatal("expected a credential request for the portal")
	}
	if len(req.Fields) != 2 {
		t.Errorf("expected the discovered field list, got %v", req.Fields)
	}

	// A partial aggregate is session-only, never cached.
	if _, err := f.cache.Get(artifact.KindCapabilitySet, art.Fingerprint); err == nil {
		t.Error("partial capability set must not be cached")
	}

	err := f.ctrl.SupplyCredentials(context.Background(), sitePortal,
		credential.Values{"username": "pat", "password": "s3cret"})
	if err != nil {
		t.Fatalf("supply credentials: %v", err)
	}
	if got := f.ctrl.Session().State(); got != workflow.StateCapabilitiesReady {
		t.Fatalf("expected capabilities_ready, got %s", got)
	}

	// Resume touched only the suspended site.
	for _, url := range []string{siteOpen, siteStats} {
		if n := f.explorer.ExploreCalls(url); n != 1 {
			t.Errorf("site %s explored %d times, want 1", url, n)
		}
		if n := f.explorer.ResumeCalls(url); n != 0 {
			t.Errorf("site %s resumed %d times, want 0", url, n)
		}
	}
	if n := f.explorer.ResumeCalls(sitePortal); n != 1 {
		t.Errorf("portal resumed %d times, want 1", n)
	}

	art, _ = f.ctrl.Session().Artifact(artifact.KindCapabilitySet)
	if art.Capabilities.Partial || len(art.Capabilities.Sites) != 3 {
		t.Errorf("expected complete set with 3 sites, got partial=%t sites=%d",
			art.Capabilities.Partial, len(art.Capabilities.Sites))
	}
	// Complete aggregates are cached for future runs.
	if _, err := f.cache.Get(artifact.KindCapabilitySet, art.Fingerprint); err != nil {
		t.Errorf("complete capability set should be cached: %v", err)
	}

	// The registry remembers the login.
	sk, ok := f.registry.Get(sitePortal)
	if !ok || !sk.HasStoredCredentials {
		t.Error("registry should record stored credentials for the portal")
	}
}

func TestExplore_InvalidCredentialsPreserveFields(t *testing.T) {
	f := newFixture(t)
	f.scriptSites()
	if err := f.explore(t, sitePortal); err != nil {
		t.Fatal(err)
	}

	err := f.ctrl.SupplyCredentials(context.Background(), sitePortal,
		credential.Values{"username": "pat", "password": "wrong"})
	if !errors.Is(err, producer.ErrAuthentication) {
		t.Fatalf("expected an authentication failure, got %v", err)
	}
	if got := f.ctrl.Session().State(); got != workflow.StateCapabilitiesSuspended {
		t.Errorf("auth failure must stay suspended, got %s", got)
	}

	// The discovered field list survives the failed attempt.
	req, ok := f.ctrl.Credentials().Outstanding(sitePortal)
	if !ok {
		t.Fatal("request should be reinstated after a bad login")
	}
	if len(req.Fields) != 2 {
		t.Errorf("reinstated request lost its fields: %v", req.Fields)
	}

	// The second attempt with correct values succeeds.
	err = f.ctrl.SupplyCredentials(context.Background(), sitePortal,
		credential.Values{"username": "pat", "password": "s3cret"})
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if got := f.ctrl.Session().State(); got != workflow.StateCapabilitiesReady {
		t.Errorf("expected capabilities_ready, got %s", got)
	}
}

func TestExplore_AllSitesFailing(t *testing.T) {
	f := newFixture(t)
	f.explorer.Sites = map[string]producer.SiteScript{
		siteOpen:  {Err: errors.New("connection refused")},
		siteStats: {Err: errors.New("certificate expired")},
	}

	err := f.explore(t, siteOpen, siteStats)
	if err == nil {
		t.Fatal("exploration with no findings must fail")
	}
	if f.ctrl.Session().State() != workflow.StateFailed {
		t.Errorf("expected failed state, got %s", f.ctrl.Session().State())
	}
	if f.ctrl.Session().FailedStage() != workflow.StageExploreCapabilities {
		t.Errorf("failure should name the exploring stage, got %s", f.ctrl.Session().FailedStage())
	}
}

func TestExplore_Disabled(t *testing.T) {
	f := newFixture(t)
	f.scriptSites()
	f.ctrl.SkipExploration = true

	err := f.explore(t, siteOpen)
	if err == nil {
		t.Fatal("exploration must be refused when disabled")
	}
	if got := f.ctrl.Session().State(); got != workflow.StateSourcesReady {
		t.Errorf("refusal must not move the session, got %s", got)
	}

	// Synthesis from sources still works.
	if err := f.ctrl.SynthesizePlan(context.Background(), false); err != nil {
		t.Errorf("synthesis with exploration disabled: %v", err)
	}
}

// gaugedExplorer records the peak number of concurrent ExploreSite calls.
type gaugedExplorer struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (g *gaugedExplorer) ExploreSite(_ context.Context, site producer.SiteRequest) (*producer.ExplorationFinding, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	g.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
	return &producer.ExplorationFinding{
		URL:          site.URL,
		SiteName:     "gauged",
		Success:      true,
		Capabilities: []string{"navigate"},
	}, nil
}

func (g *gaugedExplorer) ResumeSite(context.Context, producer.SiteRequest, []credential.Field, credential.Values) (*producer.ExplorationFinding, error) {
	return nil, errors.New("not scripted")
}

func TestExplore_BoundedFanOut(t *testing.T) {
	f := newFixture(t)
	gauge := &gaugedExplorer{}
	ctrl := New(f.cache, f.registry, Producers{
		Analyzer:    f.analyzer,
		Resolver:    f.resolver,
		Explorer:    gauge,
		Synthesizer: f.synthesizer,
		Executor:    f.executor,
	}, nil)
	ctrl.MaxConcurrentSites = 1

	if err := ctrl.UploadTarget(f.targetPath); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := ctrl.AnalyzeTarget(ctx, false); err != nil {
		t.Fatal(err)
	}

	err := ctrl.ExploreCapabilities(ctx, []producer.SiteRequest{
		{URL: siteOpen}, {URL: sitePortal}, {URL: siteStats},
	})
	if err != nil {
		t.Fatalf("explore: %v", err)
	}
	if gauge.peak > 1 {
		t.Errorf("peak concurrency %d exceeds the configured bound of 1", gauge.peak)
	}
	if got := ctrl.Session().State(); got != workflow.StateCapabilitiesReady {
		t.Errorf("expected capabilities_ready, got %s", got)
	}
}

func TestExplore_RegenerateReusesSiteList(t *testing.T) {
	f := newFixture(t)
	f.scriptSites()
	if err := f.explore(t, siteOpen, siteStats); err != nil {
		t.Fatal(err)
	}
	if got := f.ctrl.Session().State(); got != workflow.StateCapabilitiesReady {
		t.Fatalf("expected capabilities_ready, got %s", got)
	}

	if err := f.ctrl.Regenerate(context.Background(), workflow.StageExploreCapabilities); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	for _, url := range []string{siteOpen, siteStats} {
		if n := f.explorer.ExploreCalls(url); n != 2 {
			t.Errorf("site %s explored %d times after regenerate, want 2", url, n)
		}
	}
}

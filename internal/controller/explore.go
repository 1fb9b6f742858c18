package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reportforge/reportforge/internal/artifact"
	"github.com/reportforge/reportforge/internal/credential"
	"github.com/reportforge/reportforge/internal/producer"
	"github.com/reportforge/reportforge/internal/telemetry"
	"github.com/reportforge/reportforge/internal/workflow"
)

// ExploreCapabilities fans out over candidate sites as independent
// concurrent tasks. A site needing login does not block the others: its
// credential request is opened and the aggregate becomes a partial success
// as long as at least one site completed. Successful findings land in the
// skillset registry immediately.
//
// Credentials, when supplied, are a snapshot injected at this call boundary
// and are not retained.
func (c *Controller) ExploreCapabilities(ctx context.Context, sites []producer.SiteRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SkipExploration {
		return fmt.Errorf("site exploration is disabled")
	}
	if len(sites) == 0 {
		return fmt.Errorf("no sites to explore")
	}
	if err := c.enterStage(workflow.StageExploreCapabilities, workflow.StateExploringCapabilities); err != nil {
		return err
	}

	urls := make([]string, len(sites))
	for i, site := range sites {
		urls[i] = site.URL
	}
	c.lastSiteURLs = urls
	c.pendingSites = make(map[string][]credential.Field)
	c.findings = make(map[string]artifact.SiteCapabilities)

	var (
		resMu    sync.Mutex
		failures []error
	)

	g, gctx := errgroup.WithContext(ctx)
	if c.MaxConcurrentSites > 0 {
		g.SetLimit(c.MaxConcurrentSites)
	}
	for _, site := range sites {
		site := site
		g.Go(func() error {
			sctx, span := telemetry.StartSiteSpan(gctx, site.URL)
			finding, err := c.producers.Explorer.ExploreSite(sctx, site)
			span.End()

			resMu.Lock()
			defer resMu.Unlock()
			switch {
			case err != nil:
				failures = append(failures, fmt.Errorf("site %s: %w", site.URL, err))
			case finding.NeedsLogin:
				// Partial discovery: keep the field list so resume supplies
				// values only.
				c.pendingSites[site.URL] = finding.LoginFields
			default:
				c.recordFinding(finding)
			}
			// Per-site outcomes never cancel sibling tasks.
			return nil
		})
	}
	_ = g.Wait()

	for url := range c.pendingSites {
		req := c.creds.Open(url, c.pendingSites[url])
		c.sess.AppendEvent(workflow.Event{
			Type:    workflow.EventSuspension,
			Stage:   string(workflow.StageExploreCapabilities),
			Message: "site needs credentials",
			Fields:  map[string]string{"site": url, "request": req.ID},
		})
	}

	if len(c.findings) == 0 && len(c.pendingSites) == 0 {
		err := errors.Join(failures...)
		if err == nil {
			err = fmt.Errorf("no site produced a finding")
		}
		return c.fail(workflow.StageExploreCapabilities, producer.NewFailure(string(workflow.StageExploreCapabilities), err))
	}

	for _, ferr := range failures {
		c.logger.Warn("site exploration failed", zap.Error(ferr))
	}

	c.storeCapabilitySet()
	if len(c.pendingSites) > 0 {
		return c.transition(workflow.StateCapabilitiesSuspended)
	}
	return c.transition(workflow.StateCapabilitiesReady)
}

// reExplore repeats exploration over the previously requested site list.
// Used by Regenerate and Retry; stored skillset credentials are not echoed
// back, only the site list is reused.
func (c *Controller) reExplore(ctx context.Context) error {
	c.mu.Lock()
	urls := append([]string(nil), c.lastSiteURLs...)
	c.mu.Unlock()

	if len(urls) == 0 {
		return fmt.Errorf("no prior exploration to repeat")
	}
	sites := make([]producer.SiteRequest, len(urls))
	for i, url := range urls {
		sites[i] = producer.SiteRequest{URL: url}
	}
	return c.ExploreCapabilities(ctx, sites)
}

// SupplyCredentials resumes the suspended producer call identified by
// targetID with user-supplied values. The outstanding request is consumed;
// values are passed into exactly one resume call and wiped afterwards.
// Invalid credentials yield a distinct authentication failure and reinstate
// the request with its discovered fields intact.
func (c *Controller) SupplyCredentials(ctx context.Context, targetID string, values credential.Values) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer values.Wipe()

	req, err := c.creds.Consume(targetID)
	if err != nil {
		return err
	}

	c.sess.AppendEvent(workflow.Event{
		Type:   workflow.EventResume,
		Fields: map[string]string{"target": targetID, "request": req.ID},
	})

	if targetID == ExecutionTarget {
		return c.resumeExecution(ctx, req, values)
	}
	return c.resumeSite(ctx, req, values)
}

// resumeSite re-invokes a single site's exploration with the original
// parameters plus supplied values. Other suspended sites are unaffected.
func (c *Controller) resumeSite(ctx context.Context, req *credential.Request, values credential.Values) error {
	state := c.sess.State()
	if state != workflow.StateCapabilitiesSuspended {
		return fmt.Errorf("no suspended exploration to resume (state %s)", state)
	}
	if _, pending := c.pendingSites[req.TargetID]; !pending {
		return fmt.Errorf("site %s is not suspended", req.TargetID)
	}

	rctx, span := telemetry.StartResumeSpan(ctx, req.TargetID)
	finding, err := c.producers.Explorer.ResumeSite(rctx,
		producer.SiteRequest{URL: req.TargetID}, req.Fields, values)
	span.End()

	if err != nil {
		if errors.Is(err, producer.ErrAuthentication) {
			// Distinct failure: field list preserved, only values re-requested.
			c.creds.Reopen(req)
			c.sess.AppendEvent(workflow.Event{
				Type:    workflow.EventSuspension,
				Stage:   string(workflow.StageExploreCapabilities),
				Message: "authentication failed; credentials re-requested",
				Fields:  map[string]string{"site": req.TargetID},
			})
			return err
		}
		return c.fail(workflow.StageExploreCapabilities,
			producer.NewFailure(string(workflow.StageExploreCapabilities), err))
	}

	if finding.NeedsLogin {
		c.creds.Reopen(req)
		return fmt.Errorf("site %s still needs credentials: %w", req.TargetID, producer.ErrAuthentication)
	}

	delete(c.pendingSites, req.TargetID)
	c.recordFinding(finding)
	if err := c.registry.MarkCredentialsStored(finding.URL); err != nil {
		c.logger.Warn("marking stored credentials", zap.Error(err))
	}
	c.storeCapabilitySet()

	if len(c.pendingSites) > 0 {
		// Self-loop: other sites remain suspended.
		return c.transition(workflow.StateCapabilitiesSuspended)
	}
	return c.transition(workflow.StateCapabilitiesReady)
}

// recordFinding writes one successful finding into the registry and the
// in-session finding set.
func (c *Controller) recordFinding(finding *producer.ExplorationFinding) {
	if _, err := c.registry.Upsert(finding.URL, finding.SiteName, finding.Capabilities, finding.Confidence); err != nil {
		c.logger.Warn("skillset upsert failed", zap.String("url", finding.URL), zap.Error(err))
	}
	c.findings[finding.URL] = artifact.SiteCapabilities{
		URL:          finding.URL,
		SiteName:     finding.SiteName,
		Capabilities: finding.Capabilities,
		Confidence:   finding.Confidence,
	}
}

// storeCapabilitySet rebuilds the aggregate CapabilitySet artifact from the
// findings completed so far. Fully successful explorations are cached;
// partial aggregates are session-only.
func (c *Controller) storeCapabilitySet() {
	urls := make([]string, 0, len(c.findings))
	for url := range c.findings {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	set := &artifact.CapabilitySet{Partial: len(c.pendingSites) > 0}
	for _, url := range urls {
		set.Sites = append(set.Sites, c.findings[url])
	}

	fp := artifact.ComputeSet(artifact.KindCapabilitySet, nil, c.lastSiteURLs)
	art, err := artifact.New(fp, set)
	if err != nil {
		c.logger.Error("building capability set", zap.Error(err))
		return
	}
	c.adopt(workflow.StageExploreCapabilities, art, true)

	if !set.Partial {
		if err := c.cache.Put(artifact.KindCapabilitySet, fp, art); err != nil {
			c.logger.Warn("caching capability set", zap.Error(err))
		}
	}
}

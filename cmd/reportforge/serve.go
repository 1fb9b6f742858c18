// Package main implements the serve command: the engine behind the NATS
// command queue, with the optional file watcher.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/reportforge/reportforge/internal/bridge"
	"github.com/reportforge/reportforge/internal/watch"
	"github.com/reportforge/reportforge/internal/workflow"
)

// Run starts the bridge and blocks until interrupted.
func (s *ServeCmd) Run() error {
	rt, err := newRuntime(s.Config)
	if err != nil {
		return err
	}
	defer rt.close()
	defer rt.saveSession()

	if !rt.cfg.Queue.Enabled {
		return fmt.Errorf("queue is disabled; enable [queue] in the config to serve")
	}
	url := rt.cfg.Queue.URL
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url, nats.Name("reportforge"))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", url, err)
	}
	defer conn.Drain()

	b := bridge.New(conn, rt.ctrl, rt.cfg.Queue.Subject, rt.logger)
	rt.ctrl.OnTransition = b.PublishTransition
	if err := b.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if rt.cfg.Watch.Enabled {
		watcher, err := watch.New(rt.ctrl, rt.logger)
		if err != nil {
			return err
		}
		defer watcher.Close()
		if paths := rt.ctrl.WatchedFiles(); len(paths) > 0 {
			if err := watcher.Add(paths...); err != nil {
				return err
			}
		}
		go watcher.Run(ctx)
	}

	rt.logger.Info("serving", zap.String("url", url), zap.String("subject", rt.cfg.Queue.Subject))
	<-ctx.Done()
	return nil
}

// Run lists the skillset registry.
func (s *SkillsetsCmd) Run() error {
	rt, err := newRuntime(s.Config)
	if err != nil {
		return err
	}
	defer rt.close()

	skillsets := rt.registry.List()
	if len(skillsets) == 0 {
		fmt.Println("no skillsets stored")
		return nil
	}
	for _, sk := range skillsets {
		creds := ""
		if sk.HasStoredCredentials {
			creds = " [credentials stored]"
		}
		fmt.Printf("%s  %s (%s)%s\n", sk.ID, sk.URL, sk.SiteName, creds)
		for _, cap := range sk.Capabilities {
			fmt.Printf("    - %s\n", cap)
		}
	}
	return nil
}

// Run prints a stored session event log.
func (r *ReplayCmd) Run() error {
	rt, err := newRuntime(r.Config)
	if err != nil {
		return err
	}
	defer rt.close()

	log, err := rt.logs.Load(r.Session)
	if err != nil {
		return fmt.Errorf("loading session %s: %w", r.Session, err)
	}

	fmt.Printf("session %s (created %s)\n", log.ID, log.CreatedAt.Format("2006-01-02 15:04:05"))
	for _, evt := range log.Events {
		line := fmt.Sprintf("%4d  %-14s", evt.Seq, evt.Type)
		if evt.Type == workflow.EventTransition {
			line += fmt.Sprintf("  %s -> %s", evt.From, evt.To)
		}
		if evt.Stage != "" {
			line += fmt.Sprintf("  [%s]", evt.Stage)
		}
		if evt.Message != "" {
			line += "  " + evt.Message
		}
		fmt.Println(line)
	}
	fmt.Printf("final state: %s\n", log.FinalState)
	return nil
}

package core

// scheduler.go runs background maintenance.
//
// The janitor periodically:
//  1. Prunes staged imports older than the staging freshness window
//  2. Forgets workspaces idle for longer than the workspace TTL
//
// It is long-running and context-aware. Failures are logged and retried on
// the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultJanitorInterval is how often the janitor runs.
const DefaultJanitorInterval = 10 * time.Minute

// StartJanitor runs maintenance immediately, then every interval, until ctx
// is cancelled.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	slog.Info("janitor started",
		"interval", interval,
		"staging_max_age", s.cfg.StagingMaxAge,
		"workspace_ttl", s.cfg.WorkspaceTTL,
	)

	s.runJanitor(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("janitor stopped")
			return
		case <-ticker.C:
			s.runJanitor(ctx)
		}
	}
}

// runJanitor performs one maintenance cycle.
func (s *Service) runJanitor(ctx context.Context) {
	start := time.Now()

	if s.cfg.Staging != nil {
		pruned, err := s.cfg.Staging.Prune(ctx, s.cfg.Clock().Add(-s.cfg.StagingMaxAge))
		if err != nil {
			slog.Error("prune staging failed", "error", err)
		} else if pruned > 0 {
			slog.Info("pruned staged imports", "entries_pruned", pruned)
		}
	}

	expired := s.expireWorkspaces()
	if expired > 0 {
		slog.Info("expired idle workspaces", "workspaces_expired", expired)
	}

	slog.Debug("janitor cycle completed", "duration_ms", time.Since(start).Milliseconds())
}

// expireWorkspaces forgets workspaces untouched for longer than the TTL.
// Workspaces with a running import are kept.
func (s *Service) expireWorkspaces() int {
	cutoff := s.cfg.Clock().Add(-s.cfg.WorkspaceTTL)

	s.mu.Lock()
	expired := 0
	for id, ws := range s.workspaces {
		ws.mu.Lock()
		idle := ws.touched.Before(cutoff) && (ws.session == nil || ws.session.finished())
		ws.mu.Unlock()
		if idle {
			delete(s.workspaces, id)
			expired++
		}
	}
	n := len(s.workspaces)
	s.mu.Unlock()

	if expired > 0 {
		s.cfg.Recorder.WorkspacesActive(n)
	}
	return expired
}

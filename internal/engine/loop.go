package engine

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/farmsync-go/internal/agent/config"
	"github.com/yndnr/farmsync-go/internal/core/domain"
	"github.com/yndnr/farmsync-go/internal/telemetry/logger"
)

// Trigger asks the sync loop for a run. It never blocks; requests made
// while one is queued are merged.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// RunSyncLoop syncs on the configured interval, on Trigger, and whenever
// the remote becomes reachable again. A reconnect first revalidates an
// offline session, and an offline session is retried on every probe
// while the remote is up. It returns when ctx is done.
func (e *Engine) RunSyncLoop(ctx context.Context) error {
	syncEvery := e.cfg.Agent.SyncInterval
	if syncEvery <= 0 {
		syncEvery = config.DefaultSyncInterval
	}
	probeEvery := e.cfg.Agent.ProbeInterval
	if probeEvery <= 0 {
		probeEvery = config.DefaultProbeInterval
	}

	syncTicker := time.NewTicker(syncEvery)
	defer syncTicker.Stop()
	probeTicker := time.NewTicker(probeEvery)
	defer probeTicker.Stop()

	e.logger.Info("sync loop started", "sync_interval", syncEvery, "probe_interval", probeEvery)

	online := e.remote.IsOnline(ctx)
	e.runOnce(ctx, "startup", false)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync loop stopped")
			return nil

		case <-syncTicker.C:
			e.runOnce(ctx, "interval", false)

		case <-e.trigger:
			e.runOnce(ctx, "trigger", true)

		case <-probeTicker.C:
			now := e.remote.IsOnline(ctx)
			switch {
			case now && !online:
				e.logger.Info("remote reachable again")
				e.reconnect(ctx)
			case now && e.offlineSession(ctx):
				e.reconnect(ctx)
			case !now && online:
				e.logger.Info("remote unreachable, working offline")
			}
			online = now
		}
	}
}

func (e *Engine) offlineSession(ctx context.Context) bool {
	sess, err := e.auth.CurrentSession(ctx)
	return err == nil && sess.IsOffline
}

func (e *Engine) reconnect(ctx context.Context) {
	err := e.auth.Revalidate(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSessionRevoked):
		// Logout cleared the context.
		if terr := e.restoreTenant(ctx); terr != nil {
			e.logger.Error("failed to restore tenant after revocation", "error", terr)
		}
		return
	case errors.Is(err, domain.ErrNotAuthenticated):
		return
	default:
		e.logger.Warn("session revalidation failed", "error", err)
		return
	}
	e.runOnce(ctx, "reconnect", true)
}

func (e *Engine) runOnce(ctx context.Context, reason string, force bool) {
	if _, err := e.auth.CurrentSession(ctx); err != nil {
		e.logger.Debug("sync skipped, no session", "reason", reason)
		return
	}

	ctx = logger.WithLogger(logger.WithRunID(ctx, ulid.Make().String()), e.logger)
	log := logger.L(ctx)

	report := e.sync.PerformSync(ctx, force)
	attrs := []any{
		"reason", reason,
		"status", report.Status,
		"pending_push", report.PendingPush,
	}
	switch {
	case report.Status == domain.SyncStatusSkipped:
		log.Debug("sync run skipped", append(attrs, "error", report.Err)...)
		return
	case report.Err != nil:
		log.Warn("sync run finished with errors", append(attrs, "error", report.Err)...)
		return
	}
	log.Info("sync run finished", attrs...)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowfarm/flowfarm/internal/apierr"
	"github.com/flowfarm/flowfarm/internal/config"
	"github.com/flowfarm/flowfarm/internal/observability"
	"github.com/flowfarm/flowfarm/internal/session"
	"github.com/flowfarm/flowfarm/internal/transport"
	"github.com/flowfarm/flowfarm/pkg/errutil"
)

func newAgentCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Keep the session alive and expose metrics",
		Long: `Run until interrupted, confirming the session with the server on a fixed
interval. The token is refreshed before it expires. Prometheus metrics are
served on /metrics, and /healthz/readiness reports whether the agent is
signed in.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd, deps)
		},
	}

	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address")
	cmd.Flags().Duration("interval", config.DefaultCheckInterval, "session check interval")

	return cmd
}

func runAgent(cmd *cobra.Command, deps *Deps) error {
	a, err := newApp(cmd, deps)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := observability.NewServer(a.cfg.Agent.MetricsAddr,
		func() bool { return a.coord.State().Authenticated() },
		transport.RegisterMetrics,
		session.RegisterMetrics,
	)
	errCh, err := srv.Start()
	if err != nil {
		return fmt.Errorf("failed to start observability server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			a.logger.Warn("best-effort observability shutdown failed",
				"operation", "stop_observability_server",
				"error", err.Error(),
			)
		}
	}()

	a.logger.Info("agent started",
		"metrics_addr", srv.Addr(),
		"interval", a.cfg.Agent.CheckInterval,
	)

	ticker := time.NewTicker(a.cfg.Agent.CheckInterval)
	defer ticker.Stop()

	checkSession(ctx, a, srv.Metrics())
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent stopping")
			return nil
		case serveErr, ok := <-errCh:
			if ok && serveErr != nil {
				return fmt.Errorf("observability server failed: %w", serveErr)
			}
			errCh = nil
		case <-ticker.C:
			checkSession(ctx, a, srv.Metrics())
		}
	}
}

// checkSession confirms the session once and records the outcome.
func checkSession(ctx context.Context, a *app, m *observability.Metrics) {
	state, err := a.coord.CheckStatus(ctx)
	defer func() {
		m.LastCheck.SetToCurrentTime()
		m.SessionRemaining.Set(float64(a.store.RemainingSeconds()))
	}()

	switch {
	case err != nil:
		m.ChecksTotal.WithLabelValues(string(apierr.KindOf(err))).Inc()
		errutil.LogWarn(a.logger, "session check failed", err)
	case !state.Authenticated():
		m.ChecksTotal.WithLabelValues(string(session.PhaseAnonymous)).Inc()
		a.logger.WarnContext(ctx, "agent has no session; run flowfarm login")
	default:
		m.ChecksTotal.WithLabelValues(session.OutcomeSuccess).Inc()
		a.logger.DebugContext(ctx, "session confirmed",
			"user_id", state.Session.User.ID,
			"expires_at", state.Session.ExpiresAt,
		)
	}
}

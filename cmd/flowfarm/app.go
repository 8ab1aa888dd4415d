// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/flowfarm/flowfarm/internal/api"
	"github.com/flowfarm/flowfarm/internal/auth"
	"github.com/flowfarm/flowfarm/internal/config"
	"github.com/flowfarm/flowfarm/internal/logging"
	"github.com/flowfarm/flowfarm/internal/session"
	"github.com/flowfarm/flowfarm/internal/tls"
	"github.com/flowfarm/flowfarm/internal/tokenstore"
	"github.com/flowfarm/flowfarm/internal/transport"
)

// app is the wired client stack shared by the subcommands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *tokenstore.Store
	gateway *transport.Gateway
	client  *api.Client
	coord   *session.Coordinator
}

// newApp loads configuration and wires the stack. Callers must call close.
func newApp(cmd *cobra.Command, deps *Deps) (*app, error) {
	if deps == nil {
		deps = &Deps{}
	}

	cfg, err := config.Load(config.LoadOptions{Path: configFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := logging.New(logging.Options{
		Service: "flowfarm",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(logger)

	store := tokenstore.New(
		tokenstore.NewFileTier(tokenstore.TierSession, cfg.Tokens.SessionFile),
		tokenstore.NewFileTier(tokenstore.TierDurable, cfg.Tokens.DurableFile),
		tokenstore.WithSkew(cfg.Tokens.Skew),
		tokenstore.WithRefreshThreshold(cfg.Tokens.RefreshThreshold),
		tokenstore.WithLogger(logger),
	)

	opts := []transport.Option{
		transport.WithTimeout(cfg.API.Timeout),
		transport.WithPublicPaths(cfg.API.Endpoints.PublicPaths()...),
		transport.WithLogger(logger),
	}
	switch {
	case deps.HTTPClient != nil:
		opts = append(opts, transport.WithHTTPClient(deps.HTTPClient))
	case cfg.API.TLS.Enabled():
		tlsCfg, err := tls.ClientConfig(cfg.API.TLS)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		httpTransport := http.DefaultTransport.(*http.Transport).Clone()
		httpTransport.TLSClientConfig = tlsCfg
		opts = append(opts, transport.WithHTTPClient(&http.Client{Transport: httpTransport}))
	}
	gateway, err := transport.New(cfg.API.BaseURL, store, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create API gateway: %w", err)
	}

	client := api.NewClient(gateway, cfg.API.Endpoints)
	coord := session.New(client, store,
		session.WithValidator(auth.NewValidator(cfg.Auth.Password)),
		session.WithLockoutPolicy(cfg.Auth.Lockout),
		session.WithDefaultTTL(cfg.Auth.DefaultTTL),
		session.WithLogger(logger),
	)
	gateway.SetRefresher(coord)

	logger.Debug("client configured",
		"profile", cfg.Profile,
		"base_url", cfg.API.BaseURL,
		"session_file", cfg.Tokens.SessionFile,
	)
	return &app{cfg: cfg, logger: logger, store: store, gateway: gateway, client: client, coord: coord}, nil
}

// close drains background refreshes.
func (a *app) close() {
	a.gateway.Close()
}

// prompter returns the injected prompter or a terminal one.
func prompter(cmd *cobra.Command, deps *Deps) Prompter {
	if deps != nil && deps.Prompter != nil {
		return deps.Prompter
	}
	return newTermPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
}

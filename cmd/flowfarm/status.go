// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowfarm/flowfarm/internal/tokenstore"
)

// TokenStatus is the locally known state of the stored session.
type TokenStatus struct {
	SignedIn         bool                  `json:"signed_in" yaml:"signed_in"`
	Tier             string                `json:"tier,omitempty" yaml:"tier,omitempty"`
	Username         string                `json:"username,omitempty" yaml:"username,omitempty"`
	Valid            bool                  `json:"valid" yaml:"valid"`
	RemainingSeconds int                   `json:"remaining_seconds" yaml:"remaining_seconds"`
	ExpiresAt        time.Time             `json:"expires_at,omitzero" yaml:"expires_at,omitempty"`
	Refreshable      bool                  `json:"refreshable" yaml:"refreshable"`
	RefreshDue       bool                  `json:"refresh_due" yaml:"refresh_due"`
	Claims           *tokenstore.TokenInfo `json:"claims,omitempty" yaml:"claims,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	output string
}

func newStatusCmd(deps *Deps) *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored session without contacting the server",
		Long: `Show what is stored locally: which tier holds the session, how long
the access token remains valid and whether a refresh is due. Token claims
are decoded for display only and are not verified.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(cfg.output); err != nil {
				return err
			}

			a, err := newApp(cmd, deps)
			if err != nil {
				return err
			}
			defer a.close()

			status := localStatus(a.store)
			if cfg.output != outputText {
				return writeStructured(cmd.OutOrStdout(), cfg.output, status)
			}
			cmd.Print(formatStatusTable(status))
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfg.output, "output", "o", outputText, "output format (text, json or yaml)")

	return cmd
}

func localStatus(store *tokenstore.Store) TokenStatus {
	rec, ok := store.Read()
	if !ok {
		return TokenStatus{}
	}

	status := TokenStatus{
		SignedIn:         true,
		Tier:             rec.Tier,
		Valid:            store.IsValid(),
		RemainingSeconds: store.RemainingSeconds(),
		ExpiresAt:        rec.ExpiresAt,
		Refreshable:      rec.RefreshToken != "",
		RefreshDue:       store.ShouldPreemptivelyRefresh(),
	}
	if rec.User != nil {
		status.Username = rec.User.Username
	}
	if info, err := tokenstore.Claims(rec.AccessToken); err == nil {
		status.Claims = &info
	}
	return status
}

func formatStatusTable(s TokenStatus) string {
	if !s.SignedIn {
		return "Not signed in.\n"
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "TIER\t%s\n", s.Tier)
	if s.Username != "" {
		_, _ = fmt.Fprintf(w, "USER\t%s\n", s.Username)
	}
	_, _ = fmt.Fprintf(w, "VALID\t%t\n", s.Valid)
	_, _ = fmt.Fprintf(w, "REMAINING\t%s\n", time.Duration(s.RemainingSeconds)*time.Second)
	if !s.ExpiresAt.IsZero() {
		_, _ = fmt.Fprintf(w, "EXPIRES\t%s\n", s.ExpiresAt.Local().Format(time.DateTime))
	}
	_, _ = fmt.Fprintf(w, "REFRESHABLE\t%t\n", s.Refreshable)
	_, _ = fmt.Fprintf(w, "REFRESH DUE\t%t\n", s.RefreshDue)
	if s.Claims != nil {
		_, _ = fmt.Fprintf(w, "SUBJECT\t%s\n", s.Claims.Subject)
		if s.Claims.Role != "" {
			_, _ = fmt.Fprintf(w, "TOKEN ROLE\t%s\n", s.Claims.Role)
		}
	}
	_ = w.Flush()
	return b.String()
}

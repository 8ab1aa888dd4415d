// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowfarm/flowfarm/internal/auth"
)

func newLogoutCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and delete the stored session",
		Long:  `Delete the stored session and revoke it on the server. The local session is always removed, even if the server cannot be reached.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, deps)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.coord.Logout(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("Signed out.")
			return nil
		},
	}
}

// whoamiConfig holds configuration for the whoami command.
type whoamiConfig struct {
	output string
}

func newWhoamiCmd(deps *Deps) *cobra.Command {
	cfg := &whoamiConfig{}

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user as confirmed by the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(cfg.output); err != nil {
				return err
			}

			a, err := newApp(cmd, deps)
			if err != nil {
				return err
			}
			defer a.close()

			user, err := a.coord.CurrentUser(cmd.Context())
			if err != nil {
				return fmt.Errorf("%s", describe(err))
			}
			if cfg.output != outputText {
				return writeStructured(cmd.OutOrStdout(), cfg.output, user)
			}
			writeUserTable(cmd, user)
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfg.output, "output", "o", outputText, "output format (text, json or yaml)")

	return cmd
}

func writeUserTable(cmd *cobra.Command, user *auth.UserRecord) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID\t%d\n", user.ID)
	_, _ = fmt.Fprintf(w, "USERNAME\t%s\n", user.Username)
	if user.Email != "" {
		_, _ = fmt.Fprintf(w, "EMAIL\t%s\n", user.Email)
	}
	if user.Phone != "" {
		_, _ = fmt.Fprintf(w, "PHONE\t%s\n", user.Phone)
	}
	_, _ = fmt.Fprintf(w, "ROLE\t%s\n", user.Role)
	_, _ = fmt.Fprintf(w, "STATUS\t%s\n", user.Status)
	if user.CompanyID != nil {
		_, _ = fmt.Fprintf(w, "COMPANY\t%d\n", *user.CompanyID)
	}
	if user.LastLoginAt != nil {
		_, _ = fmt.Fprintf(w, "LAST LOGIN\t%s\n", user.LastLoginAt.Local().Format(time.DateTime))
	}
	_ = w.Flush()
}

func newRefreshCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, deps)
			if err != nil {
				return err
			}
			defer a.close()

			sess, err := a.coord.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("%s", describe(err))
			}
			cmd.Printf("Session refreshed. Valid until %s.\n", sess.ExpiresAt.Local().Format(time.DateTime))
			return nil
		},
	}
}

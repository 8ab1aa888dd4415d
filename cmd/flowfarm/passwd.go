// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPasswdCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the signed-in user's password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, deps)
			if err != nil {
				return err
			}
			defer a.close()

			p := prompter(cmd, deps)
			v := a.coord.Validator()
			errOut := cmd.ErrOrStderr()

			if tips := v.PolicyTips(); len(tips) > 0 && p.Interactive() {
				_, _ = fmt.Fprintf(errOut, "The new password needs %s.\n", strings.Join(tips, ", "))
			}

			oldSecret, err := p.Secret("Current password: ")
			if err != nil {
				return err
			}
			newSecret, err := p.Secret("New password: ")
			if err != nil {
				return err
			}
			confirm, err := p.Secret("Repeat new password: ")
			if err != nil {
				return err
			}
			if fields := v.ValidatePasswordConfirmation(newSecret, confirm); !fields.OK() {
				return errors.New(fields.String())
			}

			if p.Interactive() {
				_, _ = fmt.Fprintf(errOut, "Password strength: %s\n", v.PasswordStrength(newSecret))
			}

			if err := a.coord.ChangePassword(cmd.Context(), oldSecret, newSecret); err != nil {
				return fmt.Errorf("%s", describe(err))
			}
			cmd.Println("Password changed.")
			return nil
		},
	}
}

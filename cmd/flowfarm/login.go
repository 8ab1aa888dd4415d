// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package main

import (
	"bufio"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowfarm/flowfarm/internal/apierr"
	"github.com/flowfarm/flowfarm/internal/auth"
)

// loginConfig holds configuration for the login command.
type loginConfig struct {
	username      string
	passwordStdin bool
	remember      bool
}

func newLoginCmd(deps *Deps) *cobra.Command {
	cfg := &loginConfig{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Long: `Sign in with a username, email or phone number. On a terminal the
prompt repeats after a rejected password until the login succeeds or the
client locks further attempts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, cfg, deps)
		},
	}

	cmd.Flags().StringVarP(&cfg.username, "username", "u", "", "username, email or phone number")
	cmd.Flags().BoolVar(&cfg.passwordStdin, "password-stdin", false, "read the password from stdin (requires --username)")
	cmd.Flags().BoolVar(&cfg.remember, "remember", false, "keep the session across OS logins")

	return cmd
}

func runLogin(cmd *cobra.Command, cfg *loginConfig, deps *Deps) error {
	if cfg.passwordStdin && cfg.username == "" {
		return errors.New("--password-stdin requires --username")
	}

	a, err := newApp(cmd, deps)
	if err != nil {
		return err
	}
	defer a.close()

	p := prompter(cmd, deps)
	interactive := p.Interactive() && !cfg.passwordStdin
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	for {
		creds, err := readCredentials(cmd, cfg, p)
		if err != nil {
			return err
		}

		sess, err := a.coord.Login(cmd.Context(), creds)
		if err == nil {
			_, _ = fmt.Fprintf(out, "Signed in as %s (%s). Session valid until %s.\n",
				sess.User.Username, sess.User.Role, sess.ExpiresAt.Local().Format(time.DateTime))
			return nil
		}

		_, _ = fmt.Fprintln(errOut, describe(err))

		state := a.coord.State()
		kind := apierr.KindOf(err)
		if state.LockUntil != nil {
			if state.Err != nil && state.Err.Kind == apierr.Locked {
				_, _ = fmt.Fprintln(errOut, state.Err.Message)
			}
			return err
		}
		if !interactive || !retryableLogin(kind, err, cfg) {
			return err
		}
		if kind != apierr.Validation {
			left := a.cfg.Auth.Lockout.MaxAttempts - state.LoginAttempts
			_, _ = fmt.Fprintf(errOut, "%d attempt(s) left before login is locked.\n", left)
		}
	}
}

// retryableLogin reports whether another prompt could change the outcome.
func retryableLogin(kind apierr.Kind, err error, cfg *loginConfig) bool {
	switch kind {
	case apierr.Unauthorized, apierr.Forbidden, apierr.Unknown:
		return true
	case apierr.Validation:
		e, _ := apierr.As(err)
		_, badIdentifier := e.Fields[auth.FieldIdentifier]
		return !(badIdentifier && cfg.username != "")
	default:
		return false
	}
}

func readCredentials(cmd *cobra.Command, cfg *loginConfig, p Prompter) (auth.Credentials, error) {
	creds := auth.Credentials{Identifier: cfg.username, Remember: cfg.remember}

	if creds.Identifier == "" {
		id, err := p.Line("Username: ")
		if err != nil {
			return creds, err
		}
		creds.Identifier = id
	}

	if cfg.passwordStdin {
		secret, err := readLine(bufio.NewReader(cmd.InOrStdin()))
		if err != nil {
			return creds, err
		}
		creds.Secret = secret
		return creds, nil
	}

	secret, err := p.Secret("Password: ")
	if err != nil {
		return creds, err
	}
	creds.Secret = secret
	return creds, nil
}

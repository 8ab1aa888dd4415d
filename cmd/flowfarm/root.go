package main

import (
	"github.com/spf13/cobra"

	"github.com/flowfarm/flowfarm/internal/config"
	"github.com/flowfarm/flowfarm/internal/transport"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the FlowFarm CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmdWithDeps(nil)
}

func newRootCmdWithDeps(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flowfarm",
		Short: "FlowFarm - sign in to a FlowFarm backend and call its API",
		Long: `FlowFarm is the command-line client for the FlowFarm management API.
It keeps a session on disk, refreshes it silently and can run as a
keep-alive agent for automation.`,
		SilenceUsage: true,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/flowfarm/config.yaml)")
	cmd.PersistentFlags().String("profile", config.DefaultProfile, "configuration profile (development or production)")
	cmd.PersistentFlags().String("base-url", config.DefaultBaseURL, "API base URL")
	cmd.PersistentFlags().Duration("timeout", transport.DefaultTimeout, "per-request timeout")
	cmd.PersistentFlags().String("log-format", config.DefaultLogFormat, "log format (json or text)")
	cmd.PersistentFlags().String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")

	// Add subcommands
	cmd.AddCommand(newLoginCmd(deps))
	cmd.AddCommand(newLogoutCmd(deps))
	cmd.AddCommand(newWhoamiCmd(deps))
	cmd.AddCommand(newStatusCmd(deps))
	cmd.AddCommand(newRefreshCmd(deps))
	cmd.AddCommand(newPasswdCmd(deps))
	cmd.AddCommand(newCallCmd(deps))
	cmd.AddCommand(newAgentCmd(deps))

	return cmd
}

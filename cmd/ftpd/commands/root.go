// Package commands implements the ftpd command line.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	cfgFile string
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ftpd",
		Short: "ftpd - embeddable FTP server",
		Long: `ftpd serves local directories over FTP using the ftpengine
session engine. Accounts, limits and the metrics endpoint are read from a
YAML file and FTPD_* environment variables.

Use "ftpd [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHashPasswordCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.CompletionOptions.DisableDefaultCmd = true
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// Package cmd implements ninepd's command-line interface, modeled on the
// teacher's cmd/dittofs/commands package: a cobra root with a persistent
// --config flag and one subcommand per verb.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Version is injected at build time via -ldflags.
	Version = "dev"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "ninepd",
	Short: "ninepd is a 9P2000.u file-service daemon",
	Long: `ninepd serves a single attach point over 9P2000.u, backed by a
pluggable storage driver (local FAT-resolution filesystem, in-memory, or
S3), with an unauthenticated HTTP control plane for health and session
inspection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (default: $XDG_CONFIG_HOME/ninepd/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ninepd version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Println(Version)
		return nil
	},
}

// Package cmd implements ninepctl's command-line interface.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ninep-go/ninepd/pkg/apiclient"
)

var serverAddr string

var rootCmd = &cobra.Command{
	Use:   "ninepctl",
	Short: "ninepctl manages a running ninepd server",
	Long: `ninepctl talks to a ninepd server's unauthenticated control-plane
API to inspect health, live stats, and active and recently terminated
sessions, and to trigger a
graceful shutdown.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:5640", "ninepd control-plane base URL")

	rootCmd.AddCommand(healthzCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(initCmd)
}

func client() *apiclient.Client {
	return apiclient.New(serverAddr)
}

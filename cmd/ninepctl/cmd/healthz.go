package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthzCmd = &cobra.Command{
	Use:   "healthz",
	Short: "Check server liveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := client().Healthz()
		if err != nil {
			return err
		}
		cmd.Println(status["status"])
		return nil
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Trigger a graceful shutdown of the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().Shutdown(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "shutdown requested")
		return nil
	},
}

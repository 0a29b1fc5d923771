package cmd

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server-wide session counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := client().Stats()
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetAutoWrapText(false)
		table.SetAutoFormatHeaders(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetCenterSeparator("")
		table.SetColumnSeparator(":")
		table.SetRowSeparator("")
		table.SetHeaderLine(false)
		table.SetBorder(false)
		table.SetTablePadding("  ")
		table.SetNoWhiteSpace(true)

		table.Append([]string{"active sessions", strconv.Itoa(stats.ActiveSessions)})
		table.Append([]string{"max sessions", strconv.Itoa(stats.MaxSessions)})
		table.Append([]string{"uptime", stats.Uptime})
		table.Append([]string{"messages total", strconv.FormatUint(stats.MessagesTotal, 10)})
		table.Append([]string{"errors total", strconv.FormatUint(stats.ErrorsTotal, 10)})
		table.Append([]string{"bytes in", strconv.FormatUint(stats.BytesIn, 10)})
		table.Append([]string{"bytes out", strconv.FormatUint(stats.BytesOut, 10)})
		table.Render()
		return nil
	},
}

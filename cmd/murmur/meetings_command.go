package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type meetingRow struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ProcessState string `json:"process_state"`
	Duration     string `json:"duration"`
	Date         string `json:"date"`
	CreatedAt    string `json:"created_at"`
}

func newMeetingsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "meetings",
		Short: "List your meetings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var payload struct {
				Meetings []meetingRow `json:"meetings"`
			}
			if err := client.get("/api/meetings", &payload); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(payload.Meetings)
			}
			if len(payload.Meetings) == 0 {
				fmt.Fprintln(out, "No meetings")
				return nil
			}

			rows := make([][]string, 0, len(payload.Meetings))
			for _, m := range payload.Meetings {
				rows = append(rows, []string{m.ID, m.Status, m.Duration, m.Date})
			}
			if isatty.IsTerminal(os.Stdout.Fd()) {
				fmt.Fprintln(out, renderTable([]string{"ID", "STATUS", "DURATION", "DATE"}, rows))
				return nil
			}
			for _, row := range rows {
				fmt.Fprintln(out, strings.Join(row, "\t"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}

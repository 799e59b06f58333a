package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newJoinCommand(ctx *commandContext) *cobra.Command {
	var botName string

	cmd := &cobra.Command{
		Use:   "join <meeting-url>",
		Short: "Send a notetaker bot into a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var payload struct {
				MeetingID string `json:"meeting_id"`
				Message   string `json:"message"`
			}
			body := map[string]string{"meeting_url": args[0]}
			if strings.TrimSpace(botName) != "" {
				body["bot_name"] = botName
			}
			if err := client.post("/api/join", body, &payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Meeting %s: %s\n", payload.MeetingID, payload.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&botName, "bot-name", "", "Display name for the bot")
	return cmd
}

func newLeaveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <meeting-id>",
		Short: "Pull the bot out of a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if err := client.post("/api/leave", map[string]string{"meeting_id": args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Bot asked to leave")
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <meeting-id>",
		Short: "Poll processing status for a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var payload struct {
				Status       string `json:"status"`
				RawStatus    string `json:"raw_status"`
				ProcessState string `json:"process_state"`
				AudioReady   bool   `json:"audio_ready"`
				Message      string `json:"message"`
			}
			if err := client.get("/api/status/"+args[0], &payload); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:       %s\n", payload.Status)
			if payload.ProcessState != "" {
				fmt.Fprintf(out, "State:        %s\n", payload.ProcessState)
			}
			if payload.RawStatus != "" {
				fmt.Fprintf(out, "Bot status:   %s\n", payload.RawStatus)
			}
			if payload.Status != "discarded" {
				fmt.Fprintf(out, "Audio ready:  %t\n", payload.AudioReady)
			}
			if payload.Message != "" {
				fmt.Fprintf(out, "Message:      %s\n", payload.Message)
			}
			return nil
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "history <meeting-id>",
		Short: "Show a meeting's revision history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			path := "/api/history/" + args[0]
			if kind != "" {
				path += "?type=" + kind
			}
			var payload struct {
				Revisions []struct {
					ID          int64  `json:"id"`
					Version     int    `json:"version"`
					Type        string `json:"type"`
					ContentHash string `json:"content_hash"`
					CreatedAt   string `json:"created_at"`
				} `json:"revisions"`
			}
			if err := client.get(path, &payload); err != nil {
				return err
			}

			rows := make([][]string, 0, len(payload.Revisions))
			for _, rev := range payload.Revisions {
				rows = append(rows, []string{
					fmt.Sprintf("%d", rev.ID),
					fmt.Sprintf("v%d", rev.Version),
					rev.Type,
					shortHash(rev.ContentHash),
					rev.CreatedAt,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "VERSION", "TYPE", "HASH", "DATE"}, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "type", "", "Filter by revision type (transcript or summary)")
	return cmd
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var meetingID string

	cmd := &cobra.Command{
		Use:   "verify <hash>",
		Short: "Check a content hash against stored revisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			body := map[string]string{"hash": args[0]}
			if strings.TrimSpace(meetingID) != "" {
				body["meeting_id"] = meetingID
			}
			var payload struct {
				Verified bool   `json:"verified"`
				Version  int    `json:"version"`
				Type     string `json:"type"`
				Date     string `json:"date"`
				Message  string `json:"message"`
			}
			if err := client.post("/api/verify", body, &payload); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !payload.Verified {
				fmt.Fprintln(out, "NOT VERIFIED:", payload.Message)
				return nil
			}
			fmt.Fprintf(out, "Verified: %s v%d (%s)\n", payload.Type, payload.Version, payload.Date)
			return nil
		},
	}

	cmd.Flags().StringVar(&meetingID, "meeting", "", "Meeting id enabling fuzzy matching")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <meeting-id>",
		Short: "Crypto-shred a meeting and all its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if err := client.delete("/api/meeting/"+args[0], nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Meeting deleted")
			return nil
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <meeting-id>",
		Short: "Re-run processing for a meeting with ingested audio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if err := client.post("/api/retry/"+args[0], struct{}{}, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Processing restarted")
			return nil
		},
	}
}

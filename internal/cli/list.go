package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var flagState string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/tasks"
			if flagState != "" {
				path += "?state=" + flagState
			}

			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}

			var data []map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(data) == 0 {
				fmt.Println("No tasks found.")
				return nil
			}

			fmt.Printf("%-40s  %-20s  %-10s  %8s  %s\n", "ID", "NAME", "STATE", "PRIORITY", "CREATED")
			fmt.Printf("%-40s  %-20s  %-10s  %8s  %s\n", "----", "-----", "-----", "--------", "-------")
			for _, t := range data {
				id, _ := t["id"].(string)
				name, _ := t["name"].(string)
				state, _ := t["state"].(string)
				priority, _ := t["priority"].(float64)
				createdAt, _ := t["created_at"].(string)

				created := createdAt
				if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
					created = humanize.Time(ts)
				}

				fmt.Printf("%-40s  %-20s  %-10s  %8.2f  %s\n", id, truncate(name, 20), state, priority, created)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&flagState, "state", "", "Filter by state (pending, assigned, running, completed, failed)")

	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

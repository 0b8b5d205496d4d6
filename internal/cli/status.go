package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task_id>",
		Short: "Check the status of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			resp, err := client.Get("/api/v1/tasks/" + id)
			if err != nil {
				return fmt.Errorf("get task: %w", err)
			}

			var data map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			name, _ := data["name"].(string)
			state, _ := data["state"].(string)
			priority, _ := data["priority"].(float64)

			fmt.Printf("Task: %s\n", id)
			fmt.Printf("  Name:     %s\n", name)
			fmt.Printf("  State:    %s\n", state)
			fmt.Printf("  Priority: %.2f\n", priority)

			if owner, ok := data["owner_id"].(string); ok && owner != "" {
				fmt.Printf("  Owner:    %s\n", owner)
			}
			if worker, ok := data["assigned_worker_id"].(string); ok && worker != "" {
				fmt.Printf("  Worker:   %s\n", worker)
			}
			if reason, ok := data["failure_reason"].(string); ok && reason != "" {
				fmt.Printf("  Failure:  %s\n", reason)
			}
			if createdAt, ok := data["created_at"].(string); ok {
				fmt.Printf("  Created:  %s\n", createdAt)
			}
			if completedAt, ok := data["completed_at"].(string); ok && completedAt != "" {
				fmt.Printf("  Completed: %s\n", completedAt)
			}

			return nil
		},
	}
}

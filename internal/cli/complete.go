package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <task_id>",
		Short: "Manually mark a running task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Put("/api/v1/tasks/"+args[0]+"/complete", nil)
			if err != nil {
				return fmt.Errorf("complete task: %w", err)
			}

			var data map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			state, _ := data["state"].(string)
			fmt.Printf("Task %s: %s\n", args[0], state)

			return nil
		},
	}
}

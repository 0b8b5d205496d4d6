package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var (
		flagDescription string
		flagOwner       string
	)

	cmd := &cobra.Command{
		Use:   "submit <name>",
		Short: "Submit a new task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/tasks", map[string]string{
				"name":        args[0],
				"description": flagDescription,
				"owner_id":    flagOwner,
			})
			if err != nil {
				return fmt.Errorf("submit task: %w", err)
			}

			var data map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			id, _ := data["id"].(string)
			priority, _ := data["priority"].(float64)
			state, _ := data["state"].(string)

			fmt.Printf("Task submitted: %s\n", id)
			fmt.Printf("  Priority: %.2f\n", priority)
			fmt.Printf("  State:    %s\n", state)

			return nil
		},
	}

	cmd.Flags().StringVarP(&flagDescription, "description", "d", "", "Task description")
	cmd.Flags().StringVarP(&flagOwner, "owner", "o", "", "Owner identifier")

	return cmd
}

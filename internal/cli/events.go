package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <task_id>",
		Short: "Show a task's state transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/tasks/" + args[0] + "/events")
			if err != nil {
				return fmt.Errorf("get events: %w", err)
			}

			var data []map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(data) == 0 {
				fmt.Println("No events recorded.")
				return nil
			}

			for _, e := range data {
				seq, _ := e["seq"].(float64)
				from, _ := e["from"].(string)
				to, _ := e["to"].(string)
				createdAt, _ := e["created_at"].(string)

				line := fmt.Sprintf("%3d  %s  %s -> %s", int(seq), createdAt, from, to)
				if worker, ok := e["worker_id"].(string); ok && worker != "" {
					line += "  worker=" + worker
				}
				if note, ok := e["note"].(string); ok && note != "" {
					line += "  (" + note + ")"
				}
				fmt.Println(line)
			}

			return nil
		},
	}
}

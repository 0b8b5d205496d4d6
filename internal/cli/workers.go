package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newWorkersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "List registered workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/workers")
			if err != nil {
				return fmt.Errorf("list workers: %w", err)
			}

			var data []map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(data) == 0 {
				fmt.Println("No workers registered.")
				return nil
			}

			fmt.Printf("%-40s  %-16s  %-12s  %-40s  %s\n", "ID", "NAME", "STATE", "CURRENT TASK", "LAST SEEN")
			fmt.Printf("%-40s  %-16s  %-12s  %-40s  %s\n", "----", "-----", "-----", "------------", "---------")
			for _, w := range data {
				id, _ := w["id"].(string)
				name, _ := w["name"].(string)
				state, _ := w["state"].(string)
				current, _ := w["current_task"].(string)
				lastSeen, _ := w["last_heartbeat"].(string)

				seen := lastSeen
				if ts, err := time.Parse(time.RFC3339Nano, lastSeen); err == nil {
					seen = humanize.Time(ts)
				}
				if current == "" {
					current = "-"
				}

				fmt.Printf("%-40s  %-16s  %-12s  %-40s  %s\n", id, name, state, current, seen)
			}

			return nil
		},
	}

	cmd.AddCommand(newWorkerRemoveCmd())
	return cmd
}

func newWorkerRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <worker_id>",
		Short: "Deregister a worker, requeueing any held task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Delete("/api/v1/workers/" + args[0]); err != nil {
				return fmt.Errorf("remove worker: %w", err)
			}
			fmt.Printf("Worker %s removed.\n", args[0])
			return nil
		},
	}
}

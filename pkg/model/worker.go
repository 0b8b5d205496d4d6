package model

import "time"

// Worker represents a remote executor capable of running one task at a time.
type Worker struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Endpoint string      `json:"endpoint"`
	State    WorkerState `json:"state"`

	// CurrentTask is the id of the task this worker holds while busy.
	CurrentTask string `json:"current_task,omitempty"`

	LastHeartbeat time.Time `json:"last_heartbeat"`
	RegisteredAt  time.Time `json:"registered_at"`
}

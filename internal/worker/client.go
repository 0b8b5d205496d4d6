package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/me/dispatch/pkg/model"
)

// Client communicates with the dispatch server API on behalf of a worker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	workerID   string
}

// NewClient creates a new worker API client with connection pooling.
func NewClient(baseURL string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// WorkerID returns the registered worker ID.
func (c *Client) WorkerID() string {
	return c.workerID
}

// Register registers the worker with the server and stores the worker ID.
func (c *Client) Register(ctx context.Context, name, endpoint string) (*model.Worker, error) {
	body, err := json.Marshal(map[string]string{
		"name":     name,
		"endpoint": endpoint,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/workers", body)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	var worker model.Worker
	if err := decodeResponseData(resp, &worker); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	c.workerID = worker.ID
	return &worker, nil
}

// Heartbeat refreshes the worker's liveness timestamp on the server.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodPut,
		fmt.Sprintf("/api/v1/workers/%s/heartbeat", c.workerID), nil)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Poll asks the server for the worker's current assignment.
// Returns nil if no work is available (204).
func (c *Client) Poll(ctx context.Context) (*model.Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+fmt.Sprintf("/api/v1/workers/%s/work", c.workerID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("poll: HTTP %d: %s", resp.StatusCode, body)
	}

	var task model.Task
	if err := decodeResponseData(resp, &task); err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}

	return &task, nil
}

// ReportComplete sends the task's terminal outcome. The server accepts
// exactly one report per execution; a duplicate comes back as HTTP 409.
func (c *Client) ReportComplete(ctx context.Context, taskID string, state model.TaskState, reason string) error {
	body, err := json.Marshal(map[string]string{
		"state":  string(state),
		"reason": reason,
	})
	if err != nil {
		return err
	}

	_, err = c.doRequest(ctx, http.MethodPut,
		fmt.Sprintf("/api/v1/workers/%s/tasks/%s/complete", c.workerID, taskID), body)
	if err != nil {
		return fmt.Errorf("report complete: %w", err)
	}
	return nil
}

// Deregister removes the worker from the server.
func (c *Client) Deregister(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodDelete,
		fmt.Sprintf("/api/v1/workers/%s", c.workerID), nil)
	if err != nil {
		return fmt.Errorf("deregister: %w", err)
	}
	return nil
}

// doRequest executes an HTTP request and returns the response.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
	}

	return resp, nil
}

// decodeResponseData extracts the data field from the API response envelope.
func decodeResponseData(resp *http.Response, dest any) error {
	defer resp.Body.Close()

	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *model.APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}

	return json.Unmarshal(envelope.Data, dest)
}

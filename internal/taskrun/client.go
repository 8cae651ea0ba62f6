// internal/taskrun/client.go
package taskrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the narrow surface of the task-run service this subsystem
// depends on. The resume engine and streaming loop use nothing else.
type Client interface {
	GetTaskRun(ctx context.Context, taskID, runID string) (*TaskRun, error)
	FetchLogs(ctx context.Context, run *TaskRun) ([]StoredLogEntry, error)
	AppendLog(ctx context.Context, taskID, runID string, entries []StoredLogEntry) error
	DownloadArtifact(ctx context.Context, url string) ([]byte, error)
}

// HTTPClient talks JSON over HTTP to the task-run service. Auth is an
// opaque bearer token; its acquisition is someone else's problem.
type HTTPClient struct {
	baseURL   string
	authToken string
	http      *http.Client
}

// NewHTTPClient creates a client for the given service base URL.
func NewHTTPClient(baseURL, authToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		authToken: authToken,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// GetTaskRun fetches a run's metadata, including its log reference.
func (c *HTTPClient) GetTaskRun(ctx context.Context, taskID, runID string) (*TaskRun, error) {
	url := fmt.Sprintf("%s/tasks/%s/runs/%s", c.baseURL, taskID, runID)

	var run TaskRun
	if err := c.getJSON(ctx, url, &run); err != nil {
		return nil, fmt.Errorf("get task run %s/%s: %w", taskID, runID, err)
	}
	if run.TaskID == "" {
		run.TaskID = taskID
	}
	if run.RunID == "" {
		run.RunID = runID
	}
	return &run, nil
}

// FetchLogs fetches a run's full ordered log. A run with no log
// reference has an empty log; that is success, not failure.
func (c *HTTPClient) FetchLogs(ctx context.Context, run *TaskRun) ([]StoredLogEntry, error) {
	if run.LogURL == "" {
		return nil, nil
	}

	var entries []StoredLogEntry
	if err := c.getJSON(ctx, run.LogURL, &entries); err != nil {
		return nil, fmt.Errorf("fetch logs for %s/%s: %w", run.TaskID, run.RunID, err)
	}
	return entries, nil
}

// AppendLog appends entries to a run's log.
func (c *HTTPClient) AppendLog(ctx context.Context, taskID, runID string, entries []StoredLogEntry) error {
	url := fmt.Sprintf("%s/tasks/%s/runs/%s/logs", c.baseURL, taskID, runID)

	body, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal log entries: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("append log for %s/%s: %w", taskID, runID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("append log for %s/%s: unexpected status %d", taskID, runID, resp.StatusCode)
	}
	return nil
}

// DownloadArtifact fetches an artifact's raw bytes.
func (c *HTTPClient) DownloadArtifact(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download artifact: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *HTTPClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

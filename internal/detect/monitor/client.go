package monitor

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sqlite "github.com/banshee-data/pillars.detect/internal/detect/storage/sqlite"
	"github.com/banshee-data/pillars.detect/internal/httputil"
)

// Client provides HTTP operations against a running detect monitor.
// Query tools use it instead of talking to the endpoints by hand.
type Client struct {
	HTTPClient httputil.HTTPClient
	BaseURL    string
}

// NewClient creates a monitoring client for the server at baseURL.
func NewClient(httpClient httputil.HTTPClient, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		HTTPClient: httpClient,
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Health checks the monitor health endpoint.
func (c *Client) Health() error {
	resp, err := c.HTTPClient.Get(c.BaseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// FetchStats fetches the live pipeline counters from the server.
func (c *Client) FetchStats() (map[string]interface{}, error) {
	resp, err := c.HTTPClient.Get(c.BaseURL + "/api/detect/stats")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var m map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListRuns fetches up to limit recent run summaries.
func (c *Client) ListRuns(limit int) ([]sqlite.RunSummary, error) {
	url := fmt.Sprintf("%s/api/detect/runs?limit=%d", c.BaseURL, limit)
	resp, err := c.HTTPClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var runs []sqlite.RunSummary
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// FetchDetections fetches the stored detections of a run. An empty runID
// asks the server for its most recent run.
func (c *Client) FetchDetections(runID string) ([]sqlite.Detection, error) {
	url := c.BaseURL + "/api/detect/detections"
	if runID != "" {
		url += "?run_id=" + runID
	}
	resp, err := c.HTTPClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var dets []sqlite.Detection
	if err := json.NewDecoder(resp.Body).Decode(&dets); err != nil {
		return nil, err
	}
	return dets, nil
}

// TriggerSnapshot asks the server to render a BEV snapshot of a run and
// returns the path written on the server side. An empty runID renders
// the most recent run.
func (c *Client) TriggerSnapshot(runID string) (string, error) {
	url := c.BaseURL + "/api/detect/snapshot"
	if runID != "" {
		url += "?run_id=" + runID
	}
	resp, err := c.HTTPClient.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out["path"], nil
}

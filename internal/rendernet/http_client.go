package rendernet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configure the HTTP rendering-network client.
type Options struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// HTTPClient talks to the rendering network over its REST surface and
// synthesizes the event stream by polling project status. The network's
// scheduler stays opaque; only the client contract is modeled here.
type HTTPClient struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       zerolog.Logger

	mu    sync.Mutex
	pumps map[string]context.CancelFunc
}

// NewHTTPClient builds a client. BaseURL is required.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("rendernet: base url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &HTTPClient{
		baseURL:      base,
		apiKey:       opts.APIKey,
		pollInterval: interval,
		httpClient:   hc,
		logger:       opts.Logger,
		pumps:        make(map[string]context.CancelFunc),
	}, nil
}

// Ready reports whether the client is usable.
func (c *HTTPClient) Ready() bool {
	return c != nil && c.baseURL != ""
}

type createResponse struct {
	ID string `json:"id"`
}

type statusJob struct {
	ID         string       `json:"id"`
	Status     string       `json:"status"`
	Progress   float64      `json:"progress"`
	Worker     string       `json:"worker"`
	Prompt     string       `json:"prompt"`
	PreviewURL string       `json:"preview_url"`
	ResultID   string       `json:"result_id"`
	ResultURL  string       `json:"result_url"`
	Error      *RemoteError `json:"error"`
}

type statusResponse struct {
	ID       string       `json:"id"`
	Status   string       `json:"status"`
	Progress float64      `json:"progress"`
	Jobs     []statusJob  `json:"jobs"`
	Error    *RemoteError `json:"error"`
}

// Create submits a batch and starts the event pump for it.
func (c *HTTPClient) Create(ctx context.Context, req CreateRequest) (*RemoteProject, error) {
	var created createResponse
	if err := c.do(ctx, http.MethodPost, "/v1/projects", req, &created); err != nil {
		return nil, fmt.Errorf("rendernet: create project: %w", err)
	}
	if created.ID == "" {
		return nil, errors.New("rendernet: create project: empty project id")
	}

	events := make(chan Event, 64)
	pumpCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.pumps[created.ID] = cancel
	c.mu.Unlock()
	go c.pump(pumpCtx, created.ID, len(req.SourceImage) > 0 || req.SourceURL != "", events)

	return &RemoteProject{ID: created.ID, Events: events}, nil
}

// CancelProject asks the network to stop a batch and stops the local poll
// pump either way, so a network that ignores the cancel cannot keep a pump
// goroutine polling forever. Best-effort: callers log the returned error
// instead of propagating it.
func (c *HTTPClient) CancelProject(ctx context.Context, id string) error {
	c.stopPump(id)
	if err := c.do(ctx, http.MethodDelete, "/v1/projects/"+id, nil, nil); err != nil {
		return fmt.Errorf("rendernet: cancel project %s: %w", id, err)
	}
	return nil
}

func (c *HTTPClient) stopPump(id string) {
	c.mu.Lock()
	if cancel, ok := c.pumps[id]; ok {
		cancel()
		delete(c.pumps, id)
	}
	c.mu.Unlock()
}

type estimateResponse struct {
	Cost *int64 `json:"cost"`
}

// EstimateCost asks the network for the projected credit cost. A missing
// cost in the response means the network declined to estimate.
func (c *HTTPClient) EstimateCost(ctx context.Context, p EstimateParams) (int64, bool, error) {
	var resp estimateResponse
	if err := c.do(ctx, http.MethodPost, "/v1/estimate", p, &resp); err != nil {
		return 0, false, fmt.Errorf("rendernet: estimate cost: %w", err)
	}
	if resp.Cost == nil {
		return 0, false, nil
	}
	return *resp.Cost, true, nil
}

// pump polls project status and translates snapshot diffs into the event
// union. It owns the events channel and closes it after the terminal
// project event, or when its context is cancelled.
func (c *HTTPClient) pump(ctx context.Context, projectID string, hasUpload bool, events chan<- Event) {
	defer close(events)
	defer c.stopPump(projectID)

	if hasUpload {
		events <- Event{Kind: EventUploadComplete, ProjectID: projectID}
	}

	seen := make(map[string]statusJob)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pollCtx, cancel := context.WithTimeout(ctx, c.pollInterval*10)
		var status statusResponse
		err := c.do(pollCtx, http.MethodGet, "/v1/projects/"+projectID, nil, &status)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Str("project_id", projectID).Msg("rendernet: status poll failed")
			continue
		}

		for _, job := range status.Jobs {
			c.emitJobDiff(projectID, seen[job.ID], job, events)
			seen[job.ID] = job
		}
		events <- Event{Kind: EventProjectProgress, ProjectID: projectID, Progress: status.Progress}

		switch status.Status {
		case "completed":
			summaries := make([]JobSummary, 0, len(status.Jobs))
			for _, job := range status.Jobs {
				summaries = append(summaries, JobSummary{ID: job.ID, Done: jobDone(job.Status)})
			}
			events <- Event{Kind: EventProjectCompleted, ProjectID: projectID, Jobs: summaries}
			return
		case "failed", "cancelled":
			events <- Event{Kind: EventProjectFailed, ProjectID: projectID, Err: status.Error}
			return
		}
	}
}

// emitJobDiff compares two snapshots of one job and emits the transitions
// between them in lifecycle order.
func (c *HTTPClient) emitJobDiff(projectID string, prev, cur statusJob, events chan<- Event) {
	base := Event{
		ProjectID:  projectID,
		JobID:      cur.ID,
		Progress:   cur.Progress,
		Worker:     cur.Worker,
		PromptUsed: cur.Prompt,
	}

	for _, kind := range lifecycleSteps(prev.Status, cur.Status) {
		ev := base
		ev.Kind = kind
		events <- ev
	}

	if cur.Status == "running" && cur.Progress > prev.Progress {
		ev := base
		ev.Kind = EventJobProgress
		events <- ev
	}

	if cur.PreviewURL != "" && cur.PreviewURL != prev.PreviewURL {
		ev := base
		ev.Kind = EventJobCompleted
		ev.Preview = true
		ev.Result = &Result{ID: cur.ResultID, URL: cur.PreviewURL}
		events <- ev
	}

	if jobDone(cur.Status) && !jobDone(prev.Status) {
		ev := base
		if cur.Status == "failed" {
			ev.Kind = EventJobFailed
			ev.Err = cur.Error
		} else {
			ev.Kind = EventJobCompleted
			if cur.ResultURL != "" {
				ev.Result = &Result{ID: cur.ResultID, URL: cur.ResultURL}
			}
			ev.Progress = 1
		}
		events <- ev
	}
}

// lifecycleSteps lists the transition events implied by moving from one
// reported status to another, so a coarse poll still yields every state.
func lifecycleSteps(prev, cur string) []EventKind {
	order := []string{"queued", "initiating", "started", "running"}
	kinds := map[string]EventKind{
		"queued":     EventJobQueued,
		"initiating": EventJobInitiating,
		"started":    EventJobStarted,
	}
	rank := func(s string) int {
		for i, name := range order {
			if name == s {
				return i
			}
		}
		if jobDone(s) {
			return len(order)
		}
		return -1
	}
	var steps []EventKind
	from, to := rank(prev), rank(cur)
	for i := from + 1; i <= to && i < len(order); i++ {
		if kind, ok := kinds[order[i]]; ok {
			steps = append(steps, kind)
		}
	}
	return steps
}

func jobDone(status string) bool {
	return status == "succeeded" || status == "failed"
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var remote RemoteError
		if json.Unmarshal(data, &remote) == nil && (remote.Code != "" || remote.Message != "") {
			remote.Raw = data
			return &remote
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)

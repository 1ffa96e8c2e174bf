package rendernet

import "context"

// CreateRequest is the wire payload for one batch submission.
type CreateRequest struct {
	Model          string    `json:"model"`
	Prompt         string    `json:"prompt"`
	NegativePrompt string    `json:"negative_prompt,omitempty"`
	StylePrompt    string    `json:"style_prompt,omitempty"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	Steps          int       `json:"steps"`
	Guidance       []float64 `json:"guidance,omitempty"`
	Seed           *int64    `json:"seed,omitempty"`
	JobCount       int       `json:"job_count"`
	Premium        bool      `json:"premium,omitempty"`
	SourceImage    []byte    `json:"source_image,omitempty"`
	SourceMIME     string    `json:"source_mime,omitempty"`
	SourceURL      string    `json:"source_url,omitempty"`
}

// EstimateParams feed the cost estimator.
type EstimateParams struct {
	Model    string `json:"model"`
	JobCount int    `json:"job_count"`
	Steps    int    `json:"steps"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Premium  bool   `json:"premium,omitempty"`
}

// RemoteProject is a created batch: its opaque id plus the event stream.
// The channel is closed after a terminal project event is delivered.
type RemoteProject struct {
	ID     string
	Events <-chan Event
}

// Client is the contract with the rendering network. Cancellation is
// best-effort; callers must tolerate events from projects they already
// abandoned.
type Client interface {
	Ready() bool
	Create(ctx context.Context, req CreateRequest) (*RemoteProject, error)
	CancelProject(ctx context.Context, id string) error
	// EstimateCost returns the projected credit cost. ok is false when the
	// network declines to estimate; submission proceeds without a pre-check.
	EstimateCost(ctx context.Context, p EstimateParams) (cost int64, ok bool, err error)
}

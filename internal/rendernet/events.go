package rendernet

import (
	"encoding/json"
	"fmt"
)

// EventKind discriminates the closed union of messages the rendering
// network emits for a project. Consumers dispatch on this tag instead of
// registering per-name callbacks.
type EventKind string

const (
	EventUploadProgress   EventKind = "upload_progress"
	EventUploadComplete   EventKind = "upload_complete"
	EventJobQueued        EventKind = "job_queued"
	EventJobInitiating    EventKind = "job_initiating"
	EventJobStarted       EventKind = "job_started"
	EventJobProgress      EventKind = "job_progress"
	EventJobCompleted     EventKind = "job_completed"
	EventJobFailed        EventKind = "job_failed"
	EventProjectProgress  EventKind = "project_progress"
	EventProjectCompleted EventKind = "project_completed"
	EventProjectFailed    EventKind = "project_failed"
)

// Lifecycle reports whether the event is a job state transition rather
// than a progress sample. Lifecycle events go through the short coalescing
// window downstream.
func (k EventKind) Lifecycle() bool {
	switch k {
	case EventJobQueued, EventJobInitiating, EventJobStarted:
		return true
	}
	return false
}

// RemoteError is the heterogeneous error payload the network attaches to
// failed jobs and projects. Code and Message feed the classifier; Raw is
// kept for diagnostics.
type RemoteError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Result references one rendered image.
type Result struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// JobSummary is the per-job snapshot attached to project-completed events
// so consumers can spot jobs the network believes are still outstanding.
type JobSummary struct {
	ID   string `json:"id"`
	Done bool   `json:"done"`
}

// Event is one message about a project. Fields beyond Kind and ProjectID
// are populated per kind: job events carry JobID, completion events carry
// Result, failures carry Err.
type Event struct {
	Kind       EventKind
	ProjectID  string
	JobID      string
	Progress   float64
	Worker     string
	PromptUsed string
	Preview    bool
	Result     *Result
	Err        *RemoteError
	Jobs       []JobSummary
}

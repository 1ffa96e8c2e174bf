package domain

import "time"

// ProjectState enumerates batch lifecycle states.
type ProjectState string

const (
	ProjectSubmitted ProjectState = "submitted"
	ProjectActive    ProjectState = "active"
	ProjectCompleted ProjectState = "completed"
	ProjectFailed    ProjectState = "failed"
	ProjectTimedOut  ProjectState = "timed_out"
	ProjectCancelled ProjectState = "cancelled"
)

// Terminal reports whether the project has finished one way or another.
func (s ProjectState) Terminal() bool {
	switch s {
	case ProjectCompleted, ProjectFailed, ProjectTimedOut, ProjectCancelled:
		return true
	}
	return false
}

// JobState enumerates per-job lifecycle states as reported by the
// rendering network, plus the locally assigned timed_out state.
type JobState string

const (
	JobQueued       JobState = "queued"
	JobInitiating   JobState = "initiating"
	JobStarted      JobState = "started"
	JobProgressing  JobState = "progressing"
	JobPreviewReady JobState = "preview_ready"
	JobCompleted    JobState = "completed"
	JobFailed       JobState = "failed"
	JobTimedOut     JobState = "timed_out"
)

// Terminal reports whether the job can receive further events.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobTimedOut:
		return true
	}
	return false
}

// Project is one submitted batch. Exactly one project may be active at a
// time; events carrying a stale project id are discarded by comparison.
type Project struct {
	ID           string
	State        ProjectState
	CreatedAt    time.Time
	LastProgress time.Time
}

// Job is one unit of work within a project, one output image.
type Job struct {
	ID         string
	State      JobState
	Progress   float64
	Worker     string
	PromptUsed string
	PreviewURL string
	ResultURL  string
}

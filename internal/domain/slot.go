package domain

// ImageRef points at one rendered image, either hosted upstream or
// downloaded into local storage.
type ImageRef struct {
	URL        string `json:"url"`
	StorageKey string `json:"storage_key,omitempty"`
	Preview    bool   `json:"preview,omitempty"`
}

// SlotError is the user-facing failure descriptor carried by a slot.
// Status is a short kind-specific string distinct from the full Message.
type SlotError struct {
	Kind      ErrorKind `json:"kind"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// Slot is the display-facing record one job's results are written into.
// A "kept original" slot carries the source image and no job.
type Slot struct {
	Index            int        `json:"index"`
	Generating       bool       `json:"generating"`
	Loading          bool       `json:"loading"`
	Preview          bool       `json:"preview"`
	Progress         float64    `json:"progress"`
	DownloadProgress float64    `json:"download_progress"`
	Images           []ImageRef `json:"images"`
	Error            *SlotError `json:"error,omitempty"`
	Permanent        bool       `json:"permanent,omitempty"`
	KeptOriginal     bool       `json:"kept_original,omitempty"`

	// Metadata retained for favoriting and sharing after the batch ends.
	Label  string `json:"label,omitempty"`
	Style  string `json:"style,omitempty"`
	Seed   *int64 `json:"seed,omitempty"`
	Model  string `json:"model,omitempty"`
	Worker string `json:"worker,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

// Terminal reports whether the slot has reached a final state. A terminal
// slot is never mutated again, whatever events arrive later.
func (s Slot) Terminal() bool {
	if s.KeptOriginal {
		return true
	}
	if s.Generating || s.Loading {
		return false
	}
	return len(s.Images) > 0 || s.Error != nil
}

// Failed reports whether the slot ended in an error.
func (s Slot) Failed() bool {
	return !s.Generating && s.Error != nil
}

// Retryable reports whether a retry action should be offered for the slot.
func (s Slot) Retryable() bool {
	return s.Error != nil && s.Error.Retryable && !s.Permanent
}

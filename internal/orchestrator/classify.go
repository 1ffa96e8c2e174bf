package orchestrator

import (
	"strings"

	"photobooth/internal/domain"
	"photobooth/internal/rendernet"
)

// Classification is the normalized verdict for one raw upstream error:
// a closed kind, a short user-facing status, the full diagnostic message,
// and the two routing flags.
type Classification struct {
	Kind            domain.ErrorKind
	Status          string
	Message         string
	Retryable       bool
	BatchCancelling bool
}

// SlotError converts the classification into the display descriptor.
func (c Classification) SlotError() *domain.SlotError {
	return &domain.SlotError{
		Kind:      c.Kind,
		Status:    c.Status,
		Message:   c.Message,
		Retryable: c.Retryable,
	}
}

// codeKinds maps known upstream error codes to taxonomy kinds.
var codeKinds = map[string]domain.ErrorKind{
	"insufficient_funds":  domain.ErrKindInsufficientFunds,
	"payment_required":    domain.ErrKindInsufficientFunds,
	"quota_exceeded":      domain.ErrKindInsufficientFunds,
	"auth_required":       domain.ErrKindAuthRequired,
	"unauthorized":        domain.ErrKindAuthRequired,
	"account_unverified":  domain.ErrKindAuthRequired,
	"content_policy":      domain.ErrKindContentFiltered,
	"content_filtered":    domain.ErrKindContentFiltered,
	"safety_rejected":     domain.ErrKindContentFiltered,
	"missing_result":      domain.ErrKindMissingResult,
	"network_error":       domain.ErrKindNetwork,
	"connection_reset":    domain.ErrKindNetwork,
	"gateway_timeout":     domain.ErrKindNetwork,
	"internal_error":      domain.ErrKindGeneric,
	"service_unavailable": domain.ErrKindGeneric,
}

// messageKinds maps message substrings to kinds, checked in order after
// the code table misses.
var messageKinds = []struct {
	substr string
	kind   domain.ErrorKind
}{
	{"insufficient", domain.ErrKindInsufficientFunds},
	{"not enough credits", domain.ErrKindInsufficientFunds},
	{"unverified", domain.ErrKindAuthRequired},
	{"log in", domain.ErrKindAuthRequired},
	{"content policy", domain.ErrKindContentFiltered},
	{"nsfw", domain.ErrKindContentFiltered},
	{"filtered", domain.ErrKindContentFiltered},
	{"no result", domain.ErrKindMissingResult},
	{"timed out", domain.ErrKindNetwork},
	{"timeout", domain.ErrKindNetwork},
	{"connection", domain.ErrKindNetwork},
	{"network", domain.ErrKindNetwork},
}

// batchCancellingCodes abort every still-generating slot in the project:
// they indicate the whole batch is unrecoverable service faults, not one
// job. Funds and auth failures stay slot-local: they need user action, and
// sibling jobs already in flight may still deliver.
var batchCancellingCodes = map[string]struct{}{
	"internal_error":      {},
	"service_unavailable": {},
	"capacity_exhausted":  {},
	"project_rejected":    {},
}

var batchCancellingSubstrings = []string{
	"internal error",
	"service unavailable",
	"server shutting down",
}

// statusTexts are the short kind-specific strings slots display, distinct
// from the full diagnostic message.
var statusTexts = map[domain.ErrorKind]string{
	domain.ErrKindInsufficientFunds: "Out of credits",
	domain.ErrKindAuthRequired:      "Account action needed",
	domain.ErrKindContentFiltered:   "Blocked by content filter",
	domain.ErrKindMissingResult:     "No image returned",
	domain.ErrKindNetwork:           "Connection problem",
	domain.ErrKindTimeout:           "Took too long",
	domain.ErrKindGeneric:           "Generation failed",
}

// StatusText returns the short display string for a kind.
func StatusText(kind domain.ErrorKind) string {
	if s, ok := statusTexts[kind]; ok {
		return s
	}
	return statusTexts[domain.ErrKindGeneric]
}

// Classify normalizes a raw upstream error payload. Unrecognized errors
// fall through to generic-failure, non-retryable, so nothing ever enters a
// silent retry loop.
func Classify(remote *rendernet.RemoteError) Classification {
	if remote == nil {
		return classification(domain.ErrKindMissingResult, "")
	}

	code := strings.ToLower(strings.TrimSpace(remote.Code))
	message := strings.ToLower(remote.Message)

	kind := domain.ErrKindGeneric
	if k, ok := codeKinds[code]; ok {
		kind = k
	} else {
		for _, m := range messageKinds {
			if strings.Contains(message, m.substr) {
				kind = m.kind
				break
			}
		}
	}

	c := classification(kind, remote.Error())

	if _, ok := batchCancellingCodes[code]; ok {
		c.BatchCancelling = true
	} else {
		for _, s := range batchCancellingSubstrings {
			if strings.Contains(message, s) {
				c.BatchCancelling = true
				break
			}
		}
	}
	return c
}

// TimeoutClassification is the supervisor-originated verdict for a job or
// project that exceeded a timer.
func TimeoutClassification(message string) Classification {
	c := classification(domain.ErrKindTimeout, message)
	return c
}

// MissingResultClassification covers completion events without a payload.
func MissingResultClassification() Classification {
	return classification(domain.ErrKindMissingResult, "service reported success with no image payload")
}

func classification(kind domain.ErrorKind, message string) Classification {
	c := Classification{
		Kind:    kind,
		Status:  StatusText(kind),
		Message: message,
	}
	if message == "" {
		c.Message = c.Status
	}
	// Network and timeout faults are transient; funds, auth and content
	// rejections need user action outside the orchestrator.
	switch kind {
	case domain.ErrKindNetwork, domain.ErrKindTimeout:
		c.Retryable = true
	}
	return c
}

package orchestrator

import (
	"context"
	"time"

	"photobooth/internal/domain"
)

// RetrySlot re-submits a single failed slot, permitted only when the slot
// is marked retryable and the original source image is still available.
// The slot returns to a fresh generating state and re-enters the gateway
// as a one-job project bound to the same index.
func (o *Orchestrator) RetrySlot(ctx context.Context, idx int) (string, error) {
	mode := o.store.Mode()
	slot, ok := o.store.Get(mode, idx)
	if !ok {
		return "", domain.ErrNotFound
	}
	if !slot.Retryable() {
		return "", domain.ErrSlotNotRetryable
	}

	o.mu.Lock()
	lastReq := o.lastReq
	o.mu.Unlock()
	if lastReq == nil {
		return "", domain.ErrSourceUnavailable
	}
	if lastReq.SourceType != "" && lastReq.SourceType != domain.SourceStyleReference {
		if lastReq.Source == nil || (len(lastReq.Source.Data) == 0 && lastReq.Source.URL == "") {
			return "", domain.ErrSourceUnavailable
		}
	}

	req := *lastReq
	req.JobCount = 1
	req.KeepOriginal = false
	o.logger.Info().Int("slot", idx).Msg("retry: resubmitting slot")
	return o.submit(ctx, req, []int{idx})
}

// RetryAll first sweeps slots that are stuck (generating with no activity
// for an extended period) into retryable failures, then retries every
// retryable slot one at a time with a fixed inter-retry delay. Sequential
// submission is the recovery path's backpressure: the upstream service is
// never hit with a burst of retries.
func (o *Orchestrator) RetryAll(ctx context.Context) (int, error) {
	o.SweepStuck()

	mode := o.store.Mode()
	var targets []int
	for _, slot := range o.store.Snapshot(mode) {
		if slot.Retryable() {
			targets = append(targets, slot.Index)
		}
	}

	retried := 0
	for i, idx := range targets {
		if i > 0 {
			select {
			case <-ctx.Done():
				return retried, ctx.Err()
			case <-time.After(o.cfg.RetryDelay):
			}
		}
		if _, err := o.RetrySlot(ctx, idx); err != nil {
			o.logger.Warn().Err(err).Int("slot", idx).Msg("retry: bulk retry skipped slot")
			continue
		}
		retried++
		if err := o.waitForProject(ctx); err != nil {
			return retried, err
		}
	}
	return retried, nil
}

// SweepStuck reclassifies generating slots with no recent activity as
// retryable failures. Slots orphaned by an abandoned project can never
// progress again and are swept regardless of age.
func (o *Orchestrator) SweepStuck() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	ap := o.active
	mode := o.store.Mode()
	eligible := make(map[int]bool)
	if ap != nil {
		mode = ap.mode
		for _, idx := range ap.eligible {
			eligible[idx] = true
		}
	}

	now := o.now()
	swept := 0
	for _, slot := range o.store.Snapshot(mode) {
		if !slot.Generating {
			continue
		}
		stuck := false
		switch {
		case ap == nil || !eligible[slot.Index]:
			stuck = true
		default:
			last := ap.lastActivity[slot.Index]
			if last.IsZero() {
				last = ap.createdAt
			}
			stuck = now.Sub(last) >= o.cfg.StuckThreshold
		}
		if !stuck {
			continue
		}
		c := TimeoutClassification("no progress for an extended period")
		c.Retryable = true
		o.failSlot(mode, slot.Index, c)
		if ap != nil && eligible[slot.Index] {
			if jobID, ok := ap.index.jobFor(slot.Index); ok {
				ap.timers.stopJob(jobID)
				if job := ap.jobs[jobID]; job != nil && !job.State.Terminal() {
					job.State = domain.JobTimedOut
				}
			}
		}
		swept++
	}
	if swept > 0 {
		o.logger.Info().Int("count", swept).Msg("retry: swept stuck slots")
		if ap != nil {
			o.checkProjectDoneLocked(ap)
		}
	}
	return swept
}

// waitForProject blocks until the current active project finishes. The
// overall deadline bounds the wait; the context can cut it short.
func (o *Orchestrator) waitForProject(ctx context.Context) error {
	o.mu.Lock()
	ap := o.active
	o.mu.Unlock()
	if ap == nil {
		return nil
	}
	select {
	case <-ap.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"photobooth/internal/domain"
	"photobooth/internal/rendernet"
)

// handlePreviewLocked attaches an in-progress preview image. Previews
// never change the generating flag and never touch terminal state.
func (o *Orchestrator) handlePreviewLocked(ap *activeProject, ev rendernet.Event) {
	idx, ok := o.ensureBoundLocked(ap, ev)
	if !ok {
		return
	}
	job := ap.jobs[ev.JobID]
	if job.State.Terminal() {
		return
	}
	job.State = domain.JobPreviewReady
	if ev.Result != nil {
		job.PreviewURL = ev.Result.URL
	}
	ap.lastActivity[idx] = o.now()
	o.resetWatchdogLocked(ap)

	o.store.MutateNonTerminal(ap.mode, idx, func(sl *domain.Slot) {
		sl.Preview = true
		if ev.Progress > sl.Progress {
			sl.Progress = ev.Progress
		}
		if ev.Worker != "" {
			sl.Worker = ev.Worker
		}
		if ev.Result != nil && ev.Result.URL != "" {
			sl.Images = replacePreview(sl.Images, domain.ImageRef{URL: ev.Result.URL, Preview: true})
		}
	})
}

// handleFinal processes a final completion event. The asset download runs
// outside the orchestrator lock; the terminal write afterwards re-checks
// that the project was not replaced in the meantime.
func (o *Orchestrator) handleFinal(ap *activeProject, ev rendernet.Event) {
	o.mu.Lock()
	if o.active != ap {
		o.mu.Unlock()
		return
	}
	idx, ok := o.ensureBoundLocked(ap, ev)
	if !ok {
		o.mu.Unlock()
		return
	}
	job := ap.jobs[ev.JobID]
	if job.State.Terminal() {
		o.mu.Unlock()
		return
	}

	// An explicit failure event should have been raised upstream for this,
	// but a success without a payload still must not hang the slot.
	if ev.Result == nil || ev.Result.URL == "" {
		job.State = domain.JobFailed
		ap.timers.stopJob(ev.JobID)
		o.failSlot(ap.mode, idx, MissingResultClassification())
		o.checkProjectDoneLocked(ap)
		o.mu.Unlock()
		return
	}

	job.State = domain.JobCompleted
	job.Progress = 1
	job.ResultURL = ev.Result.URL
	if ev.PromptUsed != "" {
		job.PromptUsed = ev.PromptUsed
	}
	ap.timers.stopJob(ev.JobID)
	o.resetWatchdogLocked(ap)
	ap.lastActivity[idx] = o.now()

	promptUsed := job.PromptUsed
	if promptUsed == "" {
		promptUsed = ap.req.Prompt
	}
	mode, pid, styleName := ap.mode, ap.id, ap.req.StyleName
	worker := job.Worker
	if ev.Worker != "" {
		worker = ev.Worker
	}
	o.store.Mutate(mode, idx, func(sl *domain.Slot) {
		sl.Loading = true
	})
	o.mu.Unlock()

	ref := o.downloadResult(ap, pid, mode, idx, ev.Result.URL)

	label := ""
	if o.labels != nil {
		label = o.labels.ResolveLabel(promptUsed, styleName)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != ap {
		// Cancelled, timed out or replaced while the download ran; the slot
		// may already belong to a newer project, so the stale result is
		// dropped.
		return
	}
	req := ap.req
	o.store.MutateNonTerminal(mode, idx, func(sl *domain.Slot) {
		sl.Generating = false
		sl.Loading = false
		sl.Preview = false
		sl.Progress = 1
		sl.DownloadProgress = 1
		sl.Images = []domain.ImageRef{ref}
		sl.Error = nil
		sl.Label = label
		sl.Style = req.StyleName
		sl.Seed = req.Seed
		sl.Model = req.Model
		sl.Worker = worker
		sl.Prompt = promptUsed
	})

	if !ap.celebrated {
		ap.celebrated = true
		o.fire(func(h Hooks) {
			if h.OnFirstCompletion != nil {
				h.OnFirstCompletion()
			}
		})
	}
	o.checkProjectDoneLocked(ap)
}

// downloadResult fetches the final asset into local storage, tracking
// download progress separately from generation progress. Any failure
// falls back to the direct upstream reference. Progress writes stop once
// the project is no longer active, since the slot may have been handed to
// a successor by then.
func (o *Orchestrator) downloadResult(ap *activeProject, projectID string, mode ViewMode, idx int, url string) domain.ImageRef {
	direct := domain.ImageRef{URL: url}
	if o.assets == nil {
		return direct
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return direct
	}
	resp, err := o.httpc.Do(req)
	if err != nil {
		o.logger.Warn().Err(err).Str("url", url).Msg("reconciler: download failed, using direct reference")
		return direct
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		o.logger.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("reconciler: download rejected, using direct reference")
		return direct
	}

	var buf bytes.Buffer
	total := resp.ContentLength
	chunk := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if total > 0 {
				o.mu.Lock()
				live := o.active == ap
				o.mu.Unlock()
				if live {
					fraction := float64(buf.Len()) / float64(total)
					o.store.MutateNonTerminal(mode, idx, func(sl *domain.Slot) {
						sl.DownloadProgress = fraction
					})
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			o.logger.Warn().Err(readErr).Str("url", url).Msg("reconciler: download interrupted, using direct reference")
			return direct
		}
	}

	key := fmt.Sprintf("projects/%s/slot-%02d%s", projectID, idx, assetExtension(resp.Header.Get("Content-Type"), url))
	storedKey, err := o.assets.Write(ctx, key, buf.Bytes())
	if err != nil {
		o.logger.Warn().Err(err).Str("key", key).Msg("reconciler: asset store write failed, using direct reference")
		return direct
	}
	return domain.ImageRef{URL: url, StorageKey: storedKey}
}

// handleProjectCompletedLocked handles the whole-project completion
// signal. If any slot is still outstanding (per the payload or the index
// map), a grace period absorbs out-of-order final events; the grace
// escalates once, then the project is force-finished so the UI cannot
// show "still working" forever.
func (o *Orchestrator) handleProjectCompletedLocked(ap *activeProject, ev rendernet.Event) {
	if !o.anyOutstandingLocked(ap, ev.Jobs) {
		o.finishLocked(ap, domain.ProjectCompleted, false)
		return
	}
	o.scheduleGraceLocked(ap, o.cfg.GracePeriod)
}

func (o *Orchestrator) scheduleGraceLocked(ap *activeProject, d time.Duration) {
	if ap.graceTimer != nil {
		ap.graceTimer.Stop()
	}
	pid := ap.id
	ap.graceTimer = time.AfterFunc(d, func() { o.onGrace(pid) })
}

func (o *Orchestrator) onGrace(projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ap := o.active
	if ap == nil || ap.id != projectID {
		return
	}
	if !o.anyOutstandingLocked(ap, nil) {
		o.finishLocked(ap, domain.ProjectCompleted, false)
		return
	}
	if !ap.graceEscalated {
		ap.graceEscalated = true
		o.logger.Info().Str("project_id", projectID).Msg("reconciler: slots still outstanding, escalating grace period")
		o.scheduleGraceLocked(ap, o.cfg.EscalatedGracePeriod)
		return
	}
	o.logger.Warn().Str("project_id", projectID).Msg("reconciler: force-finishing project with outstanding slots")
	c := TimeoutClassification("project finished without delivering this image")
	c.Retryable = true
	o.failGeneratingLocked(ap, c)
	o.finishLocked(ap, domain.ProjectCompleted, false)
}

// anyOutstandingLocked reports whether any eligible slot is still not
// terminal, consulting the completion payload when provided.
func (o *Orchestrator) anyOutstandingLocked(ap *activeProject, summaries []rendernet.JobSummary) bool {
	for _, idx := range ap.eligible {
		slot, ok := o.store.Get(ap.mode, idx)
		if ok && !slot.Terminal() {
			return true
		}
	}
	for _, s := range summaries {
		if s.Done {
			continue
		}
		if _, bound := ap.index.slotFor(s.ID); bound {
			return true
		}
	}
	return false
}

func replacePreview(images []domain.ImageRef, preview domain.ImageRef) []domain.ImageRef {
	out := images[:0]
	for _, ref := range images {
		if !ref.Preview {
			out = append(out, ref)
		}
	}
	return append(out, preview)
}

// assetExtension picks a file extension from the response content type,
// falling back to the URL path.
func assetExtension(contentType, url string) string {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			switch mt {
			case "image/png":
				return ".png"
			case "image/jpeg":
				return ".jpg"
			case "image/webp":
				return ".webp"
			}
		}
	}
	if ext := strings.ToLower(path.Ext(url)); ext == ".png" || ext == ".jpg" || ext == ".jpeg" || ext == ".webp" {
		return ext
	}
	return ".png"
}

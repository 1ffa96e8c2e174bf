package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"photobooth/internal/domain"
	"photobooth/internal/funding"
	"photobooth/internal/rendernet"
)

// Config carries the timing knobs for one orchestrator instance.
type Config struct {
	JobTimeout           time.Duration
	WatchdogTimeout      time.Duration
	OverallTimeout       time.Duration
	ProgressWindow       time.Duration
	LifecycleWindow      time.Duration
	CompletionThreshold  float64
	GracePeriod          time.Duration
	EscalatedGracePeriod time.Duration
	RetryDelay           time.Duration
	StuckThreshold       time.Duration
	SkipCostCheck        bool
}

func (c Config) withDefaults() Config {
	def := func(d *time.Duration, fallback time.Duration) {
		if *d <= 0 {
			*d = fallback
		}
	}
	def(&c.JobTimeout, 90*time.Second)
	def(&c.WatchdogTimeout, 45*time.Second)
	def(&c.OverallTimeout, 5*time.Minute)
	def(&c.ProgressWindow, 200*time.Millisecond)
	def(&c.LifecycleWindow, 50*time.Millisecond)
	def(&c.GracePeriod, 2*time.Second)
	def(&c.EscalatedGracePeriod, 5*time.Second)
	def(&c.RetryDelay, 1500*time.Millisecond)
	def(&c.StuckThreshold, 60*time.Second)
	if c.CompletionThreshold <= 0 || c.CompletionThreshold > 1 {
		c.CompletionThreshold = 1
	}
	return c
}

// Hooks are the callbacks the display layer subscribes to instead of
// polling. Each is optional and invoked on its own goroutine.
type Hooks struct {
	OnOutOfCredits             func()
	OnBatchCancelledExternally func(domain.ErrorKind)
	OnAllSlotsTerminal         func()
	// OnFirstCompletion gates the sound cue, demo-completion marker and
	// celebration animation; fired exactly once per batch.
	OnFirstCompletion func()
	OnPaymentSwitched func(domain.FundingToken)
}

// LabelResolver determines the display label for a finished image.
type LabelResolver interface {
	ResolveLabel(promptUsed, selectedStyle string) string
}

// AssetStore persists downloaded final images.
type AssetStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Deps are the collaborators injected into an orchestrator.
type Deps struct {
	Client     rendernet.Client
	Funding    funding.Provider
	Store      *SlotStore
	Labels     LabelResolver
	Assets     AssetStore
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Hooks      Hooks
}

// activeProject is the orchestrator-held state for the one live batch.
type activeProject struct {
	id       string
	mode     ViewMode
	req      domain.GenerationRequest
	eligible []int

	index        *jobIndex
	timers       *timerSet
	throttle     *coalescer
	jobs         map[string]*domain.Job
	lastActivity map[int]time.Time

	state      domain.ProjectState
	createdAt  time.Time
	celebrated bool

	graceTimer     *time.Timer
	graceEscalated bool

	finished chan struct{}
}

// Orchestrator submits batches to the rendering network, supervises their
// asynchronous lifecycle, reconciles results into the slot store, and
// coordinates retries. It replaces the reference design's ambient global
// project reference: all project and timer state lives on the instance.
type Orchestrator struct {
	cfg     Config
	logger  zerolog.Logger
	client  rendernet.Client
	funding funding.Provider
	store   *SlotStore
	labels  LabelResolver
	assets  AssetStore
	httpc   *http.Client
	hooks   Hooks
	now     func() time.Time

	mu      sync.Mutex
	active  *activeProject
	lastReq *domain.GenerationRequest
}

// New builds an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	httpc := deps.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Orchestrator{
		cfg:     cfg.withDefaults(),
		logger:  deps.Logger,
		client:  deps.Client,
		funding: deps.Funding,
		store:   deps.Store,
		labels:  deps.Labels,
		assets:  deps.Assets,
		httpc:   httpc,
		hooks:   deps.Hooks,
		now:     time.Now,
	}
}

// Store exposes the slot store for the read-mostly display layer.
func (o *Orchestrator) Store() *SlotStore {
	return o.store
}

// ActiveProjectID returns the live project id, if any.
func (o *Orchestrator) ActiveProjectID() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return "", false
	}
	return o.active.id, true
}

// Submit runs the gateway sequence for a fresh batch: readiness check,
// cost estimate against the funding balances (with auto-switch to the
// alternate token), slot allocation, network submission, and supervisor
// start. Rejections happen before any network call; a failed submission
// leaves no project active.
func (o *Orchestrator) Submit(ctx context.Context, req domain.GenerationRequest) (string, error) {
	if req.JobCount < 1 {
		req.JobCount = 1
	}
	return o.submit(ctx, req, nil)
}

// submit is the shared gateway path. targetSlots is nil for a fresh batch
// (the buffer is rebuilt) and carries specific slot indices for retries.
func (o *Orchestrator) submit(ctx context.Context, req domain.GenerationRequest, targetSlots []int) (string, error) {
	if o.client == nil || !o.client.Ready() {
		return "", domain.ErrClientNotReady
	}
	if err := o.checkFunding(ctx, req); err != nil {
		return "", err
	}

	// Starting a new project invalidates the previous one; its timers stop
	// now and its late events are dropped by id comparison.
	o.abandonActive()

	mode := o.store.Mode()
	var eligible []int
	if targetSlots == nil {
		sourceURL := ""
		if req.Source != nil {
			sourceURL = req.Source.URL
		}
		o.store.Reset(mode, req.SlotCount(), req.KeepOriginal, sourceURL)
		first := 0
		if req.KeepOriginal {
			first = 1
		}
		for i := first; i < o.store.Len(mode); i++ {
			eligible = append(eligible, i)
		}
	} else {
		for _, idx := range targetSlots {
			o.store.Mutate(mode, idx, func(sl *domain.Slot) {
				*sl = domain.Slot{Index: sl.Index, Generating: true}
			})
		}
		eligible = append(eligible, targetSlots...)
	}

	remote, err := o.client.Create(ctx, buildCreateRequest(req))
	if err != nil {
		c := classifySubmitError(err)
		for _, idx := range eligible {
			o.failSlot(mode, idx, c)
		}
		o.logger.Error().Err(err).Msg("gateway: project submission failed")
		return "", fmt.Errorf("submit project: %w", err)
	}

	ap := &activeProject{
		id:           remote.ID,
		mode:         mode,
		req:          req,
		eligible:     eligible,
		index:        newJobIndex(),
		timers:       newTimerSet(),
		jobs:         make(map[string]*domain.Job),
		lastActivity: make(map[int]time.Time),
		state:        domain.ProjectActive,
		createdAt:    o.now(),
		finished:     make(chan struct{}),
	}
	pid := ap.id
	ap.throttle = newCoalescer(
		o.cfg.ProgressWindow,
		o.cfg.LifecycleWindow,
		func(ev rendernet.Event) bool {
			return ev.Kind == rendernet.EventJobProgress && ev.Progress >= o.cfg.CompletionThreshold
		},
		func() { o.touchWatchdog(pid) },
		o.handleEvent,
	)

	o.mu.Lock()
	o.active = ap
	reqCopy := req
	o.lastReq = &reqCopy
	ap.timers.armOverall(o.cfg.OverallTimeout, func() { o.onProjectTimeout(pid, "project exceeded the absolute deadline") })
	ap.timers.resetWatchdog(o.cfg.WatchdogTimeout, func() { o.onProjectTimeout(pid, "no activity from the rendering network") })
	o.mu.Unlock()

	o.logger.Info().Str("project_id", pid).Int("jobs", req.JobCount).Msg("gateway: project submitted")
	go o.pumpEvents(ap, remote.Events)
	return pid, nil
}

// checkFunding enforces backpressure at the gateway: work that is already
// known to be unpayable is never submitted. The estimate itself is
// best-effort; when it is unavailable the upstream stays the authority.
func (o *Orchestrator) checkFunding(ctx context.Context, req domain.GenerationRequest) error {
	if o.cfg.SkipCostCheck || o.funding == nil {
		return nil
	}
	cost, ok, err := o.client.EstimateCost(ctx, rendernet.EstimateParams{
		Model:    req.Model,
		JobCount: req.JobCount,
		Steps:    req.Steps,
		Width:    req.Width,
		Height:   req.Height,
		Premium:  req.Premium,
	})
	if err != nil {
		o.logger.Warn().Err(err).Msg("gateway: cost estimate failed, submitting without pre-check")
		return nil
	}
	if !ok {
		return nil
	}

	token := req.Funding
	if token == "" {
		token = o.funding.Active()
	}
	if o.funding.Balance(token) >= cost {
		return nil
	}
	alt := token.Alternate()
	if o.funding.Balance(alt) >= cost {
		o.funding.Switch(alt)
		o.logger.Info().Str("token", string(alt)).Int64("cost", cost).Msg("gateway: switched funding token")
		o.fire(func(h Hooks) {
			if h.OnPaymentSwitched != nil {
				h.OnPaymentSwitched(alt)
			}
		})
		return nil
	}
	o.fire(func(h Hooks) {
		if h.OnOutOfCredits != nil {
			h.OnOutOfCredits()
		}
	})
	return domain.ErrInsufficientCredits
}

// Cancel aborts the active project on user request.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	ap := o.active
	if ap == nil {
		o.mu.Unlock()
		return domain.ErrNoActiveProject
	}
	c := Classification{
		Kind:      domain.ErrKindGeneric,
		Status:    "Cancelled",
		Message:   "generation cancelled",
		Retryable: true,
	}
	o.failGeneratingLocked(ap, c)
	o.finishLocked(ap, domain.ProjectCancelled, true)
	o.mu.Unlock()
	return nil
}

// pumpEvents forwards the project's event stream into the throttler or
// straight to the handler. It keeps draining after the project finishes,
// discarding what arrives, so an upstream that keeps emitting is never
// blocked on a full channel and its pump goroutine can exit.
func (o *Orchestrator) pumpEvents(ap *activeProject, events <-chan rendernet.Event) {
	for ev := range events {
		select {
		case <-ap.finished:
			continue
		default:
		}
		switch {
		case ev.Kind == rendernet.EventJobProgress,
			ev.Kind == rendernet.EventProjectProgress,
			ev.Kind.Lifecycle():
			ap.throttle.offer(ev)
		default:
			o.handleEvent(ev)
		}
	}
}

// handleEvent is the single dispatch point for the closed event union.
func (o *Orchestrator) handleEvent(ev rendernet.Event) {
	o.mu.Lock()
	ap := o.active
	if ap == nil || ap.id != ev.ProjectID {
		o.mu.Unlock()
		o.logger.Debug().
			Str("project_id", ev.ProjectID).
			Str("kind", string(ev.Kind)).
			Msg("dropping event for inactive project")
		return
	}

	switch ev.Kind {
	case rendernet.EventUploadProgress, rendernet.EventUploadComplete:
		o.resetWatchdogLocked(ap)
	case rendernet.EventJobQueued, rendernet.EventJobInitiating, rendernet.EventJobStarted:
		o.handleLifecycleLocked(ap, ev)
	case rendernet.EventJobProgress:
		o.handleProgressLocked(ap, ev)
	case rendernet.EventProjectProgress:
		// Activity was already counted when the flush was scheduled.
	case rendernet.EventJobCompleted:
		if ev.Preview {
			o.handlePreviewLocked(ap, ev)
		} else {
			o.mu.Unlock()
			o.handleFinal(ap, ev)
			return
		}
	case rendernet.EventJobFailed:
		o.handleJobFailedLocked(ap, ev)
	case rendernet.EventProjectCompleted:
		o.handleProjectCompletedLocked(ap, ev)
	case rendernet.EventProjectFailed:
		o.handleProjectFailedLocked(ap, ev)
	}
	o.mu.Unlock()
}

// handleLifecycleLocked records a job state transition and arms the
// per-job timer when the job actually starts.
func (o *Orchestrator) handleLifecycleLocked(ap *activeProject, ev rendernet.Event) {
	o.resetWatchdogLocked(ap)
	idx, ok := o.ensureBoundLocked(ap, ev)
	if !ok {
		return
	}

	job := ap.jobs[ev.JobID]
	if job.State.Terminal() {
		return
	}
	switch ev.Kind {
	case rendernet.EventJobQueued:
		job.State = domain.JobQueued
	case rendernet.EventJobInitiating:
		job.State = domain.JobInitiating
	case rendernet.EventJobStarted:
		job.State = domain.JobStarted
		pid, jobID := ap.id, ev.JobID
		ap.timers.armJob(jobID, o.cfg.JobTimeout, func() { o.onJobTimeout(pid, jobID) })
	}
	if ev.Worker != "" {
		job.Worker = ev.Worker
	}
	ap.lastActivity[idx] = o.now()

	o.store.MutateNonTerminal(ap.mode, idx, func(sl *domain.Slot) {
		if ev.Worker != "" {
			sl.Worker = ev.Worker
		}
		if ev.PromptUsed != "" {
			sl.Prompt = ev.PromptUsed
		}
	})
}

func (o *Orchestrator) handleProgressLocked(ap *activeProject, ev rendernet.Event) {
	idx, ok := o.ensureBoundLocked(ap, ev)
	if !ok {
		return
	}
	job := ap.jobs[ev.JobID]
	if job.State.Terminal() {
		return
	}
	job.State = domain.JobProgressing
	job.Progress = ev.Progress
	ap.lastActivity[idx] = o.now()

	o.store.MutateNonTerminal(ap.mode, idx, func(sl *domain.Slot) {
		if ev.Progress > sl.Progress {
			sl.Progress = ev.Progress
		}
		if ev.Worker != "" {
			sl.Worker = ev.Worker
		}
	})
}

func (o *Orchestrator) handleJobFailedLocked(ap *activeProject, ev rendernet.Event) {
	idx, ok := o.ensureBoundLocked(ap, ev)
	if !ok {
		return
	}
	c := Classify(ev.Err)
	job := ap.jobs[ev.JobID]
	if job.State.Terminal() {
		return
	}

	if c.BatchCancelling {
		o.logger.Warn().
			Str("project_id", ap.id).
			Str("kind", string(c.Kind)).
			Msg("batch-cancelling failure, aborting project")
		o.failGeneratingLocked(ap, c)
		o.fire(func(h Hooks) {
			if h.OnBatchCancelledExternally != nil {
				h.OnBatchCancelledExternally(c.Kind)
			}
		})
		o.finishLocked(ap, domain.ProjectFailed, true)
		return
	}

	job.State = domain.JobFailed
	ap.timers.stopJob(ev.JobID)
	o.failSlot(ap.mode, idx, c)
	if c.Kind == domain.ErrKindInsufficientFunds {
		o.fire(func(h Hooks) {
			if h.OnOutOfCredits != nil {
				h.OnOutOfCredits()
			}
		})
	}
	o.checkProjectDoneLocked(ap)
}

func (o *Orchestrator) handleProjectFailedLocked(ap *activeProject, ev rendernet.Event) {
	c := Classify(ev.Err)
	o.failGeneratingLocked(ap, c)
	o.fire(func(h Hooks) {
		if h.OnBatchCancelledExternally != nil {
			h.OnBatchCancelledExternally(c.Kind)
		}
	})
	o.finishLocked(ap, domain.ProjectFailed, false)
}

// onJobTimeout fires when one job exceeded its timer: only that slot
// fails, retryable, and only its timer is cleared.
func (o *Orchestrator) onJobTimeout(projectID, jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ap := o.active
	if ap == nil || ap.id != projectID {
		return
	}
	job, ok := ap.jobs[jobID]
	if !ok || job.State.Terminal() {
		return
	}
	idx, ok := ap.index.slotFor(jobID)
	if !ok {
		return
	}
	o.logger.Warn().Str("project_id", projectID).Str("job_id", jobID).Msg("supervisor: job timed out")
	job.State = domain.JobTimedOut
	ap.timers.stopJob(jobID)
	c := TimeoutClassification("job took too long")
	c.Retryable = true
	o.failSlot(ap.mode, idx, c)
	o.checkProjectDoneLocked(ap)
}

// onProjectTimeout fires for the watchdog and the overall deadline. Both
// have identical effect: every still-generating slot fails retryable, the
// other timers stop synchronously, and the project is destroyed with a
// best-effort upstream cancellation.
func (o *Orchestrator) onProjectTimeout(projectID, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ap := o.active
	if ap == nil || ap.id != projectID {
		return
	}
	ap.timers.stopAll()
	o.logger.Warn().Str("project_id", projectID).Str("reason", reason).Msg("supervisor: project timed out")
	c := TimeoutClassification(reason)
	c.Retryable = true
	o.failGeneratingLocked(ap, c)
	o.finishLocked(ap, domain.ProjectTimedOut, true)
}

func (o *Orchestrator) touchWatchdog(projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ap := o.active
	if ap == nil || ap.id != projectID {
		return
	}
	o.resetWatchdogLocked(ap)
}

func (o *Orchestrator) resetWatchdogLocked(ap *activeProject) {
	pid := ap.id
	ap.timers.resetWatchdog(o.cfg.WatchdogTimeout, func() {
		o.onProjectTimeout(pid, "no activity from the rendering network")
	})
}

// ensureBoundLocked resolves the event's job id through the index map,
// binding first-seen ids to the lowest unbound eligible slot. Unresolvable
// ids are logged and ignored rather than crashed on.
func (o *Orchestrator) ensureBoundLocked(ap *activeProject, ev rendernet.Event) (int, bool) {
	if ev.JobID == "" {
		return 0, false
	}
	if idx, ok := ap.index.slotFor(ev.JobID); ok {
		return idx, true
	}
	for _, idx := range ap.eligible {
		if ap.index.bound(idx) {
			continue
		}
		if slot, ok := o.store.Get(ap.mode, idx); !ok || slot.Terminal() {
			continue
		}
		ap.index.bind(ev.JobID, idx)
		ap.jobs[ev.JobID] = &domain.Job{ID: ev.JobID, State: domain.JobQueued, PromptUsed: ev.PromptUsed}
		return idx, true
	}
	o.logger.Warn().
		Str("project_id", ap.id).
		Str("job_id", ev.JobID).
		Msg("unresolved job id, ignoring event")
	return 0, false
}

// failSlot writes a failure descriptor into a slot unless it is terminal.
func (o *Orchestrator) failSlot(mode ViewMode, idx int, c Classification) {
	o.store.MutateNonTerminal(mode, idx, func(sl *domain.Slot) {
		sl.Generating = false
		sl.Loading = false
		sl.Preview = false
		sl.Error = c.SlotError()
		sl.Permanent = !c.Retryable
	})
}

// failGeneratingLocked fails every still-generating slot of the project.
func (o *Orchestrator) failGeneratingLocked(ap *activeProject, c Classification) {
	for _, idx := range ap.eligible {
		o.failSlot(ap.mode, idx, c)
		if jobID, ok := ap.index.jobFor(idx); ok {
			if job := ap.jobs[jobID]; job != nil && !job.State.Terminal() {
				job.State = domain.JobFailed
			}
		}
	}
}

// checkProjectDoneLocked finishes the project once every eligible slot is
// terminal.
func (o *Orchestrator) checkProjectDoneLocked(ap *activeProject) {
	for _, idx := range ap.eligible {
		slot, ok := o.store.Get(ap.mode, idx)
		if !ok || !slot.Terminal() {
			return
		}
	}
	o.finishLocked(ap, domain.ProjectCompleted, false)
}

// finishLocked tears the project down: timers, throttler, grace timer,
// the active reference, and optionally a best-effort upstream cancel.
func (o *Orchestrator) finishLocked(ap *activeProject, state domain.ProjectState, cancelUpstream bool) {
	if ap.state.Terminal() {
		return
	}
	ap.state = state
	ap.timers.stopAll()
	ap.throttle.stop()
	if ap.graceTimer != nil {
		ap.graceTimer.Stop()
		ap.graceTimer = nil
	}
	close(ap.finished)
	if o.active == ap {
		o.active = nil
	}
	if cancelUpstream {
		o.cancelUpstream(ap.id)
	}
	o.logger.Info().Str("project_id", ap.id).Str("state", string(state)).Msg("project finished")
	if o.store.AllTerminal(ap.mode) {
		o.fire(func(h Hooks) {
			if h.OnAllSlotsTerminal != nil {
				h.OnAllSlotsTerminal()
			}
		})
	}
}

// abandonActive drops the live project without touching its slots, used
// when a new submission replaces it. Stuck slots are later reclassified by
// the bulk-retry sweep.
func (o *Orchestrator) abandonActive() {
	o.mu.Lock()
	ap := o.active
	if ap == nil {
		o.mu.Unlock()
		return
	}
	ap.state = domain.ProjectCancelled
	ap.timers.stopAll()
	ap.throttle.stop()
	if ap.graceTimer != nil {
		ap.graceTimer.Stop()
		ap.graceTimer = nil
	}
	close(ap.finished)
	o.active = nil
	o.mu.Unlock()
	o.cancelUpstream(ap.id)
}

// cancelUpstream is fire-and-forget: the network may keep emitting events
// for the project, which the id-mismatch check silently discards.
func (o *Orchestrator) cancelUpstream(projectID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.client.CancelProject(ctx, projectID); err != nil {
			o.logger.Warn().Err(err).Str("project_id", projectID).Msg("upstream cancel failed")
		}
	}()
}

// fire runs a hook on its own goroutine so subscribers can call back into
// the orchestrator without deadlocking.
func (o *Orchestrator) fire(fn func(Hooks)) {
	h := o.hooks
	go fn(h)
}

func buildCreateRequest(req domain.GenerationRequest) rendernet.CreateRequest {
	out := rendernet.CreateRequest{
		Model:          req.Model,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		StylePrompt:    req.StylePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		Guidance:       req.Guidance,
		Seed:           req.Seed,
		JobCount:       req.JobCount,
		Premium:        req.Premium,
	}
	if req.Source != nil {
		out.SourceImage = req.Source.Data
		out.SourceMIME = req.Source.MIME
		out.SourceURL = req.Source.URL
	}
	return out
}

// classifySubmitError maps a synchronous create failure onto the taxonomy.
func classifySubmitError(err error) Classification {
	var remote *rendernet.RemoteError
	if errors.As(err, &remote) {
		return Classify(remote)
	}
	return classification(domain.ErrKindNetwork, err.Error())
}

package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"photobooth/internal/domain"
)

// ViewMode selects which persisted slot sequence the UI is looking at.
type ViewMode string

const (
	ViewRegular ViewMode = "regular"
	ViewGallery ViewMode = "gallery"
)

// Persister stores a slot sequence under a buffer name. Persistence is
// best-effort: failures are logged by the store and never fail a mutation.
type Persister interface {
	SaveBuffer(ctx context.Context, name string, slots []domain.Slot) error
	LoadBuffer(ctx context.Context, name string) ([]domain.Slot, error)
}

// SlotStore is the single id-indexed slot store behind the display layer.
// It replaces the reference design's pair of mirrored arrays: each view
// mode owns one persisted sequence and the "active view" is a selector,
// so switching modes can never lose in-flight state. All writes go
// through Reset/Mutate; no other component touches the sequences.
type SlotStore struct {
	mu      sync.RWMutex
	buffers map[ViewMode][]domain.Slot
	active  ViewMode
	persist Persister
	logger  zerolog.Logger
}

// NewSlotStore creates an empty store with the regular view selected.
func NewSlotStore(logger zerolog.Logger, persist Persister) *SlotStore {
	return &SlotStore{
		buffers: map[ViewMode][]domain.Slot{
			ViewRegular: {},
			ViewGallery: {},
		},
		active:  ViewRegular,
		persist: persist,
		logger:  logger,
	}
}

// SetMode switches the active view.
func (s *SlotStore) SetMode(mode ViewMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == ViewRegular || mode == ViewGallery {
		s.active = mode
	}
}

// Mode returns the active view.
func (s *SlotStore) Mode() ViewMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Restore loads a previously persisted sequence into a buffer.
func (s *SlotStore) Restore(ctx context.Context, mode ViewMode) {
	if s.persist == nil {
		return
	}
	slots, err := s.persist.LoadBuffer(ctx, string(mode))
	if err != nil {
		s.logger.Warn().Err(err).Str("buffer", string(mode)).Msg("slotstore: restore failed")
		return
	}
	s.mu.Lock()
	s.buffers[mode] = slots
	s.mu.Unlock()
}

// Reset replaces the sequence for a mode with n fresh generating slots.
// When keepOriginal is set, slot 0 holds the source image and is terminal
// from the start. The count is fixed for the life of the project.
func (s *SlotStore) Reset(mode ViewMode, n int, keepOriginal bool, originalURL string) {
	slots := make([]domain.Slot, 0, n)
	idx := 0
	if keepOriginal {
		slot := domain.Slot{Index: idx, KeptOriginal: true}
		if originalURL != "" {
			slot.Images = []domain.ImageRef{{URL: originalURL}}
		}
		slots = append(slots, slot)
		idx++
	}
	for ; idx < n; idx++ {
		slots = append(slots, domain.Slot{Index: idx, Generating: true})
	}

	s.mu.Lock()
	s.buffers[mode] = slots
	s.mu.Unlock()
	s.save(mode)
}

// Snapshot returns a copy of one buffer.
func (s *SlotStore) Snapshot(mode ViewMode) []domain.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlots(s.buffers[mode])
}

// View returns a copy of the active buffer.
func (s *SlotStore) View() []domain.Slot {
	s.mu.RLock()
	mode := s.active
	s.mu.RUnlock()
	return s.Snapshot(mode)
}

// Get returns a copy of one slot.
func (s *SlotStore) Get(mode ViewMode, idx int) (domain.Slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.buffers[mode]
	if idx < 0 || idx >= len(buf) {
		return domain.Slot{}, false
	}
	return cloneSlot(buf[idx]), true
}

// Len returns the slot count for a mode.
func (s *SlotStore) Len(mode ViewMode) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffers[mode])
}

// Mutate applies fn to one slot and persists the buffer.
func (s *SlotStore) Mutate(mode ViewMode, idx int, fn func(*domain.Slot)) bool {
	s.mu.Lock()
	buf := s.buffers[mode]
	if idx < 0 || idx >= len(buf) {
		s.mu.Unlock()
		return false
	}
	fn(&buf[idx])
	s.mu.Unlock()
	s.save(mode)
	return true
}

// MutateNonTerminal applies fn only if the slot has not reached a terminal
// state. This is the guard behind the core invariant: late, duplicate or
// throttled events can never overwrite a finished slot.
func (s *SlotStore) MutateNonTerminal(mode ViewMode, idx int, fn func(*domain.Slot)) bool {
	s.mu.Lock()
	buf := s.buffers[mode]
	if idx < 0 || idx >= len(buf) || buf[idx].Terminal() {
		s.mu.Unlock()
		return false
	}
	fn(&buf[idx])
	s.mu.Unlock()
	s.save(mode)
	return true
}

// AllTerminal reports whether every slot in the buffer is finished.
func (s *SlotStore) AllTerminal(mode ViewMode) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.buffers[mode]
	if len(buf) == 0 {
		return false
	}
	for i := range buf {
		if !buf[i].Terminal() {
			return false
		}
	}
	return true
}

func (s *SlotStore) save(mode ViewMode) {
	if s.persist == nil {
		return
	}
	snapshot := s.Snapshot(mode)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persist.SaveBuffer(ctx, string(mode), snapshot); err != nil {
		s.logger.Warn().Err(err).Str("buffer", string(mode)).Msg("slotstore: persist failed")
	}
}

func cloneSlots(in []domain.Slot) []domain.Slot {
	out := make([]domain.Slot, len(in))
	for i := range in {
		out[i] = cloneSlot(in[i])
	}
	return out
}

func cloneSlot(in domain.Slot) domain.Slot {
	out := in
	if in.Images != nil {
		out.Images = make([]domain.ImageRef, len(in.Images))
		copy(out.Images, in.Images)
	}
	if in.Error != nil {
		e := *in.Error
		out.Error = &e
	}
	if in.Seed != nil {
		v := *in.Seed
		out.Seed = &v
	}
	return out
}

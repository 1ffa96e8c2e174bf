package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photobooth/internal/domain"
)

// memPersister records buffer saves so tests can inspect the write-through
// behavior without a database.
type memPersister struct {
	mu      sync.Mutex
	saved   map[string][]domain.Slot
	saveErr error
	loadErr error
}

func newMemPersister() *memPersister {
	return &memPersister{saved: make(map[string][]domain.Slot)}
}

func (m *memPersister) SaveBuffer(ctx context.Context, name string, slots []domain.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[name] = slots
	return nil
}

func (m *memPersister) LoadBuffer(ctx context.Context, name string) ([]domain.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	slots, ok := m.saved[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return slots, nil
}

func (m *memPersister) get(name string) []domain.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[name]
}

func TestSlotStoreReset(t *testing.T) {
	s := NewSlotStore(zerolog.Nop(), nil)
	s.Reset(ViewRegular, 4, false, "")
	require.Equal(t, 4, s.Len(ViewRegular))
	for _, slot := range s.Snapshot(ViewRegular) {
		assert.True(t, slot.Generating)
		assert.False(t, slot.Terminal())
	}

	s.Reset(ViewRegular, 3, true, "https://cam.example/src.jpg")
	require.Equal(t, 3, s.Len(ViewRegular))
	first, ok := s.Get(ViewRegular, 0)
	require.True(t, ok)
	assert.True(t, first.KeptOriginal)
	assert.True(t, first.Terminal())
	require.Len(t, first.Images, 1)
	assert.Equal(t, "https://cam.example/src.jpg", first.Images[0].URL)
}

func TestSlotStoreModesAreIndependent(t *testing.T) {
	s := NewSlotStore(zerolog.Nop(), nil)
	s.Reset(ViewRegular, 2, false, "")
	s.Reset(ViewGallery, 5, false, "")

	assert.Equal(t, ViewRegular, s.Mode())
	assert.Len(t, s.View(), 2)

	s.SetMode(ViewGallery)
	assert.Equal(t, ViewGallery, s.Mode())
	assert.Len(t, s.View(), 5)

	// Mutating one buffer leaves the other untouched.
	s.Mutate(ViewGallery, 0, func(sl *domain.Slot) { sl.Progress = 0.7 })
	regular, _ := s.Get(ViewRegular, 0)
	assert.Zero(t, regular.Progress)

	s.SetMode("bogus")
	assert.Equal(t, ViewGallery, s.Mode(), "unknown modes are ignored")
}

func TestSlotStoreMutateNonTerminal(t *testing.T) {
	s := NewSlotStore(zerolog.Nop(), nil)
	s.Reset(ViewRegular, 1, false, "")

	ok := s.MutateNonTerminal(ViewRegular, 0, func(sl *domain.Slot) {
		sl.Generating = false
		sl.Images = []domain.ImageRef{{URL: "https://img.example/a.png"}}
	})
	require.True(t, ok)
	slot, _ := s.Get(ViewRegular, 0)
	require.True(t, slot.Terminal())

	ok = s.MutateNonTerminal(ViewRegular, 0, func(sl *domain.Slot) {
		sl.Images = nil
		sl.Error = &domain.SlotError{Kind: domain.ErrKindGeneric}
	})
	assert.False(t, ok, "terminal slots refuse further writes")
	slot, _ = s.Get(ViewRegular, 0)
	require.Len(t, slot.Images, 1)
	assert.Nil(t, slot.Error)

	assert.False(t, s.MutateNonTerminal(ViewRegular, 7, func(*domain.Slot) {}))
}

func TestSlotStoreSnapshotIsACopy(t *testing.T) {
	s := NewSlotStore(zerolog.Nop(), nil)
	s.Reset(ViewRegular, 1, false, "")
	s.Mutate(ViewRegular, 0, func(sl *domain.Slot) {
		sl.Images = []domain.ImageRef{{URL: "https://img.example/a.png"}}
		sl.Error = &domain.SlotError{Kind: domain.ErrKindNetwork, Retryable: true}
	})

	snap := s.Snapshot(ViewRegular)
	snap[0].Images[0].URL = "mutated"
	snap[0].Error.Kind = domain.ErrKindGeneric

	slot, _ := s.Get(ViewRegular, 0)
	assert.Equal(t, "https://img.example/a.png", slot.Images[0].URL)
	assert.Equal(t, domain.ErrKindNetwork, slot.Error.Kind)
}

func TestSlotStorePersistsThroughMutations(t *testing.T) {
	p := newMemPersister()
	s := NewSlotStore(zerolog.Nop(), p)
	s.Reset(ViewRegular, 2, false, "")
	require.Len(t, p.get("regular"), 2)

	s.Mutate(ViewRegular, 1, func(sl *domain.Slot) { sl.Progress = 0.5 })
	saved := p.get("regular")
	require.Len(t, saved, 2)
	assert.InDelta(t, 0.5, saved[1].Progress, 1e-9)

	// Persistence failures never fail the mutation itself.
	p.mu.Lock()
	p.saveErr = errors.New("db down")
	p.mu.Unlock()
	ok := s.Mutate(ViewRegular, 0, func(sl *domain.Slot) { sl.Progress = 0.9 })
	assert.True(t, ok)
	slot, _ := s.Get(ViewRegular, 0)
	assert.InDelta(t, 0.9, slot.Progress, 1e-9)
}

func TestSlotStoreRestore(t *testing.T) {
	p := newMemPersister()
	seed := NewSlotStore(zerolog.Nop(), p)
	seed.Reset(ViewGallery, 3, false, "")
	seed.Mutate(ViewGallery, 2, func(sl *domain.Slot) {
		sl.Generating = false
		sl.Images = []domain.ImageRef{{URL: "https://img.example/kept.png"}}
	})

	fresh := NewSlotStore(zerolog.Nop(), p)
	fresh.Restore(context.Background(), ViewGallery)
	require.Equal(t, 3, fresh.Len(ViewGallery))
	slot, _ := fresh.Get(ViewGallery, 2)
	require.Len(t, slot.Images, 1)
	assert.Equal(t, "https://img.example/kept.png", slot.Images[0].URL)

	// A missing buffer leaves the store empty rather than failing.
	other := NewSlotStore(zerolog.Nop(), p)
	other.Restore(context.Background(), ViewRegular)
	assert.Equal(t, 0, other.Len(ViewRegular))
}

func TestSlotStoreAllTerminal(t *testing.T) {
	s := NewSlotStore(zerolog.Nop(), nil)
	assert.False(t, s.AllTerminal(ViewRegular), "empty buffers are never all-terminal")

	s.Reset(ViewRegular, 2, false, "")
	assert.False(t, s.AllTerminal(ViewRegular))

	s.Mutate(ViewRegular, 0, func(sl *domain.Slot) {
		sl.Generating = false
		sl.Images = []domain.ImageRef{{URL: "a"}}
	})
	assert.False(t, s.AllTerminal(ViewRegular))

	s.Mutate(ViewRegular, 1, func(sl *domain.Slot) {
		sl.Generating = false
		sl.Error = &domain.SlotError{Kind: domain.ErrKindTimeout, Retryable: true}
	})
	assert.True(t, s.AllTerminal(ViewRegular))
}

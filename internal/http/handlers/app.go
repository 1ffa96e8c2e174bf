package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"photobooth/internal/domain"
	"photobooth/internal/funding"
	"photobooth/internal/orchestrator"
	"photobooth/internal/storage"
)

// Booth is the orchestrator surface the handlers need. The display layer
// reads the slot store and drives submit/retry/cancel; everything else is
// event-driven.
type Booth interface {
	Submit(ctx context.Context, req domain.GenerationRequest) (string, error)
	Cancel(ctx context.Context) error
	RetrySlot(ctx context.Context, idx int) (string, error)
	RetryAll(ctx context.Context) (int, error)
	SweepStuck() int
	Store() *orchestrator.SlotStore
	ActiveProjectID() (string, bool)
}

// App bundles the handler dependencies.
type App struct {
	Logger  zerolog.Logger
	Booth   Booth
	Funding *funding.MemoryProvider
	Assets  *storage.FileStore
	Events  *Broker
}

// NewApp creates the handler set.
func NewApp(logger zerolog.Logger, booth Booth, fund *funding.MemoryProvider, assets *storage.FileStore, events *Broker) *App {
	return &App{Logger: logger, Booth: booth, Funding: fund, Assets: assets, Events: events}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps orchestrator sentinels onto HTTP status codes.
func (a *App) fail(w http.ResponseWriter, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		code = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrClientNotReady):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrNoActiveProject), errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrSlotNotRetryable), errors.Is(err, domain.ErrSourceUnavailable):
		code = http.StatusConflict
	}
	a.json(w, code, map[string]string{"error": err.Error()})
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"photobooth/internal/domain"
	"photobooth/internal/middleware"
	"photobooth/internal/orchestrator"
)

// ListSlots returns the requested slot sequence. view=active (the
// default) follows the current display mode; regular and gallery read the
// persisted buffers directly.
func (a *App) ListSlots(w http.ResponseWriter, r *http.Request) {
	store := a.Booth.Store()
	mode := store.Mode()

	var slots []domain.Slot
	switch view := r.URL.Query().Get("view"); view {
	case "", "active":
		slots = store.View()
	case string(orchestrator.ViewRegular):
		slots = store.Snapshot(orchestrator.ViewRegular)
		mode = orchestrator.ViewRegular
	case string(orchestrator.ViewGallery):
		slots = store.Snapshot(orchestrator.ViewGallery)
		mode = orchestrator.ViewGallery
	default:
		a.json(w, http.StatusBadRequest, map[string]string{"error": "unknown view"})
		return
	}

	locale := middleware.LocaleFromContext(r.Context())
	for i := range slots {
		if slots[i].Error != nil {
			slots[i].Error.Status = statusText(locale, slots[i].Error.Kind)
		}
	}

	projectID, _ := a.Booth.ActiveProjectID()
	a.json(w, http.StatusOK, map[string]any{
		"view":       mode,
		"project_id": projectID,
		"slots":      slots,
	})
}

// SetView switches the active display mode. In-flight slot state is kept:
// each mode owns its own persisted buffer.
func (a *App) SetView(w http.ResponseWriter, r *http.Request) {
	var in struct {
		View string `json:"view"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	mode := orchestrator.ViewMode(in.View)
	if mode != orchestrator.ViewRegular && mode != orchestrator.ViewGallery {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "unknown view"})
		return
	}
	a.Booth.Store().SetMode(mode)
	a.json(w, http.StatusOK, map[string]string{"view": in.View})
}

// RetrySlot re-submits one failed slot.
func (a *App) RetrySlot(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || idx < 0 {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "invalid slot index"})
		return
	}
	projectID, err := a.Booth.RetrySlot(r.Context(), idx)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"project_id": projectID})
}

// RetryAll sweeps stuck slots and schedules a sequential retry of every
// retryable slot. The sweep happens synchronously so the response can
// report how many slots the recovery covers; the retries themselves run
// in the background.
func (a *App) RetryAll(w http.ResponseWriter, r *http.Request) {
	a.Booth.SweepStuck()

	store := a.Booth.Store()
	retryable := 0
	for _, slot := range store.Snapshot(store.Mode()) {
		if slot.Retryable() {
			retryable++
		}
	}

	go func() {
		if _, err := a.Booth.RetryAll(context.Background()); err != nil {
			a.Logger.Warn().Err(err).Msg("handlers: bulk retry aborted")
		}
	}()

	a.json(w, http.StatusAccepted, map[string]int{"retryable": retryable})
}

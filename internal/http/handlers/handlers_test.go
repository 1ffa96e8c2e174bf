package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"photobooth/internal/domain"
	"photobooth/internal/funding"
	"photobooth/internal/middleware"
	"photobooth/internal/orchestrator"
	"photobooth/internal/storage"
)

// stubBooth scripts the orchestrator surface for handler tests.
type stubBooth struct {
	store *orchestrator.SlotStore

	submitID  string
	submitErr error
	submitted []domain.GenerationRequest

	cancelErr error

	retryID    string
	retryErr   error
	retriedIdx []int

	retryAllDone chan struct{}
	sweepCount   int

	activeID string
}

func (b *stubBooth) Submit(ctx context.Context, req domain.GenerationRequest) (string, error) {
	b.submitted = append(b.submitted, req)
	return b.submitID, b.submitErr
}

func (b *stubBooth) Cancel(ctx context.Context) error { return b.cancelErr }

func (b *stubBooth) RetrySlot(ctx context.Context, idx int) (string, error) {
	b.retriedIdx = append(b.retriedIdx, idx)
	return b.retryID, b.retryErr
}

func (b *stubBooth) RetryAll(ctx context.Context) (int, error) {
	if b.retryAllDone != nil {
		close(b.retryAllDone)
	}
	return 0, nil
}

func (b *stubBooth) SweepStuck() int { return b.sweepCount }

func (b *stubBooth) Store() *orchestrator.SlotStore { return b.store }

func (b *stubBooth) ActiveProjectID() (string, bool) { return b.activeID, b.activeID != "" }

func newTestApp(t *testing.T) (*App, *stubBooth) {
	t.Helper()
	store := orchestrator.NewSlotStore(zerolog.Nop(), nil)
	booth := &stubBooth{store: store, submitID: "p1", retryID: "p2"}
	assets, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	app := NewApp(zerolog.Nop(), booth, funding.NewMemoryProvider(domain.TokenCredits), assets, NewBroker())
	return app, booth
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t)
	rec := httptest.NewRecorder()
	app.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if got := decodeBody(t, rec)["status"]; got != "ok" {
		t.Fatalf("unexpected body: %v", got)
	}
}

func TestSubmitProject(t *testing.T) {
	app, booth := newTestApp(t)
	booth.store.Reset(orchestrator.ViewRegular, 4, false, "")

	body := `{"prompt":"a portrait","job_count":4,"model":"photon-xl","source_image":"aGVsbG8=","source_mime":"image/jpeg","source_type":"camera"}`
	rec := httptest.NewRecorder()
	app.SubmitProject(rec, httptest.NewRequest(http.MethodPost, "/v1/projects", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	out := decodeBody(t, rec)
	if out["project_id"] != "p1" {
		t.Fatalf("unexpected project id: %v", out["project_id"])
	}
	if out["slots"].(float64) != 4 {
		t.Fatalf("unexpected slot count: %v", out["slots"])
	}
	if len(booth.submitted) != 1 {
		t.Fatalf("expected one submission, got %d", len(booth.submitted))
	}
	req := booth.submitted[0]
	if req.Source == nil || string(req.Source.Data) != "hello" {
		t.Fatalf("source image not decoded: %+v", req.Source)
	}
	if req.SourceType != domain.SourceCamera {
		t.Fatalf("unexpected source type: %s", req.SourceType)
	}
}

func TestSubmitProjectValidation(t *testing.T) {
	app, _ := newTestApp(t)

	rec := httptest.NewRecorder()
	app.SubmitProject(rec, httptest.NewRequest(http.MethodPost, "/v1/projects", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid body should be 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	app.SubmitProject(rec, httptest.NewRequest(http.MethodPost, "/v1/projects", strings.NewReader(`{"job_count":2}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing prompt should be 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	app.SubmitProject(rec, httptest.NewRequest(http.MethodPost, "/v1/projects",
		strings.NewReader(`{"prompt":"x","source_image":"@@not-base64@@"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad base64 should be 400, got %d", rec.Code)
	}
}

func TestSubmitProjectErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{domain.ErrInsufficientCredits, http.StatusPaymentRequired},
		{domain.ErrClientNotReady, http.StatusConflict},
		{domain.ErrNoActiveProject, http.StatusNotFound},
	}
	for _, tc := range cases {
		app, booth := newTestApp(t)
		booth.submitErr = tc.err
		rec := httptest.NewRecorder()
		app.SubmitProject(rec, httptest.NewRequest(http.MethodPost, "/v1/projects",
			strings.NewReader(`{"prompt":"x"}`)))
		if rec.Code != tc.code {
			t.Fatalf("%v should map to %d, got %d", tc.err, tc.code, rec.Code)
		}
	}
}

func TestListSlotsLocalizesErrors(t *testing.T) {
	app, booth := newTestApp(t)
	booth.store.Reset(orchestrator.ViewRegular, 2, false, "")
	booth.store.Mutate(orchestrator.ViewRegular, 1, func(sl *domain.Slot) {
		sl.Generating = false
		sl.Error = &domain.SlotError{Kind: domain.ErrKindTimeout, Status: "Took too long", Retryable: true}
	})

	h := middleware.Locale("en")(http.HandlerFunc(app.ListSlots))
	req := httptest.NewRequest(http.MethodGet, "/v1/slots", nil)
	req.Header.Set("X-Locale", "es")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var out struct {
		View  string        `json:"view"`
		Slots []domain.Slot `json:"slots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.View != "regular" {
		t.Fatalf("unexpected view: %s", out.View)
	}
	if len(out.Slots) != 2 {
		t.Fatalf("unexpected slot count: %d", len(out.Slots))
	}
	if got := out.Slots[1].Error.Status; got != "Tardó demasiado" {
		t.Fatalf("status not localized: %q", got)
	}
}

func TestListSlotsViews(t *testing.T) {
	app, booth := newTestApp(t)
	booth.store.Reset(orchestrator.ViewRegular, 2, false, "")
	booth.store.Reset(orchestrator.ViewGallery, 6, false, "")

	rec := httptest.NewRecorder()
	app.ListSlots(rec, httptest.NewRequest(http.MethodGet, "/v1/slots?view=gallery", nil))
	var out struct {
		Slots []domain.Slot `json:"slots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Slots) != 6 {
		t.Fatalf("gallery view should have 6 slots, got %d", len(out.Slots))
	}

	rec = httptest.NewRecorder()
	app.ListSlots(rec, httptest.NewRequest(http.MethodGet, "/v1/slots?view=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown view should be 400, got %d", rec.Code)
	}
}

func TestSetView(t *testing.T) {
	app, booth := newTestApp(t)

	rec := httptest.NewRecorder()
	app.SetView(rec, httptest.NewRequest(http.MethodPut, "/v1/slots/view", strings.NewReader(`{"view":"gallery"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if booth.store.Mode() != orchestrator.ViewGallery {
		t.Fatal("mode did not switch")
	}

	rec = httptest.NewRecorder()
	app.SetView(rec, httptest.NewRequest(http.MethodPut, "/v1/slots/view", strings.NewReader(`{"view":"sideways"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown view should be 400, got %d", rec.Code)
	}
}

func newSlotsRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/slots/{index}/retry", app.RetrySlot)
	return r
}

func TestRetrySlot(t *testing.T) {
	app, booth := newTestApp(t)
	router := newSlotsRouter(app)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/slots/3/retry", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["project_id"]; got != "p2" {
		t.Fatalf("unexpected project id: %v", got)
	}
	if len(booth.retriedIdx) != 1 || booth.retriedIdx[0] != 3 {
		t.Fatalf("unexpected retried indices: %v", booth.retriedIdx)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/slots/banana/retry", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad index should be 400, got %d", rec.Code)
	}

	booth.retryErr = domain.ErrSlotNotRetryable
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/slots/0/retry", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("non-retryable should be 409, got %d", rec.Code)
	}
}

func TestRetryAll(t *testing.T) {
	app, booth := newTestApp(t)
	booth.retryAllDone = make(chan struct{})
	booth.store.Reset(orchestrator.ViewRegular, 3, false, "")
	booth.store.Mutate(orchestrator.ViewRegular, 0, func(sl *domain.Slot) {
		sl.Generating = false
		sl.Error = &domain.SlotError{Kind: domain.ErrKindTimeout, Retryable: true}
	})
	booth.store.Mutate(orchestrator.ViewRegular, 1, func(sl *domain.Slot) {
		sl.Generating = false
		sl.Error = &domain.SlotError{Kind: domain.ErrKindContentFiltered}
	})

	rec := httptest.NewRecorder()
	app.RetryAll(rec, httptest.NewRequest(http.MethodPost, "/v1/slots/retry-all", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if got := decodeBody(t, rec)["retryable"].(float64); got != 1 {
		t.Fatalf("unexpected retryable count: %v", got)
	}
	select {
	case <-booth.retryAllDone:
	case <-time.After(2 * time.Second):
		t.Fatal("bulk retry never started")
	}
}

func TestFundingEndpoints(t *testing.T) {
	app, _ := newTestApp(t)

	body := `{"active":"premium","balances":{"credits":5,"premium":30}}`
	rec := httptest.NewRecorder()
	app.UpdateFunding(rec, httptest.NewRequest(http.MethodPut, "/v1/funding", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	out := decodeBody(t, rec)
	if out["active"] != "premium" {
		t.Fatalf("unexpected active token: %v", out["active"])
	}
	balances := out["balances"].(map[string]any)
	if balances["credits"].(float64) != 5 || balances["premium"].(float64) != 30 {
		t.Fatalf("unexpected balances: %v", balances)
	}

	rec = httptest.NewRecorder()
	app.UpdateFunding(rec, httptest.NewRequest(http.MethodPut, "/v1/funding", strings.NewReader(`{"active":"doubloons"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown token should be 400, got %d", rec.Code)
	}
}

func TestServeAsset(t *testing.T) {
	app, _ := newTestApp(t)
	key, err := app.Assets.Write(context.Background(), "projects/p1/slot-00.png", []byte("png bytes"))
	if err != nil {
		t.Fatalf("seed asset: %v", err)
	}

	r := chi.NewRouter()
	r.Get("/v1/assets/*", app.ServeAsset)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/assets/"+key, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("unexpected content type: %s", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), []byte("png bytes")) {
		t.Fatal("asset body mismatch")
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/assets/projects/p1/nope.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing asset should be 404, got %d", rec.Code)
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Publish(Notification{Event: "first_completion"})
	for i, ch := range []<-chan Notification{ch1, ch2} {
		select {
		case n := <-ch:
			if n.Event != "first_completion" {
				t.Fatalf("subscriber %d got %q", i, n.Event)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received", i)
		}
	}

	unsub1()
	if _, open := <-ch1; open {
		t.Fatal("unsubscribed channel should be closed")
	}
	unsub1() // double-unsubscribe is harmless

	// A full subscriber drops events instead of blocking the publisher.
	for i := 0; i < 100; i++ {
		b.Publish(Notification{Event: "overflow"})
	}
}

package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"photobooth/internal/http/handlers"
	"photobooth/internal/middleware"
)

// NewRouter wires the photobooth HTTP API.
func NewRouter(app *handlers.App, logger zerolog.Logger, allowedOrigins []string, defaultLocale string) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(allowedOrigins),
		middleware.Locale(defaultLocale),
	)

	r.Get("/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", app.SubmitProject)
			r.Post("/cancel", app.CancelProject)
		})

		r.Route("/slots", func(r chi.Router) {
			r.Get("/", app.ListSlots)
			r.Put("/view", app.SetView)
			r.Post("/{index}/retry", app.RetrySlot)
			r.Post("/retry-all", app.RetryAll)
		})

		r.Get("/funding", app.GetFunding)
		r.Put("/funding", app.UpdateFunding)

		r.Get("/events", app.EventStream)
		r.Get("/assets/*", app.ServeAsset)
	})

	return r
}

package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
	"server/internal/realtime"
	"server/internal/shopify"
)

// NewRouter builds the route table. Everything except health and webhooks
// sits behind the Shopify session check.
func NewRouter(app *handlers.App, hub *realtime.Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.AllowedOrigins),
	)

	r.Get("/healthz", app.Health)
	r.Post("/webhooks/shopify", app.ShopifyWebhook)

	r.Group(func(r chi.Router) {
		r.Use(shopify.SessionMiddleware(app.Config.ShopifyAPISecret))
		r.Use(middleware.RateLimit(120, time.Minute))

		r.Route("/creations", func(r chi.Router) {
			r.Post("/", app.CreationsCreate)
			r.Post("/generate", app.CreationsGenerate)
			r.Put("/{id}", app.CreationsUpdate)
			r.Get("/{id}/refresh", app.CreationsRefresh)
		})
		r.Get("/current-merchant-total-creations", app.CreationsMonthlyTotal)

		r.Get("/fetch-product", app.FetchProducts)
		r.Get("/list-categories", app.ListCategories)
		r.Get("/list-templates", app.ListTemplates)
		r.Get("/get-library-data", app.GetLibraryData)
		r.Post("/upload", app.Upload)

		r.Route("/freepik", func(r chi.Router) {
			r.Post("/generate-video", app.FreepikGenerateVideo)
			r.Get("/check-status/{taskId}", app.FreepikCheckStatus)
		})

		r.Get("/ws", hub.ServeWS)
	})

	return r
}

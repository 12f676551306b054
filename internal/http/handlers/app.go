package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/freepik"
	"server/internal/service"
	"server/internal/shopify"
	"server/internal/storage"
)

// App is the handler container holding every collaborator the routes need.
type App struct {
	Config *infra.Config
	Logger infra.Logger

	Creations     domain.CreationRepository
	Categories    domain.CategoryRepository
	Templates     domain.TemplateRepository
	Installations domain.InstallationRepository

	Lifecycle *service.Lifecycle
	Provider  *freepik.Client
	Products  *shopify.ProductClient
	Store     *storage.ObjectStore
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errKey, message string) {
	a.json(w, code, map[string]any{"success": false, "error": errKey, "message": message})
}

// fail maps the domain error taxonomy onto HTTP responses.
func (a *App) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing or invalid session")
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrTaskNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		a.error(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, domain.ErrProviderRejected),
		errors.Is(err, domain.ErrProviderUnavailable),
		errors.Is(err, domain.ErrProviderTimeout):
		a.error(w, http.StatusInternalServerError, "provider_error", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("unhandled error")
		a.error(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func (a *App) currentShop(r *http.Request) string {
	return shopify.ShopFromContext(r.Context())
}

package handlers

import "net/http"

// ListTemplates serves the active template catalog for a media type.
func (a *App) ListTemplates(w http.ResponseWriter, r *http.Request) {
	shop := a.currentShop(r)
	if shop == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	typeFilter, ok := parseTypeFilter(r.URL.Query().Get("type"))
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "type must be image or video")
		return
	}
	templates, err := a.Templates.ListByType(r.Context(), typeFilter)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "data": templates})
}

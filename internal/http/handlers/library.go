package handlers

import (
	"net/http"

	"server/internal/domain"
)

type libraryItem struct {
	Title     string               `json:"title"`
	Source    string               `json:"source"`
	Type      domain.CreationType  `json:"type"`
	OutputMap []domain.OutputAsset `json:"outputMap"`
}

// GetLibraryData serves the tenant's finished creations for the library view.
func (a *App) GetLibraryData(w http.ResponseWriter, r *http.Request) {
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

	creations, err := a.Creations.ListByShop(r.Context(), shop, typeFilter)
	if err != nil {
		a.fail(w, err)
		return
	}

	titles := a.templateTitles(r, creations)
	items := make([]libraryItem, 0, len(creations))
	for _, c := range creations {
		if c.Status != domain.CreationStatusCompleted {
			continue
		}
		items = append(items, libraryItem{
			Title:     titles[c.TemplateID],
			Source:    librarySource(c),
			Type:      c.Type,
			OutputMap: c.OutputMap,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "data": items})
}

func (a *App) templateTitles(r *http.Request, creations []domain.Creation) map[string]string {
	titles := map[string]string{}
	if a.Templates == nil {
		return titles
	}
	for _, c := range creations {
		if _, seen := titles[c.TemplateID]; seen {
			continue
		}
		tpl, err := a.Templates.GetByID(r.Context(), c.TemplateID)
		if err != nil {
			titles[c.TemplateID] = ""
			continue
		}
		titles[c.TemplateID] = tpl.Title
	}
	return titles
}

func librarySource(c domain.Creation) string {
	if c.Meta.VideoURL != "" {
		return c.Meta.VideoURL
	}
	if len(c.OutputMap) > 0 {
		return c.OutputMap[0].OutputURL
	}
	return ""
}

package handlers

import (
	"net/http"

	"server/internal/domain"
)

// ListCategories serves the category tree for a media type.
func (a *App) ListCategories(w http.ResponseWriter, r *http.Request) {
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
	categories, err := a.Categories.ListByType(r.Context(), typeFilter)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "data": buildCategoryTree(categories)})
}

// buildCategoryTree assembles the flat category list into parent/child nodes,
// preserving the stored ordering within each level.
func buildCategoryTree(categories []domain.Category) []*domain.CategoryNode {
	nodes := make(map[string]*domain.CategoryNode, len(categories))
	ordered := make([]*domain.CategoryNode, 0, len(categories))
	for _, c := range categories {
		node := &domain.CategoryNode{Category: c, Children: []*domain.CategoryNode{}}
		nodes[c.ID.Hex()] = node
		ordered = append(ordered, node)
	}

	roots := make([]*domain.CategoryNode, 0, len(ordered))
	for _, node := range ordered {
		if node.ParentID.IsZero() {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[node.ParentID.Hex()]
		if !ok {
			// orphaned node: surface it at the root rather than hide it
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots
}

func parseTypeFilter(raw string) (domain.CreationType, bool) {
	switch raw {
	case "":
		return "", true
	case string(domain.CreationTypeImage):
		return domain.CreationTypeImage, true
	case string(domain.CreationTypeVideo):
		return domain.CreationTypeVideo, true
	default:
		return "", false
	}
}

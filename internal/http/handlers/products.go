package handlers

import "net/http"

// FetchProducts returns the shop's full product catalog for the picker modal.
func (a *App) FetchProducts(w http.ResponseWriter, r *http.Request) {
	shop := a.currentShop(r)
	if shop == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	products, err := a.Products.FetchAll(r.Context(), shop)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, products)
}

package handlers

import (
	"io"
	"net/http"

	"server/internal/shopify"
)

// ShopifyWebhook receives app webhooks. The HMAC signature is the only gate;
// there is no session on this path.
func (a *App) ShopifyWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	if !shopify.VerifyWebhookHMAC(a.Config.ShopifyAPISecret, body, r.Header.Get("X-Shopify-Hmac-Sha256")) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid hmac")
		return
	}

	topic := r.Header.Get("X-Shopify-Topic")
	shop := r.Header.Get("X-Shopify-Shop-Domain")
	a.Logger.Info().Str("topic", topic).Str("shop", shop).Msg("shopify webhook")

	if topic == "app/uninstalled" && shop != "" {
		if err := a.Installations.MarkUninstalled(r.Context(), shop); err != nil {
			a.Logger.Error().Err(err).Str("shop", shop).Msg("mark uninstalled")
		}
	}
	w.WriteHeader(http.StatusOK)
}

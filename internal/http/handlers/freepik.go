package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/providers/freepik"
)

// FreepikGenerateVideo forwards the payload straight to the provider's
// generate endpoint and echoes the provider response.
func (a *App) FreepikGenerateVideo(w http.ResponseWriter, r *http.Request) {
	var req freepik.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	resp, err := a.Provider.Submit(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.rawJSON(w, http.StatusOK, resp.Raw)
}

// FreepikCheckStatus forwards a status poll to the provider and echoes the
// provider response.
func (a *App) FreepikCheckStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	resp, err := a.Provider.PollStatus(r.Context(), taskID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.rawJSON(w, http.StatusOK, resp.Raw)
}

func (a *App) rawJSON(w http.ResponseWriter, code int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(raw)
}

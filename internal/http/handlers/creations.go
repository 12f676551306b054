package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/service"
)

type createCreationRequest struct {
	TemplateID  string               `json:"templateId"`
	Type        domain.CreationType  `json:"type"`
	InputMap    []domain.InputAsset  `json:"inputMap"`
	InputImages []string             `json:"inputImages"`
	CreditsUsed float64              `json:"creditsUsed"`
	Meta        domain.CreationMeta  `json:"meta"`
	TaskID      string               `json:"taskId"`
	OutputMap   []domain.OutputAsset `json:"outputMap"`
}

type updateCreationRequest struct {
	Status        *domain.CreationStatus `json:"status"`
	OutputMap     []domain.OutputAsset   `json:"outputMap"`
	FailureReason *string                `json:"failureReason"`
	Meta          *domain.CreationMeta   `json:"meta"`
}

// CreationsCreate stores a pending creation record. This path does not call
// the provider; the client drives generation through the provider endpoints
// and reports progress with PUT.
func (a *App) CreationsCreate(w http.ResponseWriter, r *http.Request) {
	shop := a.currentShop(r)
	if shop == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	var req createCreationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	creation := &domain.Creation{
		ShopDomain:  shop,
		Type:        req.Type,
		TemplateID:  strings.TrimSpace(req.TemplateID),
		InputMap:    req.InputMap,
		OutputMap:   req.OutputMap,
		CreditsUsed: req.CreditsUsed,
		TaskID:      strings.TrimSpace(req.TaskID),
		Meta:        req.Meta,
		Status:      domain.CreationStatusPending,
	}
	for _, url := range req.InputImages {
		if strings.TrimSpace(url) == "" {
			continue
		}
		creation.InputMap = append(creation.InputMap, domain.InputAsset{ImageURL: url})
	}

	if err := a.Creations.Create(r.Context(), creation); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]any{"success": true, "creation": creation})
}

// CreationsGenerate runs the full lifecycle: pending record, provider
// submission, transition to processing.
func (a *App) CreationsGenerate(w http.ResponseWriter, r *http.Request) {
	shop := a.currentShop(r)
	if shop == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	var req struct {
		createCreationRequest
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	inputMap := req.InputMap
	for _, url := range req.InputImages {
		if strings.TrimSpace(url) == "" {
			continue
		}
		inputMap = append(inputMap, domain.InputAsset{ImageURL: url})
	}

	creation, err := a.Lifecycle.StartGeneration(r.Context(), service.StartGenerationRequest{
		ShopDomain:  shop,
		Type:        req.Type,
		TemplateID:  req.TemplateID,
		InputMap:    inputMap,
		CreditsUsed: req.CreditsUsed,
		Prompt:      req.Prompt,
		Meta:        req.Meta,
	})
	if err != nil {
		if creation != nil {
			// provider failure: the record exists, already marked failed
			a.json(w, http.StatusBadGateway, map[string]any{"success": false, "error": "provider_error", "message": err.Error(), "creation": creation})
			return
		}
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]any{"success": true, "creation": creation})
}

// CreationsUpdate applies a status/output/failure patch to a record.
func (a *App) CreationsUpdate(w http.ResponseWriter, r *http.Request) {
	shop := a.currentShop(r)
	if shop == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	var req updateCreationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	updated, err := a.Lifecycle.ApplyPatch(r.Context(), id, domain.CreationPatch{
		Status:        req.Status,
		OutputMap:     req.OutputMap,
		FailureReason: req.FailureReason,
		Meta:          req.Meta,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "creation": updated})
}

// CreationsRefresh polls the provider for a record's task and applies the
// resulting transition.
func (a *App) CreationsRefresh(w http.ResponseWriter, r *http.Request) {
	shop := a.currentShop(r)
	if shop == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	id := chi.URLParam(r, "id")
	creation, err := a.Lifecycle.RefreshStatus(r.Context(), id)
	if err != nil && creation == nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "creation": creation})
}

// CreationsMonthlyTotal reports the tenant's completed creations in the
// current calendar month.
func (a *App) CreationsMonthlyTotal(w http.ResponseWriter, r *http.Request) {
	shop := a.currentShop(r)
	if shop == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	count, err := a.Creations.CountCompletedSince(r.Context(), shop, monthStart)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"creations": count})
}

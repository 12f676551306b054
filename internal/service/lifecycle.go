package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/freepik"
)

// GenerationClient is the contract the lifecycle expects from the external
// provider client.
type GenerationClient interface {
	Submit(ctx context.Context, req freepik.SubmitRequest) (*freepik.SubmitResponse, error)
	PollStatus(ctx context.Context, taskID string) (*freepik.StatusResponse, error)
}

// Notifier pushes status events to connected clients. Delivery is
// best-effort; failures never propagate back into the lifecycle.
type Notifier interface {
	Publish(event, creationID string, payload any)
}

// StatusEvent is the payload pushed over the realtime channel when a
// creation changes state.
type StatusEvent struct {
	CreationID    string                `json:"creationId"`
	TaskID        string                `json:"taskId,omitempty"`
	Status        domain.CreationStatus `json:"status"`
	OutputMap     []domain.OutputAsset  `json:"outputMap,omitempty"`
	FailureReason string                `json:"failureReason,omitempty"`
}

// StartGenerationRequest carries a validated merchant submission into the
// lifecycle.
type StartGenerationRequest struct {
	ShopDomain  string
	Type        domain.CreationType
	TemplateID  string
	InputMap    []domain.InputAsset
	CreditsUsed float64
	Prompt      string
	Meta        domain.CreationMeta
}

// Lifecycle orchestrates creation records through
// pending -> processing -> {completed | failed}.
type Lifecycle struct {
	creations domain.CreationRepository
	templates domain.TemplateRepository
	usageLogs domain.UsageLogRepository
	client    GenerationClient
	notifier  Notifier
	logger    infra.Logger
}

// NewLifecycle wires the lifecycle service. templates, usageLogs and notifier
// may be nil; the corresponding side effects are skipped.
func NewLifecycle(creations domain.CreationRepository, templates domain.TemplateRepository, usageLogs domain.UsageLogRepository, client GenerationClient, notifier Notifier, logger infra.Logger) *Lifecycle {
	return &Lifecycle{
		creations: creations,
		templates: templates,
		usageLogs: usageLogs,
		client:    client,
		notifier:  notifier,
		logger:    logger,
	}
}

// StartGeneration validates the request, persists a pending record, submits
// the task to the provider, and transitions the record to processing. On
// provider failure the record is moved straight to failed with the error
// message as the failure reason; the failed record is returned alongside the
// error.
func (l *Lifecycle) StartGeneration(ctx context.Context, req StartGenerationRequest) (*domain.Creation, error) {
	creation := &domain.Creation{
		ShopDomain:  strings.TrimSpace(req.ShopDomain),
		Type:        req.Type,
		TemplateID:  strings.TrimSpace(req.TemplateID),
		InputMap:    req.InputMap,
		CreditsUsed: req.CreditsUsed,
		Status:      domain.CreationStatusPending,
		Meta:        req.Meta,
	}
	if len(creation.InputMap) == 0 {
		return nil, fmt.Errorf("%w: at least one input asset is required", domain.ErrValidation)
	}

	prompt := strings.TrimSpace(req.Prompt)
	if l.templates != nil {
		if tpl, err := l.templates.GetByID(ctx, creation.TemplateID); err == nil {
			if prompt == "" {
				prompt = tpl.Prompt
			}
			if creation.CreditsUsed == 0 {
				creation.CreditsUsed = tpl.Credits
			}
			applyTemplateMeta(&creation.Meta, tpl.Meta)
		}
	}

	if err := l.creations.Create(ctx, creation); err != nil {
		return nil, err
	}
	l.recordUsage(ctx, creation)

	resp, err := l.client.Submit(ctx, submitRequest(creation, prompt))
	if err != nil {
		failed, markErr := l.markFailed(ctx, creation.ID.Hex(), err.Error())
		if markErr != nil {
			l.logger.Error().Err(markErr).Str("creation_id", creation.ID.Hex()).Msg("mark creation failed")
			return creation, err
		}
		return failed, err
	}

	taskID := resp.TaskID
	processing := domain.CreationStatusProcessing
	updated, err := l.creations.UpdateByID(ctx, creation.ID.Hex(), domain.CreationPatch{
		TaskID: &taskID,
		Status: &processing,
	})
	if err != nil {
		return creation, err
	}
	l.publish("videoUpdate", updated)
	return updated, nil
}

// RefreshStatus polls the provider for the record's task and maps the
// provider vocabulary onto the internal state machine. Terminal records are
// returned unchanged without a provider round trip.
func (l *Lifecycle) RefreshStatus(ctx context.Context, id string) (*domain.Creation, error) {
	creation, err := l.creations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if creation.Status.Terminal() || creation.TaskID == "" {
		return creation, nil
	}

	status, err := l.client.PollStatus(ctx, creation.TaskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			return l.markFailed(ctx, id, "provider no longer knows task "+creation.TaskID)
		}
		// transient provider trouble: keep the record as-is
		return creation, err
	}

	next, ok := mapProviderStatus(status.Status)
	if !ok {
		l.logger.Warn().Str("provider_status", status.Status).Str("task_id", creation.TaskID).Msg("unknown provider status")
		return creation, nil
	}
	if next == creation.Status {
		return creation, nil
	}
	if !creation.Status.CanTransitionTo(next) {
		return creation, nil
	}

	patch := domain.CreationPatch{Status: &next}
	switch next {
	case domain.CreationStatusCompleted:
		patch.OutputMap = outputMap(creation.InputMap, status.Generated)
		if len(status.Generated) > 0 {
			meta := creation.Meta
			meta.VideoURL = status.Generated[0]
			patch.Meta = &meta
		}
	case domain.CreationStatusFailed:
		reason := "generation failed at provider"
		patch.FailureReason = &reason
	}

	updated, err := l.creations.UpdateByID(ctx, id, patch)
	if err != nil {
		return creation, err
	}
	l.publish("videoUpdate", updated)
	return updated, nil
}

// ApplyPatch applies a client-driven patch (the PUT path). The store keeps
// last-write-wins semantics; the service only refuses to move a record out of
// a terminal state. Re-applying the current terminal state is idempotent.
func (l *Lifecycle) ApplyPatch(ctx context.Context, id string, patch domain.CreationPatch) (*domain.Creation, error) {
	creation, err := l.creations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next := creation.Status
	if patch.Status != nil {
		if !creation.Status.CanTransitionTo(*patch.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, creation.Status, *patch.Status)
		}
		next = *patch.Status
	}
	// the patch as a whole must leave the record consistent: outputs only on
	// completed records, failure reasons only on failed ones
	if len(patch.OutputMap) > 0 && next != domain.CreationStatusCompleted {
		return nil, fmt.Errorf("%w: outputMap requires a completed status", domain.ErrValidation)
	}
	if patch.FailureReason != nil && *patch.FailureReason != "" && next != domain.CreationStatusFailed {
		return nil, fmt.Errorf("%w: failureReason requires a failed status", domain.ErrValidation)
	}
	if patch.TaskID != nil && creation.TaskID != "" && *patch.TaskID != creation.TaskID {
		return nil, fmt.Errorf("%w: taskId is assigned at most once", domain.ErrValidation)
	}

	updated, err := l.creations.UpdateByID(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	l.publish("dbUpdate", updated)
	return updated, nil
}

func (l *Lifecycle) markFailed(ctx context.Context, id, reason string) (*domain.Creation, error) {
	failed := domain.CreationStatusFailed
	updated, err := l.creations.UpdateByID(ctx, id, domain.CreationPatch{
		Status:        &failed,
		FailureReason: &reason,
	})
	if err != nil {
		return nil, err
	}
	l.publish("videoUpdate", updated)
	return updated, nil
}

func (l *Lifecycle) recordUsage(ctx context.Context, creation *domain.Creation) {
	if l.usageLogs == nil {
		return
	}
	err := l.usageLogs.Insert(ctx, &domain.TemplateUsageLog{
		TemplateID:  creation.TemplateID,
		ShopDomain:  creation.ShopDomain,
		CreationID:  creation.ID.Hex(),
		Type:        creation.Type,
		CreditsUsed: creation.CreditsUsed,
	})
	if err != nil {
		l.logger.Error().Err(err).Str("creation_id", creation.ID.Hex()).Msg("record template usage")
	}
}

func (l *Lifecycle) publish(event string, creation *domain.Creation) {
	if l.notifier == nil || creation == nil {
		return
	}
	l.notifier.Publish(event, creation.ID.Hex(), StatusEvent{
		CreationID:    creation.ID.Hex(),
		TaskID:        creation.TaskID,
		Status:        creation.Status,
		OutputMap:     creation.OutputMap,
		FailureReason: creation.FailureReason,
	})
}

func submitRequest(creation *domain.Creation, prompt string) freepik.SubmitRequest {
	req := freepik.SubmitRequest{
		Prompt:      prompt,
		Mode:        creation.Meta.Mode,
		AspectRatio: creation.Meta.AspectRatio,
		CFGScale:    creation.Meta.CFGScale,
	}
	if len(creation.InputMap) > 0 {
		req.Image = creation.InputMap[0].ImageURL
	}
	if creation.Meta.Duration > 0 {
		req.Duration = fmt.Sprintf("%d", creation.Meta.Duration)
	}
	return req
}

// mapProviderStatus translates the provider's status vocabulary onto the
// internal state machine.
func mapProviderStatus(providerStatus string) (domain.CreationStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(providerStatus)) {
	case "CREATED", "PENDING", "QUEUED", "IN_PROGRESS", "PROCESSING":
		return domain.CreationStatusProcessing, true
	case "COMPLETED", "SUCCESS", "SUCCEEDED":
		return domain.CreationStatusCompleted, true
	case "FAILED", "ERROR", "CANCELLED":
		return domain.CreationStatusFailed, true
	default:
		return "", false
	}
}

// outputMap pairs generated URLs with the product ids of the submitted
// inputs, by position. Extra outputs keep an empty product id.
func outputMap(inputs []domain.InputAsset, generated []string) []domain.OutputAsset {
	outputs := make([]domain.OutputAsset, 0, len(generated))
	for i, url := range generated {
		var productID string
		if i < len(inputs) {
			productID = inputs[i].ProductID
		}
		outputs = append(outputs, domain.OutputAsset{ProductID: productID, OutputURL: url})
	}
	return outputs
}

func applyTemplateMeta(meta *domain.CreationMeta, defaults domain.CreationMeta) {
	if meta.AspectRatio == "" {
		meta.AspectRatio = defaults.AspectRatio
	}
	if meta.Duration == 0 {
		meta.Duration = defaults.Duration
	}
	if meta.Mode == "" {
		meta.Mode = defaults.Mode
	}
	if meta.CFGScale == nil {
		meta.CFGScale = defaults.CFGScale
	}
}

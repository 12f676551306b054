package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"server/internal/domain"
	"server/internal/providers/freepik"
)

type memCreationRepo struct {
	mu      sync.Mutex
	records map[string]*domain.Creation
}

func newMemCreationRepo() *memCreationRepo {
	return &memCreationRepo{records: map[string]*domain.Creation{}}
}

func (m *memCreationRepo) Create(_ context.Context, c *domain.Creation) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if c.Status == "" {
		c.Status = domain.CreationStatusPending
	}
	if c.OutputMap == nil {
		c.OutputMap = []domain.OutputAsset{}
	}
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	clone := *c
	m.records[c.ID.Hex()] = &clone
	return nil
}

func (m *memCreationRepo) GetByID(_ context.Context, id string) (*domain.Creation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *memCreationRepo) GetByTaskID(_ context.Context, taskID string) (*domain.Creation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.TaskID == taskID {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memCreationRepo) UpdateByID(_ context.Context, id string, patch domain.CreationPatch) (*domain.Creation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	now := time.Now().UTC()
	rec.UpdatedAt = now
	if patch.TaskID != nil {
		rec.TaskID = *patch.TaskID
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
		if patch.Status.Terminal() {
			rec.ProcessingCompletedAt = &now
		}
		if *patch.Status == domain.CreationStatusProcessing {
			rec.ProcessingStartedAt = &now
		}
	}
	if patch.OutputMap != nil {
		rec.OutputMap = patch.OutputMap
	}
	if patch.FailureReason != nil {
		rec.FailureReason = *patch.FailureReason
	}
	if patch.Meta != nil {
		rec.Meta = *patch.Meta
	}
	clone := *rec
	return &clone, nil
}

func (m *memCreationRepo) CountCompletedSince(_ context.Context, shopDomain string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until := since.AddDate(0, 1, 0)
	var n int64
	for _, rec := range m.records {
		if rec.ShopDomain == shopDomain && rec.Status == domain.CreationStatusCompleted &&
			!rec.CreatedAt.Before(since) && rec.CreatedAt.Before(until) {
			n++
		}
	}
	return n, nil
}

func (m *memCreationRepo) ListByShop(_ context.Context, shopDomain string, typeFilter domain.CreationType) ([]domain.Creation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Creation
	for _, rec := range m.records {
		if rec.ShopDomain != shopDomain {
			continue
		}
		if typeFilter != "" && rec.Type != typeFilter {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (m *memCreationRepo) ListProcessing(_ context.Context, limit int64) ([]domain.Creation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Creation
	for _, rec := range m.records {
		if rec.Status == domain.CreationStatusProcessing && rec.TaskID != "" {
			out = append(out, *rec)
		}
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

type fakeClient struct {
	submitResp *freepik.SubmitResponse
	submitErr  error
	pollResp   *freepik.StatusResponse
	pollErr    error
	pollCalls  int
}

func (f *fakeClient) Submit(context.Context, freepik.SubmitRequest) (*freepik.SubmitResponse, error) {
	return f.submitResp, f.submitErr
}

func (f *fakeClient) PollStatus(context.Context, string) (*freepik.StatusResponse, error) {
	f.pollCalls++
	return f.pollResp, f.pollErr
}

type capturedEvent struct {
	event      string
	creationID string
	payload    any
}

type fakeNotifier struct {
	events []capturedEvent
}

func (f *fakeNotifier) Publish(event, creationID string, payload any) {
	f.events = append(f.events, capturedEvent{event, creationID, payload})
}

func validRequest() StartGenerationRequest {
	return StartGenerationRequest{
		ShopDomain:  "demo.myshopify.com",
		Type:        domain.CreationTypeVideo,
		TemplateID:  "T1",
		InputMap:    []domain.InputAsset{{ProductID: "p1", ImageURL: "https://x/a.jpg"}},
		CreditsUsed: 1.6,
		Prompt:      "rotate slowly",
	}
}

func newLifecycle(repo domain.CreationRepository, client GenerationClient, notifier Notifier) *Lifecycle {
	return NewLifecycle(repo, nil, nil, client, notifier, zerolog.Nop())
}

func TestStartGenerationTransitionsToProcessing(t *testing.T) {
	repo := newMemCreationRepo()
	notifier := &fakeNotifier{}
	client := &fakeClient{submitResp: &freepik.SubmitResponse{TaskID: "task-1", Status: "CREATED"}}
	lc := newLifecycle(repo, client, notifier)

	creation, err := lc.StartGeneration(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	if creation.Status != domain.CreationStatusProcessing {
		t.Fatalf("status = %s, want processing", creation.Status)
	}
	if creation.TaskID != "task-1" {
		t.Fatalf("taskId = %q", creation.TaskID)
	}
	if creation.ProcessingStartedAt == nil {
		t.Fatal("processingStartedAt not set")
	}
	if len(notifier.events) != 1 || notifier.events[0].event != "videoUpdate" {
		t.Fatalf("events = %+v, want one videoUpdate", notifier.events)
	}
}

func TestStartGenerationMarksFailedOnProviderError(t *testing.T) {
	repo := newMemCreationRepo()
	client := &fakeClient{submitErr: fmt.Errorf("%w: status 422: bad image", domain.ErrProviderRejected)}
	lc := newLifecycle(repo, client, &fakeNotifier{})

	creation, err := lc.StartGeneration(context.Background(), validRequest())
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("err = %v, want ErrProviderRejected", err)
	}
	if creation == nil {
		t.Fatal("expected the failed record back")
	}
	if creation.Status != domain.CreationStatusFailed {
		t.Fatalf("status = %s, want failed", creation.Status)
	}
	if creation.FailureReason == "" {
		t.Fatal("failureReason not set")
	}
	if creation.ProcessingCompletedAt == nil {
		t.Fatal("processingCompletedAt not set on failure")
	}
}

func TestStartGenerationRejectsBadShopDomain(t *testing.T) {
	repo := newMemCreationRepo()
	lc := newLifecycle(repo, &fakeClient{}, &fakeNotifier{})

	req := validRequest()
	req.ShopDomain = "evil.example.com"
	if _, err := lc.StartGeneration(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if len(repo.records) != 0 {
		t.Fatal("no record should be stored for invalid input")
	}
}

func seedProcessing(t *testing.T, repo *memCreationRepo) *domain.Creation {
	t.Helper()
	c := &domain.Creation{
		ShopDomain:  "demo.myshopify.com",
		Type:        domain.CreationTypeVideo,
		TemplateID:  "T1",
		InputMap:    []domain.InputAsset{{ProductID: "p1", ImageURL: "https://x/a.jpg"}},
		CreditsUsed: 1.6,
	}
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("seed: %v", err)
	}
	task := "task-9"
	processing := domain.CreationStatusProcessing
	updated, err := repo.UpdateByID(context.Background(), c.ID.Hex(), domain.CreationPatch{TaskID: &task, Status: &processing})
	if err != nil {
		t.Fatalf("seed update: %v", err)
	}
	return updated
}

func TestRefreshStatusCompletes(t *testing.T) {
	repo := newMemCreationRepo()
	seeded := seedProcessing(t, repo)
	notifier := &fakeNotifier{}
	client := &fakeClient{pollResp: &freepik.StatusResponse{
		TaskID:    "task-9",
		Status:    "COMPLETED",
		Generated: []string{"https://cdn/out.mp4"},
	}}
	lc := newLifecycle(repo, client, notifier)

	updated, err := lc.RefreshStatus(context.Background(), seeded.ID.Hex())
	if err != nil {
		t.Fatalf("RefreshStatus: %v", err)
	}
	if updated.Status != domain.CreationStatusCompleted {
		t.Fatalf("status = %s, want completed", updated.Status)
	}
	if len(updated.OutputMap) != 1 || updated.OutputMap[0].OutputURL != "https://cdn/out.mp4" || updated.OutputMap[0].ProductID != "p1" {
		t.Fatalf("outputMap = %+v", updated.OutputMap)
	}
	if updated.ProcessingCompletedAt == nil {
		t.Fatal("processingCompletedAt not set")
	}
	if updated.Meta.VideoURL != "https://cdn/out.mp4" {
		t.Fatalf("meta.videoUrl = %q", updated.Meta.VideoURL)
	}
	if len(notifier.events) != 1 || notifier.events[0].event != "videoUpdate" {
		t.Fatalf("events = %+v", notifier.events)
	}
}

func TestRefreshStatusFailsWhenTaskUnknown(t *testing.T) {
	repo := newMemCreationRepo()
	seeded := seedProcessing(t, repo)
	client := &fakeClient{pollErr: fmt.Errorf("%w: task-9", domain.ErrTaskNotFound)}
	lc := newLifecycle(repo, client, &fakeNotifier{})

	updated, err := lc.RefreshStatus(context.Background(), seeded.ID.Hex())
	if err != nil {
		t.Fatalf("RefreshStatus: %v", err)
	}
	if updated.Status != domain.CreationStatusFailed {
		t.Fatalf("status = %s, want failed", updated.Status)
	}
	if updated.FailureReason == "" {
		t.Fatal("failureReason not set")
	}
}

func TestRefreshStatusKeepsRecordOnTransientError(t *testing.T) {
	repo := newMemCreationRepo()
	seeded := seedProcessing(t, repo)
	client := &fakeClient{pollErr: fmt.Errorf("%w: connection refused", domain.ErrProviderUnavailable)}
	lc := newLifecycle(repo, client, &fakeNotifier{})

	got, err := lc.RefreshStatus(context.Background(), seeded.ID.Hex())
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	if got.Status != domain.CreationStatusProcessing {
		t.Fatalf("status = %s, want processing kept", got.Status)
	}
}

func TestRefreshStatusSkipsTerminalRecords(t *testing.T) {
	repo := newMemCreationRepo()
	seeded := seedProcessing(t, repo)
	completed := domain.CreationStatusCompleted
	if _, err := repo.UpdateByID(context.Background(), seeded.ID.Hex(), domain.CreationPatch{
		Status:    &completed,
		OutputMap: []domain.OutputAsset{{ProductID: "p1", OutputURL: "https://cdn/out.mp4"}},
	}); err != nil {
		t.Fatalf("seed terminal: %v", err)
	}

	client := &fakeClient{}
	lc := newLifecycle(repo, client, &fakeNotifier{})
	got, err := lc.RefreshStatus(context.Background(), seeded.ID.Hex())
	if err != nil {
		t.Fatalf("RefreshStatus: %v", err)
	}
	if got.Status != domain.CreationStatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if client.pollCalls != 0 {
		t.Fatalf("terminal record should not be polled, got %d calls", client.pollCalls)
	}
}

func TestApplyPatchRejectsBackwardTransition(t *testing.T) {
	repo := newMemCreationRepo()
	seeded := seedProcessing(t, repo)
	completed := domain.CreationStatusCompleted
	if _, err := repo.UpdateByID(context.Background(), seeded.ID.Hex(), domain.CreationPatch{Status: &completed}); err != nil {
		t.Fatalf("seed terminal: %v", err)
	}

	lc := newLifecycle(repo, &fakeClient{}, &fakeNotifier{})
	pending := domain.CreationStatusPending
	_, err := lc.ApplyPatch(context.Background(), seeded.ID.Hex(), domain.CreationPatch{Status: &pending})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestApplyPatchTerminalReapplyIsIdempotent(t *testing.T) {
	repo := newMemCreationRepo()
	seeded := seedProcessing(t, repo)
	lc := newLifecycle(repo, &fakeClient{}, &fakeNotifier{})

	completed := domain.CreationStatusCompleted
	patch := domain.CreationPatch{
		Status:    &completed,
		OutputMap: []domain.OutputAsset{{ProductID: "p1", OutputURL: "https://x/out.mp4"}},
	}
	first, err := lc.ApplyPatch(context.Background(), seeded.ID.Hex(), patch)
	if err != nil {
		t.Fatalf("first patch: %v", err)
	}
	second, err := lc.ApplyPatch(context.Background(), seeded.ID.Hex(), patch)
	if err != nil {
		t.Fatalf("second patch: %v", err)
	}
	if second.Status != first.Status || len(second.OutputMap) != len(first.OutputMap) ||
		second.OutputMap[0] != first.OutputMap[0] || second.FailureReason != first.FailureReason {
		t.Fatalf("re-applied patch changed the record: %+v vs %+v", first, second)
	}
}

func TestApplyPatchRejectsFailureReasonOnNonFailed(t *testing.T) {
	repo := newMemCreationRepo()
	seeded := seedProcessing(t, repo)
	lc := newLifecycle(repo, &fakeClient{}, &fakeNotifier{})

	reason := "oops"
	_, err := lc.ApplyPatch(context.Background(), seeded.ID.Hex(), domain.CreationPatch{FailureReason: &reason})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	kept, err := repo.GetByID(context.Background(), seeded.ID.Hex())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if kept.FailureReason != "" || kept.Status != domain.CreationStatusProcessing {
		t.Fatalf("record changed: status=%s failureReason=%q", kept.Status, kept.FailureReason)
	}
}

func TestApplyPatchRejectsOutputMapWithoutCompletedStatus(t *testing.T) {
	repo := newMemCreationRepo()
	seeded := seedProcessing(t, repo)
	lc := newLifecycle(repo, &fakeClient{}, &fakeNotifier{})

	outputs := []domain.OutputAsset{{ProductID: "p1", OutputURL: "https://x/out.mp4"}}

	_, err := lc.ApplyPatch(context.Background(), seeded.ID.Hex(), domain.CreationPatch{OutputMap: outputs})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bare outputMap: err = %v, want ErrValidation", err)
	}

	failed := domain.CreationStatusFailed
	_, err = lc.ApplyPatch(context.Background(), seeded.ID.Hex(), domain.CreationPatch{Status: &failed, OutputMap: outputs})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("outputMap with failed status: err = %v, want ErrValidation", err)
	}
}

func TestApplyPatchAcceptsFailureReasonWithFailedStatus(t *testing.T) {
	repo := newMemCreationRepo()
	seeded := seedProcessing(t, repo)
	lc := newLifecycle(repo, &fakeClient{}, &fakeNotifier{})

	failed := domain.CreationStatusFailed
	reason := "merchant cancelled"
	updated, err := lc.ApplyPatch(context.Background(), seeded.ID.Hex(), domain.CreationPatch{
		Status:        &failed,
		FailureReason: &reason,
	})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if updated.Status != domain.CreationStatusFailed || updated.FailureReason != reason {
		t.Fatalf("status=%s failureReason=%q", updated.Status, updated.FailureReason)
	}
}

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]domain.CreationStatus{
		"CREATED":     domain.CreationStatusProcessing,
		"in_progress": domain.CreationStatusProcessing,
		"COMPLETED":   domain.CreationStatusCompleted,
		"success":     domain.CreationStatusCompleted,
		"FAILED":      domain.CreationStatusFailed,
		"error":       domain.CreationStatusFailed,
	}
	for in, want := range cases {
		got, ok := mapProviderStatus(in)
		if !ok || got != want {
			t.Errorf("mapProviderStatus(%q) = %v/%v, want %v", in, got, ok, want)
		}
	}
	if _, ok := mapProviderStatus("SOMETHING_ELSE"); ok {
		t.Error("unknown vocabulary should not map")
	}
}

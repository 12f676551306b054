package domain

import (
	"context"
	"time"
)

// CreationPatch is a partial update applied to a creation record. Nil fields
// are left untouched by the store.
type CreationPatch struct {
	TaskID              *string
	Status              *CreationStatus
	OutputMap           []OutputAsset
	FailureReason       *string
	Meta                *CreationMeta
	ProcessingStartedAt *time.Time
}

// CreationRepository persists and retrieves creation records.
type CreationRepository interface {
	Create(ctx context.Context, creation *Creation) error
	GetByID(ctx context.Context, id string) (*Creation, error)
	GetByTaskID(ctx context.Context, taskID string) (*Creation, error)
	// UpdateByID applies patch as a single atomic document update and returns
	// the updated record. Moving status to a terminal state sets
	// ProcessingCompletedAt as a side effect.
	UpdateByID(ctx context.Context, id string, patch CreationPatch) (*Creation, error)
	CountCompletedSince(ctx context.Context, shopDomain string, since time.Time) (int64, error)
	ListByShop(ctx context.Context, shopDomain string, typeFilter CreationType) ([]Creation, error)
	ListProcessing(ctx context.Context, limit int64) ([]Creation, error)
}

// CategoryRepository retrieves the template category catalog.
type CategoryRepository interface {
	ListByType(ctx context.Context, typeFilter CreationType) ([]Category, error)
}

// TemplateRepository retrieves generation templates.
type TemplateRepository interface {
	GetByID(ctx context.Context, id string) (*Template, error)
	ListByType(ctx context.Context, typeFilter CreationType) ([]Template, error)
}

// UsageLogRepository records template invocations.
type UsageLogRepository interface {
	Insert(ctx context.Context, log *TemplateUsageLog) error
}

// InstallationRepository resolves per-shop Shopify credentials.
type InstallationRepository interface {
	GetByShop(ctx context.Context, shopDomain string) (*AppInstallation, error)
	MarkUninstalled(ctx context.Context, shopDomain string) error
}

package domain

import (
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CreationType enumerates supported generation media types.
type CreationType string

const (
	CreationTypeImage CreationType = "image"
	CreationTypeVideo CreationType = "video"
)

// CreationStatus enumerates creation lifecycle states.
type CreationStatus string

const (
	CreationStatusPending    CreationStatus = "pending"
	CreationStatusProcessing CreationStatus = "processing"
	CreationStatusCompleted  CreationStatus = "completed"
	CreationStatusFailed     CreationStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s CreationStatus) Terminal() bool {
	return s == CreationStatusCompleted || s == CreationStatusFailed
}

// CanTransitionTo reports whether the state machine allows moving to next.
// Re-applying the current state is allowed so terminal patches stay idempotent.
func (s CreationStatus) CanTransitionTo(next CreationStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case CreationStatusPending:
		return next == CreationStatusProcessing || next == CreationStatusCompleted || next == CreationStatusFailed
	case CreationStatusProcessing:
		return next == CreationStatusCompleted || next == CreationStatusFailed
	default:
		return false
	}
}

// InputAsset is one source image submitted for generation. ProductID is empty
// for ad-hoc uploads that are not tied to a product.
type InputAsset struct {
	ProductID string `bson:"productId,omitempty" json:"productId,omitempty"`
	ImageURL  string `bson:"imageUrl" json:"imageUrl"`
}

// OutputAsset is one generated result mapped back to the product it was made from.
type OutputAsset struct {
	ProductID string `bson:"productId" json:"productId"`
	OutputURL string `bson:"outputUrl" json:"outputUrl"`
}

// CreationMeta carries optional, provider-dependent generation parameters.
type CreationMeta struct {
	AspectRatio        string   `bson:"aspectRatio,omitempty" json:"aspectRatio,omitempty"`
	Duration           int      `bson:"duration,omitempty" json:"duration,omitempty"`
	Mode               string   `bson:"mode,omitempty" json:"mode,omitempty"`
	ImageCount         int      `bson:"imageCount,omitempty" json:"imageCount,omitempty"`
	VideoURL           string   `bson:"videoUrl,omitempty" json:"videoUrl,omitempty"`
	ProviderCreationID string   `bson:"providerCreationId,omitempty" json:"providerCreationId,omitempty"`
	CFGScale           *float64 `bson:"cfgScale,omitempty" json:"cfgScale,omitempty"`
}

// Creation is one record of a single AI generation request and its outcome.
type Creation struct {
	ID                    primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TaskID                string             `bson:"taskId,omitempty" json:"taskId,omitempty"`
	ShopDomain            string             `bson:"shopDomain" json:"shopDomain"`
	Type                  CreationType       `bson:"type" json:"type"`
	TemplateID            string             `bson:"templateId" json:"templateId"`
	InputMap              []InputAsset       `bson:"inputMap" json:"inputMap"`
	OutputMap             []OutputAsset      `bson:"outputMap" json:"outputMap"`
	CreditsUsed           float64            `bson:"creditsUsed" json:"creditsUsed"`
	Status                CreationStatus     `bson:"status" json:"status"`
	FailureReason         string             `bson:"failureReason,omitempty" json:"failureReason,omitempty"`
	Meta                  CreationMeta       `bson:"meta,omitempty" json:"meta,omitempty"`
	ProcessingStartedAt   *time.Time         `bson:"processingStartedAt,omitempty" json:"processingStartedAt,omitempty"`
	ProcessingCompletedAt *time.Time         `bson:"processingCompletedAt,omitempty" json:"processingCompletedAt,omitempty"`
	CreatedAt             time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt             time.Time          `bson:"updatedAt" json:"updatedAt"`
}

var shopDomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)

// ValidShopDomain reports whether domain looks like a myshopify tenant domain.
func ValidShopDomain(domain string) bool {
	return shopDomainPattern.MatchString(domain)
}

// Validate checks the fields required before a creation may be persisted.
func (c *Creation) Validate() error {
	if !ValidShopDomain(strings.TrimSpace(c.ShopDomain)) {
		return ErrValidation
	}
	if c.Type != CreationTypeImage && c.Type != CreationTypeVideo {
		return ErrValidation
	}
	if strings.TrimSpace(c.TemplateID) == "" {
		return ErrValidation
	}
	if c.CreditsUsed < 0 {
		return ErrValidation
	}
	// outputs only exist on completed records, failure reasons only on failed
	if len(c.OutputMap) > 0 && c.Status != CreationStatusCompleted {
		return ErrValidation
	}
	if c.FailureReason != "" && c.Status != CreationStatusFailed {
		return ErrValidation
	}
	return nil
}

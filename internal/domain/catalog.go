package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Category groups templates into a tree shown by the library browser.
type Category struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	Type      CreationType       `bson:"type" json:"type"`
	ParentID  primitive.ObjectID `bson:"parentId,omitempty" json:"parentId,omitempty"`
	Position  int                `bson:"position" json:"position"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// CategoryNode is a category with its resolved children, as served to the UI.
type CategoryNode struct {
	Category `bson:",inline"`
	Children []*CategoryNode `json:"children"`
}

// Template is a reusable generation preset merchants pick from.
type Template struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title      string             `bson:"title" json:"title"`
	Type       CreationType       `bson:"type" json:"type"`
	CategoryID primitive.ObjectID `bson:"categoryId,omitempty" json:"categoryId,omitempty"`
	PreviewURL string             `bson:"previewUrl,omitempty" json:"previewUrl,omitempty"`
	Prompt     string             `bson:"prompt,omitempty" json:"prompt,omitempty"`
	Credits    float64            `bson:"credits" json:"credits"`
	Meta       CreationMeta       `bson:"meta,omitempty" json:"meta,omitempty"`
	Active     bool               `bson:"active" json:"active"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
}

// TemplateUsageLog records one template invocation for reporting.
type TemplateUsageLog struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TemplateID  string             `bson:"templateId" json:"templateId"`
	ShopDomain  string             `bson:"shopDomain" json:"shopDomain"`
	CreationID  string             `bson:"creationId" json:"creationId"`
	Type        CreationType       `bson:"type" json:"type"`
	CreditsUsed float64            `bson:"creditsUsed" json:"creditsUsed"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
}

// AppInstallation stores the per-shop Admin API credentials captured at install.
type AppInstallation struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ShopDomain    string             `bson:"shopDomain" json:"shopDomain"`
	AccessToken   string             `bson:"accessToken" json:"-"`
	Scopes        string             `bson:"scopes,omitempty" json:"scopes,omitempty"`
	InstalledAt   time.Time          `bson:"installedAt" json:"installedAt"`
	UninstalledAt *time.Time         `bson:"uninstalledAt,omitempty" json:"uninstalledAt,omitempty"`
}

package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"server/internal/domain"
)

// CategoryRepositoryMongo implements domain.CategoryRepository.
type CategoryRepositoryMongo struct {
	coll *mongo.Collection
}

// NewCategoryRepository creates a category repository backed by MongoDB.
func NewCategoryRepository(db *mongo.Database) *CategoryRepositoryMongo {
	return &CategoryRepositoryMongo{coll: db.Collection("categories")}
}

// ListByType returns categories for a media type in display order.
func (r *CategoryRepositoryMongo) ListByType(ctx context.Context, typeFilter domain.CreationType) ([]domain.Category, error) {
	filter := bson.M{}
	if typeFilter != "" {
		filter["type"] = typeFilter
	}
	opts := options.Find().SetSort(bson.D{{Key: "position", Value: 1}, {Key: "name", Value: 1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer cursor.Close(ctx)

	var categories []domain.Category
	if err := cursor.All(ctx, &categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	return categories, nil
}

// TemplateRepositoryMongo implements domain.TemplateRepository.
type TemplateRepositoryMongo struct {
	coll *mongo.Collection
}

// NewTemplateRepository creates a template repository backed by MongoDB.
func NewTemplateRepository(db *mongo.Database) *TemplateRepositoryMongo {
	return &TemplateRepositoryMongo{coll: db.Collection("templates")}
}

// GetByID fetches a template by its identifier.
func (r *TemplateRepositoryMongo) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	var tpl domain.Template
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&tpl); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find template: %w", err)
	}
	return &tpl, nil
}

// ListByType returns active templates for a media type.
func (r *TemplateRepositoryMongo) ListByType(ctx context.Context, typeFilter domain.CreationType) ([]domain.Template, error) {
	filter := bson.M{"active": true}
	if typeFilter != "" {
		filter["type"] = typeFilter
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer cursor.Close(ctx)

	var templates []domain.Template
	if err := cursor.All(ctx, &templates); err != nil {
		return nil, fmt.Errorf("decode templates: %w", err)
	}
	return templates, nil
}

// UsageLogRepositoryMongo implements domain.UsageLogRepository.
type UsageLogRepositoryMongo struct {
	coll *mongo.Collection
}

// NewUsageLogRepository creates a usage log repository backed by MongoDB.
func NewUsageLogRepository(db *mongo.Database) *UsageLogRepositoryMongo {
	return &UsageLogRepositoryMongo{coll: db.Collection("templateusagelogs")}
}

// Insert records one template invocation.
func (r *UsageLogRepositoryMongo) Insert(ctx context.Context, log *domain.TemplateUsageLog) error {
	if log.ID.IsZero() {
		log.ID = primitive.NewObjectID()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if _, err := r.coll.InsertOne(ctx, log); err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

// InstallationRepositoryMongo implements domain.InstallationRepository.
type InstallationRepositoryMongo struct {
	coll *mongo.Collection
}

// NewInstallationRepository creates an installation repository backed by MongoDB.
func NewInstallationRepository(db *mongo.Database) *InstallationRepositoryMongo {
	return &InstallationRepositoryMongo{coll: db.Collection("appinstallations")}
}

// GetByShop returns the active installation for a shop.
func (r *InstallationRepositoryMongo) GetByShop(ctx context.Context, shopDomain string) (*domain.AppInstallation, error) {
	filter := bson.M{
		"shopDomain":    shopDomain,
		"uninstalledAt": bson.M{"$exists": false},
	}
	var inst domain.AppInstallation
	if err := r.coll.FindOne(ctx, filter).Decode(&inst); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find installation: %w", err)
	}
	return &inst, nil
}

// MarkUninstalled stamps the uninstall time on a shop's installation.
func (r *InstallationRepositoryMongo) MarkUninstalled(ctx context.Context, shopDomain string) error {
	_, err := r.coll.UpdateMany(ctx,
		bson.M{"shopDomain": shopDomain, "uninstalledAt": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"uninstalledAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("mark uninstalled: %w", err)
	}
	return nil
}

var (
	_ domain.CategoryRepository     = (*CategoryRepositoryMongo)(nil)
	_ domain.TemplateRepository     = (*TemplateRepositoryMongo)(nil)
	_ domain.UsageLogRepository     = (*UsageLogRepositoryMongo)(nil)
	_ domain.InstallationRepository = (*InstallationRepositoryMongo)(nil)
)

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

// CreationRepositoryMongo implements domain.CreationRepository.
type CreationRepositoryMongo struct {
	coll *mongo.Collection
}

// NewCreationRepository creates a creation repository backed by MongoDB.
func NewCreationRepository(db *mongo.Database) *CreationRepositoryMongo {
	return &CreationRepositoryMongo{coll: db.Collection("creations")}
}

// EnsureIndexes creates the indexes the query paths rely on. Safe to call on
// every startup; index creation is idempotent.
func (r *CreationRepositoryMongo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "shopDomain", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "templateId", Value: 1}, {Key: "type", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{
			Keys:    bson.D{{Key: "taskId", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create creation indexes: %w", err)
	}
	return nil
}

// Create inserts a new creation record with status pending.
func (r *CreationRepositoryMongo) Create(ctx context.Context, creation *domain.Creation) error {
	if err := creation.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if creation.ID.IsZero() {
		creation.ID = primitive.NewObjectID()
	}
	if creation.Status == "" {
		creation.Status = domain.CreationStatusPending
	}
	if creation.InputMap == nil {
		creation.InputMap = []domain.InputAsset{}
	}
	if creation.OutputMap == nil {
		creation.OutputMap = []domain.OutputAsset{}
	}
	creation.CreatedAt = now
	creation.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, creation); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: duplicate taskId", domain.ErrValidation)
		}
		return fmt.Errorf("insert creation: %w", err)
	}
	return nil
}

// GetByID fetches a creation by its identifier.
func (r *CreationRepositoryMongo) GetByID(ctx context.Context, id string) (*domain.Creation, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	var creation domain.Creation
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&creation); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find creation: %w", err)
	}
	return &creation, nil
}

// GetByTaskID fetches a creation by the provider task identifier.
func (r *CreationRepositoryMongo) GetByTaskID(ctx context.Context, taskID string) (*domain.Creation, error) {
	var creation domain.Creation
	if err := r.coll.FindOne(ctx, bson.M{"taskId": taskID}).Decode(&creation); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find creation by task: %w", err)
	}
	return &creation, nil
}

// UpdateByID applies patch as a single atomic $set and returns the updated
// record. Moving status to completed/failed stamps processingCompletedAt;
// moving to processing stamps processingStartedAt.
func (r *CreationRepositoryMongo) UpdateByID(ctx context.Context, id string, patch domain.CreationPatch) (*domain.Creation, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}

	now := time.Now().UTC()
	set := bson.M{"updatedAt": now}
	if patch.TaskID != nil {
		set["taskId"] = *patch.TaskID
	}
	if patch.Status != nil {
		set["status"] = *patch.Status
		if patch.Status.Terminal() {
			set["processingCompletedAt"] = now
		}
		if *patch.Status == domain.CreationStatusProcessing {
			started := now
			if patch.ProcessingStartedAt != nil {
				started = patch.ProcessingStartedAt.UTC()
			}
			set["processingStartedAt"] = started
		}
	}
	if patch.OutputMap != nil {
		set["outputMap"] = patch.OutputMap
	}
	if patch.FailureReason != nil {
		set["failureReason"] = *patch.FailureReason
	}
	if patch.Meta != nil {
		set["meta"] = *patch.Meta
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated domain.Creation
	err = r.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("update creation: %w", err)
	}
	return &updated, nil
}

// CountCompletedSince counts completed creations for a tenant created within
// one calendar month starting at since.
func (r *CreationRepositoryMongo) CountCompletedSince(ctx context.Context, shopDomain string, since time.Time) (int64, error) {
	until := since.AddDate(0, 1, 0)
	count, err := r.coll.CountDocuments(ctx, bson.M{
		"shopDomain": shopDomain,
		"status":     domain.CreationStatusCompleted,
		"createdAt":  bson.M{"$gte": since, "$lt": until},
	})
	if err != nil {
		return 0, fmt.Errorf("count completed creations: %w", err)
	}
	return count, nil
}

// ListByShop returns a tenant's creations newest first, optionally filtered
// by media type.
func (r *CreationRepositoryMongo) ListByShop(ctx context.Context, shopDomain string, typeFilter domain.CreationType) ([]domain.Creation, error) {
	filter := bson.M{"shopDomain": shopDomain}
	if typeFilter != "" {
		filter["type"] = typeFilter
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list creations: %w", err)
	}
	defer cursor.Close(ctx)

	var creations []domain.Creation
	if err := cursor.All(ctx, &creations); err != nil {
		return nil, fmt.Errorf("decode creations: %w", err)
	}
	return creations, nil
}

// ListProcessing returns in-flight creations that have a provider task
// attached, oldest first, for the background poller.
func (r *CreationRepositoryMongo) ListProcessing(ctx context.Context, limit int64) ([]domain.Creation, error) {
	filter := bson.M{
		"status": domain.CreationStatusProcessing,
		"taskId": bson.M{"$exists": true, "$ne": ""},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list processing creations: %w", err)
	}
	defer cursor.Close(ctx)

	var creations []domain.Creation
	if err := cursor.All(ctx, &creations); err != nil {
		return nil, fmt.Errorf("decode processing creations: %w", err)
	}
	return creations, nil
}

var _ domain.CreationRepository = (*CreationRepositoryMongo)(nil)

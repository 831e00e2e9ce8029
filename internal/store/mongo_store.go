package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: db.Collection("carts"),
	}
}

func (m *MongoStore) Get(ctx context.Context, userID string) (*domain.CartRecord, error) {
	var rec domain.CartRecord

	filter := bson.M{"user_id": userID}
	err := m.collection.FindOne(ctx, filter).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if rec.Items == nil {
		rec.Items = []domain.CartLineItem{}
	}
	return &rec, nil
}

func (m *MongoStore) Save(ctx context.Context, rec *domain.CartRecord) error {
	expected := rec.Version
	doc := *rec
	doc.Version = expected + 1
	if doc.Items == nil {
		doc.Items = []domain.CartLineItem{}
	}

	if expected == 0 {
		_, err := m.collection.InsertOne(ctx, doc)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrVersionConflict
			}
			return fmt.Errorf("failed to create cart: %w", err)
		}
		rec.Version = doc.Version
		return nil
	}

	filter := bson.M{"user_id": rec.UserID, "version": expected}
	result, err := m.collection.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrVersionConflict
	}
	rec.Version = doc.Version
	return nil
}

func (m *MongoStore) Remove(ctx context.Context, userID string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

func (m *MongoStore) RemoveIfUnchanged(ctx context.Context, rec *domain.CartRecord) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"user_id": rec.UserID, "version": rec.Version})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if result.DeletedCount > 0 {
		return nil
	}

	n, err := m.collection.CountDocuments(ctx, bson.M{"user_id": rec.UserID})
	if err != nil {
		return fmt.Errorf("failed to check cart: %w", err)
	}
	if n > 0 {
		return ErrVersionConflict
	}
	return nil
}

func (m *MongoStore) RemoveItem(ctx context.Context, userID, productID string) error {
	filter := bson.M{"user_id": userID, "items.product_id": productID}
	update := bson.M{
		"$pull": bson.M{"items": bson.M{"product_id": productID}},
		"$inc":  bson.M{"version": 1},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	if _, err := m.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	return nil
}

func (m *MongoStore) Ping(ctx context.Context) error {
	return m.collection.Database().Client().Ping(ctx, nil)
}

func (m *MongoStore) ForEach(ctx context.Context, fn func(*domain.CartRecord) error) error {
	cursor, err := m.collection.Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to scan carts: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var rec domain.CartRecord
		if err := cursor.Decode(&rec); err != nil {
			continue
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// CreateIndexes enforces one cart per user and lets MongoDB drop expired carts.
func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

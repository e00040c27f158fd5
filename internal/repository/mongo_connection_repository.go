package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/pkg/database"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// connectionDocument is the MongoDB shape of a connection
type connectionDocument struct {
	MerchantID   string         `bson:"merchantId"`
	Provider     string         `bson:"provider"`
	AccessToken  string         `bson:"accessToken"`
	RefreshToken string         `bson:"refreshToken,omitempty"`
	ExpiresAt    time.Time      `bson:"expiresAt"`
	Connected    bool           `bson:"connected"`
	Metadata     map[string]any `bson:"metadata,omitempty"`
	ConnectedAt  time.Time      `bson:"connectedAt"`
	LastUpdated  time.Time      `bson:"lastUpdated"`
}

func connectionDocumentFromDomain(c *domain.Connection) *connectionDocument {
	return &connectionDocument{
		MerchantID:   c.MerchantID,
		Provider:     c.Provider,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt.UTC(),
		Connected:    c.Connected,
		Metadata:     c.Metadata,
		ConnectedAt:  c.ConnectedAt.UTC(),
		LastUpdated:  c.LastUpdated.UTC(),
	}
}

func (d *connectionDocument) toDomain() *domain.Connection {
	return &domain.Connection{
		MerchantID:   d.MerchantID,
		Provider:     d.Provider,
		AccessToken:  d.AccessToken,
		RefreshToken: d.RefreshToken,
		ExpiresAt:    d.ExpiresAt,
		Connected:    d.Connected,
		Metadata:     d.Metadata,
		ConnectedAt:  d.ConnectedAt,
		LastUpdated:  d.LastUpdated,
	}
}

// MongoConnectionRepository implements ConnectionRepository on MongoDB
type MongoConnectionRepository struct {
	mongo      *database.Mongo
	collection *mongo.Collection
}

// NewMongoConnectionRepository creates a new MongoDB connection repository
func NewMongoConnectionRepository(db *database.Mongo, collection string) *MongoConnectionRepository {
	return &MongoConnectionRepository{
		mongo:      db,
		collection: db.DB.Collection(collection),
	}
}

// EnsureIndexes creates the unique (merchantId, provider) index upserts rely on
func (r *MongoConnectionRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "merchantId", Value: 1}, {Key: "provider", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("merchant_provider_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create connection index: %w", err)
	}
	return nil
}

// Get retrieves the connection for a merchant and provider
func (r *MongoConnectionRepository) Get(ctx context.Context, merchantID, provider string) (*domain.Connection, error) {
	var doc connectionDocument

	err := r.collection.FindOne(ctx, pairFilter(merchantID, provider)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("connection %s/%s not found: %w", merchantID, provider, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return doc.toDomain(), nil
}

// Upsert replaces the document for the pair, inserting it when absent
func (r *MongoConnectionRepository) Upsert(ctx context.Context, conn *domain.Connection) error {
	if err := validateConnection(conn); err != nil {
		return err
	}

	_, err := r.collection.ReplaceOne(ctx,
		pairFilter(conn.MerchantID, conn.Provider),
		connectionDocumentFromDomain(conn),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}

	return nil
}

// Delete removes the connection for a merchant and provider
func (r *MongoConnectionRepository) Delete(ctx context.Context, merchantID, provider string) error {
	result, err := r.collection.DeleteOne(ctx, pairFilter(merchantID, provider))
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("connection %s/%s not found: %w", merchantID, provider, ErrNotFound)
	}
	return nil
}

func (r *MongoConnectionRepository) Ping(ctx context.Context) error {
	return r.mongo.Ping(ctx)
}

func pairFilter(merchantID, provider string) bson.M {
	return bson.M{"merchantId": merchantID, "provider": provider}
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreadwing5/Restore/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const basketsCollection = "baskets"

// ConnectMongoDB dials uri and verifies the connection before handing out the database.
func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

// MongoRepository keeps one document per basket keyed by the basket token.
// Each save replaces the whole document, so readers never see a partial line update.
type MongoRepository struct {
	collection *mongo.Collection
	ttl        time.Duration
	now        func() time.Time
}

func NewMongoRepository(db *mongo.Database, ttl time.Duration) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(basketsCollection),
		ttl:        ttl,
		now:        time.Now,
	}
}

func (m *MongoRepository) GetBasket(ctx context.Context, id string) (*domain.Basket, error) {
	var basket domain.Basket

	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&basket)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrBasketNotFound
		}
		return nil, fmt.Errorf("failed to get basket: %w", err)
	}

	// the TTL monitor only runs once a minute
	if m.ttl > 0 && m.now().Sub(basket.UpdatedAt) > m.ttl {
		return nil, domain.ErrBasketNotFound
	}

	return &basket, nil
}

func (m *MongoRepository) CreateBasket(ctx context.Context, basket *domain.Basket) error {
	now := m.now()
	basket.CreatedAt = now
	basket.UpdatedAt = now
	basket.Version = 0
	if basket.Lines == nil {
		basket.Lines = []domain.Line{}
	}

	if _, err := m.collection.InsertOne(ctx, basket); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrBasketExists
		}
		return fmt.Errorf("failed to create basket: %w", err)
	}
	return nil
}

func (m *MongoRepository) SaveBasket(ctx context.Context, basket *domain.Basket) error {
	next := *basket
	next.Version = basket.Version + 1
	next.UpdatedAt = m.now()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = next.UpdatedAt
	}
	if next.Lines == nil {
		next.Lines = []domain.Line{}
	}

	filter := bson.M{"_id": basket.ID, "version": basket.Version}
	result, err := m.collection.ReplaceOne(ctx, filter, next)
	if err != nil {
		return fmt.Errorf("failed to save basket: %w", err)
	}

	if result.MatchedCount == 0 {
		count, errCount := m.collection.CountDocuments(ctx, bson.M{"_id": basket.ID})
		if errCount != nil {
			return fmt.Errorf("failed to check basket after save miss: %w", errCount)
		}
		if count == 0 {
			return domain.ErrBasketNotFound
		}
		return ErrVersionConflict
	}

	*basket = next
	return nil
}

// CreateIndexes installs the expiry index that bounds a basket's lifetime to
// its token's validity window.
func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(m.ttl / time.Second)),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

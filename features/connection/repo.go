package connection

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ragbridge/internal/domain"
	"ragbridge/internal/vector"
)

type MongoRepo struct {
	coll *mongo.Collection
}

func NewMongoRepo(db *mongo.Database, collection string) *MongoRepo {
	return &MongoRepo{coll: db.Collection(collection)}
}

// EnsureIndexes creates the unique index on connection_id. Called once at
// startup.
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "connection_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *MongoRepo) Insert(ctx context.Context, conn *Connection) error {
	_, err := r.coll.InsertOne(ctx, conn)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: connection %s already exists", domain.ErrValidation, conn.ID)
	}
	return err
}

func (r *MongoRepo) Get(ctx context.Context, id string) (*Connection, error) {
	var conn Connection
	err := r.coll.FindOne(ctx, bson.D{{Key: "connection_id", Value: id}}).Decode(&conn)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *MongoRepo) List(ctx context.Context) ([]Connection, error) {
	cursor, err := r.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var conns []Connection
	if err := cursor.All(ctx, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

func (r *MongoRepo) UpdateScopes(ctx context.Context, id string, scopes []vector.Scope) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "connection_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "granted_scopes", Value: scopes}}}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	return nil
}

func (r *MongoRepo) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "connection_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: status}}}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	return nil
}

func (r *MongoRepo) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.D{{Key: "connection_id", Value: id}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	return nil
}

package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/embedg/embedg/pkg/domain/provenance"
	"github.com/embedg/embedg/pkg/domain/savedmsg"
	"github.com/embedg/embedg/pkg/logger"
)

const (
	collChannelMessages = "channel_messages"
	collSavedMessages   = "saved_messages"
)

// MongoStore keeps provenance records and saved messages in MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// OpenMongo connects to uri and ensures the indexes of database exist.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &MongoStore{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	logger.InfoCF("storage", "MongoDB store opened", map[string]interface{}{
		"database": database,
	})
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(collChannelMessages).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "channel_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create %s indexes: %w", collChannelMessages, err)
	}

	_, err = s.db.Collection(collSavedMessages).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create %s indexes: %w", collSavedMessages, err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

// Ping reports whether the server is reachable.
func (s *MongoStore) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

// Provenance returns the provenance.Repository view of the store.
func (s *MongoStore) Provenance() provenance.Repository {
	return mongoProvenance{s.db.Collection(collChannelMessages)}
}

// SavedMessages returns the savedmsg.Repository view of the store.
func (s *MongoStore) SavedMessages() savedmsg.Repository {
	return mongoSavedMessages{s.db.Collection(collSavedMessages)}
}

// ---------------------------------------------------------------------------
// Provenance
// ---------------------------------------------------------------------------

type mongoProvenance struct {
	coll *mongo.Collection
}

func (r mongoProvenance) Upsert(ctx context.Context, rec provenance.Record) error {
	onInsert := bson.M{
		"channel_id": rec.ChannelID,
		"message_id": rec.MessageID,
		"created_at": rec.CreatedAt,
	}
	if rec.Author != nil {
		onInsert["author"] = rec.Author
	}

	_, err := r.coll.UpdateOne(ctx,
		bson.M{"message_id": rec.MessageID},
		bson.M{
			"$set": bson.M{
				"hash":       rec.Hash,
				"updated_at": rec.UpdatedAt,
			},
			"$setOnInsert": onInsert,
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert channel message: %w", err)
	}
	return nil
}

func (r mongoProvenance) FindByMessageID(ctx context.Context, messageID string) (*provenance.Record, error) {
	var rec provenance.Record
	err := r.coll.FindOne(ctx, bson.M{"message_id": messageID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, provenance.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find channel message: %w", err)
	}
	return &rec, nil
}

// ---------------------------------------------------------------------------
// Saved messages
// ---------------------------------------------------------------------------

type mongoSavedMessages struct {
	coll *mongo.Collection
}

func (r mongoSavedMessages) Save(ctx context.Context, m *savedmsg.SavedMessage) error {
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": m.ID}, m, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save saved message: %w", err)
	}
	return nil
}

func (r mongoSavedMessages) FindByID(ctx context.Context, id string) (*savedmsg.SavedMessage, error) {
	var m savedmsg.SavedMessage
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, savedmsg.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find saved message: %w", err)
	}
	return &m, nil
}

func (r mongoSavedMessages) ExistsByOwnerAndID(ctx context.Context, ownerID, id string) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id, "owner_id": ownerID})
	if err != nil {
		return false, fmt.Errorf("count saved messages: %w", err)
	}
	return n > 0, nil
}

func (r mongoSavedMessages) ListByOwner(ctx context.Context, ownerID string) ([]*savedmsg.SavedMessage, error) {
	cur, err := r.coll.Find(ctx, bson.M{"owner_id": ownerID},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list saved messages: %w", err)
	}
	out := make([]*savedmsg.SavedMessage, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode saved messages: %w", err)
	}
	return out, nil
}

func (r mongoSavedMessages) Delete(ctx context.Context, ownerID, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id, "owner_id": ownerID})
	if err != nil {
		return fmt.Errorf("delete saved message: %w", err)
	}
	if res.DeletedCount == 0 {
		return savedmsg.ErrNotFound
	}
	return nil
}

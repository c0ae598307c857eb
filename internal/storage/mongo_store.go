package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore serves the same collections from a MongoDB database. Document
// ids live in _id.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	log    zerolog.Logger
}

func NewMongoStore(ctx context.Context, mongoURI, dbName string, log zerolog.Logger) (*MongoStore, error) {
	opts := options.Client().ApplyURI(mongoURI)
	if strings.HasPrefix(mongoURI, "mongodb+srv://") {
		// Atlas occasionally fails TLS negotiation unless TLS 1.2 is forced.
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS12,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	db := client.Database(dbName)

	// Best-effort indexes for the orderings the dashboard asks for.
	_, _ = db.Collection(CollectionParkingSpots).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}},
	})
	_, _ = db.Collection(CollectionFraudReports).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "reportedMarkerId", Value: 1}}},
		{Keys: bson.D{{Key: "reportedUser.userId", Value: 1}}},
	})

	log.Info().Str("db", dbName).Msg("MongoDB connected")
	return &MongoStore{
		client: client,
		db:     db,
		log:    log.With().Str("component", "mongo").Logger(),
	}, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) GetAll(ctx context.Context, collection string, order *Order) ([]Document, error) {
	opts := options.Find()
	if order != nil {
		dir := 1
		if order.Direction == Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: order.Field, Value: dir}})
	}

	cur, err := s.db.Collection(collection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, classifyMongo(err)
	}
	defer cur.Close(ctx)

	docs := make([]Document, 0)
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		docs = append(docs, fromBSON(raw))
	}
	if err := cur.Err(); err != nil {
		return nil, classifyMongo(err)
	}
	return docs, nil
}

func (s *MongoStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw bson.M
	if err := s.db.Collection(collection).FindOne(ctx, idFilter(id)).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Document{}, notFound(collection, id)
		}
		return Document{}, classifyMongo(err)
	}
	return fromBSON(raw), nil
}

func (s *MongoStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	res, err := s.db.Collection(collection).UpdateOne(ctx, idFilter(id), bson.M{"$set": fields})
	if err != nil {
		return classifyMongo(err)
	}
	if res.MatchedCount == 0 {
		return notFound(collection, id)
	}
	return nil
}

func (s *MongoStore) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	col := s.db.Collection(collection)
	var err error
	if merge {
		_, err = col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields}, options.Update().SetUpsert(true))
	} else {
		doc := bson.M{"_id": id}
		for k, v := range fields {
			doc[k] = v
		}
		_, err = col.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	}
	return classifyMongo(err)
}

func (s *MongoStore) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.Collection(collection).DeleteOne(ctx, idFilter(id))
	if err != nil {
		return classifyMongo(err)
	}
	if res.DeletedCount == 0 {
		return notFound(collection, id)
	}
	return nil
}

// Subscribe opens a change stream and re-reads the whole collection on every
// event. Change streams need a replica set.
func (s *MongoStore) Subscribe(ctx context.Context, collection string, order *Order, fn func([]Document), onErr func(error)) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	stream, err := s.db.Collection(collection).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, classifyMongo(err)
	}

	docs, err := s.GetAll(ctx, collection, order)
	if err != nil {
		stream.Close(context.Background())
		cancel()
		return nil, err
	}

	sub := &mongoSubscription{cancel: cancel}
	go func() {
		defer stream.Close(context.Background())

		fail := func(err error, msg string) {
			if ctx.Err() != nil {
				return
			}
			s.log.Error().Err(err).Str("collection", collection).Msg(msg)
			if onErr != nil {
				onErr(err)
			}
		}

		fn(docs)
		for stream.Next(ctx) {
			docs, err := s.GetAll(ctx, collection, order)
			if err != nil {
				// A listener that skipped a change would serve a stale set.
				fail(err, "reload after change failed")
				return
			}
			fn(docs)
		}
		if err := stream.Err(); err != nil {
			fail(classifyMongo(err), "change stream stopped")
		}
	}()
	return sub, nil
}

type mongoSubscription struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (m *mongoSubscription) Close() {
	m.once.Do(m.cancel)
}

// idFilter matches string ids and, when the id is a hex ObjectID, documents
// created with native ObjectIDs.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{id, oid}}}
	}
	return bson.M{"_id": id}
}

func fromBSON(raw bson.M) Document {
	var id string
	switch v := raw["_id"].(type) {
	case string:
		id = v
	case primitive.ObjectID:
		id = v.Hex()
	default:
		id = fmt.Sprint(v)
	}

	data := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		data[k] = normalizeBSON(v)
	}
	return Document{ID: id, Data: data}
}

func normalizeBSON(v any) any {
	switch t := v.(type) {
	case primitive.M:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = normalizeBSON(inner)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = normalizeBSON(inner)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	}
	return v
}

func classifyMongo(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

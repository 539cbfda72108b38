package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/stevemurr/simple-storage-server/document"
	"github.com/stevemurr/simple-storage-server/errors"
)

const defaultMongoDatabase = "documents-storage"

// MongoStore maps documents directly into the MongoDB "documents" collection.
// The key is stored as the _id attribute and removed again before a document
// is returned.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// MongoArgs are the arguments for creating a new Mongo store.
type MongoArgs struct {
	URI      string // Required. e.g. mongodb://localhost:27017/gamestorage
	Database string // Optional. Defaults to the database named in URI, then "documents-storage".
}

// NewMongoStore connects to MongoDB and verifies the connection with a ping.
func NewMongoStore(ctx context.Context, args MongoArgs) (*MongoStore, error) {
	db := args.Database
	if db == "" {
		cs, err := connstring.ParseAndValidate(args.URI)
		if err != nil {
			return nil, fmt.Errorf("parse mongo uri: %w", err)
		}
		db = cs.Database
	}
	if db == "" {
		db = defaultMongoDatabase
	}

	opts := options.Client().
		ApplyURI(args.URI).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(db).Collection(collection),
	}, nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

// keyed returns a copy of doc with _id set to key.
func keyed(key string, doc map[string]any) bson.M {
	out := bson.M(document.StripKey(doc))
	out[document.KeyField] = key
	return out
}

func byKey(key string) bson.M {
	return bson.M{document.KeyField: key}
}

func (s *MongoStore) Get(ctx context.Context, key string) (map[string]any, error) {
	var doc bson.M
	err := s.coll.FindOne(ctx, byKey(key)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Backend(err)
	}
	delete(doc, document.KeyField)
	return normalize(doc).(map[string]any), nil
}

func (s *MongoStore) Create(ctx context.Context, key string, doc map[string]any) error {
	if _, err := s.coll.InsertOne(ctx, keyed(key, doc)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.DuplicateKey(err)
		}
		return errors.Backend(err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, key string, doc map[string]any) error {
	res, err := s.coll.ReplaceOne(ctx, byKey(key), keyed(key, doc))
	if err != nil {
		return errors.Backend(err)
	}
	if res.MatchedCount == 0 {
		return errors.NotFound()
	}
	return nil
}

// UpdateFields uses $set, so dotted paths address nested fields and missing
// embedded documents are created by the server.
func (s *MongoStore) UpdateFields(ctx context.Context, key string, fields map[string]any) error {
	set := bson.M{}
	for path, v := range document.Clone(fields) {
		if !document.IsKeyPath(path) {
			set[path] = v
		}
	}
	if len(set) == 0 {
		// $set rejects an empty document; still report absence correctly
		n, err := s.coll.CountDocuments(ctx, byKey(key), options.Count().SetLimit(1))
		if err != nil {
			return errors.Backend(err)
		}
		if n == 0 {
			return errors.NotFound()
		}
		return nil
	}
	res, err := s.coll.UpdateOne(ctx, byKey(key), bson.M{"$set": set})
	if err != nil {
		return errors.Backend(err)
	}
	if res.MatchedCount == 0 {
		return errors.NotFound()
	}
	return nil
}

func (s *MongoStore) UpdateAndSet(ctx context.Context, key string, doc map[string]any) error {
	_, err := s.coll.ReplaceOne(ctx, byKey(key), keyed(key, doc), options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Backend(err)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, key string) error {
	res, err := s.coll.DeleteOne(ctx, byKey(key))
	if err != nil {
		return errors.Backend(err)
	}
	if res.DeletedCount == 0 {
		return errors.NotFound()
	}
	return nil
}

// Clean drops the collection.
func (s *MongoStore) Clean(ctx context.Context) error {
	if err := s.coll.Drop(ctx); err != nil {
		return errors.Backend(err)
	}
	return nil
}

// normalize converts driver container types into plain maps and slices so
// documents compare and encode the same way for every backend.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

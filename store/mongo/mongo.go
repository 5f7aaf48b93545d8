/*
Package mongo provides a MongoDB-backed implementation of generic.DocumentStore.

PURPOSE:
  Each engine collection maps to a MongoDB collection of the same name. The
  document id is stored as _id and stripped again on read, so bodies round
  trip unchanged through the store.

ENCODING:
  JSON bodies are converted with the driver's relaxed Extended JSON codec.
  Money is stored as decimal strings, so no precision is lost in BSON
  doubles.

TESTING:
  The store talks to collections through the Collection interface, which
  *mongo.Collection satisfies. Tests substitute a testify mock.

SEE ALSO:
  - generic/store.go: Interface definition
  - store/sqlite/sqlite.go: SQLite implementation
*/
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tranminhhien3124027717/agile-moe/generic"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection is the subset of *mongo.Collection used by the store.
type Collection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// Store implements generic.DocumentStore on top of MongoDB collections.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	open   func(name string) Collection

	mu   sync.Mutex
	seen map[string]struct{}
}

// Connect dials MongoDB, verifies the connection and returns a store
// using database dbName.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(20 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}

	db := client.Database(dbName)
	s := NewWithOpener(func(name string) Collection { return db.Collection(name) })
	s.client = client
	s.db = db
	return s, nil
}

// NewWithOpener builds a store whose collections come from open.
func NewWithOpener(open func(name string) Collection) *Store {
	return &Store{open: open, seen: make(map[string]struct{})}
}

// Close disconnects the client, if the store owns one.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) collection(name string) Collection {
	s.mu.Lock()
	s.seen[name] = struct{}{}
	s.mu.Unlock()
	return s.open(name)
}

// =============================================================================
// DOCUMENT STORE (generic.DocumentStore interface)
// =============================================================================

func (s *Store) List(ctx context.Context, collection string) ([]generic.RawDocument, error) {
	return s.find(ctx, collection, bson.M{})
}

func (s *Store) Get(ctx context.Context, collection, id string) (*generic.RawDocument, error) {
	var doc bson.D
	err := s.collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := toRaw(doc)
	if err != nil {
		return nil, err
	}
	return &raw, nil
}

func (s *Store) Find(ctx context.Context, collection, field, value string) ([]generic.RawDocument, error) {
	if !generic.ValidField(field) {
		return nil, fmt.Errorf("invalid field name %q", field)
	}
	return s.find(ctx, collection, bson.M{field: value})
}

func (s *Store) Insert(ctx context.Context, collection string, doc generic.RawDocument) error {
	var body bson.D
	if err := bson.UnmarshalExtJSON(doc.Body, false, &body); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	body = append(bson.D{{Key: "_id", Value: doc.ID}}, withoutID(body)...)

	if _, err := s.collection(collection).InsertOne(ctx, body); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("duplicate id %s in %s", doc.ID, collection)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (s *Store) Patch(ctx context.Context, collection, id string, fields map[string]json.RawMessage) error {
	set := bson.D{}
	for k, raw := range fields {
		v, err := decodeValue(raw)
		if err != nil {
			return fmt.Errorf("failed to encode field %s: %w", k, err)
		}
		set = append(set, bson.E{Key: k, Value: v})
	}

	res, err := s.collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return generic.ErrNotFound
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, collection, id string) error {
	res, err := s.collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return generic.ErrNotFound
	}
	return nil
}

// Reset empties every collection in the database, plus any collection this
// store has touched.
func (s *Store) Reset(ctx context.Context) error {
	names := map[string]struct{}{}
	if s.db != nil {
		listed, err := s.db.ListCollectionNames(ctx, bson.D{})
		if err != nil {
			return err
		}
		for _, n := range listed {
			names[n] = struct{}{}
		}
	}
	s.mu.Lock()
	for n := range s.seen {
		names[n] = struct{}{}
	}
	s.mu.Unlock()

	for n := range names {
		if _, err := s.collection(n).DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("failed to reset %s: %w", n, err)
		}
	}
	return nil
}

func (s *Store) find(ctx context.Context, collection string, filter bson.M) ([]generic.RawDocument, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := s.collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]generic.RawDocument, 0, len(docs))
	for _, d := range docs {
		raw, err := toRaw(d)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// =============================================================================
// ENCODING
// =============================================================================

func toRaw(doc bson.D) (generic.RawDocument, error) {
	var id string
	for _, e := range doc {
		if e.Key == "_id" {
			id = fmt.Sprint(e.Value)
		}
	}
	body, err := bson.MarshalExtJSON(withoutID(doc), false, false)
	if err != nil {
		return generic.RawDocument{}, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return generic.RawDocument{ID: id, Body: body}, nil
}

func withoutID(doc bson.D) bson.D {
	out := make(bson.D, 0, len(doc))
	for _, e := range doc {
		if e.Key != "_id" {
			out = append(out, e)
		}
	}
	return out
}

// decodeValue converts a single JSON value into its BSON equivalent.
func decodeValue(raw json.RawMessage) (interface{}, error) {
	wrapped := append(append([]byte(`{"v":`), raw...), '}')
	var d bson.D
	if err := bson.UnmarshalExtJSON(wrapped, false, &d); err != nil {
		return nil, err
	}
	if len(d) != 1 {
		return nil, fmt.Errorf("unexpected value %s", string(raw))
	}
	return d[0].Value, nil
}

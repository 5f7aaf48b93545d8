package mongo

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tranminhhien3124027717/agile-moe/generic"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MOCK COLLECTION
// =============================================================================

type mockCollection struct {
	mock.Mock
}

func (m *mockCollection) InsertOne(ctx context.Context, document interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	args := m.Called(ctx, document)
	res, _ := args.Get(0).(*mongo.InsertOneResult)
	return res, args.Error(1)
}

func (m *mockCollection) FindOne(ctx context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	args := m.Called(ctx, filter)
	return args.Get(0).(*mongo.SingleResult)
}

func (m *mockCollection) Find(ctx context.Context, filter interface{}, _ ...*options.FindOptions) (*mongo.Cursor, error) {
	args := m.Called(ctx, filter)
	cur, _ := args.Get(0).(*mongo.Cursor)
	return cur, args.Error(1)
}

func (m *mockCollection) UpdateOne(ctx context.Context, filter interface{}, update interface{}, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	args := m.Called(ctx, filter, update)
	res, _ := args.Get(0).(*mongo.UpdateResult)
	return res, args.Error(1)
}

func (m *mockCollection) DeleteOne(ctx context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	args := m.Called(ctx, filter)
	res, _ := args.Get(0).(*mongo.DeleteResult)
	return res, args.Error(1)
}

func (m *mockCollection) DeleteMany(ctx context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	args := m.Called(ctx, filter)
	res, _ := args.Get(0).(*mongo.DeleteResult)
	return res, args.Error(1)
}

// newMockStore returns a store whose collections are mocks, created on
// first use.
func newMockStore() (*Store, map[string]*mockCollection) {
	colls := map[string]*mockCollection{}
	s := NewWithOpener(func(name string) Collection {
		c, ok := colls[name]
		if !ok {
			c = &mockCollection{}
			colls[name] = c
		}
		return c
	})
	return s, colls
}

func cursorOf(t *testing.T, docs ...bson.D) *mongo.Cursor {
	t.Helper()
	items := make([]interface{}, len(docs))
	for i, d := range docs {
		items[i] = d
	}
	cur, err := mongo.NewCursorFromDocuments(items, nil, nil)
	require.NoError(t, err)
	return cur
}

// =============================================================================
// TESTS
// =============================================================================

func TestInsert_UsesDocumentIDAsPrimaryKey(t *testing.T) {
	s, colls := newMockStore()
	ctx := context.Background()
	colls["charges"] = &mockCollection{}
	colls["charges"].
		On("InsertOne", mock.Anything, mock.MatchedBy(func(d bson.D) bool {
			return len(d) == 3 && d[0].Key == "_id" && d[0].Value == "c1" && d[2].Key == "amount" && d[2].Value == "450"
		})).
		Return(&mongo.InsertOneResult{InsertedID: "c1"}, nil)

	err := s.Insert(ctx, "charges", generic.RawDocument{ID: "c1", Body: []byte(`{"id":"c1","amount":"450"}`)})

	require.NoError(t, err)
	colls["charges"].AssertExpectations(t)
}

func TestGet_Missing(t *testing.T) {
	s, colls := newMockStore()
	colls["charges"] = &mockCollection{}
	colls["charges"].
		On("FindOne", mock.Anything, bson.M{"_id": "nope"}).
		Return(mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil))

	got, err := s.Get(context.Background(), "charges", "nope")

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGet_StripsMongoID(t *testing.T) {
	s, colls := newMockStore()
	colls["accountHolders"] = &mockCollection{}
	colls["accountHolders"].
		On("FindOne", mock.Anything, bson.M{"_id": "a1"}).
		Return(mongo.NewSingleResultFromDocument(
			bson.D{{Key: "_id", Value: "a1"}, {Key: "id", Value: "a1"}, {Key: "name", Value: "Dave Dao"}, {Key: "balance", Value: "5000"}},
			nil, nil))

	got, err := s.Get(context.Background(), "accountHolders", "a1")

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a1", got.ID)
	assert.JSONEq(t, `{"id":"a1","name":"Dave Dao","balance":"5000"}`, string(got.Body))
}

func TestFind_FiltersOnField(t *testing.T) {
	s, colls := newMockStore()
	colls["charges"] = &mockCollection{}
	colls["charges"].
		On("Find", mock.Anything, bson.M{"accountId": "acc-1"}).
		Return(cursorOf(t,
			bson.D{{Key: "_id", Value: "c1"}, {Key: "id", Value: "c1"}, {Key: "accountId", Value: "acc-1"}},
			bson.D{{Key: "_id", Value: "c2"}, {Key: "id", Value: "c2"}, {Key: "accountId", Value: "acc-1"}},
		), nil)

	docs, err := s.Find(context.Background(), "charges", "accountId", "acc-1")

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "c1", docs[0].ID)
	assert.Equal(t, "c2", docs[1].ID)

	_, err = s.Find(context.Background(), "charges", "$where", "1")
	assert.Error(t, err)
}

func TestPatch_SetsDecodedFields(t *testing.T) {
	s, colls := newMockStore()
	colls["charges"] = &mockCollection{}
	colls["charges"].
		On("UpdateOne", mock.Anything, bson.M{"_id": "c1"}, mock.MatchedBy(func(u bson.M) bool {
			set, ok := u["$set"].(bson.D)
			if !ok {
				return false
			}
			m := set.Map()
			return m["status"] == "paid" && m["amountPaid"] == "450"
		})).
		Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil)

	err := s.Patch(context.Background(), "charges", "c1", map[string]json.RawMessage{
		"status":     json.RawMessage(`"paid"`),
		"amountPaid": json.RawMessage(`"450"`),
	})

	require.NoError(t, err)
	colls["charges"].AssertExpectations(t)
}

func TestPatchAndRemove_MissingIsNotFound(t *testing.T) {
	s, colls := newMockStore()
	colls["charges"] = &mockCollection{}
	colls["charges"].
		On("UpdateOne", mock.Anything, bson.M{"_id": "nope"}, mock.Anything).
		Return(&mongo.UpdateResult{MatchedCount: 0}, nil)
	colls["charges"].
		On("DeleteOne", mock.Anything, bson.M{"_id": "nope"}).
		Return(&mongo.DeleteResult{DeletedCount: 0}, nil)

	err := s.Patch(context.Background(), "charges", "nope", map[string]json.RawMessage{"status": json.RawMessage(`"paid"`)})
	assert.ErrorIs(t, err, generic.ErrNotFound)

	err = s.Remove(context.Background(), "charges", "nope")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestReset_ClearsTouchedCollections(t *testing.T) {
	s, colls := newMockStore()
	ctx := context.Background()
	for _, name := range []string{"charges", "transactions"} {
		colls[name] = &mockCollection{}
		colls[name].On("Find", mock.Anything, bson.M{}).Return(cursorOf(t), nil)
		colls[name].On("DeleteMany", mock.Anything, bson.M{}).Return(&mongo.DeleteResult{DeletedCount: 3}, nil)
	}

	// GIVEN: Two collections the store has read from
	_, err := s.List(ctx, "charges")
	require.NoError(t, err)
	_, err = s.List(ctx, "transactions")
	require.NoError(t, err)

	// WHEN: Resetting without a live database handle
	require.NoError(t, s.Reset(ctx))

	// THEN: Both are emptied
	colls["charges"].AssertCalled(t, "DeleteMany", mock.Anything, bson.M{})
	colls["transactions"].AssertCalled(t, "DeleteMany", mock.Anything, bson.M{})
}

func TestClose_WithoutClient(t *testing.T) {
	s, _ := newMockStore()
	assert.NoError(t, s.Close())
}

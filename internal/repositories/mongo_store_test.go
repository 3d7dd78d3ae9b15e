package repositories_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/prudhvinik1/omnisync/internal/models"
	"github.com/prudhvinik1/omnisync/internal/repositories"
	"github.com/prudhvinik1/omnisync/internal/repositories/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mockCollection struct {
	bulkWriteFunc func(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
	findFunc      func(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

func (m *mockCollection) BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
	if m.bulkWriteFunc != nil {
		return m.bulkWriteFunc(ctx, models, opts...)
	}
	return &mongo.BulkWriteResult{}, nil
}

func (m *mockCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, filter, opts...)
	}
	return mongo.NewCursorFromDocuments(nil, nil, nil)
}

type mockProvider struct {
	collection *mockCollection
	names      []string
}

func (p *mockProvider) Collection(name string) repositories.MongoCollection {
	p.names = append(p.names, name)
	return p.collection
}

func cursorOf(t *testing.T, docs ...bson.M) *mongo.Cursor {
	t.Helper()
	items := make([]interface{}, len(docs))
	for i, d := range docs {
		items[i] = d
	}
	cursor, err := mongo.NewCursorFromDocuments(items, nil, nil)
	require.NoError(t, err)
	return cursor
}

func TestMongoChangeStore_CollectionName(t *testing.T) {
	provider := &mockProvider{collection: &mockCollection{}}

	repositories.NewMongoChangeStore(provider, "trackers", nil)

	assert.Equal(t, []string{"ottrackers"}, provider.names)
}

func TestMongoChangeStore_UpsertBatch_Unordered(t *testing.T) {
	// ARRANGE: second write collides with another user's _id
	collection := &mockCollection{
		bulkWriteFunc: func(ctx context.Context, writes []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
			require.Len(t, writes, 3)
			require.Len(t, opts, 1)
			require.NotNil(t, opts[0].Ordered)
			assert.False(t, *opts[0].Ordered, "bulk writes must not stop at the first failure")
			return nil, mongo.BulkWriteException{
				WriteErrors: []mongo.BulkWriteError{
					{WriteError: mongo.WriteError{Index: 1, Code: 11000, Message: "E11000 duplicate key error"}},
				},
			}
		},
		findFunc: func(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
			f := filter.(bson.M)
			assert.Equal(t, "u1", f["user"])
			assert.Equal(t, bson.M{"$in": []string{"a", "c"}}, f["_id"])
			return cursorOf(t,
				bson.M{"_id": "a", "updatedAt": int64(100)},
				bson.M{"_id": "c", "updatedAt": int64(101)},
			), nil
		},
	}
	store := repositories.NewMongoChangeStore(&mockProvider{collection: collection}, "trackers", func() int64 { return 100 })

	// ACT
	outcomes, err := store.UpsertBatch(context.Background(), "u1", []models.Entry{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
	})

	// ASSERT
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, models.Accepted(100), outcomes[0])
	assert.ErrorIs(t, outcomes[1].Err, repositories.ErrOwnerMismatch)
	assert.Equal(t, models.Accepted(101), outcomes[2])
}

func TestMongoChangeStore_UpsertBatch_RepeatedIDsRunInRounds(t *testing.T) {
	var rounds [][]mongo.WriteModel
	var stamp int64 = 10
	collection := &mockCollection{
		bulkWriteFunc: func(ctx context.Context, writes []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
			rounds = append(rounds, writes)
			return &mongo.BulkWriteResult{}, nil
		},
		findFunc: func(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
			stamp++
			return cursorOf(t, bson.M{"_id": "x", "updatedAt": stamp}), nil
		},
	}
	store := repositories.NewMongoChangeStore(&mockProvider{collection: collection}, "items", nil)

	outcomes, err := store.UpsertBatch(context.Background(), "u1", []models.Entry{{ID: "x"}, {ID: "x"}})

	require.NoError(t, err)
	assert.Len(t, rounds, 2)
	assert.Len(t, rounds[0], 1)
	assert.Equal(t, models.Accepted(11), outcomes[0])
	assert.Equal(t, models.Accepted(12), outcomes[1])
}

func TestMongoChangeStore_UpsertBatch_StoreFailure(t *testing.T) {
	collection := &mockCollection{
		bulkWriteFunc: func(ctx context.Context, writes []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
			return nil, errors.New("connection refused")
		},
	}
	store := repositories.NewMongoChangeStore(&mockProvider{collection: collection}, "items", nil)

	outcomes, err := store.UpsertBatch(context.Background(), "u1", []models.Entry{{ID: "x"}})

	assert.Error(t, err)
	assert.Nil(t, outcomes)
}

func TestMongoChangeStore_Query_NormalizesNestedDocuments(t *testing.T) {
	collection := &mockCollection{
		findFunc: func(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
			f := filter.(bson.M)
			assert.Equal(t, bson.M{"$gt": int64(5)}, f["updatedAt"])
			return cursorOf(t, bson.M{
				"_id":       "t1",
				"user":      "u1",
				"updatedAt": int64(6),
				"removed":   false,
				"payload": bson.M{
					"name":   "Sleep",
					"flags":  bson.D{{Key: "pinned", Value: true}},
					"fields": bson.A{bson.M{"localId": "f1"}},
				},
			}), nil
		},
	}
	store := repositories.NewMongoChangeStore(&mockProvider{collection: collection}, "trackers", nil)

	records, err := store.Query(context.Background(), "u1", 5)

	require.NoError(t, err)
	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, "t1", record.ID)
	assert.Equal(t, "u1", record.Owner)
	assert.Equal(t, int64(6), record.UpdatedAt)
	assert.Equal(t, "Sleep", record.Payload["name"])
	assert.Equal(t, map[string]any{"pinned": true}, record.Payload["flags"])
	assert.Equal(t, []any{map[string]any{"localId": "f1"}}, record.Payload["fields"])
}

func TestMongoChangeStore(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := repositories.NewMongoDatabase(client.Database("omnisync_test"))
	require.NoError(t, db.EnsureIndexes(ctx, []string{"trackers", "items"}))

	suite := &storetest.ChangeStoreTest{
		NewStore: func(t *testing.T) repositories.ChangeStore {
			return repositories.NewMongoChangeStore(db, "trackers", nil)
		},
	}
	suite.Run(t)

	t.Run("ResourcesAreSeparate", func(t *testing.T) {
		storetest.AssertResourcesAreSeparate(t, context.Background(),
			repositories.NewMongoChangeStore(db, "trackers", nil),
			repositories.NewMongoChangeStore(db, "items", nil))
	})
}

package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/prudhvinik1/omnisync/internal/models"
	"github.com/prudhvinik1/omnisync/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCollection is the subset of *mongo.Collection the change store uses.
type MongoCollection interface {
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// CollectionProvider hands out the collection backing a resource type.
type CollectionProvider interface {
	Collection(name string) MongoCollection
}

// MongoDatabase adapts *mongo.Database to CollectionProvider.
type MongoDatabase struct {
	db *mongo.Database
}

func NewMongoDatabase(db *mongo.Database) *MongoDatabase {
	return &MongoDatabase{db: db}
}

func (d *MongoDatabase) Collection(name string) MongoCollection {
	return d.db.Collection(name)
}

// EnsureIndexes creates the owner/updatedAt index pull queries rely on.
func (d *MongoDatabase) EnsureIndexes(ctx context.Context, resources []string) error {
	index := mongo.IndexModel{
		Keys: bson.D{{Key: "user", Value: 1}, {Key: "updatedAt", Value: 1}},
	}
	for _, resource := range resources {
		name := MongoCollectionName(resource)
		if _, err := d.db.Collection(name).Indexes().CreateOne(ctx, index); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", name, err)
		}
	}
	return nil
}

// MongoCollectionName keeps the collection names the OmniTrack server used.
func MongoCollectionName(resource string) string {
	return "ot" + resource
}

type mongoRecord struct {
	ID        string `bson:"_id"`
	Owner     string `bson:"user"`
	Payload   bson.M `bson:"payload"`
	UpdatedAt int64  `bson:"updatedAt"`
	Deleted   bool   `bson:"removed"`
}

// MongoChangeStore keeps one collection per resource type with the record
// id as _id.
type MongoChangeStore struct {
	collection MongoCollection
	now        utils.Clock
}

func NewMongoChangeStore(provider CollectionProvider, resource string, clock utils.Clock) *MongoChangeStore {
	if clock == nil {
		clock = utils.NowMillis
	}
	return &MongoChangeStore{
		collection: provider.Collection(MongoCollectionName(resource)),
		now:        clock,
	}
}

func (s *MongoChangeStore) Query(ctx context.Context, owner string, since int64) ([]*models.Record, error) {
	filter := bson.M{
		"user":      owner,
		"updatedAt": bson.M{"$gt": since},
	}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}})

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer cursor.Close(ctx)

	records := make([]*models.Record, 0)
	for cursor.Next(ctx) {
		var doc mongoRecord
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, &models.Record{
			ID:        doc.ID,
			Owner:     doc.Owner,
			Payload:   normalizeDocument(doc.Payload),
			UpdatedAt: doc.UpdatedAt,
			Deleted:   doc.Deleted,
		})
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// UpsertBatch writes the batch with unordered bulk writes. A bulk write
// only sees each _id once, so repeated ids are spread over successive
// rounds in the order they appear.
func (s *MongoChangeStore) UpsertBatch(ctx context.Context, owner string, entries []models.Entry) ([]models.Outcome, error) {
	outcomes := make([]models.Outcome, len(entries))
	for _, round := range splitRounds(entries) {
		if err := s.upsertRound(ctx, owner, entries, round, outcomes); err != nil {
			return nil, err
		}
	}
	return outcomes, nil
}

// splitRounds groups entry positions so that no round holds an id twice.
func splitRounds(entries []models.Entry) [][]int {
	var rounds [][]int
	seen := make(map[string]int, len(entries))
	for i, entry := range entries {
		n := seen[entry.ID]
		seen[entry.ID] = n + 1
		if n == len(rounds) {
			rounds = append(rounds, nil)
		}
		rounds[n] = append(rounds[n], i)
	}
	return rounds
}

func (s *MongoChangeStore) upsertRound(ctx context.Context, owner string, entries []models.Entry, round []int, outcomes []models.Outcome) error {
	now := s.now()
	writes := make([]mongo.WriteModel, len(round))
	for i, pos := range round {
		entry := entries[pos]
		payload := entry.Payload
		if payload == nil {
			payload = map[string]any{}
		}

		// A record owned by someone else does not match the filter, and the
		// resulting insert fails on the _id unique index.
		filter := bson.M{"_id": entry.ID, "user": owner}
		update := mongo.Pipeline{
			{{Key: "$set", Value: bson.M{
				"user":    owner,
				"payload": bson.M{"$literal": payload},
				"removed": entry.Deleted,
				"updatedAt": bson.M{"$max": bson.A{
					now,
					bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$updatedAt", int64(0)}}, int64(1)}},
				}},
			}}},
		}
		writes[i] = mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true)
	}

	failed := make(map[int]error)
	_, err := s.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		var bulkErr mongo.BulkWriteException
		if !errors.As(err, &bulkErr) || bulkErr.WriteConcernError != nil {
			return fmt.Errorf("failed to perform bulk write: %w", err)
		}
		for _, writeErr := range bulkErr.WriteErrors {
			if isDuplicateKey(writeErr.Code) {
				failed[writeErr.Index] = ErrOwnerMismatch
			} else {
				failed[writeErr.Index] = fmt.Errorf("failed to upsert record: %s", writeErr.Message)
			}
		}
	}

	accepted := make([]string, 0, len(round))
	for i, pos := range round {
		if reason, ok := failed[i]; ok {
			outcomes[pos] = models.Rejected(reason)
			continue
		}
		accepted = append(accepted, entries[pos].ID)
	}
	if len(accepted) == 0 {
		return nil
	}

	stamps, err := s.readTimestamps(ctx, owner, accepted)
	if err != nil {
		return err
	}
	for i, pos := range round {
		if _, ok := failed[i]; ok {
			continue
		}
		updatedAt, ok := stamps[entries[pos].ID]
		if !ok {
			outcomes[pos] = models.Rejected(fmt.Errorf("record %s missing after write", entries[pos].ID))
			continue
		}
		outcomes[pos] = models.Accepted(updatedAt)
	}
	return nil
}

func (s *MongoChangeStore) readTimestamps(ctx context.Context, owner string, ids []string) (map[string]int64, error) {
	filter := bson.M{"_id": bson.M{"$in": ids}, "user": owner}
	opts := options.Find().SetProjection(bson.M{"_id": 1, "updatedAt": 1})

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read back timestamps: %w", err)
	}
	defer cursor.Close(ctx)

	stamps := make(map[string]int64, len(ids))
	for cursor.Next(ctx) {
		var doc struct {
			ID        string `bson:"_id"`
			UpdatedAt int64  `bson:"updatedAt"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode timestamp: %w", err)
		}
		stamps[doc.ID] = doc.UpdatedAt
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timestamps: %w", err)
	}
	return stamps, nil
}

func isDuplicateKey(code int) bool {
	return code == 11000 || code == 11001 || code == 12582
}

// normalizeDocument converts decoded BSON containers into plain maps and
// slices so payloads encode to JSON the same way on every backend.
func normalizeDocument(doc bson.M) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case primitive.M:
		return normalizeDocument(t)
	case map[string]any:
		return normalizeDocument(t)
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

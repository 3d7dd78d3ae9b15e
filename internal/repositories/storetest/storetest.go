// Package storetest is a conformance suite every ChangeStore implementation
// runs from its own tests.
package storetest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prudhvinik1/omnisync/internal/models"
	"github.com/prudhvinik1/omnisync/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ChangeStoreTest runs the shared behaviour checks against stores built by
// NewStore. Owners and ids are random so the suite can share a database
// with other runs.
type ChangeStoreTest struct {
	NewStore func(t *testing.T) repositories.ChangeStore
}

func (s *ChangeStoreTest) Run(t *testing.T) {
	t.Run("UpsertAndQuery", s.TestUpsertAndQuery)
	t.Run("UpdateOverwrites", s.TestUpdateOverwrites)
	t.Run("MonotonicTimestamps", s.TestMonotonicTimestamps)
	t.Run("WatermarkBoundary", s.TestWatermarkBoundary)
	t.Run("Tombstone", s.TestTombstone)
	t.Run("OwnerIsolation", s.TestOwnerIsolation)
	t.Run("OutcomesInInputOrder", s.TestOutcomesInInputOrder)
	t.Run("RepeatedIDInBatch", s.TestRepeatedIDInBatch)
	t.Run("EmptyBatch", s.TestEmptyBatch)
}

func newID() string {
	return uuid.New().String()
}

func entry(id, value string) models.Entry {
	return models.Entry{ID: id, Payload: map[string]any{"value": value}}
}

func upsertOne(t *testing.T, store repositories.ChangeStore, owner string, e models.Entry) int64 {
	t.Helper()
	outcomes, err := store.UpsertBatch(context.Background(), owner, []models.Entry{e})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	return outcomes[0].UpdatedAt
}

func byID(records []*models.Record) map[string]*models.Record {
	m := make(map[string]*models.Record, len(records))
	for _, r := range records {
		m[r.ID] = r
	}
	return m
}

func (s *ChangeStoreTest) TestUpsertAndQuery(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()
	owner := newID()
	a, b := newID(), newID()

	outcomes, err := store.UpsertBatch(ctx, owner, []models.Entry{entry(a, "a"), entry(b, "b")})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].IsAccepted())
	assert.True(t, outcomes[1].IsAccepted())

	records, err := store.Query(ctx, owner, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	got := byID(records)
	assert.Equal(t, "a", got[a].Payload["value"])
	assert.Equal(t, owner, got[a].Owner)
	assert.Equal(t, outcomes[0].UpdatedAt, got[a].UpdatedAt)
	assert.Equal(t, "b", got[b].Payload["value"])
	assert.Equal(t, outcomes[1].UpdatedAt, got[b].UpdatedAt)

	latest := max(outcomes[0].UpdatedAt, outcomes[1].UpdatedAt)
	records, err = store.Query(ctx, owner, latest)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func (s *ChangeStoreTest) TestUpdateOverwrites(t *testing.T) {
	store := s.NewStore(t)
	owner := newID()
	id := newID()

	first := upsertOne(t, store, owner, entry(id, "x"))
	second := upsertOne(t, store, owner, entry(id, "y"))
	assert.Greater(t, second, first)

	records, err := store.Query(context.Background(), owner, 0)
	require.NoError(t, err)
	require.Len(t, records, 1, "an id is stored at most once")
	assert.Equal(t, "y", records[0].Payload["value"])
	assert.Equal(t, second, records[0].UpdatedAt)
}

func (s *ChangeStoreTest) TestMonotonicTimestamps(t *testing.T) {
	store := s.NewStore(t)
	owner := newID()
	id := newID()

	var previous int64
	for i := 0; i < 10; i++ {
		ts := upsertOne(t, store, owner, entry(id, "v"))
		assert.Greater(t, ts, previous, "write %d did not advance updatedAt", i)
		previous = ts
	}
}

func (s *ChangeStoreTest) TestWatermarkBoundary(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()
	owner := newID()
	id := newID()

	ts := upsertOne(t, store, owner, entry(id, "v"))

	records, err := store.Query(ctx, owner, ts-1)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = store.Query(ctx, owner, ts)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func (s *ChangeStoreTest) TestTombstone(t *testing.T) {
	store := s.NewStore(t)
	owner := newID()
	id := newID()

	created := upsertOne(t, store, owner, entry(id, "v"))
	deleted := upsertOne(t, store, owner, models.Entry{ID: id, Payload: map[string]any{"value": "v"}, Deleted: true})

	records, err := store.Query(context.Background(), owner, created)
	require.NoError(t, err)
	require.Len(t, records, 1, "deletions travel through the delta like edits")
	assert.True(t, records[0].Deleted)
	assert.Equal(t, deleted, records[0].UpdatedAt)
}

func (s *ChangeStoreTest) TestOwnerIsolation(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()
	ownerA, ownerB := newID(), newID()
	id := newID()

	tsA := upsertOne(t, store, ownerA, entry(id, "mine"))

	// ACT: another user pushes a colliding id
	outcomes, err := store.UpsertBatch(ctx, ownerB, []models.Entry{entry(id, "theirs")})

	// ASSERT: rejected for that entry, nothing leaks either way
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, repositories.ErrOwnerMismatch)

	records, err := store.Query(ctx, ownerB, 0)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = store.Query(ctx, ownerA, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "mine", records[0].Payload["value"])
	assert.Equal(t, tsA, records[0].UpdatedAt)
}

func (s *ChangeStoreTest) TestOutcomesInInputOrder(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()
	owner, other := newID(), newID()
	taken := newID()
	upsertOne(t, store, other, entry(taken, "other"))

	first, last := newID(), newID()
	outcomes, err := store.UpsertBatch(ctx, owner, []models.Entry{
		entry(first, "1"),
		entry(taken, "2"),
		entry(last, "3"),
	})

	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.True(t, outcomes[0].IsAccepted())
	assert.False(t, outcomes[1].IsAccepted())
	assert.True(t, outcomes[2].IsAccepted())

	records, err := store.Query(ctx, owner, 0)
	require.NoError(t, err)
	got := byID(records)
	assert.Len(t, got, 2)
	assert.Contains(t, got, first)
	assert.Contains(t, got, last)
}

func (s *ChangeStoreTest) TestRepeatedIDInBatch(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()
	owner := newID()
	id := newID()

	outcomes, err := store.UpsertBatch(ctx, owner, []models.Entry{entry(id, "old"), entry(id, "new")})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.True(t, outcomes[0].IsAccepted())
	require.True(t, outcomes[1].IsAccepted())
	assert.Greater(t, outcomes[1].UpdatedAt, outcomes[0].UpdatedAt)

	records, err := store.Query(ctx, owner, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].Payload["value"], "later entries in a batch win")
}

func (s *ChangeStoreTest) TestEmptyBatch(t *testing.T) {
	store := s.NewStore(t)

	outcomes, err := store.UpsertBatch(context.Background(), newID(), nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

// AssertResourcesAreSeparate checks two stores of different resource types
// that share a backend: an id taken in one is still free in the other.
func AssertResourcesAreSeparate(t *testing.T, ctx context.Context, first, second repositories.ChangeStore) {
	t.Helper()
	id := newID()
	ownerA, ownerB := newID(), newID()

	upsertOne(t, first, ownerA, entry(id, "first"))
	upsertOne(t, second, ownerB, entry(id, "second"))

	records, err := first.Query(ctx, ownerB, 0)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = second.Query(ctx, ownerB, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "second", records[0].Payload["value"])
}

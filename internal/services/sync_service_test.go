package services

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prudhvinik1/omnisync/internal/adapters"
	"github.com/prudhvinik1/omnisync/internal/logging"
	"github.com/prudhvinik1/omnisync/internal/models"
	"github.com/prudhvinik1/omnisync/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	err error
}

func (s *failingStore) Query(ctx context.Context, owner string, since int64) ([]*models.Record, error) {
	return nil, s.err
}

func (s *failingStore) UpsertBatch(ctx context.Context, owner string, entries []models.Entry) ([]models.Outcome, error) {
	return nil, s.err
}

// shortStore drops the last outcome to simulate a broken store.
type shortStore struct {
	repositories.ChangeStore
}

func (s *shortStore) UpsertBatch(ctx context.Context, owner string, entries []models.Entry) ([]models.Outcome, error) {
	outcomes, err := s.ChangeStore.UpsertBatch(ctx, owner, entries)
	return outcomes[:len(outcomes)-1], err
}

type failingActivity struct {
	repositories.SyncActivityRepository
}

func (failingActivity) Touch(ctx context.Context, owner, resource string, direction models.SyncDirection, watermark int64, pushed int) error {
	return errors.New("redis down")
}

func newNotesService(clock func() int64) *SyncService {
	store := repositories.NewMemoryChangeStore(clock)
	return NewSyncService(adapters.NewDocumentAdapter("notes"), store, logging.Discard())
}

func note(id, value string) models.WireRecord {
	return models.WireRecord{"objectId": id, "value": value}
}

func wireIDs(records []models.WireRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.WireID()
	}
	sort.Strings(ids)
	return ids
}

func TestSyncService_Scenario(t *testing.T) {
	svc := newNotesService(nil)
	ctx := context.Background()

	acks, err := svc.Push(ctx, "u1", []models.WireRecord{note("r1", "x")})
	require.NoError(t, err)
	require.Len(t, acks, 1)
	require.True(t, acks[0].IsAccepted())
	assert.Equal(t, "r1", acks[0].ID)
	t1 := *acks[0].SynchronizedAt

	acks, err = svc.Push(ctx, "u1", []models.WireRecord{note("r1", "y")})
	require.NoError(t, err)
	require.True(t, acks[0].IsAccepted())
	t2 := *acks[0].SynchronizedAt
	assert.Greater(t, t2, t1)

	records, err := svc.Pull(ctx, "u1", t1-1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0]["objectId"])
	assert.Equal(t, "y", records[0]["value"])
	assert.Equal(t, t2, records[0]["updatedAt"])
	assert.Equal(t, "u1", records[0]["user"])

	records, err = svc.Pull(ctx, "u1", t2)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestSyncService_Completeness(t *testing.T) {
	svc := newNotesService(nil)
	ctx := context.Background()

	// ARRANGE: interleaved pushes from two users, with updates and a deletion
	last := map[string]int64{}
	push := func(owner string, entries ...models.WireRecord) {
		acks, err := svc.Push(ctx, owner, entries)
		require.NoError(t, err)
		for _, ack := range acks {
			require.True(t, ack.IsAccepted(), ack.Error)
			if owner == "u1" {
				last[ack.ID] = *ack.SynchronizedAt
			}
		}
	}
	push("u1", note("a", "1"), note("b", "1"), note("c", "1"))
	push("u2", note("z", "1"))
	push("u1", note("b", "2"))
	push("u1", models.WireRecord{"objectId": "c", "removed": true})
	push("u1", note("d", "1"))

	// ACT + ASSERT: every watermark returns exactly the newer records
	watermarks := []int64{0}
	for _, ts := range last {
		watermarks = append(watermarks, ts, ts-1)
	}
	for _, since := range watermarks {
		var want []string
		for id, ts := range last {
			if ts > since {
				want = append(want, id)
			}
		}
		sort.Strings(want)

		records, err := svc.Pull(ctx, "u1", since)
		require.NoError(t, err)
		got := wireIDs(records)
		if len(want) == 0 {
			assert.Empty(t, got, "since=%d", since)
			continue
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Pull(u1, %d) mismatch (-want +got):\n%s", since, diff)
		}
	}

	records, err := svc.Pull(ctx, "u1", 0)
	require.NoError(t, err)
	for _, r := range records {
		if r.WireID() == "c" {
			assert.Equal(t, true, r["removed"], "tombstones are delivered")
		}
	}
}

func TestSyncService_Idempotence(t *testing.T) {
	svc := newNotesService(nil)
	ctx := context.Background()

	first, err := svc.Push(ctx, "u1", []models.WireRecord{note("r1", "same")})
	require.NoError(t, err)
	second, err := svc.Push(ctx, "u1", []models.WireRecord{note("r1", "same")})
	require.NoError(t, err)

	assert.True(t, first[0].IsAccepted())
	assert.True(t, second[0].IsAccepted())

	records, err := svc.Pull(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "same", records[0]["value"])
	assert.Equal(t, *second[0].SynchronizedAt, records[0]["updatedAt"])
}

func TestSyncService_PartialFailure(t *testing.T) {
	svc := newNotesService(nil)
	ctx := context.Background()

	// ACT: the middle entry has a numeric objectId
	acks, err := svc.Push(ctx, "u1", []models.WireRecord{
		note("r1", "x"),
		{"objectId": 42, "value": "bad"},
		note("r3", "z"),
	})

	// ASSERT
	require.NoError(t, err)
	require.Len(t, acks, 3)
	assert.True(t, acks[0].IsAccepted())
	assert.False(t, acks[1].IsAccepted())
	assert.Equal(t, "", acks[1].ID)
	assert.Contains(t, acks[1].Error, "objectId")
	assert.True(t, acks[2].IsAccepted())
	assert.Equal(t, "r3", acks[2].ID)

	records, err := svc.Pull(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r3"}, wireIDs(records))
}

func TestSyncService_OwnerIsolation(t *testing.T) {
	svc := newNotesService(nil)
	ctx := context.Background()

	_, err := svc.Push(ctx, "A", []models.WireRecord{note("r1", "secret")})
	require.NoError(t, err)

	// ACT: B reuses the id and even claims to be A
	acks, err := svc.Push(ctx, "B", []models.WireRecord{
		{"objectId": "r1", "value": "hijack", "user": "A"},
	})

	// ASSERT
	require.NoError(t, err)
	require.Len(t, acks, 1)
	assert.False(t, acks[0].IsAccepted())
	assert.Equal(t, "r1", acks[0].ID)
	assert.Equal(t, repositories.ErrOwnerMismatch.Error(), acks[0].Error)

	records, err := svc.Pull(ctx, "B", 0)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = svc.Pull(ctx, "A", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "secret", records[0]["value"])
}

func TestSyncService_MonotonicWithinOneTick(t *testing.T) {
	svc := newNotesService(func() int64 { return 1_700_000_000_000 })
	ctx := context.Background()

	var previous int64
	for i := 0; i < 5; i++ {
		acks, err := svc.Push(ctx, "u1", []models.WireRecord{note("r1", "v")})
		require.NoError(t, err)
		ts := *acks[0].SynchronizedAt
		assert.Greater(t, ts, previous)
		previous = ts
	}
	assert.Equal(t, int64(1_700_000_000_004), previous)
}

func TestSyncService_BadRequest(t *testing.T) {
	svc := newNotesService(nil).WithMaxBatchSize(2)
	ctx := context.Background()

	_, err := svc.Pull(ctx, "", 0)
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.Push(ctx, "", []models.WireRecord{note("r1", "x")})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.Push(ctx, "u1", []models.WireRecord{note("a", "1"), note("b", "1"), note("c", "1")})
	assert.ErrorIs(t, err, ErrBadRequest)

	records, err := svc.Pull(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, records, "an oversized batch is not partially applied")
}

func TestSyncService_EmptyPush(t *testing.T) {
	svc := newNotesService(nil)

	acks, err := svc.Push(context.Background(), "u1", []models.WireRecord{})

	require.NoError(t, err)
	assert.NotNil(t, acks)
	assert.Empty(t, acks)
}

func TestSyncService_NegativeWatermark(t *testing.T) {
	svc := newNotesService(nil)
	ctx := context.Background()
	_, err := svc.Push(ctx, "u1", []models.WireRecord{note("r1", "x")})
	require.NoError(t, err)

	records, err := svc.Pull(ctx, "u1", -50)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSyncService_PullOrdersByUpdatedAt(t *testing.T) {
	svc := newNotesService(func() int64 { return 10 })
	ctx := context.Background()
	_, err := svc.Push(ctx, "u1", []models.WireRecord{note("b", "1"), note("a", "1")})
	require.NoError(t, err)
	_, err = svc.Push(ctx, "u1", []models.WireRecord{note("b", "2")})
	require.NoError(t, err)

	records, err := svc.Pull(ctx, "u1", 0)
	require.NoError(t, err)

	got := []string{records[0].WireID(), records[1].WireID()}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSyncService_StorageError(t *testing.T) {
	boom := errors.New("connection refused")
	svc := NewSyncService(adapters.NewDocumentAdapter("notes"), &failingStore{err: boom}, logging.Discard())
	ctx := context.Background()

	_, err := svc.Pull(ctx, "u1", 0)
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "query", storageErr.Op)
	assert.ErrorIs(t, err, boom)

	_, err = svc.Push(ctx, "u1", []models.WireRecord{note("r1", "x")})
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "upsert", storageErr.Op)

	// Validation happens before the store is reached.
	acks, err := svc.Push(ctx, "u1", []models.WireRecord{{"value": "no id"}})
	require.NoError(t, err)
	assert.False(t, acks[0].IsAccepted())
}

func TestSyncService_OutcomeCountMismatch(t *testing.T) {
	store := &shortStore{ChangeStore: repositories.NewMemoryChangeStore(nil)}
	svc := NewSyncService(adapters.NewDocumentAdapter("notes"), store, logging.Discard())

	_, err := svc.Push(context.Background(), "u1", []models.WireRecord{note("a", "1"), note("b", "1")})

	var storageErr *StorageError
	assert.ErrorAs(t, err, &storageErr)
}

func TestSyncService_RecordsActivity(t *testing.T) {
	activity := repositories.NewMemorySyncActivityRepository()
	svc := newNotesService(nil).WithActivity(activity)
	ctx := context.Background()

	acks, err := svc.Push(ctx, "u1", []models.WireRecord{note("a", "1"), {"value": "no id"}})
	require.NoError(t, err)
	_, err = svc.Pull(ctx, "u1", 0)
	require.NoError(t, err)

	got, err := activity.Get(ctx, "u1", "notes")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.PushedRecords)
	assert.Equal(t, *acks[0].SynchronizedAt, got.LastWatermark)
	assert.NotNil(t, got.LastPullAt)
	assert.NotNil(t, got.LastPushAt)
}

func TestSyncService_ActivityFailureIsNotFatal(t *testing.T) {
	svc := newNotesService(nil).WithActivity(failingActivity{})

	acks, err := svc.Push(context.Background(), "u1", []models.WireRecord{note("a", "1")})

	require.NoError(t, err)
	assert.True(t, acks[0].IsAccepted())
}

func TestSyncService_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	svc := newNotesService(nil).WithMetrics(metrics)
	ctx := context.Background()

	_, err := svc.Push(ctx, "u1", []models.WireRecord{note("a", "1"), {"objectId": ""}})
	require.NoError(t, err)
	_, err = svc.Pull(ctx, "u1", 0)
	require.NoError(t, err)
	_, err = svc.Pull(ctx, "", 0)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("notes", "push", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("notes", "pull", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("notes", "pull", "bad_request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.records.WithLabelValues("notes", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.records.WithLabelValues("notes", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.records.WithLabelValues("notes", "pulled")))
}

func TestSyncService_TrackerValidation(t *testing.T) {
	store := repositories.NewMemoryChangeStore(nil)
	svc := NewSyncService(adapters.NewTrackerAdapter(), store, logging.Discard())

	acks, err := svc.Push(context.Background(), "u1", []models.WireRecord{
		{"objectId": "t1", "name": "Sleep"},
		{"objectId": "t2"},
	})

	require.NoError(t, err)
	assert.True(t, acks[0].IsAccepted())
	assert.False(t, acks[1].IsAccepted())
	assert.Equal(t, "t2", acks[1].ID)
	assert.Contains(t, acks[1].Error, "name")
}

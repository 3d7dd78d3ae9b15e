package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/prudhvinik1/omnisync/internal/adapters"
	"github.com/prudhvinik1/omnisync/internal/logging"
	"github.com/prudhvinik1/omnisync/internal/models"
	"github.com/prudhvinik1/omnisync/internal/repositories"
)

// ErrBadRequest rejects a whole request before anything is processed.
var ErrBadRequest = errors.New("bad request")

// StorageError wraps a change store failure that left no per-entry result.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// SyncService runs pull and push for one resource type. It keeps no state
// between requests; the watermark a client presents is the only cursor.
type SyncService struct {
	adapter      adapters.Adapter
	store        repositories.ChangeStore
	activity     repositories.SyncActivityRepository
	metrics      *Metrics
	logger       logging.Logger
	maxBatchSize int
}

func NewSyncService(adapter adapters.Adapter, store repositories.ChangeStore, logger logging.Logger) *SyncService {
	return &SyncService{
		adapter: adapter,
		store:   store,
		logger:  logger.With("resource", adapter.Resource()),
	}
}

// WithActivity records sync activity after every successful request.
func (s *SyncService) WithActivity(repo repositories.SyncActivityRepository) *SyncService {
	s.activity = repo
	return s
}

func (s *SyncService) WithMetrics(m *Metrics) *SyncService {
	s.metrics = m
	return s
}

// WithMaxBatchSize caps the number of entries in one push. Zero means no cap.
func (s *SyncService) WithMaxBatchSize(n int) *SyncService {
	s.maxBatchSize = n
	return s
}

func (s *SyncService) Resource() string {
	return s.adapter.Resource()
}

// Pull returns every record of owner changed after watermark, tombstones
// included, oldest change first. An empty result means the client is up
// to date.
func (s *SyncService) Pull(ctx context.Context, owner string, watermark int64) ([]models.WireRecord, error) {
	started := time.Now()
	if owner == "" {
		s.metrics.observeRequest(s.Resource(), string(models.DirectionPull), "bad_request", started)
		return nil, fmt.Errorf("%w: no user id was passed", ErrBadRequest)
	}
	if watermark < 0 {
		watermark = 0
	}

	records, err := s.store.Query(ctx, owner, watermark)
	if err != nil {
		s.metrics.observeRequest(s.Resource(), string(models.DirectionPull), "storage_error", started)
		s.logger.Error(ctx, "pull failed", "user", owner, "since", watermark, "error", err)
		return nil, &StorageError{Op: "query", Err: err}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].UpdatedAt != records[j].UpdatedAt {
			return records[i].UpdatedAt < records[j].UpdatedAt
		}
		return records[i].ID < records[j].ID
	})

	latest := watermark
	result := make([]models.WireRecord, 0, len(records))
	for _, record := range records {
		result = append(result, s.adapter.ToWire(record))
		if record.UpdatedAt > latest {
			latest = record.UpdatedAt
		}
	}

	s.metrics.observeRequest(s.Resource(), string(models.DirectionPull), "ok", started)
	s.metrics.addRecords(s.Resource(), "pulled", len(result))
	s.touch(ctx, owner, models.DirectionPull, latest, 0)
	s.logger.Info(ctx, "pull served",
		"user", owner,
		"since", watermark,
		"records", len(result),
		"duration", time.Since(started),
	)

	return result, nil
}

// Push validates and stores entries and returns one ack per entry in input
// order. Rejected entries never block accepted ones.
func (s *SyncService) Push(ctx context.Context, owner string, entries []models.WireRecord) ([]models.PushAck, error) {
	started := time.Now()
	if owner == "" {
		s.metrics.observeRequest(s.Resource(), string(models.DirectionPush), "bad_request", started)
		return nil, fmt.Errorf("%w: no user id was passed", ErrBadRequest)
	}
	if s.maxBatchSize > 0 && len(entries) > s.maxBatchSize {
		s.metrics.observeRequest(s.Resource(), string(models.DirectionPush), "bad_request", started)
		return nil, fmt.Errorf("%w: batch of %d entries exceeds the limit of %d", ErrBadRequest, len(entries), s.maxBatchSize)
	}

	acks := make([]models.PushAck, len(entries))
	if len(entries) == 0 {
		return acks, nil
	}

	valid := make([]models.Entry, 0, len(entries))
	positions := make([]int, 0, len(entries))
	for i, wire := range entries {
		record, err := s.adapter.ToStored(wire, owner)
		if err != nil {
			acks[i] = models.AckRejected(wire.WireID(), err)
			continue
		}
		valid = append(valid, models.Entry{ID: record.ID, Payload: record.Payload, Deleted: record.Deleted})
		positions = append(positions, i)
	}

	if len(valid) > 0 {
		outcomes, err := s.store.UpsertBatch(ctx, owner, valid)
		if err == nil && len(outcomes) != len(valid) {
			err = fmt.Errorf("store returned %d outcomes for %d entries", len(outcomes), len(valid))
		}
		if err != nil {
			s.metrics.observeRequest(s.Resource(), string(models.DirectionPush), "storage_error", started)
			s.logger.Error(ctx, "push failed", "user", owner, "entries", len(entries), "error", err)
			return nil, &StorageError{Op: "upsert", Err: err}
		}

		for j, outcome := range outcomes {
			id := valid[j].ID
			if outcome.IsAccepted() {
				acks[positions[j]] = models.AckAccepted(id, outcome.UpdatedAt)
			} else {
				acks[positions[j]] = models.AckRejected(id, outcome.Err)
			}
		}
	}

	accepted := 0
	for _, ack := range acks {
		if ack.IsAccepted() {
			accepted++
		}
	}
	rejected := len(acks) - accepted

	s.metrics.observeRequest(s.Resource(), string(models.DirectionPush), "ok", started)
	s.metrics.addRecords(s.Resource(), "accepted", accepted)
	s.metrics.addRecords(s.Resource(), "rejected", rejected)
	s.touch(ctx, owner, models.DirectionPush, 0, accepted)

	if rejected > 0 {
		s.logger.Warn(ctx, "push partially rejected",
			"user", owner,
			"entries", len(entries),
			"accepted", accepted,
			"rejected", rejected,
			"duration", time.Since(started),
		)
	} else {
		s.logger.Info(ctx, "push applied",
			"user", owner,
			"entries", len(entries),
			"duration", time.Since(started),
		)
	}

	return acks, nil
}

// touch records activity. Failures are logged and never reach the client.
func (s *SyncService) touch(ctx context.Context, owner string, direction models.SyncDirection, watermark int64, pushed int) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Touch(ctx, owner, s.Resource(), direction, watermark, pushed); err != nil {
		s.logger.Warn(ctx, "failed to record sync activity", "user", owner, "direction", direction, "error", err)
	}
}

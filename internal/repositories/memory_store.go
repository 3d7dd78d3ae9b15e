package repositories

import (
	"context"
	"sync"

	"github.com/prudhvinik1/omnisync/internal/models"
	"github.com/prudhvinik1/omnisync/internal/utils"
)

// MemoryChangeStore keeps records in process memory. Each upsert holds the
// store lock, which makes single-record writes linearizable.
type MemoryChangeStore struct {
	mu      sync.RWMutex
	records map[string]*models.Record
	byOwner map[string]map[string]struct{}
	now     utils.Clock
}

func NewMemoryChangeStore(clock utils.Clock) *MemoryChangeStore {
	if clock == nil {
		clock = utils.NowMillis
	}
	return &MemoryChangeStore{
		records: make(map[string]*models.Record),
		byOwner: make(map[string]map[string]struct{}),
		now:     clock,
	}
}

func (s *MemoryChangeStore) Query(ctx context.Context, owner string, since int64) ([]*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Record, 0)
	for id := range s.byOwner[owner] {
		record := s.records[id]
		if record.UpdatedAt > since {
			result = append(result, cloneRecord(record))
		}
	}
	return result, nil
}

func (s *MemoryChangeStore) UpsertBatch(ctx context.Context, owner string, entries []models.Entry) ([]models.Outcome, error) {
	outcomes := make([]models.Outcome, len(entries))
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			outcomes[i] = models.Rejected(err)
			continue
		}
		outcomes[i] = s.upsert(owner, entry)
	}
	return outcomes, nil
}

func (s *MemoryChangeStore) upsert(owner string, entry models.Entry) models.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var previous int64
	if existing, ok := s.records[entry.ID]; ok {
		if existing.Owner != owner {
			return models.Rejected(ErrOwnerMismatch)
		}
		previous = existing.UpdatedAt
	}

	record := &models.Record{
		ID:        entry.ID,
		Owner:     owner,
		Payload:   clonePayload(entry.Payload),
		UpdatedAt: utils.NextTimestamp(s.now(), previous),
		Deleted:   entry.Deleted,
	}
	s.records[entry.ID] = record

	ids, ok := s.byOwner[owner]
	if !ok {
		ids = make(map[string]struct{})
		s.byOwner[owner] = ids
	}
	ids[entry.ID] = struct{}{}

	return models.Accepted(record.UpdatedAt)
}

func cloneRecord(r *models.Record) *models.Record {
	c := *r
	c.Payload = clonePayload(r.Payload)
	return &c
}

func clonePayload(p map[string]any) map[string]any {
	c := make(map[string]any, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

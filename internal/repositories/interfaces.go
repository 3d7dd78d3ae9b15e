package repositories

import (
	"context"
	"errors"

	"github.com/prudhvinik1/omnisync/internal/models"
)

// ErrOwnerMismatch rejects a write to an id that already belongs to
// another user.
var ErrOwnerMismatch = errors.New("record id belongs to another user")

// ChangeStore is the authoritative collection of one resource type.
type ChangeStore interface {
	// Query returns every record of owner with UpdatedAt > since, tombstones
	// included. Order is unspecified.
	Query(ctx context.Context, owner string, since int64) ([]*models.Record, error)
	// UpsertBatch applies each entry independently and returns one outcome
	// per entry in input order. A non-nil error means the store could not
	// produce outcomes at all.
	UpsertBatch(ctx context.Context, owner string, entries []models.Entry) ([]models.Outcome, error)
}

type SyncActivityRepository interface {
	// Touch records one successful sync request.
	Touch(ctx context.Context, owner, resource string, direction models.SyncDirection, watermark int64, pushed int) error
	Get(ctx context.Context, owner, resource string) (*models.SyncActivity, error)
	List(ctx context.Context, owner string, resources []string) ([]*models.SyncActivity, error)
}

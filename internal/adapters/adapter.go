// Package adapters converts between the wire shape clients exchange and the
// canonical stored form of each synchronizable resource type.
package adapters

import (
	"fmt"

	"github.com/prudhvinik1/omnisync/internal/models"
)

// Adapter translates one resource type. Implementations are pure and
// must not perform I/O.
type Adapter interface {
	// Resource is the path segment the resource is served under, e.g. "trackers".
	Resource() string
	// ToWire projects a stored record into the shape clients expect.
	ToWire(record *models.Record) models.WireRecord
	// ToStored validates a client record and stamps it with owner.
	// Malformed input yields a *ValidationError.
	ToStored(wire models.WireRecord, owner string) (*models.Record, error)
}

// ValidationError reports a malformed field of a pushed record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// reserved keys are owned by the protocol and never copied into a payload.
var reserved = map[string]struct{}{
	models.WireKeyID:        {},
	models.WireKeyOwner:     {},
	models.WireKeyUpdatedAt: {},
	models.WireKeyDeleted:   {},
	"_id":                   {},
	"__v":                   {},
}

func isReserved(key string) bool {
	_, ok := reserved[key]
	return ok
}

// baseRecord extracts identity and tombstone, the parts every resource shares.
func baseRecord(wire models.WireRecord, owner string) (*models.Record, error) {
	if wire == nil {
		return nil, invalid(models.WireKeyID, "record is empty")
	}
	raw, ok := wire[models.WireKeyID]
	if !ok || raw == nil {
		return nil, invalid(models.WireKeyID, "is required")
	}
	id, ok := raw.(string)
	if !ok {
		return nil, invalid(models.WireKeyID, "must be a string")
	}
	if id == "" {
		return nil, invalid(models.WireKeyID, "must not be empty")
	}

	deleted := false
	if v, ok := wire[models.WireKeyDeleted]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return nil, invalid(models.WireKeyDeleted, "must be a boolean")
		}
		deleted = b
	}

	return &models.Record{
		ID:      id,
		Owner:   owner,
		Payload: make(map[string]any),
		Deleted: deleted,
	}, nil
}

// baseWire writes the protocol keys over a copy of the payload.
func baseWire(record *models.Record) models.WireRecord {
	wire := make(models.WireRecord, len(record.Payload)+4)
	for k, v := range record.Payload {
		wire[k] = v
	}
	wire[models.WireKeyID] = record.ID
	wire[models.WireKeyOwner] = record.Owner
	wire[models.WireKeyUpdatedAt] = record.UpdatedAt
	wire[models.WireKeyDeleted] = record.Deleted
	return wire
}

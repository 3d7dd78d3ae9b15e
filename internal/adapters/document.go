package adapters

import "github.com/prudhvinik1/omnisync/internal/models"

// DocumentAdapter is a passthrough adapter for resources whose payload the
// server does not interpret. Every non-protocol key is stored as sent;
// required lists string fields that must be present.
type DocumentAdapter struct {
	resource string
	required []string
}

func NewDocumentAdapter(resource string, required ...string) *DocumentAdapter {
	return &DocumentAdapter{resource: resource, required: required}
}

func (a *DocumentAdapter) Resource() string {
	return a.resource
}

func (a *DocumentAdapter) ToWire(record *models.Record) models.WireRecord {
	return baseWire(record)
}

func (a *DocumentAdapter) ToStored(wire models.WireRecord, owner string) (*models.Record, error) {
	record, err := baseRecord(wire, owner)
	if err != nil {
		return nil, err
	}
	for _, field := range a.required {
		if _, err := requiredString(wire, field); err != nil {
			return nil, err
		}
	}
	for k, v := range wire {
		if isReserved(k) {
			continue
		}
		record.Payload[k] = v
	}
	return record, nil
}

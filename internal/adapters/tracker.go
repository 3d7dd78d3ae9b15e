package adapters

import "github.com/prudhvinik1/omnisync/internal/models"

// TrackerAdapter handles tracker definitions. Only known tracker fields are
// kept; anything else a client sends is dropped.
type TrackerAdapter struct{}

func NewTrackerAdapter() *TrackerAdapter {
	return &TrackerAdapter{}
}

func (a *TrackerAdapter) Resource() string {
	return "trackers"
}

func (a *TrackerAdapter) ToWire(record *models.Record) models.WireRecord {
	return baseWire(record)
}

func (a *TrackerAdapter) ToStored(wire models.WireRecord, owner string) (*models.Record, error) {
	record, err := baseRecord(wire, owner)
	if err != nil {
		return nil, err
	}

	name, err := requiredString(wire, "name")
	if err != nil {
		return nil, err
	}
	record.Payload["name"] = name

	checks := []func() error{
		func() error { return optionalNumber(wire, "color", record.Payload) },
		func() error { return optionalNumber(wire, "position", record.Payload) },
		func() error { return optionalBool(wire, "isBookmarked", record.Payload) },
		func() error { return optionalObjectList(wire, "fields", "localId", record.Payload) },
		func() error { return optionalObject(wire, "flags", record.Payload) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return nil, err
		}
	}
	return record, nil
}

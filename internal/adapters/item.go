package adapters

import "github.com/prudhvinik1/omnisync/internal/models"

// ItemAdapter handles captured items. An item always points at the tracker
// it was logged with and carries the capture timestamp in milliseconds.
type ItemAdapter struct{}

func NewItemAdapter() *ItemAdapter {
	return &ItemAdapter{}
}

func (a *ItemAdapter) Resource() string {
	return "items"
}

func (a *ItemAdapter) ToWire(record *models.Record) models.WireRecord {
	return baseWire(record)
}

func (a *ItemAdapter) ToStored(wire models.WireRecord, owner string) (*models.Record, error) {
	record, err := baseRecord(wire, owner)
	if err != nil {
		return nil, err
	}

	tracker, err := requiredString(wire, "tracker")
	if err != nil {
		return nil, err
	}
	timestamp, err := requiredInt(wire, "timestamp")
	if err != nil {
		return nil, err
	}
	if timestamp < 0 {
		return nil, invalid("timestamp", "must not be negative")
	}
	record.Payload["tracker"] = tracker
	record.Payload["timestamp"] = timestamp

	checks := []func() error{
		func() error { return optionalString(wire, "deviceId", record.Payload) },
		func() error { return optionalString(wire, "source", record.Payload) },
		func() error { return optionalString(wire, "timezone", record.Payload) },
		func() error { return optionalObjectList(wire, "dataTable", "attrLocalId", record.Payload) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return nil, err
		}
	}
	return record, nil
}

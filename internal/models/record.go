package models

// Record is the stored form of one synchronizable belonging.
// UpdatedAt is unix milliseconds and is only ever assigned by the server.
type Record struct {
	ID        string         `json:"id" bson:"_id"`
	Owner     string         `json:"user" bson:"user"`
	Payload   map[string]any `json:"payload" bson:"payload"`
	UpdatedAt int64          `json:"updatedAt" bson:"updatedAt"`
	Deleted   bool           `json:"removed" bson:"removed"`
}

// WireRecord is a record in the shape exchanged with clients.
type WireRecord map[string]any

// Wire keys shared by every resource type.
const (
	WireKeyID        = "objectId"
	WireKeyOwner     = "user"
	WireKeyUpdatedAt = "updatedAt"
	WireKeyDeleted   = "removed"
)

// WireID returns the client-stable identifier of a wire record, if present.
func (w WireRecord) WireID() string {
	id, _ := w[WireKeyID].(string)
	return id
}

package models

// Entry is a validated push entry ready to be written to a change store.
type Entry struct {
	ID      string
	Payload map[string]any
	Deleted bool
}

// Outcome is the per-entry result of a batch upsert.
// A nil Err means the entry was accepted at UpdatedAt.
type Outcome struct {
	UpdatedAt int64
	Err       error
}

func Accepted(updatedAt int64) Outcome {
	return Outcome{UpdatedAt: updatedAt}
}

func Rejected(err error) Outcome {
	return Outcome{Err: err}
}

func (o Outcome) IsAccepted() bool {
	return o.Err == nil
}

// PushAck acknowledges one pushed entry. Exactly one of SynchronizedAt
// and Error is set.
type PushAck struct {
	ID             string `json:"id"`
	SynchronizedAt *int64 `json:"synchronizedAt,omitempty"`
	Error          string `json:"error,omitempty"`
}

func AckAccepted(id string, synchronizedAt int64) PushAck {
	return PushAck{ID: id, SynchronizedAt: &synchronizedAt}
}

func AckRejected(id string, err error) PushAck {
	return PushAck{ID: id, Error: err.Error()}
}

func (a PushAck) IsAccepted() bool {
	return a.SynchronizedAt != nil
}

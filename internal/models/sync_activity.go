package models

import "time"

// SyncActivity summarizes the most recent sync traffic of one user for one
// resource type.
type SyncActivity struct {
	Owner         string     `json:"user"`
	Resource      string     `json:"resource"`
	LastPullAt    *time.Time `json:"lastPullAt,omitempty"`
	LastPushAt    *time.Time `json:"lastPushAt,omitempty"`
	LastWatermark int64      `json:"lastWatermark"`
	PushedRecords int64      `json:"pushedRecords"`
}

type SyncDirection string

const (
	DirectionPull SyncDirection = "pull"
	DirectionPush SyncDirection = "push"
)

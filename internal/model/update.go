package model

import "time"

// Update is a versioned delta on any entity (spec.md §3).
type Update struct {
	Seq            int64     `json:"seq"`
	EntityRef      EntityRef `json:"entityRef"`
	Version        int64     `json:"version"`
	ExpectedVersion int64    `json:"expectedVersion"`
	Body           []byte    `json:"body"`
	Producer       string    `json:"producer"` // connectionId that published it
	LocalID        string    `json:"localId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// EphemeralEvent is a transient, unpersisted signal (spec.md §3).
type EphemeralEvent struct {
	Scope   Scope           `json:"scope"`
	Kind    string          `json:"kind"`
	Payload []byte          `json:"payload,omitempty"`
	TS      time.Time       `json:"ts"`
}

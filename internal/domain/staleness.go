package domain

import "time"

// DepartmentState is the refresh state of one (entity, department) pair.
type DepartmentState string

const (
	// StateUninitialized means the department was never computed for the entity.
	StateUninitialized DepartmentState = "UNINITIALIZED"

	// StateFresh means the department was computed in the current cycle.
	StateFresh DepartmentState = "FRESH"

	// StateStale means the last-known value is reused.
	StateStale DepartmentState = "STALE"
)

// StalenessRecord is the coordinator's view of one (entity, department) pair.
type StalenessRecord struct {
	EntityID   string          `json:"entity_id"`
	Department string          `json:"department"`
	State      DepartmentState `json:"state"`
	Pending    bool            `json:"pending"`
	Marker     uint64          `json:"marker"`
	Cycle      uint64          `json:"cycle"`
	LastKnown  *ComponentScore `json:"last_known,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TriggerEvent is a classified refresh event for one entity.
type TriggerEvent struct {
	EntityID string `json:"entity_id"`
	Kind     string `json:"kind"`
}

// SnapshotEvent carries a snapshot to be scored.
type SnapshotEvent struct {
	EntityID string   `json:"entity_id"`
	Snapshot Snapshot `json:"snapshot"`
	Triggers []string `json:"triggers,omitempty"`
}

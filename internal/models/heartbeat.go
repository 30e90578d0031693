package models

import "time"

// Liveness is the derived heartbeat state of a component.
type Liveness string

const (
	// LivenessUnknown means no heartbeat has ever been observed for the
	// component. Distinct from dead: dead components were alive once.
	LivenessUnknown Liveness = "unknown"
	LivenessAlive   Liveness = "alive"
	LivenessDead    Liveness = "dead"
)

// HeartbeatStatus is a snapshot of one component's liveness.
type HeartbeatStatus struct {
	Component ComponentID `json:"component"`
	Liveness  Liveness    `json:"liveness"`
	LastSeen  time.Time   `json:"last_seen"`
}

package models

import "time"

// BusMessage is the logical envelope of every message exchanged with the
// bus: component identity, topic name, timestamp and the schema-typed
// payload fields.
type BusMessage struct {
	CSC       string         `json:"csc"`
	SalIndex  int            `json:"salindex"`
	Topic     string         `json:"topic"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Component returns the identity the message refers to.
func (m BusMessage) Component() ComponentID {
	return ComponentID{Name: m.CSC, Index: m.SalIndex}
}

// CommandMessage is the payload published to a component's command topic.
type CommandMessage struct {
	CSC       string         `json:"csc"`
	SalIndex  int            `json:"salindex"`
	Command   string         `json:"cmd"`
	CommandID string         `json:"cmd_id"`
	Params    map[string]any `json:"params"`
	Identity  string         `json:"identity"`
	Timestamp time.Time      `json:"timestamp"`
}

// AlarmMessage is the payload delivered on alarm topics.
type AlarmMessage struct {
	Source    string    `json:"source"`
	Severity  string    `json:"severity"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

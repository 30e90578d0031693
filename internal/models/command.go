package models

import "time"

// AckCode is the acknowledgment state of a command. Non-terminal codes may
// repeat or be skipped; a terminal code (or the relay-side timeout) ends
// tracking for the command.
type AckCode string

const (
	AckSubmitted    AckCode = "submitted"
	AckAcknowledged AckCode = "acknowledged"
	AckInProgress   AckCode = "in-progress"
	AckComplete     AckCode = "complete"
	AckFailed       AckCode = "failed"
	AckAborted      AckCode = "aborted"
	AckTimeout      AckCode = "timeout"
	// AckFailedToSubmit marks commands whose bus publish itself failed.
	// Distinct from AckTimeout: the command never reached the bus.
	AckFailedToSubmit AckCode = "failed_to_submit"
)

// Terminal reports whether the code ends command tracking.
func (c AckCode) Terminal() bool {
	switch c {
	case AckComplete, AckFailed, AckAborted, AckTimeout, AckFailedToSubmit:
		return true
	}
	return false
}

// rank orders the non-terminal codes so a reordered bus delivery of an
// earlier code cannot roll a command backwards.
func (c AckCode) rank() int {
	switch c {
	case AckSubmitted:
		return 0
	case AckAcknowledged:
		return 1
	case AckInProgress:
		return 2
	default:
		return 3
	}
}

// Supersedes reports whether an incoming code may replace the current one.
// Terminal codes always supersede non-terminal ones; among non-terminal
// codes an equal or later code is accepted (repeated in-progress acks carry
// updated result strings), an earlier one is dropped.
func (c AckCode) Supersedes(current AckCode) bool {
	if current.Terminal() {
		return false
	}
	if c.Terminal() {
		return true
	}
	return c.rank() >= current.rank()
}

// Ack is one acknowledgment message correlated to a command by CommandID.
type Ack struct {
	CommandID string    `json:"cmd_id"`
	Code      AckCode   `json:"ack"`
	Result    string    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandRecord is the tracked state of one submitted command.
type CommandRecord struct {
	CommandID   string         `json:"cmd_id"`
	Component   ComponentID    `json:"component"`
	Command     string         `json:"cmd"`
	Params      map[string]any `json:"params"`
	User        string         `json:"identity"`
	SubmittedAt time.Time      `json:"submitted_at"`

	// Last acknowledgment applied.
	AckCode   AckCode   `json:"ack"`
	AckResult string    `json:"result"`
	AckAt     time.Time `json:"ack_timestamp"`
	Terminal  bool      `json:"terminal"`
}

package bus

import (
	"fmt"
	"strconv"
	"strings"

	"csc-relay/internal/models"
)

// Topic layout on the bus:
//
//	csc/<name>/<index>/cmd/<command>   command submissions (relay publishes)
//	csc/<name>/<index>/ack             command acknowledgments
//	csc/<name>/<index>/heartbeat       periodic liveness messages
//	csc/<name>/<index>/evt/<event>     log events
//	csc/<name>/<index>/tel/<telemetry> telemetry streams
//	alarm/<source>                     alarm state events
const (
	AckFilter       = "csc/+/+/ack"
	HeartbeatFilter = "csc/+/+/heartbeat"
	EventFilter     = "csc/+/+/evt/#"
	TelemetryFilter = "csc/+/+/tel/#"
	AlarmFilter     = "alarm/#"
)

// MessageKind classifies a parsed bus topic.
type MessageKind string

const (
	KindCommand   MessageKind = "cmd"
	KindAck       MessageKind = "ack"
	KindHeartbeat MessageKind = "heartbeat"
	KindEvent     MessageKind = "evt"
	KindTelemetry MessageKind = "tel"
	KindAlarm     MessageKind = "alarm"
)

// CommandTopic builds the publish topic for one command of one component.
func CommandTopic(c models.ComponentID, command string) string {
	return fmt.Sprintf("csc/%s/%d/cmd/%s", c.Name, c.Index, command)
}

// AckTopic builds the acknowledgment topic of one component.
func AckTopic(c models.ComponentID) string {
	return fmt.Sprintf("csc/%s/%d/ack", c.Name, c.Index)
}

// HeartbeatTopic builds the heartbeat topic of one component.
func HeartbeatTopic(c models.ComponentID) string {
	return fmt.Sprintf("csc/%s/%d/heartbeat", c.Name, c.Index)
}

// EventTopic builds the topic of one named event of one component.
func EventTopic(c models.ComponentID, event string) string {
	return fmt.Sprintf("csc/%s/%d/evt/%s", c.Name, c.Index, event)
}

// TelemetryTopic builds the topic of one telemetry stream of one component.
func TelemetryTopic(c models.ComponentID, telemetry string) string {
	return fmt.Sprintf("csc/%s/%d/tel/%s", c.Name, c.Index, telemetry)
}

// AlarmTopic builds the topic of one alarm source.
func AlarmTopic(source string) string {
	return "alarm/" + source
}

// ParsedTopic is the decomposed form of a received topic.
type ParsedTopic struct {
	Kind      MessageKind
	Component models.ComponentID
	// Name is the event/telemetry/command name, or the alarm source.
	Name string
}

// ParseTopic decomposes a received topic string.
func ParseTopic(topic string) (ParsedTopic, error) {
	parts := strings.Split(topic, "/")

	if parts[0] == "alarm" && len(parts) >= 2 {
		return ParsedTopic{
			Kind: KindAlarm,
			Name: strings.Join(parts[1:], "/"),
		}, nil
	}

	if parts[0] != "csc" || len(parts) < 4 {
		return ParsedTopic{}, fmt.Errorf("unrecognized topic %q", topic)
	}

	index, err := strconv.Atoi(parts[2])
	if err != nil {
		return ParsedTopic{}, fmt.Errorf("invalid component index in topic %q: %w", topic, err)
	}
	component := models.ComponentID{Name: parts[1], Index: index}

	switch parts[3] {
	case "ack":
		return ParsedTopic{Kind: KindAck, Component: component}, nil
	case "heartbeat":
		return ParsedTopic{Kind: KindHeartbeat, Component: component}, nil
	case "cmd", "evt", "tel":
		if len(parts) < 5 {
			return ParsedTopic{}, fmt.Errorf("topic %q is missing a name segment", topic)
		}
		return ParsedTopic{
			Kind:      MessageKind(parts[3]),
			Component: component,
			Name:      strings.Join(parts[4:], "/"),
		}, nil
	}

	return ParsedTopic{}, fmt.Errorf("unrecognized topic %q", topic)
}

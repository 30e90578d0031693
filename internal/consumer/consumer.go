// Package consumer subscribes the bus topics and routes each inbound
// message to its owner: acknowledgments to the dispatcher, heartbeats to
// the monitor, alarm events to the watcher, events and telemetry to the
// fan-out hub. It also feeds the summary-state tracker from summaryState
// events.
package consumer

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"csc-relay/internal/alarms"
	"csc-relay/internal/bus"
	"csc-relay/internal/dispatcher"
	"csc-relay/internal/fanout"
	"csc-relay/internal/heartbeat"
	"csc-relay/internal/models"
	"csc-relay/internal/registry"
)

// summaryStateEvent is the event topic the state tracker follows.
const summaryStateEvent = "summaryState"

// Bus is the subscribe contract of the bus client.
type Bus interface {
	Subscribe(topic string, qos byte, handler bus.MessageHandler) error
}

// Consumer wires bus subscriptions to the relay's state engines.
type Consumer struct {
	bus        Bus
	dispatcher *dispatcher.Dispatcher
	monitor    *heartbeat.Monitor
	watcher    *alarms.Watcher
	hub        *fanout.Hub
	registry   *registry.Registry
	states     *StateTracker
	logger     *zap.Logger
	qos        byte

	now func() time.Time
}

// New creates the consumer.
func New(
	busClient Bus,
	disp *dispatcher.Dispatcher,
	monitor *heartbeat.Monitor,
	watcher *alarms.Watcher,
	hub *fanout.Hub,
	reg *registry.Registry,
	states *StateTracker,
	logger *zap.Logger,
	qos byte,
) *Consumer {
	return &Consumer{
		bus:        busClient,
		dispatcher: disp,
		monitor:    monitor,
		watcher:    watcher,
		hub:        hub,
		registry:   reg,
		states:     states,
		logger:     logger,
		qos:        qos,
		now:        time.Now,
	}
}

// Start subscribes every bus topic filter the relay consumes.
func (c *Consumer) Start() error {
	subscriptions := []struct {
		filter  string
		handler bus.MessageHandler
	}{
		{bus.AckFilter, c.handleAck},
		{bus.HeartbeatFilter, c.handleHeartbeat},
		{bus.EventFilter, c.handleEvent},
		{bus.TelemetryFilter, c.handleTelemetry},
		{bus.AlarmFilter, c.handleAlarm},
	}

	for _, sub := range subscriptions {
		if err := c.bus.Subscribe(sub.filter, c.qos, sub.handler); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", sub.filter, err)
		}
	}

	c.logger.Info("Bus subscriptions established",
		zap.Int("count", len(subscriptions)),
	)
	return nil
}

func (c *Consumer) handleAck(topic string, payload []byte) error {
	var ack models.Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("malformed ack on %s: %w", topic, err)
	}
	if ack.CommandID == "" {
		return fmt.Errorf("ack on %s has no cmd_id", topic)
	}
	if ack.Timestamp.IsZero() {
		ack.Timestamp = c.now()
	}

	c.dispatcher.HandleAck(ack)
	return nil
}

func (c *Consumer) handleHeartbeat(topic string, payload []byte) error {
	parsed, err := bus.ParseTopic(topic)
	if err != nil {
		return err
	}

	var msg models.BusMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("malformed heartbeat on %s: %w", topic, err)
		}
	}
	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = c.now()
	}

	c.monitor.OnHeartbeat(parsed.Component, timestamp)
	return nil
}

func (c *Consumer) handleEvent(topic string, payload []byte) error {
	msg, parsed, err := c.decodeTopicMessage(topic, payload, registry.Event)
	if err != nil {
		return err
	}

	if parsed.Name == summaryStateEvent {
		if state, ok := numericField(msg.Data, "summaryState"); ok {
			c.states.Set(parsed.Component, state)
		}
	}

	c.hub.PublishBusMessage(fanout.KindEvent, msg)
	return nil
}

func (c *Consumer) handleTelemetry(topic string, payload []byte) error {
	msg, _, err := c.decodeTopicMessage(topic, payload, registry.Telemetry)
	if err != nil {
		return err
	}

	c.hub.PublishBusMessage(fanout.KindTelemetry, msg)
	return nil
}

func (c *Consumer) handleAlarm(topic string, payload []byte) error {
	parsed, err := bus.ParseTopic(topic)
	if err != nil {
		return err
	}

	var msg models.AlarmMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("malformed alarm on %s: %w", topic, err)
	}
	source := msg.Source
	if source == "" {
		source = parsed.Name
	}
	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = c.now()
	}

	c.watcher.OnAlarmEvent(source, models.ParseSeverity(msg.Severity), msg.Reason, timestamp)
	return nil
}

// decodeTopicMessage parses and registry-checks one event or telemetry
// message. Messages on topics the registry does not know are dropped: the
// relay only relays the declared surface.
func (c *Consumer) decodeTopicMessage(topic string, payload []byte, kind registry.TopicKind) (models.BusMessage, bus.ParsedTopic, error) {
	parsed, err := bus.ParseTopic(topic)
	if err != nil {
		return models.BusMessage{}, bus.ParsedTopic{}, err
	}

	if _, err := c.registry.Topic(parsed.Component.Name, kind, parsed.Name); err != nil {
		return models.BusMessage{}, bus.ParsedTopic{}, fmt.Errorf("dropping message on undeclared topic %s: %w", topic, err)
	}

	var msg models.BusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.BusMessage{}, bus.ParsedTopic{}, fmt.Errorf("malformed message on %s: %w", topic, err)
	}

	// The topic string is authoritative for identity and name; bodies from
	// misconfigured producers must not let a message masquerade as another
	// component's.
	msg.CSC = parsed.Component.Name
	msg.SalIndex = parsed.Component.Index
	msg.Topic = parsed.Name
	if msg.Timestamp.IsZero() {
		msg.Timestamp = c.now()
	}

	return msg, parsed, nil
}

func numericField(data map[string]any, field string) (int, bool) {
	switch v := data[field].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// Package fanout republishes relay notifications to subscribed clients.
// The web transport owns framing and routing; the hub only hands each
// subscriber an ordered channel of notifications. Ordering is preserved
// per source; across sources there is no guarantee. Slow subscribers have
// notifications dropped rather than stalling the relay.
package fanout

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"csc-relay/internal/models"
)

// Kind classifies a notification.
type Kind string

const (
	KindEvent          Kind = "event"
	KindTelemetry      Kind = "telemetry"
	KindHeartbeat      Kind = "heartbeat"
	KindAlarm          Kind = "alarm"
	KindCommand        Kind = "command"
	KindRelayHeartbeat Kind = "relay_heartbeat"
)

// Notification is one pushed record. Seq is monotonic per Source.
type Notification struct {
	Kind      Kind      `json:"kind"`
	Source    string    `json:"source"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// subscriberBuffer bounds each subscription channel.
const subscriberBuffer = 100

// Subscription is one client's notification channel. Close it when done.
type Subscription struct {
	id    string
	kinds map[Kind]bool
	ch    chan Notification
	hub   *Hub
	once  sync.Once
}

// C is the notification channel. It is closed by Close.
func (s *Subscription) C() <-chan Notification {
	return s.ch
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s.id)
		close(s.ch)
	})
}

// Hub distributes notifications to subscribers.
type Hub struct {
	logger *zap.Logger
	now    func() time.Time

	mu   sync.RWMutex
	subs map[string]*Subscription
	seqs map[string]int64
}

// NewHub creates the hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		now:    time.Now,
		subs:   make(map[string]*Subscription),
		seqs:   make(map[string]int64),
	}
}

// Subscribe registers a subscriber for the given kinds; no kinds means all.
func (h *Hub) Subscribe(kinds ...Kind) *Subscription {
	sub := &Subscription{
		id:    uuid.NewString(),
		kinds: make(map[Kind]bool, len(kinds)),
		ch:    make(chan Notification, subscriberBuffer),
		hub:   h,
	}
	for _, kind := range kinds {
		sub.kinds[kind] = true
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Publish delivers one notification to all interested subscribers. The
// per-source sequence number is assigned under the hub lock, so subscribers
// observe gap-free ordering per source unless they were too slow to keep
// up. Channel sends stay under the lock too: a Subscription can only be
// closed after it has left the map, so no send races a close. Sends are
// non-blocking, so the lock is never held waiting on a subscriber.
func (h *Hub) Publish(kind Kind, source string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seqs[source]++
	notification := Notification{
		Kind:      kind,
		Source:    source,
		Seq:       h.seqs[source],
		Timestamp: h.now(),
		Data:      data,
	}

	for _, sub := range h.subs {
		if len(sub.kinds) > 0 && !sub.kinds[kind] {
			continue
		}
		select {
		case sub.ch <- notification:
		default:
			// Slow subscriber: drop rather than block the relay.
			h.logger.Warn("Dropping notification for slow subscriber",
				zap.String("subscriber", sub.id),
				zap.String("kind", string(kind)),
				zap.String("source", source),
			)
		}
	}
}

// NotifyCommand implements dispatcher.Notifier.
func (h *Hub) NotifyCommand(rec models.CommandRecord) {
	h.Publish(KindCommand, "cmd/"+rec.Component.String(), rec)
}

// NotifyHeartbeat implements heartbeat.Notifier.
func (h *Hub) NotifyHeartbeat(status models.HeartbeatStatus) {
	h.Publish(KindHeartbeat, "heartbeat/"+status.Component.String(), status)
}

// NotifyAlarm implements alarms.Notifier.
func (h *Hub) NotifyAlarm(state models.AlarmState) {
	h.Publish(KindAlarm, "alarm/"+state.Source, state)
}

// PublishBusMessage forwards one event or telemetry message.
func (h *Hub) PublishBusMessage(kind Kind, msg models.BusMessage) {
	h.Publish(kind, msg.Component().String()+"/"+msg.Topic, msg)
}

// Package heartbeat tracks per-component liveness. A component is alive iff
// a heartbeat was observed within the timeout window; the alive→dead
// transition is a function of elapsed time, so liveness is recomputed lazily
// on read and reconciled by a periodic tick, with change notifications
// emitted only on edges.
package heartbeat

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"csc-relay/internal/models"
)

// Notifier receives a snapshot on every liveness edge (alive→dead,
// dead→alive, or first sighting).
type Notifier interface {
	NotifyHeartbeat(status models.HeartbeatStatus)
}

// Monitor owns the heartbeat records.
type Monitor struct {
	timeout  time.Duration
	tick     time.Duration
	notifier Notifier
	logger   *zap.Logger

	now func() time.Time

	mu      sync.RWMutex
	records map[models.ComponentID]*record
}

type record struct {
	mu       sync.Mutex
	lastSeen time.Time
	alive    bool
}

// NewMonitor creates the monitor. The reconcile tick runs at half the
// timeout window so a dead component is flagged at most timeout*1.5 after
// its last heartbeat.
func NewMonitor(timeout time.Duration, notifier Notifier, logger *zap.Logger) *Monitor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Monitor{
		timeout:  timeout,
		tick:     timeout / 2,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		records:  make(map[models.ComponentID]*record),
	}
}

// OnHeartbeat records one heartbeat. The first heartbeat of an unknown
// component creates its record alive; a heartbeat from a dead component
// revives it. Both are edges and notify.
func (m *Monitor) OnHeartbeat(component models.ComponentID, timestamp time.Time) {
	m.mu.RLock()
	rec, ok := m.records[component]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		rec, ok = m.records[component]
		if !ok {
			rec = &record{}
			m.records[component] = rec
		}
		m.mu.Unlock()
	}

	rec.mu.Lock()
	wasAlive := rec.alive
	known := !rec.lastSeen.IsZero()
	if timestamp.After(rec.lastSeen) {
		rec.lastSeen = timestamp
	}
	rec.alive = true
	lastSeen := rec.lastSeen
	rec.mu.Unlock()

	if !known || !wasAlive {
		m.logger.Info("Component alive",
			zap.String("component", component.String()),
		)
		m.notify(models.HeartbeatStatus{
			Component: component,
			Liveness:  models.LivenessAlive,
			LastSeen:  lastSeen,
		})
	}
}

// IsAlive lazily evaluates liveness for one component. known is false for
// components never seen, which is distinct from dead.
func (m *Monitor) IsAlive(component models.ComponentID) (alive bool, known bool) {
	m.mu.RLock()
	rec, ok := m.records[component]
	m.mu.RUnlock()
	if !ok {
		return false, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return m.now().Sub(rec.lastSeen) < m.timeout, true
}

// Status returns the current liveness snapshot of one component. Unknown
// components report LivenessUnknown.
func (m *Monitor) Status(component models.ComponentID) models.HeartbeatStatus {
	m.mu.RLock()
	rec, ok := m.records[component]
	m.mu.RUnlock()
	if !ok {
		return models.HeartbeatStatus{Component: component, Liveness: models.LivenessUnknown}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	liveness := models.LivenessDead
	if m.now().Sub(rec.lastSeen) < m.timeout {
		liveness = models.LivenessAlive
	}
	return models.HeartbeatStatus{
		Component: component,
		Liveness:  liveness,
		LastSeen:  rec.lastSeen,
	}
}

// Snapshot returns all known components sorted by identity.
func (m *Monitor) Snapshot() []models.HeartbeatStatus {
	m.mu.RLock()
	components := make([]models.ComponentID, 0, len(m.records))
	for component := range m.records {
		components = append(components, component)
	}
	m.mu.RUnlock()

	sort.Slice(components, func(i, j int) bool {
		return components[i].String() < components[j].String()
	})

	statuses := make([]models.HeartbeatStatus, 0, len(components))
	for _, component := range components {
		statuses = append(statuses, m.Status(component))
	}
	return statuses
}

// Run drives the reconcile tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Reconcile()
		}
	}
}

// Reconcile recomputes liveness for all known components and notifies on
// alive→dead edges. Exported so tests can drive it deterministically.
func (m *Monitor) Reconcile() {
	now := m.now()

	m.mu.RLock()
	records := make(map[models.ComponentID]*record, len(m.records))
	for component, rec := range m.records {
		records[component] = rec
	}
	m.mu.RUnlock()

	for component, rec := range records {
		rec.mu.Lock()
		dead := now.Sub(rec.lastSeen) >= m.timeout
		edge := dead && rec.alive
		if edge {
			rec.alive = false
		}
		lastSeen := rec.lastSeen
		rec.mu.Unlock()

		if edge {
			m.logger.Warn("Component dead",
				zap.String("component", component.String()),
				zap.Time("last_seen", lastSeen),
			)
			m.notify(models.HeartbeatStatus{
				Component: component,
				Liveness:  models.LivenessDead,
				LastSeen:  lastSeen,
			})
		}
	}
}

func (m *Monitor) notify(status models.HeartbeatStatus) {
	if m.notifier != nil {
		m.notifier.NotifyHeartbeat(status)
	}
}

// Package alarms tracks per-source alarm state: severity, acknowledgment,
// muting and staleness. Mute expiry and staleness are functions of elapsed
// time, evaluated lazily on read and reconciled by a periodic tick that
// notifies on edges only.
package alarms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"csc-relay/internal/models"
)

var (
	// ErrNotFound marks operations on alarm sources never observed.
	ErrNotFound = errors.New("alarm source not found")
	// ErrInvalidDuration rejects non-positive mute durations.
	ErrInvalidDuration = errors.New("mute duration must be positive")
)

// Notifier receives a snapshot after every alarm state change.
type Notifier interface {
	NotifyAlarm(state models.AlarmState)
}

// Watcher owns the alarm records.
type Watcher struct {
	staleAfter time.Duration
	tick       time.Duration
	notifier   Notifier
	logger     *zap.Logger

	now func() time.Time

	mu     sync.RWMutex
	alarms map[string]*record
}

type record struct {
	mu    sync.Mutex
	state models.AlarmState
}

// NewWatcher creates the watcher.
func NewWatcher(staleAfter, tick time.Duration, notifier Notifier, logger *zap.Logger) *Watcher {
	if staleAfter <= 0 {
		staleAfter = 60 * time.Second
	}
	if tick <= 0 {
		tick = 5 * time.Second
	}
	return &Watcher{
		staleAfter: staleAfter,
		tick:       tick,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
		alarms:     make(map[string]*record),
	}
}

// OnAlarmEvent applies one alarm update from the bus. A severity increase
// clears any previous acknowledgment: a worse problem needs acknowledging
// again even if the alarm was acknowledged at a lower severity.
func (w *Watcher) OnAlarmEvent(source string, severity models.Severity, reason string, timestamp time.Time) {
	w.mu.RLock()
	rec, ok := w.alarms[source]
	w.mu.RUnlock()

	if !ok {
		w.mu.Lock()
		rec, ok = w.alarms[source]
		if !ok {
			rec = &record{state: models.AlarmState{Source: source}}
			w.alarms[source] = rec
		}
		w.mu.Unlock()
	}

	rec.mu.Lock()
	if severity > rec.state.Severity {
		rec.state.Acknowledged = false
		rec.state.AckedBy = ""
	}
	rec.state.Severity = severity
	rec.state.Reason = reason
	rec.state.UpdatedAt = timestamp
	rec.state.Stale = false
	snapshot := w.effective(rec)
	rec.mu.Unlock()

	w.notify(snapshot)
}

// Acknowledge marks an alarm acknowledged by user. Severity is unaffected.
func (w *Watcher) Acknowledge(source, user string) error {
	rec, err := w.lookup(source)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	rec.state.Acknowledged = true
	rec.state.AckedBy = user
	snapshot := w.effective(rec)
	rec.mu.Unlock()

	w.logger.Info("Alarm acknowledged",
		zap.String("source", source),
		zap.String("user", user),
	)
	w.notify(snapshot)
	return nil
}

// Mute silences an alarm for duration. The mute lapses on its own when the
// expiry passes; no unmute message is required.
func (w *Watcher) Mute(source string, duration time.Duration, user string) error {
	if duration <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDuration, duration)
	}
	rec, err := w.lookup(source)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	rec.state.Muted = true
	rec.state.MutedBy = user
	rec.state.MuteExpiry = w.now().Add(duration)
	snapshot := w.effective(rec)
	rec.mu.Unlock()

	w.logger.Info("Alarm muted",
		zap.String("source", source),
		zap.String("user", user),
		zap.Duration("duration", duration),
	)
	w.notify(snapshot)
	return nil
}

// Unmute clears a mute immediately.
func (w *Watcher) Unmute(source string) error {
	rec, err := w.lookup(source)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	rec.state.Muted = false
	rec.state.MutedBy = ""
	rec.state.MuteExpiry = time.Time{}
	snapshot := w.effective(rec)
	rec.mu.Unlock()

	w.notify(snapshot)
	return nil
}

// Get returns the current effective state of one alarm source.
func (w *Watcher) Get(source string) (models.AlarmState, error) {
	rec, err := w.lookup(source)
	if err != nil {
		return models.AlarmState{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return w.effective(rec), nil
}

// Snapshot returns all alarms sorted by severity (critical first), then
// source. Stale is an overlay, not a severity, so it never affects order.
func (w *Watcher) Snapshot() []models.AlarmState {
	w.mu.RLock()
	records := make([]*record, 0, len(w.alarms))
	for _, rec := range w.alarms {
		records = append(records, rec)
	}
	w.mu.RUnlock()

	states := make([]models.AlarmState, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		states = append(states, w.effective(rec))
		rec.mu.Unlock()
	}

	sort.Slice(states, func(i, j int) bool {
		if states[i].Severity != states[j].Severity {
			return states[i].Severity > states[j].Severity
		}
		return states[i].Source < states[j].Source
	})
	return states
}

// Run drives the staleness/mute-expiry tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Reconcile()
		}
	}
}

// Reconcile materializes time-derived transitions (staleness, mute expiry)
// and notifies on edges. Exported so tests can drive it deterministically.
func (w *Watcher) Reconcile() {
	now := w.now()

	w.mu.RLock()
	records := make(map[string]*record, len(w.alarms))
	for source, rec := range w.alarms {
		records[source] = rec
	}
	w.mu.RUnlock()

	for source, rec := range records {
		rec.mu.Lock()
		var edges []models.AlarmState

		if !rec.state.Stale && now.Sub(rec.state.UpdatedAt) >= w.staleAfter {
			rec.state.Stale = true
			edges = append(edges, w.effective(rec))
			w.logger.Warn("Alarm stale",
				zap.String("source", source),
				zap.Time("updated_at", rec.state.UpdatedAt),
			)
		}
		if rec.state.Muted && !now.Before(rec.state.MuteExpiry) {
			rec.state.Muted = false
			rec.state.MutedBy = ""
			rec.state.MuteExpiry = time.Time{}
			edges = append(edges, w.effective(rec))
		}
		rec.mu.Unlock()

		for _, snapshot := range edges {
			w.notify(snapshot)
		}
	}
}

// effective derives the read-time view of a record: a mute past its expiry
// reads as unmuted even before the tick materializes it. Caller holds
// rec.mu.
func (w *Watcher) effective(rec *record) models.AlarmState {
	state := rec.state
	if state.Muted && !w.now().Before(state.MuteExpiry) {
		state.Muted = false
		state.MutedBy = ""
		state.MuteExpiry = time.Time{}
	}
	if !state.Stale && w.now().Sub(state.UpdatedAt) >= w.staleAfter {
		state.Stale = true
	}
	return state
}

func (w *Watcher) lookup(source string) (*record, error) {
	w.mu.RLock()
	rec, ok := w.alarms[source]
	w.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, source)
	}
	return rec, nil
}

func (w *Watcher) notify(snapshot models.AlarmState) {
	if w.notifier != nil {
		w.notifier.NotifyAlarm(snapshot)
	}
}

package alarms

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"csc-relay/internal/models"
)

type fakeNotifier struct {
	mu     sync.Mutex
	states []models.AlarmState
}

func (f *fakeNotifier) NotifyAlarm(state models.AlarmState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
}

func (f *fakeNotifier) snapshot() []models.AlarmState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AlarmState, len(f.states))
	copy(out, f.states)
	return out
}

func newTestWatcher(t *testing.T) (*Watcher, *fakeNotifier, func(time.Duration)) {
	t.Helper()
	notifier := &fakeNotifier{}
	watcher := NewWatcher(60*time.Second, 5*time.Second, notifier, zap.NewNop())

	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	watcher.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	return watcher, notifier, advance
}

const source = "ATDome.azimuthDrive"

func TestOnAlarmEvent_CreatesRecord(t *testing.T) {
	watcher, notifier, _ := newTestWatcher(t)

	watcher.OnAlarmEvent(source, models.SeverityWarning, "drive temperature high", watcher.now())

	state, err := watcher.Get(source)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityWarning, state.Severity)
	assert.Equal(t, "drive temperature high", state.Reason)
	assert.False(t, state.Acknowledged)
	assert.False(t, state.Stale)

	require.Len(t, notifier.snapshot(), 1)
}

func TestAcknowledge_UnknownSource(t *testing.T) {
	watcher, _, _ := newTestWatcher(t)

	err := watcher.Acknowledge("no.such.alarm", "operator@love01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAcknowledge_RecordsUser(t *testing.T) {
	watcher, _, _ := newTestWatcher(t)
	watcher.OnAlarmEvent(source, models.SeverityWarning, "hot", watcher.now())

	require.NoError(t, watcher.Acknowledge(source, "operator@love01"))

	state, err := watcher.Get(source)
	require.NoError(t, err)
	assert.True(t, state.Acknowledged)
	assert.Equal(t, "operator@love01", state.AckedBy)
	// Severity untouched.
	assert.Equal(t, models.SeverityWarning, state.Severity)
}

func TestSeverityIncrease_ResetsAcknowledgment(t *testing.T) {
	watcher, _, _ := newTestWatcher(t)
	watcher.OnAlarmEvent(source, models.SeverityWarning, "hot", watcher.now())
	require.NoError(t, watcher.Acknowledge(source, "operator@love01"))

	// Escalation: acknowledgment is cleared.
	watcher.OnAlarmEvent(source, models.SeverityCritical, "very hot", watcher.now())
	state, err := watcher.Get(source)
	require.NoError(t, err)
	assert.False(t, state.Acknowledged)
	assert.Empty(t, state.AckedBy)

	// De-escalation or repeat does not clear a fresh acknowledgment.
	require.NoError(t, watcher.Acknowledge(source, "operator@love01"))
	watcher.OnAlarmEvent(source, models.SeverityCritical, "still very hot", watcher.now())
	state, _ = watcher.Get(source)
	assert.True(t, state.Acknowledged)

	watcher.OnAlarmEvent(source, models.SeverityWarning, "cooling", watcher.now())
	state, _ = watcher.Get(source)
	assert.True(t, state.Acknowledged)
}

func TestMute_RejectsNonPositiveDuration(t *testing.T) {
	watcher, _, _ := newTestWatcher(t)
	watcher.OnAlarmEvent(source, models.SeverityWarning, "hot", watcher.now())

	assert.ErrorIs(t, watcher.Mute(source, 0, "operator@love01"), ErrInvalidDuration)
	assert.ErrorIs(t, watcher.Mute(source, -time.Minute, "operator@love01"), ErrInvalidDuration)
	assert.ErrorIs(t, watcher.Mute("no.such.alarm", time.Minute, "operator@love01"), ErrNotFound)
}

func TestMute_LapsesWithoutExplicitUnmute(t *testing.T) {
	watcher, _, advance := newTestWatcher(t)
	watcher.OnAlarmEvent(source, models.SeverityCritical, "hot", watcher.now())

	require.NoError(t, watcher.Mute(source, 10*time.Minute, "operator@love01"))
	state, _ := watcher.Get(source)
	assert.True(t, state.Muted)
	assert.Equal(t, "operator@love01", state.MutedBy)

	// Still muted just before expiry.
	advance(9 * time.Minute)
	state, _ = watcher.Get(source)
	assert.True(t, state.Muted)

	// Past expiry the alarm reads unmuted, before any tick runs.
	advance(2 * time.Minute)
	state, _ = watcher.Get(source)
	assert.False(t, state.Muted)
	assert.Empty(t, state.MutedBy)
}

func TestUnmute_ClearsImmediately(t *testing.T) {
	watcher, _, _ := newTestWatcher(t)
	watcher.OnAlarmEvent(source, models.SeverityWarning, "hot", watcher.now())
	require.NoError(t, watcher.Mute(source, time.Hour, "operator@love01"))

	require.NoError(t, watcher.Unmute(source))
	state, _ := watcher.Get(source)
	assert.False(t, state.Muted)

	assert.ErrorIs(t, watcher.Unmute("no.such.alarm"), ErrNotFound)
}

func TestReconcile_StaleEdgeNotifiesOnce(t *testing.T) {
	watcher, notifier, advance := newTestWatcher(t)
	watcher.OnAlarmEvent(source, models.SeverityWarning, "hot", watcher.now())
	require.Len(t, notifier.snapshot(), 1)

	advance(61 * time.Second)
	watcher.Reconcile()
	watcher.Reconcile()

	states := notifier.snapshot()
	require.Len(t, states, 2)
	assert.True(t, states[1].Stale)
	// Severity is preserved under the stale overlay.
	assert.Equal(t, models.SeverityWarning, states[1].Severity)
}

func TestOnAlarmEvent_ClearsStale(t *testing.T) {
	watcher, _, advance := newTestWatcher(t)
	watcher.OnAlarmEvent(source, models.SeverityWarning, "hot", watcher.now())

	advance(61 * time.Second)
	watcher.Reconcile()
	state, _ := watcher.Get(source)
	require.True(t, state.Stale)

	watcher.OnAlarmEvent(source, models.SeverityWarning, "hot again", watcher.now())
	state, _ = watcher.Get(source)
	assert.False(t, state.Stale)
}

func TestReconcile_MuteExpiryNotifies(t *testing.T) {
	watcher, notifier, advance := newTestWatcher(t)
	watcher.OnAlarmEvent(source, models.SeverityCritical, "hot", watcher.now())
	require.NoError(t, watcher.Mute(source, time.Minute, "operator@love01"))
	before := len(notifier.snapshot())

	advance(2 * time.Minute)
	watcher.Reconcile()

	states := notifier.snapshot()
	require.Greater(t, len(states), before)
	last := states[len(states)-1]
	assert.False(t, last.Muted)
}

func TestSnapshot_SortsBySeverityThenSource(t *testing.T) {
	watcher, _, advance := newTestWatcher(t)
	now := watcher.now()
	watcher.OnAlarmEvent("b.nominal", models.SeverityNominal, "", now)
	watcher.OnAlarmEvent("a.critical", models.SeverityCritical, "bad", now)
	watcher.OnAlarmEvent("c.warning", models.SeverityWarning, "warm", now)
	watcher.OnAlarmEvent("b.critical", models.SeverityCritical, "bad too", now)

	// Make every alarm stale: order must still be severity-first.
	advance(2 * time.Minute)
	watcher.Reconcile()

	snapshot := watcher.Snapshot()
	require.Len(t, snapshot, 4)
	assert.Equal(t, "a.critical", snapshot[0].Source)
	assert.Equal(t, "b.critical", snapshot[1].Source)
	assert.Equal(t, "c.warning", snapshot[2].Source)
	assert.Equal(t, "b.nominal", snapshot[3].Source)
	for _, state := range snapshot {
		assert.True(t, state.Stale)
	}
}

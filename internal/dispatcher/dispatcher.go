// Package dispatcher tracks submitted commands from bus publish to terminal
// acknowledgment. It is the piece that turns the fire-and-forget bus into a
// trackable request/response surface: every submission gets an in-flight
// record, acknowledgments are applied idempotently in arrival order, and a
// sweep ticker enforces the ack timeout and purges terminal records after a
// grace period.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"csc-relay/internal/bus"
	"csc-relay/internal/models"
	"csc-relay/internal/registry"
)

// Publisher is the bus publish contract.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Authorizer is the authlist check contract, re-evaluated per submission.
type Authorizer interface {
	IsAuthorized(ctx context.Context, identity string, component models.ComponentID, command string) (bool, error)
}

// Notifier receives a snapshot after every applied command state change.
type Notifier interface {
	NotifyCommand(rec models.CommandRecord)
}

// Options configures the dispatcher.
type Options struct {
	// DefaultTimeout is the ack window for commands without a registry
	// timeout of their own.
	DefaultTimeout time.Duration
	// GracePeriod keeps terminal records queryable before purge.
	GracePeriod time.Duration
	// SweepInterval drives the timeout/purge ticker.
	SweepInterval time.Duration
	// QoS used for command publishes.
	QoS byte
}

// Dispatcher owns the in-flight command records.
type Dispatcher struct {
	registry *registry.Registry
	auth     Authorizer
	bus      Publisher
	notifier Notifier
	logger   *zap.Logger
	opts     Options

	now func() time.Time

	// commands holds in-flight and recently-terminal records. The map is
	// guarded by mu; each record carries its own mutex so updates to
	// different commands never serialize against each other.
	mu       sync.RWMutex
	commands map[string]*record
}

type record struct {
	mu  sync.Mutex
	rec models.CommandRecord
	// deadline is when the ack timeout fires for non-terminal records.
	deadline time.Time
	// purgeAt is when a terminal record leaves the map.
	purgeAt time.Time
	// sawAck tracks whether any acknowledgment arrived, so the synthetic
	// timeout ack can say "no ack ever received" vs "last ack was X".
	sawAck bool
}

// New creates the dispatcher.
func New(reg *registry.Registry, auth Authorizer, publisher Publisher, notifier Notifier, logger *zap.Logger, opts Options) *Dispatcher {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Second
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 60 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 500 * time.Millisecond
	}
	return &Dispatcher{
		registry: reg,
		auth:     auth,
		bus:      publisher,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		commands: make(map[string]*record),
	}
}

// Submit validates, authorizes and publishes one command. It returns as
// soon as the command is accepted for publish; the terminal outcome is
// observed via Status or the notification path. A failed bus publish is
// not an error return: the command transitions to the failed_to_submit
// terminal state and the caller reads it like any other outcome.
func (d *Dispatcher) Submit(ctx context.Context, identity string, component models.ComponentID, command string, params map[string]any) (string, error) {
	if err := d.registry.Validate(component.Name, registry.Command, command, params); err != nil {
		return "", fmt.Errorf("%w: %s", ErrValidation, err)
	}

	authorized, err := d.auth.IsAuthorized(ctx, identity, component, command)
	if err != nil {
		return "", fmt.Errorf("authorization check failed: %w", err)
	}
	if !authorized {
		return "", fmt.Errorf("%w: %s may not send %s to %s", ErrNotAuthorized, identity, command, component)
	}

	submittedAt := d.now()
	commandID := uuid.NewString()
	timeout := d.registry.CommandTimeout(component.Name, command, d.opts.DefaultTimeout)

	rec := &record{
		rec: models.CommandRecord{
			CommandID:   commandID,
			Component:   component,
			Command:     command,
			Params:      params,
			User:        identity,
			SubmittedAt: submittedAt,
			AckCode:     models.AckSubmitted,
			AckAt:       submittedAt,
		},
		deadline: submittedAt.Add(timeout),
	}

	// Register before publishing so an acknowledgment racing the publish
	// confirmation still finds its record.
	d.mu.Lock()
	d.commands[commandID] = rec
	d.mu.Unlock()

	payload, err := json.Marshal(models.CommandMessage{
		CSC:       component.Name,
		SalIndex:  component.Index,
		Command:   command,
		CommandID: commandID,
		Params:    params,
		Identity:  identity,
		Timestamp: submittedAt,
	})
	if err != nil {
		// Unreachable for validated params, but fail the record rather
		// than leave it stuck until timeout.
		d.failSubmission(rec, fmt.Sprintf("failed to encode command: %v", err))
		return commandID, nil
	}

	if err := d.bus.Publish(bus.CommandTopic(component, command), d.opts.QoS, false, payload); err != nil {
		d.logger.Error("Failed to publish command",
			zap.String("cmd_id", commandID),
			zap.String("component", component.String()),
			zap.String("cmd", command),
			zap.Error(err),
		)
		d.failSubmission(rec, fmt.Sprintf("failed to publish command: %v", err))
		return commandID, nil
	}

	d.logger.Info("Command submitted",
		zap.String("cmd_id", commandID),
		zap.String("component", component.String()),
		zap.String("cmd", command),
		zap.String("identity", identity),
	)

	return commandID, nil
}

// HandleAck applies one acknowledgment from the bus. Acknowledgments for
// unknown command ids are logged and dropped (late deliveries from bus
// retries); duplicates, reordered non-terminal codes and terminal codes
// after a terminal state are absorbed silently.
func (d *Dispatcher) HandleAck(ack models.Ack) {
	d.mu.RLock()
	rec, ok := d.commands[ack.CommandID]
	d.mu.RUnlock()
	if !ok {
		d.logger.Debug("Dropping ack for unknown command",
			zap.String("cmd_id", ack.CommandID),
			zap.String("ack", string(ack.Code)),
		)
		return
	}

	rec.mu.Lock()
	rec.sawAck = true
	if !ack.Code.Supersedes(rec.rec.AckCode) {
		rec.mu.Unlock()
		return
	}

	rec.rec.AckCode = ack.Code
	rec.rec.AckResult = ack.Result
	rec.rec.AckAt = ack.Timestamp
	if ack.Code.Terminal() {
		rec.rec.Terminal = true
		rec.purgeAt = d.now().Add(d.opts.GracePeriod)
	}
	snapshot := rec.rec
	rec.mu.Unlock()

	d.notify(snapshot)
}

// Status returns a snapshot of an active or recently-terminal command.
func (d *Dispatcher) Status(commandID string) (models.CommandRecord, error) {
	d.mu.RLock()
	rec, ok := d.commands[commandID]
	d.mu.RUnlock()
	if !ok {
		return models.CommandRecord{}, fmt.Errorf("%w: %s", ErrNotFound, commandID)
	}

	rec.mu.Lock()
	snapshot := rec.rec
	rec.mu.Unlock()
	return snapshot, nil
}

// Run drives the timeout and purge sweep until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Sweep()
		}
	}
}

// Sweep times out overdue commands and purges terminal records past their
// grace period. Exported so tests can drive it deterministically.
func (d *Dispatcher) Sweep() {
	now := d.now()

	d.mu.RLock()
	records := make(map[string]*record, len(d.commands))
	for id, rec := range d.commands {
		records[id] = rec
	}
	d.mu.RUnlock()

	var purge []string
	for id, rec := range records {
		rec.mu.Lock()
		switch {
		case !rec.rec.Terminal && !now.Before(rec.deadline):
			result := "command timed out; no ack received from component"
			if rec.sawAck {
				result = fmt.Sprintf("command timed out; last ack was %q", rec.rec.AckCode)
			}
			rec.rec.AckCode = models.AckTimeout
			rec.rec.AckResult = result
			rec.rec.AckAt = now
			rec.rec.Terminal = true
			rec.purgeAt = now.Add(d.opts.GracePeriod)
			snapshot := rec.rec
			rec.mu.Unlock()

			d.logger.Warn("Command timed out",
				zap.String("cmd_id", id),
				zap.String("component", snapshot.Component.String()),
				zap.String("cmd", snapshot.Command),
			)
			d.notify(snapshot)
		case rec.rec.Terminal && !now.Before(rec.purgeAt):
			rec.mu.Unlock()
			purge = append(purge, id)
		default:
			rec.mu.Unlock()
		}
	}

	if len(purge) > 0 {
		d.mu.Lock()
		for _, id := range purge {
			delete(d.commands, id)
		}
		d.mu.Unlock()
	}
}

// failSubmission transitions a freshly-registered record to the
// failed_to_submit terminal state.
func (d *Dispatcher) failSubmission(rec *record, result string) {
	now := d.now()

	rec.mu.Lock()
	rec.rec.AckCode = models.AckFailedToSubmit
	rec.rec.AckResult = result
	rec.rec.AckAt = now
	rec.rec.Terminal = true
	rec.purgeAt = now.Add(d.opts.GracePeriod)
	snapshot := rec.rec
	rec.mu.Unlock()

	d.notify(snapshot)
}

func (d *Dispatcher) notify(snapshot models.CommandRecord) {
	if d.notifier != nil {
		d.notifier.NotifyCommand(snapshot)
	}
}

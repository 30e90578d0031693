package authlist

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"csc-relay/internal/models"
)

// Store is the authlist query contract.
type Store interface {
	ListEntries(ctx context.Context) ([]Entry, error)
}

// StateProvider exposes the current summary state of a component, for
// entries restricted to a summary state. ok is false when no summaryState
// event has been observed yet.
type StateProvider interface {
	SummaryState(c models.ComponentID) (state int, ok bool)
}

// Enforcer evaluates authorization with explicit allow-list semantics:
// no matching entry means deny. Entries are cached until Invalidate; the
// cache is never consulted stale across an announced change, so every
// submission sees current authorization data.
type Enforcer struct {
	store  Store
	states StateProvider
	logger *zap.Logger

	mu     sync.RWMutex
	cache  []Entry
	loaded bool
}

// NewEnforcer creates the enforcer.
func NewEnforcer(store Store, states StateProvider, logger *zap.Logger) *Enforcer {
	return &Enforcer{
		store:  store,
		states: states,
		logger: logger,
	}
}

// IsAuthorized reports whether identity may send command to component.
// Fail-closed: lookup errors deny, missing entries deny, unresolvable
// summary-state restrictions deny.
func (e *Enforcer) IsAuthorized(ctx context.Context, identity string, component models.ComponentID, command string) (bool, error) {
	entries, err := e.entries(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load authlist: %w", err)
	}

	for _, entry := range entries {
		if entry.Command != command || entry.CSC != component.Name {
			continue
		}
		if entry.SalIndex != AnyIndex && entry.SalIndex != component.Index {
			continue
		}
		if !identityAllowed(identity, entry) {
			continue
		}
		if entry.RequiredState != nil {
			state, ok := e.states.SummaryState(component)
			if !ok || state != *entry.RequiredState {
				continue
			}
		}
		return true, nil
	}

	return false, nil
}

// identityAllowed matches operator identities ("user@host") against the
// user list and commanding-component identities ("Name:index") against the
// CSC list.
func identityAllowed(identity string, entry Entry) bool {
	allowed := entry.AuthorizedUsers
	if strings.Contains(identity, ":") {
		allowed = entry.AuthorizedCSCs
	}
	for _, candidate := range allowed {
		if candidate == Wildcard || candidate == identity {
			return true
		}
	}
	return false
}

// Invalidate drops the cached entries; the next check reloads from the
// store.
func (e *Enforcer) Invalidate() {
	e.mu.Lock()
	e.cache = nil
	e.loaded = false
	e.mu.Unlock()
}

func (e *Enforcer) entries(ctx context.Context) ([]Entry, error) {
	e.mu.RLock()
	if e.loaded {
		cached := e.cache
		e.mu.RUnlock()
		return cached, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return e.cache, nil
	}

	entries, err := e.store.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	e.cache = entries
	e.loaded = true
	return entries, nil
}

// WatchChanges subscribes the authlist change channel and invalidates the
// cache on every announcement. Blocks until ctx is done.
func (e *Enforcer) WatchChanges(ctx context.Context, client *redis.Client, channel string) error {
	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()

	// Fail fast if the subscription itself is broken.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe authlist channel: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("authlist change channel closed")
			}
			e.logger.Info("Authlist changed, invalidating cache",
				zap.String("channel", msg.Channel),
			)
			e.Invalidate()
		}
	}
}

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"csc-relay/internal/alarms"
	"csc-relay/internal/authlist"
	"csc-relay/internal/bus"
	"csc-relay/internal/config"
	"csc-relay/internal/consumer"
	"csc-relay/internal/dispatcher"
	"csc-relay/internal/fanout"
	"csc-relay/internal/heartbeat"
	"csc-relay/internal/models"
	"csc-relay/internal/registry"
)

// relayHeartbeatInterval drives the relay's own liveness signal so
// clients can tell "bus is quiet" from "relay is down".
const relayHeartbeatInterval = 3 * time.Second

// RelayService wires every layer of the relay together: bus client,
// topic registry, command dispatcher, heartbeat monitor, alarm watcher,
// authlist enforcer and the fan-out hub web handlers subscribe to.
type RelayService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	busClient   *bus.Client
	logger      *zap.Logger

	registry   *registry.Registry
	hub        *fanout.Hub
	states     *consumer.StateTracker
	enforcer   *authlist.Enforcer
	dispatcher *dispatcher.Dispatcher
	monitor    *heartbeat.Monitor
	watcher    *alarms.Watcher
	consumer   *consumer.Consumer
}

// NewRelayService creates the relay service.
func NewRelayService(cfg *config.Config, logger *zap.Logger) (*RelayService, error) {
	// 1. Topic metadata
	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load topic registry: %w", err)
	}

	// 2. Database (authlist backing store)
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 3. Redis (authlist change signalling)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 4. Message bus
	busClient, err := bus.NewClient(&cfg.Bus, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus: %w", err)
	}

	// 5. Core engines
	hub := fanout.NewHub(logger)
	states := consumer.NewStateTracker()
	enforcer := authlist.NewEnforcer(authlist.NewRepository(db, logger), states, logger)

	disp := dispatcher.New(reg, enforcer, busClient, hub, logger, dispatcher.Options{
		DefaultTimeout: cfg.Dispatcher.DefaultTimeout,
		GracePeriod:    cfg.Dispatcher.GracePeriod,
		SweepInterval:  cfg.Dispatcher.SweepInterval,
		QoS:            cfg.Bus.QoS,
	})
	monitor := heartbeat.NewMonitor(cfg.Heartbeat.Timeout, hub, logger)
	watcher := alarms.NewWatcher(cfg.Alarm.StaleAfter, cfg.Alarm.TickInterval, hub, logger)

	// 6. Bus consumer
	cons := consumer.New(busClient, disp, monitor, watcher, hub, reg, states, logger, cfg.Bus.QoS)

	return &RelayService{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		busClient:   busClient,
		logger:      logger,
		registry:    reg,
		hub:         hub,
		states:      states,
		enforcer:    enforcer,
		dispatcher:  disp,
		monitor:     monitor,
		watcher:     watcher,
		consumer:    cons,
	}, nil
}

// Start subscribes the bus topics and runs every background loop until
// the context is cancelled.
func (s *RelayService) Start(ctx context.Context) error {
	s.logger.Info("Starting relay service",
		zap.Strings("components", s.registry.ComponentNames()),
	)

	if err := s.consumer.Start(); err != nil {
		return fmt.Errorf("failed to start bus consumer: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.dispatcher.Run(ctx) })
	g.Go(func() error { return s.monitor.Run(ctx) })
	g.Go(func() error { return s.watcher.Run(ctx) })
	g.Go(func() error {
		return s.enforcer.WatchChanges(ctx, s.redisClient, s.config.AuthList.Channel)
	})
	g.Go(func() error { return s.runHeartbeat(ctx) })

	return g.Wait()
}

// runHeartbeat publishes the relay's own heartbeat to the hub on a
// fixed interval.
func (s *RelayService) runHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(relayHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.hub.Publish(fanout.KindRelayHeartbeat, "relay", map[string]any{
				"timestamp": now.UTC(),
			})
		}
	}
}

// Stop releases the external connections. Background loops stop via
// context cancellation before Stop is called.
func (s *RelayService) Stop() {
	s.logger.Info("Stopping relay service")

	s.busClient.Disconnect()
	if err := s.redisClient.Close(); err != nil {
		s.logger.Warn("Failed to close redis client", zap.Error(err))
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Failed to close database", zap.Error(err))
	}
}

// SubmitCommand validates, authorizes and publishes one command on
// behalf of a web client, returning the tracking ID.
func (s *RelayService) SubmitCommand(ctx context.Context, identity string, component models.ComponentID, command string, params map[string]any) (string, error) {
	return s.dispatcher.Submit(ctx, identity, component, command, params)
}

// CommandStatus returns the current record of an in-flight or
// recently-terminal command.
func (s *RelayService) CommandStatus(commandID string) (models.CommandRecord, error) {
	return s.dispatcher.Status(commandID)
}

// Subscribe opens a fan-out subscription for the given notification
// kinds (all kinds when none are given).
func (s *RelayService) Subscribe(kinds ...fanout.Kind) *fanout.Subscription {
	return s.hub.Subscribe(kinds...)
}

// HeartbeatStatus reports the liveness of one component.
func (s *RelayService) HeartbeatStatus(component models.ComponentID) models.HeartbeatStatus {
	return s.monitor.Status(component)
}

// Heartbeats reports the liveness of every component seen so far.
func (s *RelayService) Heartbeats() []models.HeartbeatStatus {
	return s.monitor.Snapshot()
}

// Alarms returns every tracked alarm, most severe first.
func (s *RelayService) Alarms() []models.AlarmState {
	return s.watcher.Snapshot()
}

// AcknowledgeAlarm records an operator acknowledgment.
func (s *RelayService) AcknowledgeAlarm(source, user string) error {
	return s.watcher.Acknowledge(source, user)
}

// MuteAlarm silences an alarm for a bounded duration.
func (s *RelayService) MuteAlarm(source string, duration time.Duration, user string) error {
	return s.watcher.Mute(source, duration, user)
}

// UnmuteAlarm lifts a mute before its expiry.
func (s *RelayService) UnmuteAlarm(source string) error {
	return s.watcher.Unmute(source)
}

// Components lists the component types the registry declares.
func (s *RelayService) Components() []string {
	return s.registry.ComponentNames()
}

// Describe returns the declared topic surface of one component type.
func (s *RelayService) Describe(componentType string) (*registry.Description, error) {
	return s.registry.Describe(componentType)
}

// DescribeJSON returns the Describe payload already marshaled, for
// handlers that serve it verbatim.
func (s *RelayService) DescribeJSON(componentType string) ([]byte, error) {
	desc, err := s.registry.Describe(componentType)
	if err != nil {
		return nil, err
	}
	return json.Marshal(desc)
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// BusConfig configures the MQTT connection to the control-system bus.
type BusConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// RedisConfig configures the Redis connection used for authlist change
// signalling.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DatabaseConfig configures the Postgres connection backing the authlist.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// GetDSN builds the database connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Config is the full relay configuration.
type Config struct {
	Bus      BusConfig
	Redis    RedisConfig
	Database DatabaseConfig

	Registry struct {
		// Path of the YAML topic metadata file loaded at startup.
		Path string
	}

	Dispatcher struct {
		// DefaultTimeout is the ack window for commands whose registry
		// entry carries no timeout of its own.
		DefaultTimeout time.Duration
		// GracePeriod keeps terminal records queryable before purge.
		GracePeriod time.Duration
		// SweepInterval drives the timeout/purge ticker.
		SweepInterval time.Duration
	}

	Heartbeat struct {
		// Timeout is the liveness window: a component is alive iff its
		// last heartbeat is younger than this.
		Timeout time.Duration
	}

	Alarm struct {
		// StaleAfter marks an alarm stale when no update arrived within
		// this window.
		StaleAfter time.Duration
		// TickInterval drives the staleness/mute-expiry ticker.
		TickInterval time.Duration
	}

	AuthList struct {
		// Channel is the Redis pub/sub channel announcing authlist changes.
		Channel string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Bus.Broker = getEnv("BUS_BROKER", "tcp://localhost:1883")
	cfg.Bus.ClientID = getEnv("BUS_CLIENT_ID", "csc-relay")
	cfg.Bus.Username = getEnv("BUS_USERNAME", "")
	cfg.Bus.Password = getEnv("BUS_PASSWORD", "")
	cfg.Bus.QoS = 1

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "cscrelay")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Registry.Path = getEnv("REGISTRY_PATH", "registry.yaml")

	cfg.Dispatcher.DefaultTimeout = getEnvDuration("CMD_TIMEOUT", 5*time.Second)
	cfg.Dispatcher.GracePeriod = getEnvDuration("CMD_GRACE_PERIOD", 60*time.Second)
	cfg.Dispatcher.SweepInterval = getEnvDuration("CMD_SWEEP_INTERVAL", 500*time.Millisecond)

	cfg.Heartbeat.Timeout = getEnvDuration("HEARTBEAT_TIMEOUT", 15*time.Second)

	cfg.Alarm.StaleAfter = getEnvDuration("ALARM_STALE_AFTER", 60*time.Second)
	cfg.Alarm.TickInterval = getEnvDuration("ALARM_TICK_INTERVAL", 5*time.Second)

	cfg.AuthList.Channel = getEnv("AUTHLIST_CHANNEL", "authlist:changed")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

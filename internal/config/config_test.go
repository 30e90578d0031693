package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "tcp://localhost:1883", cfg.Bus.Broker)
	assert.Equal(t, "csc-relay", cfg.Bus.ClientID)
	assert.Equal(t, byte(1), cfg.Bus.QoS)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "", cfg.Redis.Password)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "cscrelay", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "registry.yaml", cfg.Registry.Path)

	assert.Equal(t, 5*time.Second, cfg.Dispatcher.DefaultTimeout)
	assert.Equal(t, 60*time.Second, cfg.Dispatcher.GracePeriod)
	assert.Equal(t, 500*time.Millisecond, cfg.Dispatcher.SweepInterval)

	assert.Equal(t, 15*time.Second, cfg.Heartbeat.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Alarm.StaleAfter)
	assert.Equal(t, 5*time.Second, cfg.Alarm.TickInterval)

	assert.Equal(t, "authlist:changed", cfg.AuthList.Channel)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Setenv("BUS_BROKER", "tcp://test-broker:1883")
	os.Setenv("BUS_CLIENT_ID", "test-relay")
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_PORT", "5433")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("CMD_TIMEOUT", "10s")
	os.Setenv("HEARTBEAT_TIMEOUT", "30s")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "tcp://test-broker:1883", cfg.Bus.Broker)
	assert.Equal(t, "test-relay", cfg.Bus.ClientID)
	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 10*time.Second, cfg.Dispatcher.DefaultTimeout)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)

	os.Clearenv()
}

func TestGetEnvDuration_Invalid(t *testing.T) {
	os.Setenv("TEST_DURATION", "not-a-duration")
	defer os.Unsetenv("TEST_DURATION")

	value := getEnvDuration("TEST_DURATION", 3*time.Second)
	assert.Equal(t, 3*time.Second, value)
}

func TestGetDSN(t *testing.T) {
	cfg := &DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "secret",
		Database: "cscrelay",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=secret dbname=cscrelay sslmode=disable",
		cfg.GetDSN())
}

// internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MEMBER_API_BACKEND", "")
	t.Setenv("NOTIFICATION_TTL", "")

	cfg := Load()

	assert.Equal(t, BackendHTTP, cfg.MemberAPIBackend)
	assert.Equal(t, 5*time.Second, cfg.NotificationTTL)
	assert.False(t, cfg.ChaosEnabled())
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MEMBER_API_BACKEND", "memory")
	t.Setenv("MEMBER_API_TIMEOUT", "250ms")
	t.Setenv("CHAOS_FAILURE_RATE", "0.25")
	t.Setenv("DEV_OPERATOR_PASSWORD", "local-only")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, BackendMemory, cfg.MemberAPIBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.MemberAPITimeout)
	assert.True(t, cfg.ChaosEnabled())
	assert.Equal(t, "local-only", cfg.DevOperatorPassword)
	require.NoError(t, cfg.Validate())
}

func TestValidate_MemoryBackendNeedsOperator(t *testing.T) {
	cfg := Load()
	cfg.MemberAPIBackend = BackendMemory
	cfg.DevOperatorPassword = ""

	assert.ErrorContains(t, cfg.Validate(), "DEV_OPERATOR_PASSWORD is required")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Load()
	cfg.Port = "http"
	cfg.MemberAPIBackend = "grpc"
	cfg.JournalBackend = JournalPostgres
	cfg.DatabaseURL = ""
	cfg.AMQPURL = "http://broker"
	cfg.ChaosFailureRate = 2

	err := cfg.Validate()

	require.Error(t, err)
	for _, want := range []string{
		"invalid port 'http'",
		"invalid Member API backend 'grpc'",
		"DATABASE_URL is required",
		"invalid AMQP URL scheme 'http'",
		"invalid chaos failure rate 2",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_MemberAPIURL(t *testing.T) {
	cfg := Load()
	cfg.MemberAPIBackend = BackendHTTP
	cfg.MemberAPIURL = "localhost:8000"

	assert.ErrorContains(t, cfg.Validate(), "invalid Member API URL")
}

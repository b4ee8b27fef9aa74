package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 3000},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "voice"},
		Auth:  AuthConfig{JWTSecret: "secret"},
		SIP:   SIPConfig{PublicHost: "198.51.100.7", PublicPort: 5060},
		Media: MediaConfig{ServerURL: "http://media:8088"},
		AI:    AIConfig{OpenAIKey: "sk", ElevenLabsKey: "el"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	require.NoError(t, c.Validate())

	assert.Equal(t, "disable", c.DB.SSLMode)
	assert.Equal(t, "postgres", c.DB.Driver)
	assert.Equal(t, time.Hour, c.Auth.AccessTokenTTL)
	assert.Equal(t, 60*time.Second, c.Registration.RetryDelay)
	assert.Equal(t, 5*time.Second, c.Registration.ReregisterDelay)
	assert.Equal(t, 10*time.Second, c.Call.MaxRecord)
	assert.Equal(t, 2*time.Second, c.Call.SilenceTimeout)
	assert.Equal(t, "[END_CONVERSATION]", c.Call.EndMarker)
	assert.Equal(t, "0.0.0.0:5060", c.SIP.ListenAddr)
	assert.Equal(t, "udp", c.SIP.Transport)
}

func TestValidate_SQLiteSkipsPostgresFields(t *testing.T) {
	c := validLocal()
	c.DB = DBConfig{Driver: "sqlite"}
	require.NoError(t, c.Validate())
	assert.Equal(t, "voice-gateway.db", c.DB.SQLitePath)
}

func TestValidate_CallCapRequiresRedis(t *testing.T) {
	c := validLocal()
	c.Call.MaxConcurrentPerClient = 2
	require.Error(t, c.Validate())

	c = validLocal()
	c.Call.MaxConcurrentPerClient = 2
	c.Redis = RedisConfig{Host: "localhost", Port: 6379}
	require.NoError(t, c.Validate())
	assert.True(t, c.RedisEnabled())
}

func TestValidate_RejectsUnknownDriver(t *testing.T) {
	c := validLocal()
	c.DB.Driver = "mysql"
	require.Error(t, c.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "3000")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("SIP_PUBLIC_HOST", "gw.example.com")
	t.Setenv("MEDIA_SERVER_URL", "http://media")
	t.Setenv("OPENAI_API_KEY", "k")
	t.Setenv("ELEVENLABS_API_KEY", "k")
	t.Setenv("REG_RETRY_DELAY", "30s")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, c.Registration.RetryDelay)
	assert.Equal(t, "/tmp/x.db", c.DB.SQLitePath)
	assert.Equal(t, ":3000", c.HTTPAddr())
}

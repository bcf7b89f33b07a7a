package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_MemoryStoreNeedsNoDB(t *testing.T) {
	c := Config{
		App:  AppConfig{Env: "local", Port: 8080},
		Auth: AuthConfig{JWTSecret: "secret"},
		Call: CallConfig{Store: "memory", AvailabilityStore: "memory", SocketPath: "/socket"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := Config{
		App:  AppConfig{Env: "production", Port: 8080},
		DB:   DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callbridge", SSLMode: ""},
		Auth: AuthConfig{JWTSecret: "secret", JWTIssuer: "callbridge", JWTAudience: "callbridge"},
		Call: CallConfig{Store: "postgres", AvailabilityStore: "memory", SocketPath: "/socket"},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_RedisRequiredForAvailabilityStore(t *testing.T) {
	c := Config{
		App:  AppConfig{Env: "local", Port: 8080},
		Auth: AuthConfig{JWTSecret: "secret"},
		Call: CallConfig{Store: "memory", AvailabilityStore: "redis", SocketPath: "/socket"},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when redis backend has no REDIS_HOST")
	}
}

func TestLoad_ReportsMalformedOptionalValues(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CALL_RING_TIMEOUT", "soon")
	t.Setenv("CALL_ORG_MAX_RINGING", "many")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected parse errors for malformed optional values")
	}
	if !strings.Contains(err.Error(), "CALL_RING_TIMEOUT") || !strings.Contains(err.Error(), "CALL_ORG_MAX_RINGING") {
		t.Fatalf("expected both keys reported, got %v", err)
	}
}

func TestValidate_DefaultsRingTimeout(t *testing.T) {
	c := Config{
		App:  AppConfig{Env: "local", Port: 8080},
		Auth: AuthConfig{JWTSecret: "secret"},
		Call: CallConfig{Store: "memory", AvailabilityStore: "memory", SocketPath: "/socket"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Call.RingTimeout != 45*time.Second {
		t.Fatalf("expected 45s default ring timeout, got %v", c.Call.RingTimeout)
	}
}

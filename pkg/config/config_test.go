package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_Success(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.App.Env != "production" {
		t.Fatalf("expected App.Env to be production, got %q", cfg.App.Env)
	}
	if cfg.PubSub.CommandsTopic != "txn.commands" {
		t.Fatalf("unexpected commands topic %q", cfg.PubSub.CommandsTopic)
	}
	if cfg.PubSub.EventsTopic != "custom.events" {
		t.Fatalf("unexpected events topic %q", cfg.PubSub.EventsTopic)
	}
	if cfg.PubSub.DLQTopic != "txn.dlq" {
		t.Fatalf("unexpected dlq topic %q", cfg.PubSub.DLQTopic)
	}
	if got := cfg.Saga.RiskTimeout; got != 10*time.Second {
		t.Fatalf("expected risk timeout 10s, got %v", got)
	}
	if got := cfg.Saga.RiskLowProbability; got != 0.8 {
		t.Fatalf("expected low probability 0.8, got %v", got)
	}
	if len(cfg.Gateway.AllowedOrigins) != 2 || cfg.Gateway.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected allowed origins %v", cfg.Gateway.AllowedOrigins)
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("redis should be disabled without url or address")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setMinimalEnv(t)
	if err := os.Unsetenv(EnvAppEnv); err != nil {
		t.Fatalf("failed to unset %s: %v", EnvAppEnv, err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected missing required env to return an error")
	}
}

func TestLoad_RejectsInvertedRiskDelays(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvSagaRiskMinDelay, "5s")
	t.Setenv(EnvSagaRiskMaxDelay, "1s")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), EnvSagaRiskMaxDelay) {
		t.Fatalf("expected delay validation error, got %v", err)
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()

	t.Setenv(EnvAppEnv, "production")
	t.Setenv(EnvGCPProjID, "project-123")
	t.Setenv(EnvPubSubEventsTopic, "custom.events")
	t.Setenv(EnvGatewayAllowedOrigins, "https://a.example,https://b.example")
}

func TestAppConfigEnvHelpers(t *testing.T) {
	devConfig := AppConfig{Env: "DEV"}
	if !devConfig.IsDev() {
		t.Fatalf("expected IsDev true for %q", devConfig.Env)
	}
	if devConfig.IsProd() {
		t.Fatalf("expected IsProd false for %q", devConfig.Env)
	}

	prodConfig := AppConfig{Env: "prod"}
	if !prodConfig.IsProd() {
		t.Fatalf("expected IsProd true for %q", prodConfig.Env)
	}
}

func TestDBConfigResolveDSN(t *testing.T) {
	explicit := DBConfig{DSN: "postgres://x"}
	if dsn, err := explicit.ResolveDSN(); err != nil || dsn != "postgres://x" {
		t.Fatalf("expected explicit dsn, got %q err=%v", dsn, err)
	}

	discrete := DBConfig{Host: "db", Port: 5432, User: "txn", Password: "secret", Name: "txnflow", SSLMode: "disable"}
	dsn, err := discrete.ResolveDSN()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dsn != "postgres://txn:secret@db:5432/txnflow?sslmode=disable" {
		t.Fatalf("unexpected assembled dsn %q", dsn)
	}

	if _, err := (DBConfig{Host: "db"}).ResolveDSN(); err == nil {
		t.Fatal("expected missing user/name to fail")
	}
	if _, err := (DBConfig{Driver: "sqlite"}).ResolveDSN(); err == nil {
		t.Fatal("expected sqlite without dsn to fail")
	}
}

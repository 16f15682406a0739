package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("expected max_conns 15, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Validation.QuorumSize != 3 {
		t.Errorf("expected quorum 3, got %d", cfg.Validation.QuorumSize)
	}
	if cfg.Validation.OverAssign != 6 {
		t.Errorf("expected over_assign 6, got %d", cfg.Validation.OverAssign)
	}
	if cfg.Validation.Expiry != 30*time.Minute {
		t.Errorf("expected expiry 30m, got %v", cfg.Validation.Expiry)
	}
	if cfg.Moderation.NewTier.AutoApprove != 1.0 {
		t.Errorf("expected new-tier auto_approve 1.0, got %v", cfg.Moderation.NewTier.AutoApprove)
	}
	if cfg.Moderation.VerifiedTier.AutoApprove != 0.70 {
		t.Errorf("expected verified-tier auto_approve 0.70, got %v", cfg.Moderation.VerifiedTier.AutoApprove)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
postgres:
  max_conns: 20
logging:
  level: "debug"
validation:
  quorum_size: 5
  over_assign: 8
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Postgres.MaxConns != 20 {
		t.Errorf("expected max_conns 20, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Validation.QuorumSize != 5 {
		t.Errorf("expected quorum 5, got %d", cfg.Validation.QuorumSize)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("CIVICFORGE_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("CIVICFORGE_PG_MAX_CONNS", "25")
	t.Setenv("CIVICFORGE_LOG_LEVEL", "warn")
	t.Setenv("CIVICFORGE_BREAKER_TIMEOUT", "1m")
	t.Setenv("CIVICFORGE_VAL_QUORUM_SIZE", "4")
	t.Setenv("CIVICFORGE_VAL_APPROVE_THRESHOLD", "0.75")
	t.Setenv("CIVICFORGE_VAL_SHUFFLE_SEED", "42")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Validation.QuorumSize != 4 {
		t.Errorf("expected quorum 4, got %d", cfg.Validation.QuorumSize)
	}
	if cfg.Validation.ApproveThreshold != 0.75 {
		t.Errorf("expected approve threshold 0.75, got %v", cfg.Validation.ApproveThreshold)
	}
	if cfg.Validation.ShuffleSeed != 42 {
		t.Errorf("expected shuffle seed 42, got %d", cfg.Validation.ShuffleSeed)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "empty NATS URL",
			modify: func(c *Config) { c.NATS.URL = "" },
			errMsg: "nats.url is required",
		},
		{
			name:   "zero max_conns",
			modify: func(c *Config) { c.Postgres.MaxConns = 0 },
			errMsg: "postgres.max_conns must be >= 1",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "inverted new-tier thresholds",
			modify: func(c *Config) { c.Moderation.NewTier.AutoRejectMax = 1.5 },
			errMsg: "moderation.new_tier: auto_reject_max must not exceed auto_approve",
		},
		{
			name:   "zero quorum",
			modify: func(c *Config) { c.Validation.QuorumSize = 0 },
			errMsg: "validation.quorum_size must be >= 1",
		},
		{
			name:   "over_assign below quorum",
			modify: func(c *Config) { c.Validation.OverAssign = 2 },
			errMsg: "validation.over_assign must be >= quorum_size",
		},
		{
			name:   "conflicting vote thresholds",
			modify: func(c *Config) { c.Validation.ApproveThreshold = 0.4 },
			errMsg: "validation thresholds must be > 0.5 to avoid conflicting outcomes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "civicforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CIVICFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "CIVICFORGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CIVICFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CIVICFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CIVICFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CIVICFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CIVICFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Scorer.URL, "CIVICFORGE_SCORER_URL")
	setString(&cfg.Scorer.APIKey, "CIVICFORGE_SCORER_API_KEY")
	setDuration(&cfg.Scorer.Timeout, "CIVICFORGE_SCORER_TIMEOUT")
	setString(&cfg.Tracker.URL, "CIVICFORGE_TRACKER_URL")
	setDuration(&cfg.Tracker.Timeout, "CIVICFORGE_TRACKER_TIMEOUT")
	setString(&cfg.Notifier.Provider, "CIVICFORGE_NOTIFIER_PROVIDER")
	setString(&cfg.Logging.Level, "CIVICFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CIVICFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CIVICFORGE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "CIVICFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CIVICFORGE_BREAKER_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "CIVICFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "CIVICFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.TTL, "CIVICFORGE_CACHE_TTL")

	// Moderation
	setFloat64(&cfg.Moderation.NewTier.AutoApprove, "CIVICFORGE_MOD_NEW_AUTO_APPROVE")
	setFloat64(&cfg.Moderation.NewTier.AutoRejectMax, "CIVICFORGE_MOD_NEW_AUTO_REJECT_MAX")
	setFloat64(&cfg.Moderation.VerifiedTier.AutoApprove, "CIVICFORGE_MOD_VERIFIED_AUTO_APPROVE")
	setFloat64(&cfg.Moderation.VerifiedTier.AutoRejectMax, "CIVICFORGE_MOD_VERIFIED_AUTO_REJECT_MAX")
	setInt(&cfg.Moderation.VerifiedMinAgeDays, "CIVICFORGE_MOD_VERIFIED_MIN_AGE_DAYS")
	setInt(&cfg.Moderation.VerifiedMinApprovals, "CIVICFORGE_MOD_VERIFIED_MIN_APPROVALS")
	setInt(&cfg.Moderation.QueueConcurrency, "CIVICFORGE_MOD_QUEUE_CONCURRENCY")
	setInt(&cfg.Moderation.MaxDeliver, "CIVICFORGE_MOD_MAX_DELIVER")
	setDuration(&cfg.Moderation.RetryBackoff, "CIVICFORGE_MOD_RETRY_BACKOFF")
	setDuration(&cfg.Moderation.MetricsInterval, "CIVICFORGE_MOD_METRICS_INTERVAL")

	// Validation
	setInt(&cfg.Validation.QuorumSize, "CIVICFORGE_VAL_QUORUM_SIZE")
	setInt(&cfg.Validation.OverAssign, "CIVICFORGE_VAL_OVER_ASSIGN")
	setDuration(&cfg.Validation.Expiry, "CIVICFORGE_VAL_EXPIRY")
	setFloat64(&cfg.Validation.ApproveThreshold, "CIVICFORGE_VAL_APPROVE_THRESHOLD")
	setFloat64(&cfg.Validation.RejectThreshold, "CIVICFORGE_VAL_REJECT_THRESHOLD")
	setInt(&cfg.Validation.AntiCollusionWindow, "CIVICFORGE_VAL_ANTI_COLLUSION_WINDOW")
	setFloat64(&cfg.Validation.AffinityRadiusKm, "CIVICFORGE_VAL_AFFINITY_RADIUS_KM")
	setInt(&cfg.Validation.DailyCap, "CIVICFORGE_VAL_DAILY_CAP")
	setInt64(&cfg.Validation.ShuffleSeed, "CIVICFORGE_VAL_SHUFFLE_SEED")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Moderation.NewTier.AutoRejectMax > cfg.Moderation.NewTier.AutoApprove {
		return errors.New("moderation.new_tier: auto_reject_max must not exceed auto_approve")
	}
	if cfg.Moderation.VerifiedTier.AutoRejectMax > cfg.Moderation.VerifiedTier.AutoApprove {
		return errors.New("moderation.verified_tier: auto_reject_max must not exceed auto_approve")
	}
	if cfg.Validation.QuorumSize < 1 {
		return errors.New("validation.quorum_size must be >= 1")
	}
	if cfg.Validation.OverAssign < cfg.Validation.QuorumSize {
		return errors.New("validation.over_assign must be >= quorum_size")
	}
	if cfg.Validation.ApproveThreshold <= 0.5 || cfg.Validation.RejectThreshold <= 0.5 {
		return errors.New("validation thresholds must be > 0.5 to avoid conflicting outcomes")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "Portera"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultReleaseEvery   = 24 * time.Hour
	defaultRunTimeout     = 5 * time.Minute
	defaultRunWorkers     = 4
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName  string
	AppEnv   string
	Port     string
	LogLevel string

	DatabaseURL string
	RedisURL    string

	// CronSecret is the shared bearer credential accepted on the release
	// trigger endpoint. CronSecretHash, when set, takes precedence and is
	// verified with bcrypt instead.
	CronSecret     string
	CronSecretHash string
	// SchedulerBeacon is the expected value of the scheduler-origin header;
	// empty disables the beacon path.
	SchedulerBeacon string

	ReleaseInterval   time.Duration
	ReleaseRunTimeout time.Duration
	ReleaseWorkers    int

	IdempotencyTTL time.Duration
	ShutdownPeriod time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		CronSecret:        os.Getenv("CRON_SECRET"),
		CronSecretHash:    os.Getenv("CRON_SECRET_HASH"),
		SchedulerBeacon:   os.Getenv("SCHEDULER_BEACON"),
		ReleaseInterval:   defaultReleaseEvery,
		ReleaseRunTimeout: defaultRunTimeout,
		ReleaseWorkers:    defaultRunWorkers,
		IdempotencyTTL:    defaultIdempotencyTTL,
		ShutdownPeriod:    defaultShutdownDelay,
	}

	var err error
	if cfg.ReleaseInterval, err = durationEnv("RELEASE_INTERVAL", cfg.ReleaseInterval); err != nil {
		return Config{}, err
	}
	if cfg.ReleaseRunTimeout, err = durationEnv("RELEASE_RUN_TIMEOUT", cfg.ReleaseRunTimeout); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("RELEASE_WORKERS"); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil || workers < 1 {
			return Config{}, fmt.Errorf("invalid RELEASE_WORKERS: %q", v)
		}
		cfg.ReleaseWorkers = workers
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.CronSecret == "" && cfg.CronSecretHash == "" && cfg.SchedulerBeacon == "" {
			return Config{}, fmt.Errorf("one of CRON_SECRET, CRON_SECRET_HASH or SCHEDULER_BEACON must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// IsDev reports whether the service runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

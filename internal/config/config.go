package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AnonMode string

const (
	AnonAllow AnonMode = "allow"
	AnonWarn  AnonMode = "warn"
	AnonBlock AnonMode = "block"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string

	LogLevel  string
	LogFormat string

	DeviceIDSalt string

	MaxSkewSeconds           int64
	MaxDriftSlots            int64
	DuplicateSuppressSeconds int64
	ImpossibleTravelSeconds  int64
	HardenedMode             bool
	LocalBeaconNonceEnabled  bool
	AnonMode                 AnonMode
	SessionTimeout           time.Duration
	MaxEventsPerDevice       int

	// Static receiver used when no database is configured.
	ReceiverOrgID  string
	ReceiverID     string
	ReceiverSecret string

	WebhookURL          string
	WebhookSecret       string
	WebhookMaxAttempts  int
	WebhookTickInterval time.Duration
	WebhookConcurrency  int
	WebhookTimeout      time.Duration

	RegistrationSigningKey string
}

func LoadConfig() (*Config, error) {
	var errs []error

	intVar := func(key string, def int64) int64 {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := getEnvDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	dupKey := "DUPLICATE_SUPPRESS_SECONDS"
	if os.Getenv(dupKey) == "" && os.Getenv("MIN_DUP_RETRY_SECONDS") != "" {
		dupKey = "MIN_DUP_RETRY_SECONDS"
	}

	cfg := &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		DeviceIDSalt: os.Getenv("DEVICE_ID_SALT"),

		MaxSkewSeconds:           intVar("MAX_SKEW_SECONDS", 120),
		MaxDriftSlots:            intVar("MAX_DRIFT_SLOTS", 1),
		DuplicateSuppressSeconds: intVar(dupKey, 5),
		ImpossibleTravelSeconds:  intVar("IMPOSSIBLE_TRAVEL_SECONDS", 60),
		HardenedMode:             getEnvBool("HARDENED_MODE"),
		LocalBeaconNonceEnabled:  getEnvBool("LOCAL_BEACON_NONCE_ENABLED"),
		AnonMode:                 AnonMode(strings.ToLower(getEnv("ANON_MODE", string(AnonAllow)))),
		SessionTimeout:           durVar("PRESENCE_SESSION_TIMEOUT", 5*time.Minute),
		MaxEventsPerDevice:       int(intVar("MAX_EVENTS_PER_DEVICE", 50)),

		ReceiverOrgID:  os.Getenv("RECEIVER_ORG_ID"),
		ReceiverID:     os.Getenv("RECEIVER_ID"),
		ReceiverSecret: os.Getenv("RECEIVER_SECRET"),

		WebhookURL:          os.Getenv("WEBHOOK_URL"),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		WebhookMaxAttempts:  int(intVar("WEBHOOK_MAX_ATTEMPTS", 5)),
		WebhookTickInterval: durVar("WEBHOOK_TICK_INTERVAL", time.Second),
		WebhookConcurrency:  int(intVar("WEBHOOK_CONCURRENCY", 8)),
		WebhookTimeout:      durVar("WEBHOOK_TIMEOUT", 10*time.Second),

		RegistrationSigningKey: os.Getenv("REGISTRATION_SIGNING_KEY"),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// Validate ranges
	switch cfg.AnonMode {
	case AnonAllow, AnonWarn, AnonBlock:
	default:
		return nil, fmt.Errorf("invalid ANON_MODE %q (want allow, warn or block)", cfg.AnonMode)
	}
	if cfg.MaxSkewSeconds < 0 || cfg.MaxDriftSlots < 0 {
		return nil, errors.New("MAX_SKEW_SECONDS and MAX_DRIFT_SLOTS must not be negative")
	}
	if cfg.WebhookMaxAttempts < 1 {
		return nil, errors.New("WEBHOOK_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.WebhookConcurrency < 1 {
		return nil, errors.New("WEBHOOK_CONCURRENCY must be at least 1")
	}
	if cfg.MaxEventsPerDevice < 1 {
		return nil, errors.New("MAX_EVENTS_PER_DEVICE must be at least 1")
	}
	if cfg.WebhookTickInterval <= 0 {
		return nil, errors.New("WEBHOOK_TICK_INTERVAL must be positive")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %q", key, raw)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %q", key, raw)
	}
	return d, nil
}

func getEnvBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "true" || v == "1"
}

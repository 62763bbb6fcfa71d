package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile                = ".env"
	defaultLogLevel               = "info"
	defaultEnvironment            = "local"
	defaultVersion                = "dev"
	defaultPort                   = "8080"
	defaultReadTimeout            = 15 * time.Second
	defaultWriteTimeout           = 30 * time.Second
	defaultIdleTimeout            = 120 * time.Second
	defaultStorageDriver          = StorageDriverFirestore
	defaultShipmentTopic          = "shipment-notices"
	defaultOrderNumberPadding     = 6
	defaultAllocatorMaxAttempts   = 5
	defaultAllocatorInitialDelay  = 50 * time.Millisecond
	defaultAlertThreshold         = 5
	defaultAlertSweepSchedule     = "@every 15m"
	defaultAlertSweepConcurrency  = 8
	defaultNotifyWorkers          = 2
	defaultNotifyQueueSize        = 256
	defaultNotifyMaxAttempts      = 5
	defaultNotifyInitialBackoff   = 500 * time.Millisecond
	defaultNotifyMaxBackoff       = 30 * time.Second
	defaultNotifyPublishTimeout   = 10 * time.Second
	defaultIdempotencyTTL         = 24 * time.Hour
	maxOrderNumberPadding         = 18
	StorageDriverFirestore        = "firestore"
	StorageDriverMemory           = "memory"
	envLookupKeyFirestoreEmulator = "FIRESTORE_EMULATOR_HOST"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	App           AppConfig
	Server        ServerConfig
	Storage       StorageConfig
	Firestore     FirestoreConfig
	PubSub        PubSubConfig
	Ledger        LedgerConfig
	Alerts        AlertConfig
	Notifications NotificationConfig
	Idempotency   IdempotencyConfig
}

// AppConfig carries build metadata and logging verbosity.
type AppConfig struct {
	Environment string
	Version     string
	CommitSHA   string
	LogLevel    string
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topic the email collaborator consumes shipment notices from.
type PubSubConfig struct {
	ProjectID     string
	EmulatorHost  string
	ShipmentTopic string
}

// LedgerConfig tunes order numbering.
type LedgerConfig struct {
	OrderNumberPadding    int
	AllocatorMaxAttempts  int
	AllocatorInitialDelay time.Duration
}

// AlertConfig controls low-stock evaluation defaults and the periodic sweep.
type AlertConfig struct {
	DefaultThreshold int
	SweepSchedule    string
	SweepConcurrency int
}

// NotificationConfig controls the shipment notice queue.
type NotificationConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PublishTimeout time.Duration
}

// IdempotencyConfig controls how long Idempotency-Key outcomes are replayed.
type IdempotencyConfig struct {
	TTL time.Duration
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env overrides
// and environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		App: AppConfig{
			Environment: stringWithDefault(lookup, "API_ENVIRONMENT", defaultEnvironment),
			Version:     stringWithDefault(lookup, "API_VERSION", defaultVersion),
			CommitSHA:   stringWithDefault(lookup, "API_COMMIT_SHA", ""),
			LogLevel:    stringWithDefault(lookup, "API_LOG_LEVEL", stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
		},
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "API_STORAGE_DRIVER", defaultStorageDriver)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", stringWithDefault(lookup, envLookupKeyFirestoreEmulator, "")),
		},
		PubSub: PubSubConfig{
			ProjectID:     stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			EmulatorHost:  stringWithDefault(lookup, "API_PUBSUB_EMULATOR_HOST", ""),
			ShipmentTopic: stringWithDefault(lookup, "API_PUBSUB_SHIPMENT_TOPIC", defaultShipmentTopic),
		},
		Ledger: LedgerConfig{
			OrderNumberPadding:    intWithDefault(lookup, "API_LEDGER_ORDER_NUMBER_PADDING", defaultOrderNumberPadding),
			AllocatorMaxAttempts:  intWithDefault(lookup, "API_LEDGER_ALLOCATOR_MAX_ATTEMPTS", defaultAllocatorMaxAttempts),
			AllocatorInitialDelay: durationWithDefault(lookup, "API_LEDGER_ALLOCATOR_INITIAL_DELAY", defaultAllocatorInitialDelay),
		},
		Alerts: AlertConfig{
			DefaultThreshold: intWithDefault(lookup, "API_ALERTS_DEFAULT_THRESHOLD", defaultAlertThreshold),
			SweepSchedule:    rawWithDefault(lookup, "API_ALERTS_SWEEP_SCHEDULE", defaultAlertSweepSchedule),
			SweepConcurrency: intWithDefault(lookup, "API_ALERTS_SWEEP_CONCURRENCY", defaultAlertSweepConcurrency),
		},
		Notifications: NotificationConfig{
			Workers:        intWithDefault(lookup, "API_NOTIFY_WORKERS", defaultNotifyWorkers),
			QueueSize:      intWithDefault(lookup, "API_NOTIFY_QUEUE_SIZE", defaultNotifyQueueSize),
			MaxAttempts:    intWithDefault(lookup, "API_NOTIFY_MAX_ATTEMPTS", defaultNotifyMaxAttempts),
			InitialBackoff: durationWithDefault(lookup, "API_NOTIFY_INITIAL_BACKOFF", defaultNotifyInitialBackoff),
			MaxBackoff:     durationWithDefault(lookup, "API_NOTIFY_MAX_BACKOFF", defaultNotifyMaxBackoff),
			PublishTimeout: durationWithDefault(lookup, "API_NOTIFY_PUBLISH_TIMEOUT", defaultNotifyPublishTimeout),
		},
		Idempotency: IdempotencyConfig{
			TTL: durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}

	// Pub/Sub lives in the same project unless told otherwise.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Storage.Driver {
	case StorageDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StorageDriverMemory:
	default:
		missing = append(missing, "Storage.Driver")
	}
	if cfg.Ledger.OrderNumberPadding < 0 || cfg.Ledger.OrderNumberPadding > maxOrderNumberPadding {
		missing = append(missing, "Ledger.OrderNumberPadding")
	}
	if cfg.Ledger.AllocatorMaxAttempts <= 0 {
		missing = append(missing, "Ledger.AllocatorMaxAttempts")
	}
	if cfg.Alerts.DefaultThreshold < 0 {
		missing = append(missing, "Alerts.DefaultThreshold")
	}
	if cfg.Alerts.SweepConcurrency <= 0 {
		missing = append(missing, "Alerts.SweepConcurrency")
	}
	if cfg.Notifications.Workers <= 0 {
		missing = append(missing, "Notifications.Workers")
	}
	if cfg.Notifications.QueueSize <= 0 {
		missing = append(missing, "Notifications.QueueSize")
	}
	if cfg.Notifications.MaxAttempts <= 0 {
		missing = append(missing, "Notifications.MaxAttempts")
	}
	if cfg.Notifications.InitialBackoff <= 0 {
		missing = append(missing, "Notifications.InitialBackoff")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

// rawWithDefault distinguishes an explicitly empty value from an unset key.
func rawWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "vinylogix-dev",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.App.Environment != "local" || cfg.App.Version != "dev" || cfg.App.LogLevel != "info" {
		t.Errorf("unexpected app defaults %#v", cfg.App)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Storage.Driver != StorageDriverFirestore {
		t.Errorf("expected firestore driver, got %s", cfg.Storage.Driver)
	}
	if cfg.PubSub.ProjectID != "vinylogix-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.ShipmentTopic != defaultShipmentTopic {
		t.Errorf("unexpected shipment topic %s", cfg.PubSub.ShipmentTopic)
	}
	if cfg.Ledger.OrderNumberPadding != 6 {
		t.Errorf("unexpected padding %d", cfg.Ledger.OrderNumberPadding)
	}
	if cfg.Alerts.DefaultThreshold != 5 {
		t.Errorf("unexpected default threshold %d", cfg.Alerts.DefaultThreshold)
	}
	if cfg.Alerts.SweepSchedule != defaultAlertSweepSchedule {
		t.Errorf("unexpected sweep schedule %q", cfg.Alerts.SweepSchedule)
	}
	if cfg.Notifications.Workers != defaultNotifyWorkers || cfg.Notifications.QueueSize != defaultNotifyQueueSize {
		t.Errorf("unexpected notification defaults %#v", cfg.Notifications)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                 "9090",
		"LOG_LEVEL":                       "debug",
		"API_STORAGE_DRIVER":              "Memory",
		"API_PUBSUB_PROJECT_ID":           "notify-prj",
		"API_PUBSUB_SHIPMENT_TOPIC":       "mail-intake",
		"API_LEDGER_ORDER_NUMBER_PADDING": "8",
		"API_ALERTS_DEFAULT_THRESHOLD":    "2",
		"API_ALERTS_SWEEP_SCHEDULE":       "",
		"API_NOTIFY_WORKERS":              "4",
		"API_NOTIFY_INITIAL_BACKOFF":      "250ms",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.App.LogLevel != "debug" {
		t.Errorf("expected LOG_LEVEL fallback, got %s", cfg.App.LogLevel)
	}
	if cfg.Storage.Driver != StorageDriverMemory {
		t.Errorf("expected memory driver, got %s", cfg.Storage.Driver)
	}
	if cfg.PubSub.ProjectID != "notify-prj" || cfg.PubSub.ShipmentTopic != "mail-intake" {
		t.Errorf("unexpected pubsub config %#v", cfg.PubSub)
	}
	if cfg.Ledger.OrderNumberPadding != 8 {
		t.Errorf("expected padding 8, got %d", cfg.Ledger.OrderNumberPadding)
	}
	if cfg.Alerts.DefaultThreshold != 2 {
		t.Errorf("expected threshold 2, got %d", cfg.Alerts.DefaultThreshold)
	}
	if cfg.Alerts.SweepSchedule != "" {
		t.Errorf("expected sweep disabled, got %q", cfg.Alerts.SweepSchedule)
	}
	if cfg.Notifications.Workers != 4 || cfg.Notifications.InitialBackoff != 250*time.Millisecond {
		t.Errorf("unexpected notifications %#v", cfg.Notifications)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "# local overrides\nAPI_SERVER_PORT=7070\nexport API_FIRESTORE_PROJECT_ID=\"vinylogix-dot\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "vinylogix-dot" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadEnvMapOverridesDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("API_FIRESTORE_PROJECT_ID=from-file\n"), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(WithEnvFile(envPath), WithoutSystemEnv(), WithEnvMap(map[string]string{"API_FIRESTORE_PROJECT_ID": "from-map"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firestore.ProjectID != "from-map" {
		t.Fatalf("expected env map to win, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if !slices.Contains(validationErr.Fields(), "Firestore.ProjectID") {
		t.Fatalf("expected Firestore.ProjectID in %v", validationErr.Fields())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	env := map[string]string{
		"API_STORAGE_DRIVER":              "redis",
		"API_LEDGER_ORDER_NUMBER_PADDING": "40",
		"API_NOTIFY_QUEUE_SIZE":           "0",
	}
	_, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"Storage.Driver", "Ledger.OrderNumberPadding", "Notifications.QueueSize"} {
		if !slices.Contains(validationErr.Fields(), field) {
			t.Errorf("expected %s in %v", field, validationErr.Fields())
		}
	}
}

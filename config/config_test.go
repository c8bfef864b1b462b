package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"coinpulse/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

// go test -v --run TestLoadFromDefaults
func TestLoadFromDefaults(t *testing.T) {
	dir := writeConfig(t, "log:\n  level: debug\n")

	cfg, err := config.LoadFrom(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level from file, got %q", cfg.Log.Level)
	}
	if cfg.Listing.Timeout != 10*time.Second {
		t.Errorf("expected default page timeout 10s, got %s", cfg.Listing.Timeout)
	}
	if !cfg.Scheduler.Sync.Enabled || cfg.Scheduler.Sync.Interval != 5*time.Minute {
		t.Errorf("unexpected sync task defaults: %+v", cfg.Scheduler.Sync)
	}
	if cfg.Notifications.MaxAttempts != 3 {
		t.Errorf("expected 3 max attempts, got %d", cfg.Notifications.MaxAttempts)
	}
}

// go test -v --run TestLoadFromEnvOverride
func TestLoadFromEnvOverride(t *testing.T) {
	dir := writeConfig(t, "storage:\n  driver: postgres\n")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("LISTING_PAGE_SIZE", "250")

	cfg, err := config.LoadFrom(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("expected env override for storage.driver, got %q", cfg.Storage.Driver)
	}
	if cfg.Listing.PageSize != 250 {
		t.Errorf("expected env override for listing.page_size, got %d", cfg.Listing.PageSize)
	}
}

// go test -v --run TestLoadFromRejectsInvalid
func TestLoadFromRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"short retention":       "retention:\n  snapshots: 24h\n",
		"unknown channel":       "notifications:\n  channel: pigeon\n",
		"kafka without brokers": "notifications:\n  channel: kafka\nkafka:\n  brokers: []\n",
		"redis without addr":    "alerts:\n  cooldown_cache: redis\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadFrom(writeConfig(t, body))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), "invalid config") {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

// go test -v --run TestPostgresDSN
func TestPostgresDSN(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "yourpw",
		DBName:   "coinpulse",
		SSLMode:  "disable",
		TimeZone: "UTC",
	}

	want := "host=localhost port=5432 user=postgres password=yourpw dbname=coinpulse sslmode=disable TimeZone=UTC"
	if got := cfg.DSN("dev"); got != want {
		t.Errorf("unexpected dsn:\n got  %s\n want %s", got, want)
	}
	if got := cfg.AdminDSN("dev"); !strings.Contains(got, "dbname=postgres") {
		t.Errorf("admin dsn should target the postgres database: %s", got)
	}
}

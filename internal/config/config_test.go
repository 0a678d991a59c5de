package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		name     string
		actual   interface{}
		expected interface{}
	}{
		{"Storage", cfg.Storage, StoragePostgres},
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
		{"HistoryLimit", cfg.Risk.HistoryLimit, 100},
		{"BatchSize", cfg.Audit.BatchSize, 100},
		{"FlushInterval", cfg.Audit.FlushInterval, 5 * time.Second},
		{"FlushMaxRetries", cfg.Audit.FlushMaxRetries, 3},
		{"CleanupSchedule", cfg.Device.CleanupSchedule, "0 3 * * *"},
		{"CleanupDays", cfg.Device.CleanupDays, 90},
		{"RedisAddr", cfg.Redis.Addr, ""},
		{"AlertEmail", cfg.Alert.EmailEnabled, false},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_READ_TIMEOUT", "30s")
	t.Setenv("AUDIT_BATCH_SIZE", "50")
	t.Setenv("AUDIT_FLUSH_INTERVAL", "2s")
	t.Setenv("RISK_RULES_FILE", "/etc/aegis/rules.yaml")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("DB_AUTO_MIGRATE", "true")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 172.16.0.0/12 ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout: got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Audit.BatchSize != 50 || cfg.Audit.FlushInterval != 2*time.Second {
		t.Errorf("Audit: got %+v", cfg.Audit)
	}
	if cfg.Risk.RulesFile != "/etc/aegis/rules.yaml" {
		t.Errorf("RulesFile: got %q", cfg.Risk.RulesFile)
	}
	if cfg.Redis.Addr != "localhost:6379" || !cfg.Database.AutoMigrate {
		t.Errorf("Redis/DB: got %+v %+v", cfg.Redis, cfg.Database)
	}
	if len(cfg.Server.TrustedProxies) != 2 || cfg.Server.TrustedProxies[1] != "172.16.0.0/12" {
		t.Errorf("TrustedProxies: got %v", cfg.Server.TrustedProxies)
	}
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("AUDIT_FLUSH_INTERVAL", "soon")
	t.Setenv("RISK_HISTORY_LIMIT", "lots")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Audit.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval: got %v", cfg.Audit.FlushInterval)
	}
	if cfg.Risk.HistoryLimit != 100 {
		t.Errorf("HistoryLimit: got %v", cfg.Risk.HistoryLimit)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": "", "DB_PASSWORD": "test"}},
		{"weak secret", map[string]string{"JWT_SECRET": "short", "DB_PASSWORD": "test"}},
		{"missing db password", map[string]string{"JWT_SECRET": "test-secret-32-characters-long!", "DB_PASSWORD": ""}},
		{"unknown storage", map[string]string{"JWT_SECRET": "test-secret-32-characters-long!", "STORAGE_DRIVER": "mongo"}},
		{"alerts without recipients", map[string]string{
			"JWT_SECRET": "test-secret-32-characters-long!", "DB_PASSWORD": "test",
			"ALERT_EMAIL_ENABLED": "true", "ALERT_FROM_ADDRESS": "alerts@example.com",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() = nil, want error")
			}
		})
	}
}

func TestLoad_MemoryStorageNeedsNoDatabase(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Storage != StorageMemory {
		t.Errorf("Storage: got %q", cfg.Storage)
	}
}

func TestValidateJWTSecret_Production(t *testing.T) {
	if err := validateJWTSecret("sixteen-chars-ok", "production"); err == nil {
		t.Error("expected production to require 32 characters")
	}
	if err := validateJWTSecret("this-secret-is-definitely-32-chars", "production"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := validateJWTSecret("changeme", "development"); err == nil {
		t.Error("expected short weak secret to be rejected")
	}
}

package config

import (
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "  value  ")
	t.Setenv("TEST_BOOL", "YES")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_DUR", "90s")
	t.Setenv("TEST_BAD_INT", "forty")

	if got := GetEnv("TEST_STR", "x"); got != "value" {
		t.Errorf("GetEnv = %q", got)
	}
	if got := GetEnv("TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("GetEnv default = %q", got)
	}
	if !GetEnvBool("TEST_BOOL", false) {
		t.Error("GetEnvBool should accept YES")
	}
	if got := GetEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("GetEnvInt = %d", got)
	}
	if got := GetEnvInt("TEST_BAD_INT", 7); got != 7 {
		t.Errorf("GetEnvInt invalid = %d, want default", got)
	}
	if got := GetEnvDuration("TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("GetEnvDuration = %s", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.Jobs.MaxConcurrentJobs != 50 {
		t.Errorf("default max jobs = %d", cfg.Jobs.MaxConcurrentJobs)
	}
	if cfg.Jobs.SyncThreshold != 60*time.Second {
		t.Errorf("default sync threshold = %s", cfg.Jobs.SyncThreshold)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = -1 }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Jobs.MaxConcurrentJobs = 0 }, wantErr: true},
		{name: "auth without secret", mutate: func(c *Config) { c.Auth.Enabled = true }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

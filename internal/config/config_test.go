package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Backend.Retries != 2 {
		t.Errorf("Retries = %d, want 2", cfg.Backend.Retries)
	}
	if cfg.Backend.Backoff != time.Second {
		t.Errorf("Backoff = %v, want 1s", cfg.Backend.Backoff)
	}
	if cfg.Backend.ReadingTimeout != 15*time.Second {
		t.Errorf("ReadingTimeout = %v, want 15s", cfg.Backend.ReadingTimeout)
	}
	if cfg.Session.DefaultLanguage != "en" {
		t.Errorf("DefaultLanguage = %q, want en", cfg.Session.DefaultLanguage)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("BACKEND_BASE_URL", "http://readings.internal")
	t.Setenv("BACKEND_READING_TIMEOUT", "30s")
	t.Setenv("SESSION_TTL", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.Backend.BaseURL != "http://readings.internal" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.ReadingTimeout != 30*time.Second {
		t.Errorf("ReadingTimeout = %v", cfg.Backend.ReadingTimeout)
	}
	if cfg.Session.TTL != 5*time.Minute {
		t.Errorf("TTL = %v", cfg.Session.TTL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"empty port", map[string]string{"PORT": ""}},
		{"negative retries", map[string]string{"BACKEND_RETRIES": "-1"}},
		{"zero ttl", map[string]string{"SESSION_TTL": "0s"}},
		{"empty language", map[string]string{"DEFAULT_LANGUAGE": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{FrontendURL: ""}
	if !cfg.IsDevelopment() {
		t.Error("Empty frontend URL should be development")
	}
	cfg.FrontendURL = "http://localhost:3000"
	if !cfg.IsDevelopment() {
		t.Error("localhost should be development")
	}
	cfg.FrontendURL = "https://arcana.example.com"
	if cfg.IsDevelopment() {
		t.Error("Production URL should not be development")
	}
}

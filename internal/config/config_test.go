package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.SessionTimeout != 30*time.Minute {
		t.Errorf("expected 30m session timeout, got %s", cfg.SessionTimeout)
	}
	if cfg.SessionSweepInterval != 5*time.Minute {
		t.Errorf("expected 5m sweep interval, got %s", cfg.SessionSweepInterval)
	}
	if cfg.SessionMaxHistory != 50 {
		t.Errorf("expected history cap 50, got %d", cfg.SessionMaxHistory)
	}
	if cfg.SimilarityThreshold != 0.7 {
		t.Errorf("expected similarity threshold 0.7, got %f", cfg.SimilarityThreshold)
	}
	if cfg.LLMProvider != "openai" {
		t.Errorf("expected default provider openai, got %s", cfg.LLMProvider)
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Errorf("expected no CORS origins by default, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadCORSOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com ,")

	cfg := Load()

	want := []string{"https://app.example.com", "https://admin.example.com"}
	if len(cfg.CORSAllowedOrigins) != len(want) {
		t.Fatalf("expected %d origins, got %v", len(want), cfg.CORSAllowedOrigins)
	}
	for i, origin := range want {
		if cfg.CORSAllowedOrigins[i] != origin {
			t.Errorf("origin %d: expected %s, got %s", i, origin, cfg.CORSAllowedOrigins[i])
		}
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SESSION_TIMEOUT", "10m")
	t.Setenv("SESSION_MAX_HISTORY", "25")
	t.Setenv("LLM_PROVIDER", "Bedrock")
	t.Setenv("SIMILARITY_THRESHOLD", "0.5")

	cfg := Load()

	if cfg.SessionTimeout != 10*time.Minute {
		t.Errorf("expected 10m timeout, got %s", cfg.SessionTimeout)
	}
	if cfg.SessionMaxHistory != 25 {
		t.Errorf("expected history cap 25, got %d", cfg.SessionMaxHistory)
	}
	if cfg.LLMProvider != "bedrock" {
		t.Errorf("expected provider normalized to bedrock, got %s", cfg.LLMProvider)
	}
	if cfg.SimilarityThreshold != 0.5 {
		t.Errorf("expected threshold 0.5, got %f", cfg.SimilarityThreshold)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SESSION_MAX_HISTORY", "plenty")
	t.Setenv("SESSION_TIMEOUT", "soon")

	cfg := Load()

	if cfg.SessionMaxHistory != 50 {
		t.Errorf("expected fallback history cap 50, got %d", cfg.SessionMaxHistory)
	}
	if cfg.SessionTimeout != 30*time.Minute {
		t.Errorf("expected fallback timeout 30m, got %s", cfg.SessionTimeout)
	}
}

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "LLM_PROVIDER", "LLM_MODEL", "LLM_MAX_TOKENS",
		"LLM_TEMPERATURE", "LLM_TIMEOUT", "HISTORY_LIMIT", "CONTEXT_WINDOW",
		"DEFAULT_COUNTRY_CODE", "DEFAULT_ORG_TYPE", "CORS_ALLOWED_ORIGINS", "REDIS_ADDR",
	} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.LLMProvider != "openai" {
		t.Fatalf("expected openai provider by default, got %s", cfg.LLMProvider)
	}
	if cfg.LLMModel != "gpt-3.5-turbo" {
		t.Fatalf("expected default model, got %s", cfg.LLMModel)
	}
	if cfg.LLMMaxTokens != 300 {
		t.Fatalf("expected 300 max tokens, got %d", cfg.LLMMaxTokens)
	}
	if cfg.LLMTemperature != 0.7 {
		t.Fatalf("expected temperature 0.7, got %v", cfg.LLMTemperature)
	}
	if cfg.LLMTimeout != 20*time.Second {
		t.Fatalf("expected 20s llm timeout, got %s", cfg.LLMTimeout)
	}
	if cfg.HistoryLimit != 20 || cfg.ContextWindow != 10 {
		t.Fatalf("expected history 20 / context 10, got %d / %d", cfg.HistoryLimit, cfg.ContextWindow)
	}
	if cfg.DefaultCountryCode != "1" {
		t.Fatalf("expected country code 1, got %s", cfg.DefaultCountryCode)
	}
	if cfg.DefaultOrgType != "SMB" {
		t.Fatalf("expected SMB default org type, got %s", cfg.DefaultOrgType)
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("expected no CORS origins, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("expected redis disabled by default, got %s", cfg.RedisAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LLM_PROVIDER", " Bedrock ")
	t.Setenv("LLM_FALLBACK_PROVIDER", "GEMINI")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("HISTORY_LIMIT", "40")
	t.Setenv("DEFAULT_ORG_TYPE", "hrh")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("TWILIO_VALIDATE_SIGNATURE", "true")
	t.Setenv("DEDUPE_TTL", "1h")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.LLMProvider != "bedrock" {
		t.Fatalf("expected normalized provider, got %q", cfg.LLMProvider)
	}
	if cfg.LLMFallbackProvider != "gemini" {
		t.Fatalf("expected normalized fallback provider, got %q", cfg.LLMFallbackProvider)
	}
	if cfg.LLMTemperature != 0.2 {
		t.Fatalf("expected temperature override, got %v", cfg.LLMTemperature)
	}
	if cfg.LLMTimeout != 5*time.Second {
		t.Fatalf("expected timeout override, got %s", cfg.LLMTimeout)
	}
	if cfg.HistoryLimit != 40 {
		t.Fatalf("expected history override, got %d", cfg.HistoryLimit)
	}
	if cfg.DefaultOrgType != "HRH" {
		t.Fatalf("expected org type override, got %s", cfg.DefaultOrgType)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("expected two CORS origins, got %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.TwilioValidate {
		t.Fatalf("expected signature validation enabled")
	}
	if cfg.DedupeTTL != time.Hour {
		t.Fatalf("expected dedupe ttl override, got %s", cfg.DedupeTTL)
	}
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("LLM_MAX_TOKENS", "lots")
	t.Setenv("LLM_TEMPERATURE", "warm")
	t.Setenv("LLM_TIMEOUT", "soon")
	cfg := Load()
	if cfg.LLMMaxTokens != 300 {
		t.Fatalf("expected fallback max tokens, got %d", cfg.LLMMaxTokens)
	}
	if cfg.LLMTemperature != 0.7 {
		t.Fatalf("expected fallback temperature, got %v", cfg.LLMTemperature)
	}
	if cfg.LLMTimeout != 20*time.Second {
		t.Fatalf("expected fallback timeout, got %s", cfg.LLMTimeout)
	}
}

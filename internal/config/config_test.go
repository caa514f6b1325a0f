package config

import (
	"os"
	"testing"
)

func TestLoadAppliesDefaultsAndRequiresSigningSecret(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error when no signing secret is configured")
	}

	os.Setenv("CRAWLRS_WEBHOOK_SIGNING_SECRET", "test-secret")
	defer os.Unsetenv("CRAWLRS_WEBHOOK_SIGNING_SECRET")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if len(cfg.EnabledEngines) != 3 {
		t.Fatalf("expected 3 default engines, got %d", len(cfg.EnabledEngines))
	}
	if cfg.DefaultTier.MaxConcurrency != 5 {
		t.Fatalf("expected default tier concurrency 5, got %d", cfg.DefaultTier.MaxConcurrency)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	os.Setenv("CRAWLRS_WEBHOOK_SIGNING_SECRET", "test-secret")
	os.Setenv("CRAWLRS_ENABLED_ENGINES", "reqwest,headless")
	os.Setenv("CRAWLRS_SCRAPE_WORKERS", "20")
	defer os.Unsetenv("CRAWLRS_WEBHOOK_SIGNING_SECRET")
	defer os.Unsetenv("CRAWLRS_ENABLED_ENGINES")
	defer os.Unsetenv("CRAWLRS_SCRAPE_WORKERS")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.EnabledEngines) != 2 || cfg.EnabledEngines[0] != "reqwest" || cfg.EnabledEngines[1] != "headless" {
		t.Fatalf("expected engine override to split and trim, got %v", cfg.EnabledEngines)
	}
	if cfg.ScrapeWorkers != 20 {
		t.Fatalf("expected scrape worker override 20, got %d", cfg.ScrapeWorkers)
	}
}

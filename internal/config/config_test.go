package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Recognition.Mode != "mock" {
		t.Fatalf("expected mock recognition, got %q", cfg.Recognition.Mode)
	}
	if cfg.Watchdog.ThresholdMS != 10000 {
		t.Fatalf("expected 10s watchdog threshold, got %d", cfg.Watchdog.ThresholdMS)
	}
	if Millis(cfg.Commit.SilenceDelayMS) != 2*time.Second {
		t.Fatalf("unexpected silence delay %d", cfg.Commit.SilenceDelayMS)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interpreter.yaml")
	data := []byte(`
runtime_name: booth-1
commit:
  punctuation_delay_ms: 500
  silence_delay_ms: 1500
conversation:
  my_language: de-DE
  partner_language: fr-FR
translation:
  providers: [mock]
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "booth-1" {
		t.Fatalf("unexpected runtime name %q", cfg.RuntimeName)
	}
	if cfg.Commit.SilenceDelayMS != 1500 || cfg.Commit.PunctuationDelayMS != 500 {
		t.Fatalf("commit delays not loaded: %+v", cfg.Commit)
	}
	if cfg.Conversation.PartnerLanguage != "fr-FR" {
		t.Fatalf("partner language not loaded")
	}
	if cfg.Watchdog.IntervalMS != 1000 {
		t.Fatalf("expected defaults preserved for unset sections")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_ENABLED", "true")
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_RECOGNITION_MODE", "bus")
	t.Setenv("LOQA_RECOGNITION_NETWORK_RESTART_DELAY_MS", "2500")
	t.Setenv("LOQA_WATCHDOG_THRESHOLD_MS", "15000")
	t.Setenv("LOQA_TRANSLATION_PROVIDERS", "mymemory")
	t.Setenv("LOQA_TRANSLATION_DEEPL_AUTH_KEY", "secret:fx")
	t.Setenv("LOQA_CONVERSATION_PARTNER_LANGUAGE", "es-ES")
	t.Setenv("LOQA_SETTINGS_BACKEND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" {
		t.Fatalf("expected username override")
	}
	if cfg.Recognition.Mode != "bus" {
		t.Fatalf("expected bus recognition mode")
	}
	if cfg.Recognition.NetworkRestartDelayMS != 2500 {
		t.Fatalf("expected network restart delay override")
	}
	if cfg.Watchdog.ThresholdMS != 15000 {
		t.Fatalf("expected watchdog threshold override")
	}
	if len(cfg.Translation.Providers) != 1 || cfg.Translation.Providers[0] != "mymemory" {
		t.Fatalf("unexpected providers %v", cfg.Translation.Providers)
	}
	if cfg.Translation.DeepLAuthKey != "secret:fx" {
		t.Fatalf("expected deepl key override")
	}
	if cfg.Conversation.PartnerLanguage != "es-ES" {
		t.Fatalf("expected partner language override")
	}
	if cfg.Settings.Backend != "memory" {
		t.Fatalf("expected settings backend override")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"bus mode without bus":      func(c *Config) { c.Recognition.Mode = "bus" },
		"exec without command":      func(c *Config) { c.Recognition.Mode = "exec" },
		"watchdog threshold":        func(c *Config) { c.Watchdog.ThresholdMS = c.Watchdog.IntervalMS },
		"punctuation over silence":  func(c *Config) { c.Commit.PunctuationDelayMS = c.Commit.SilenceDelayMS + 1 },
		"unknown provider":          func(c *Config) { c.Translation.Providers = []string{"babelfish"} },
		"exec translator":           func(c *Config) { c.Translation.Providers = []string{"exec"} },
		"max restart below network": func(c *Config) { c.Recognition.MaxRestartDelayMS = 10 },
		"settings backend":          func(c *Config) { c.Settings.Backend = "cookie" },
		"retention mode":            func(c *Config) { c.EventStore.RetentionMode = "forever" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stakepilot.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
  "aggregator": {"base_url": "https://api.example.com/v1"},
  "agent": {"network": "gnosis", "address": "0xabc"}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %s", cfg.Server.Address)
	}
	if cfg.Aggregator.BaseURL != "https://api.example.com/v1" {
		t.Fatalf("unexpected base url: %s", cfg.Aggregator.BaseURL)
	}
	if cfg.Aggregator.TimeoutSeconds != 30 {
		t.Fatalf("unexpected aggregator timeout: %d", cfg.Aggregator.TimeoutSeconds)
	}
	if cfg.Agent.Network != "gnosis" {
		t.Fatalf("explicit network must not be overridden: %s", cfg.Agent.Network)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Fatalf("unexpected default provider: %s", cfg.LLM.Provider)
	}
	if cfg.Signer.PrivateKeyEnv != "STAKEPILOT_SIGNER_KEY" {
		t.Fatalf("unexpected signer env: %s", cfg.Signer.PrivateKeyEnv)
	}
	if cfg.Scheduler.IntervalSeconds != 900 {
		t.Fatalf("unexpected interval: %d", cfg.Scheduler.IntervalSeconds)
	}
	if cfg.Trigger.Driver != "memory" || cfg.Trigger.QueueSize != 64 {
		t.Fatalf("unexpected trigger defaults: %+v", cfg.Trigger)
	}
	if cfg.Storage.RunStore.Driver != "memory" {
		t.Fatalf("unexpected storage driver: %s", cfg.Storage.RunStore.Driver)
	}
	if len(cfg.Alerting.Channels) != 1 || cfg.Alerting.Channels[0] != "log" {
		t.Fatalf("unexpected alerting defaults: %+v", cfg.Alerting)
	}
	if cfg.Alerting.DingTalk.WebhookURLEnv != "STAKEPILOT_DINGTALK_WEBHOOK" {
		t.Fatalf("unexpected dingtalk env: %s", cfg.Alerting.DingTalk.WebhookURLEnv)
	}
	if !filepath.IsAbs(cfg.Runtime.DataDir) {
		t.Fatalf("data dir must resolve to an absolute path: %s", cfg.Runtime.DataDir)
	}
}

func TestLoadResolvesRelativeDataDir(t *testing.T) {
	path := writeConfig(t, `{"runtime": {"data_dir": "state"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := filepath.Join(filepath.Dir(path), "state")
	if cfg.Runtime.DataDir != expected {
		t.Fatalf("expected %s, got %s", expected, cfg.Runtime.DataDir)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := writeConfig(t, "{not json")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

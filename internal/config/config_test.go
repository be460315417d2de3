package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GITHUB_REPO", "gcolon75/project-valine")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Fatalf("expected default poll interval 3s, got %s", cfg.PollInterval)
	}
	if cfg.PollTimeout != 180*time.Second {
		t.Fatalf("expected default poll timeout 180s, got %s", cfg.PollTimeout)
	}
	if cfg.EnableAlerts || cfg.EnableDebugQuery {
		t.Fatal("alerts and debug query must default to off")
	}
}

func TestLoadMissingRepo(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Fatal("expected error when GITHUB_REPO is unset")
	}
}

func TestValidateAlertChannelRequired(t *testing.T) {
	t.Setenv("GITHUB_REPO", "gcolon75/project-valine")
	t.Setenv("ENABLE_ALERTS", "true")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when ENABLE_ALERTS is set without ALERT_CHANNEL_ID")
	}

	t.Setenv("ALERT_CHANNEL_ID", "123456")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateDispatchTimeoutBound(t *testing.T) {
	t.Setenv("GITHUB_REPO", "gcolon75/project-valine")
	t.Setenv("DISPATCH_TIMEOUT", "30s")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for dispatch timeout above 10s")
	}
}

func TestParseWorkflows(t *testing.T) {
	t.Setenv("GITHUB_REPO", "gcolon75/project-valine")
	t.Setenv("VALINE_WORKFLOWS", "deploy=deploy.yml, smoke = smoke-test.yml,broken")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Workflows) != 2 {
		t.Fatalf("expected 2 workflows, got %d: %v", len(cfg.Workflows), cfg.Workflows)
	}
	if cfg.Workflows["smoke"] != "smoke-test.yml" {
		t.Fatalf("expected smoke-test.yml, got %q", cfg.Workflows["smoke"])
	}
	files := cfg.WorkflowFiles()
	if len(files) != 2 || files[0] != "deploy.yml" {
		t.Fatalf("unexpected workflow files: %v", files)
	}
}

func TestCheckDestination(t *testing.T) {
	allowed := []string{
		"https://api.github.com",
		"https://github.internal-tools.example.com",
	}
	for _, raw := range allowed {
		if err := CheckDestination(raw); err != nil {
			t.Errorf("CheckDestination(%q) = %v, want nil", raw, err)
		}
	}

	rejected := []string{
		"http://api.github.com",
		"https://localhost:8080",
		"https://ci.localhost",
		"https://runner.local",
		"https://metadata.internal",
		"https://127.0.0.1",
		"https://10.0.0.5",
		"https://192.168.1.1:9090",
		"https://169.254.169.254",
		"https://0.0.0.0",
		"ftp://api.github.com",
		"https://",
	}
	for _, raw := range rejected {
		if err := CheckDestination(raw); err == nil {
			t.Errorf("CheckDestination(%q) = nil, want error", raw)
		}
	}
}

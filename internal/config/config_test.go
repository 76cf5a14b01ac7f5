package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jayminwest/overstory/internal/mail"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Watchdog.StaleMs != def.Watchdog.StaleMs {
		t.Errorf("StaleMs = %d, want default %d", cfg.Watchdog.StaleMs, def.Watchdog.StaleMs)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overstory.yaml")
	doc := `
watchdog:
  intervalMs: 15000
  staleMs: 60000
  zombieMs: 600000
  nudgeIntervalMs: 120000
  triageEnabled: true
mail:
  debounceWindowMs: 30000
groups:
  reviewers:
    - reviewer-1
    - reviewer-2
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Watchdog.IntervalMs != 15000 {
		t.Errorf("IntervalMs = %d, want 15000", cfg.Watchdog.IntervalMs)
	}
	if !cfg.Watchdog.TriageEnabled {
		t.Error("expected TriageEnabled to be true")
	}
	if cfg.Mail.DebounceWindowMs != 30000 {
		t.Errorf("DebounceWindowMs = %d, want 30000", cfg.Mail.DebounceWindowMs)
	}
	if len(cfg.Groups["reviewers"]) != 2 {
		t.Errorf("expected 2 reviewers, got %v", cfg.Groups["reviewers"])
	}
}

func TestValidateRejectsZombieMsNotGreaterThanStaleMs(t *testing.T) {
	cfg := Default()
	cfg.Watchdog.StaleMs = 1000
	cfg.Watchdog.ZombieMs = 1000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when zombieMs <= staleMs")
	}
}

func TestThresholdsProjectsWatchdogSection(t *testing.T) {
	cfg := Default()
	cfg.Watchdog.StaleMs = 111
	cfg.Watchdog.ZombieMs = 222
	cfg.Watchdog.NudgeIntervalMs = 333
	th := cfg.Thresholds()
	if th.StaleMs != 111 || th.ZombieMs != 222 || th.NudgeIntervalMs != 333 {
		t.Errorf("Thresholds() = %+v, want {111 222 333}", th)
	}
}

func TestGroupResolverUsesConfiguredGroupsBeforeFallback(t *testing.T) {
	cfg := Default()
	cfg.Groups = map[string][]string{"reviewers": {"reviewer-1", "reviewer-2"}}
	resolver := cfg.GroupResolver()

	got := resolver.Resolve("reviewers", nil, "reviewer-1")
	if len(got) != 1 || got[0] != "reviewer-2" {
		t.Errorf("Resolve(reviewers) = %v, want [reviewer-2] (sender excluded)", got)
	}

	active := []mail.ActiveAgent{{AgentName: "builder-1", Capability: "builder"}}
	got = resolver.Resolve("workers", active, "")
	if len(got) != 1 || got[0] != "builder-1" {
		t.Errorf("Resolve(workers) fallback = %v, want [builder-1]", got)
	}
}

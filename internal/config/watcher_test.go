package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsBridgeTunables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	write := func(template string) {
		t.Helper()
		content := `{
			dialer: { base_url: "https://d.example.com" },
			agent_link: { ws_base_url: "wss://a.example.com", default_agent_id: "agent-1" },
			messaging: { base_url: "https://m.example.com" },
			bridge: { template: "` + template + `" },
		}`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	write("old {name}")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	write("new {name}")

	deadline := time.After(3 * time.Second)
	for cfg.Snapshot().Template != "new {name}" {
		select {
		case <-deadline:
			t.Fatalf("tunables not reloaded, template still %q", cfg.Snapshot().Template)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{ bridge: { template: "keep" } }`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(path, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// A sibling file changing must not trigger a reload of our config.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}

	time.Sleep(500 * time.Millisecond)
	if got := cfg.Snapshot().Template; got != "keep" {
		t.Errorf("template = %q, want unchanged", got)
	}
}

package hubconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenNoPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("got %q", cfg.ListenAddr)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.yaml")
	os.WriteFile(path, []byte("listen_addr: \":9090\"\nprovider:\n  model: custom-model\n"), 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("got %q", cfg.ListenAddr)
	}
	if cfg.Provider.Model != "custom-model" {
		t.Fatalf("got %q", cfg.Provider.Model)
	}
	if cfg.Provider.MaxTokens != 4096 {
		t.Fatalf("expected default max_tokens to survive merge, got %d", cfg.Provider.MaxTokens)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	secretsPath := filepath.Join(dir, "secrets.yaml")
	os.WriteFile(secretsPath, []byte("provider:\n  api_key: sk-test\n"), 0o600)
	os.WriteFile(basePath, []byte("$include: secrets.yaml\nlisten_addr: \":7000\"\n"), 0o600)

	cfg, err := Load(basePath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.APIKey != "sk-test" {
		t.Fatalf("got %q", cfg.Provider.APIKey)
	}
	if cfg.ListenAddr != ":7000" {
		t.Fatalf("got %q", cfg.ListenAddr)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.yaml")
	bPath := filepath.Join(dir, "b.yaml")
	os.WriteFile(aPath, []byte("$include: b.yaml\n"), 0o600)
	os.WriteFile(bPath, []byte("$include: a.yaml\n"), 0o600)

	if _, err := Load(aPath); err == nil {
		t.Fatalf("expected include cycle error")
	}
}

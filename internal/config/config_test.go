package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	want := Default()
	if cfg.Store.Path != want.Store.Path {
		t.Errorf("got Store.Path=%q, want %q", cfg.Store.Path, want.Store.Path)
	}
	if cfg.Plugins["dynamodb"].Executable != want.Plugins["dynamodb"].Executable {
		t.Errorf("got dynamodb executable=%q, want %q", cfg.Plugins["dynamodb"].Executable, want.Plugins["dynamodb"].Executable)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumen.yaml")
	yaml := `
store:
  path: custom.db
repl:
  disassemble: true
plugins:
  dynamodb:
    executable: custom-plugin
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	if cfg.Store.Path != "custom.db" {
		t.Errorf("got Store.Path=%q, want custom.db", cfg.Store.Path)
	}
	if !cfg.REPL.Disassemble {
		t.Error("expected REPL.Disassemble to be true")
	}
	if cfg.Plugins["dynamodb"].Executable != "custom-plugin" {
		t.Errorf("got executable=%q, want custom-plugin", cfg.Plugins["dynamodb"].Executable)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumen.yaml")
	if err := os.WriteFile(path, []byte("store: [this is not a mapping"), 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed yaml")
	}
}

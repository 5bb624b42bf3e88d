package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.CacheMaxItems != 1024 || cfg.ObsBuffer != 4096 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ExitPolicy != "exit_code == 0" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CLOUDMAKE_HTTP_ADDR", ":9090")
	t.Setenv("CLOUDMAKE_CACHE_MAX_ITEMS", "7")
	t.Setenv("CLOUDMAKE_OBS_BUFFER", "0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("expected env addr, got %q", cfg.HTTPAddr)
	}
	if cfg.CacheMaxItems != 7 {
		t.Fatalf("expected 7, got %d", cfg.CacheMaxItems)
	}
	if cfg.ObsBuffer != 4096 {
		t.Fatalf("expected fallback below minimum, got %d", cfg.ObsBuffer)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloudmake.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\nroot: /srv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLOUDMAKE_ROOT", "/env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected file level, got %q", cfg.LogLevel)
	}
	if cfg.Root != "/env" {
		t.Fatalf("expected env to win, got %q", cfg.Root)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

const manifest = `
node "n1" {
  rules        = "rules.cm"
  root         = "data"
  config_files = ["n1/app.xml"]
  watch        = true
}

node "n2" {
  rules       = "/etc/cloudmake/n2.cm"
  exit_policy = "exit_code in [0, 2]"
}
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(manifest), "/srv/cloudmake.hcl")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(m.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(m.Nodes))
	}

	n1, err := m.Node("n1")
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	if n1.Rules != filepath.Join("/srv", "rules.cm") || n1.Root != filepath.Join("/srv", "data") {
		t.Fatalf("paths not resolved: %+v", n1)
	}
	if !n1.Watch || len(n1.ConfigFiles) != 1 || n1.ConfigFiles[0] != "n1/app.xml" {
		t.Fatalf("unexpected node: %+v", n1)
	}

	n2, _ := m.Node("n2")
	if n2.Rules != "/etc/cloudmake/n2.cm" || n2.Root != "/srv" || n2.ExitPolicy != "exit_code in [0, 2]" {
		t.Fatalf("unexpected node: %+v", n2)
	}

	if _, err := m.Node("n3"); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
}

func TestParseManifest_Errors(t *testing.T) {
	cases := map[string]string{
		"syntax":    `node "n1" {`,
		"no rules":  `node "n1" { root = "x" }`,
		"duplicate": `node "n1" { rules = "a" }` + "\n" + `node "n1" { rules = "b" }`,
		"unknown":   `node "n1" { rules = "a" colour = "red" }`,
	}
	for name, src := range cases {
		if _, err := ParseManifest([]byte(src), "m.hcl"); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.hcl")
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	n1, _ := m.Node("n1")
	if n1.Rules != filepath.Join(dir, "rules.cm") {
		t.Fatalf("unexpected rules path %q", n1.Rules)
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cluster.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadClusterAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
name = "test-mesh"
workers = 4

[[nodes]]
addr = "127.0.0.1:9400"

[[nodes]]
addr = "127.0.0.1:9401"
workers = 2
`)
	cfg, err := LoadCluster(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Nodes[0].Workers != 4 {
		t.Fatalf("default workers not applied: %d", cfg.Nodes[0].Workers)
	}
	if cfg.Nodes[1].Workers != 2 {
		t.Fatalf("per-node workers overridden: %d", cfg.Nodes[1].Workers)
	}
	if got := cfg.Addrs(); len(got) != 2 || got[1] != "127.0.0.1:9401" {
		t.Fatalf("addrs: %v", got)
	}
}

func TestLoadClusterRejectsEmptyNodes(t *testing.T) {
	path := writeConfig(t, `name = "empty"`)
	if _, err := LoadCluster(path); !errors.Is(err, ErrInvalidCluster) {
		t.Fatalf("expected ErrInvalidCluster, got %v", err)
	}
}

func TestLoadClusterRejectsMissingAddr(t *testing.T) {
	path := writeConfig(t, `
[[nodes]]
addr = "127.0.0.1:9400"

[[nodes]]
`)
	if _, err := LoadCluster(path); !errors.Is(err, ErrInvalidCluster) {
		t.Fatalf("expected ErrInvalidCluster, got %v", err)
	}
}

func TestLoadClusterRejectsDuplicateAddr(t *testing.T) {
	path := writeConfig(t, `
[[nodes]]
addr = "127.0.0.1:9400"

[[nodes]]
addr = "127.0.0.1:9400"
`)
	if _, err := LoadCluster(path); !errors.Is(err, ErrInvalidCluster) {
		t.Fatalf("expected ErrInvalidCluster, got %v", err)
	}
}

func TestSingleNodeDefault(t *testing.T) {
	cfg := SingleNode(3)
	if len(cfg.Nodes) != 1 || cfg.Nodes[0].Workers != 3 {
		t.Fatalf("single node config: %+v", cfg)
	}
	if err := ValidateCluster(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestGenerateAndRenderRoundTrip(t *testing.T) {
	cfg, err := GenerateCluster("gen-mesh", 3, 9500, 2)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	body, err := Render(cfg)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	path := writeConfig(t, string(body))
	loaded, err := LoadCluster(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(loaded.Nodes) != 3 || loaded.Nodes[2].Addr != "127.0.0.1:9502" {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if loaded.Nodes[0].Workers != 2 {
		t.Fatalf("workers lost in round trip: %+v", loaded.Nodes[0])
	}
}

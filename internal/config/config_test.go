package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Tilesets(t *testing.T) {
	content := `
server:
  port: 9000
chromsizes:
  hg19: /data/hg19.chrom.sizes
tilesets:
  - uid: genes
    type: gff
    path: /data/genes.gff3.gz
    chromsizes: hg19
    capacity: 30
  - uid: proxy
    type: remote
    server: https://higlass.io/api/v1
    remote_uid: CQMd6V_cRw6iCI_-Unl3PQ
  - uid: fixture
    type: memory
    name: Fixture tiles
    path: /data/tiles.json
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if len(cfg.Tilesets) != 3 {
		t.Fatalf("expected 3 tilesets, got %d", len(cfg.Tilesets))
	}

	genes := cfg.Tilesets[0]
	if genes.Type != TypeGFF || genes.ChromSizes != "hg19" || genes.Capacity != 30 {
		t.Errorf("unexpected gff tileset %+v", genes)
	}
	if genes.Name != "genes" {
		t.Errorf("expected name to default to uid, got %q", genes.Name)
	}
	if proxy := cfg.Tilesets[1]; proxy.RemoteUID != "CQMd6V_cRw6iCI_-Unl3PQ" {
		t.Errorf("unexpected remote tileset %+v", proxy)
	}
	if cfg.Tilesets[2].Name != "Fixture tiles" {
		t.Errorf("unexpected name %q", cfg.Tilesets[2].Name)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.TileEntries != 10000 {
		t.Errorf("expected default tile entries 10000, got %d", cfg.Cache.TileEntries)
	}
	if cfg.Fetch.Window() != 100*time.Millisecond {
		t.Errorf("expected 100ms window, got %v", cfg.Fetch.Window())
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected info log level, got %q", cfg.Log.Level)
	}
	if cfg.ChromSizes == nil {
		t.Error("expected an empty chromsizes map")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || len(cfg.Tilesets) != 0 {
		t.Fatalf("expected default config, got %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	for name, c := range map[string]struct {
		content string
		want    string
	}{
		"noUID":        {"tilesets:\n  - type: gff\n    path: a.gff\n", "missing uid"},
		"duplicate":    {"tilesets:\n  - {uid: a, type: memory, path: x}\n  - {uid: a, type: memory, path: y}\n", "declared twice"},
		"unknownType":  {"tilesets:\n  - {uid: a, type: bigwig, path: x}\n", "unknown type"},
		"remoteServer": {"tilesets:\n  - {uid: a, type: remote}\n", "need a server"},
		"noPath":       {"tilesets:\n  - {uid: a, type: gff}\n", "need a path"},
		"chromsizes":   {"tilesets:\n  - {uid: a, type: gff, path: x, chromsizes: mm10}\n", "unknown chromsizes"},
	} {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, c.content)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("expected error containing %q, got %v", c.want, err)
			}
		})
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

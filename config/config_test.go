package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedmint.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ChainID != defaultChainID || cfg.PlatformFeeBps != defaultFeeBps {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file was not written: %v", err)
	}

	// A second load round-trips the file it just wrote.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if *again != *cfg {
		t.Fatalf("reloaded config differs: %+v vs %+v", again, cfg)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedmint.toml")
	if err := os.WriteFile(path, []byte("ChainID = 137\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ChainID != 137 {
		t.Fatalf("explicit value overridden: %d", cfg.ChainID)
	}
	if cfg.PassPeriodSeconds != defaultPeriodSeconds {
		t.Fatalf("missing value not defaulted: %d", cfg.PassPeriodSeconds)
	}
}

func TestLoadRejectsOutOfRangeFee(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedmint.toml")
	if err := os.WriteFile(path, []byte("PlatformFeeBps = 10001\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected fee range rejection")
	}
}

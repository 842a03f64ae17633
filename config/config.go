package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the settlement parameters an engine instance is deployed
// with. Chain id and settlement address are immutable for the lifetime of a
// deployment; vouchers signed for one configuration never verify under
// another.
type Config struct {
	ChainID           uint64 `toml:"ChainID"`
	SettlementAddress string `toml:"SettlementAddress"`
	PlatformTreasury  string `toml:"PlatformTreasury"`
	PlatformFeeBps    uint32 `toml:"PlatformFeeBps"`
	PassPeriodSeconds int64  `toml:"PassPeriodSeconds"`
	DataDir           string `toml:"DataDir"`
	KeystorePath      string `toml:"KeystorePath"`
}

const (
	defaultChainID        uint64 = 1
	defaultFeeBps         uint32 = 1_000
	defaultPeriodSeconds  int64  = 30 * 24 * 60 * 60
	defaultDataDir               = "./feedmint-data"
	defaultKeystorePath          = "./keystore/signer.json"
)

// Load reads the configuration from path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ChainID == 0 {
		cfg.ChainID = defaultChainID
	}
	if cfg.PlatformFeeBps == 0 {
		cfg.PlatformFeeBps = defaultFeeBps
	}
	if cfg.PassPeriodSeconds == 0 {
		cfg.PassPeriodSeconds = defaultPeriodSeconds
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if strings.TrimSpace(cfg.KeystorePath) == "" {
		cfg.KeystorePath = defaultKeystorePath
	}
}

func validate(cfg *Config) error {
	if cfg.PlatformFeeBps > 10_000 {
		return fmt.Errorf("PlatformFeeBps out of range: %d", cfg.PlatformFeeBps)
	}
	if cfg.PassPeriodSeconds < 0 {
		return fmt.Errorf("PassPeriodSeconds must not be negative: %d", cfg.PassPeriodSeconds)
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

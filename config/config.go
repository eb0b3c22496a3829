package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"nftmarket/crypto"
)

const (
	StoreMemory  = "memory"
	StoreLevelDB = "leveldb"
)

type Config struct {
	ServiceName   string    `toml:"ServiceName"`
	Environment   string    `toml:"Environment"`
	DataDir       string    `toml:"DataDir"`
	ListingStore  string    `toml:"ListingStore"`
	IncidentLog   string    `toml:"IncidentLog"`
	MarketAddress string    `toml:"MarketAddress"`
	LogFile       string    `toml:"LogFile"`
	LogMaxSizeMB  int       `toml:"LogMaxSizeMB"`
	LogMaxBackups int       `toml:"LogMaxBackups"`
	Pauses        Pauses    `toml:"Pauses"`
	Quota         Quota     `toml:"Quota"`
	Telemetry     Telemetry `toml:"Telemetry"`
}

// Load loads the configuration from the given path. A default configuration
// is written when the file does not exist yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}

	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "nftmarket"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./market-data"
	}
	cfg.ListingStore = strings.ToLower(strings.TrimSpace(cfg.ListingStore))
	if cfg.ListingStore == "" {
		cfg.ListingStore = StoreMemory
	}
	if cfg.LogFile != "" {
		if cfg.LogMaxSizeMB <= 0 {
			cfg.LogMaxSizeMB = 100
		}
		if cfg.LogMaxBackups <= 0 {
			cfg.LogMaxBackups = 3
		}
	}
}

// ResolveMarketAddress returns the configured custody account, or an address
// derived from the service name when none is configured.
func (c *Config) ResolveMarketAddress() ([20]byte, error) {
	raw := strings.TrimSpace(c.MarketAddress)
	if raw == "" {
		return crypto.DeriveAddress("market/" + c.ServiceName), nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid MarketAddress: %w", err)
	}
	return addr, nil
}

// ListingDBPath returns the LevelDB directory used when ListingStore is
// "leveldb".
func (c *Config) ListingDBPath() string {
	return filepath.Join(c.DataDir, "listings")
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

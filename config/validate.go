package config

import (
	"fmt"
	"strings"
)

var (
	MinEpochSeconds = uint32(10)
)

func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil config")
	}
	switch c.ListingStore {
	case StoreMemory, StoreLevelDB:
	default:
		return fmt.Errorf("config: unknown ListingStore %q", c.ListingStore)
	}
	if c.ListingStore == StoreLevelDB && strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required for leveldb listing store")
	}
	if c.Quota.EpochSeconds > 0 && c.Quota.EpochSeconds < MinEpochSeconds {
		return fmt.Errorf("quota: epoch_seconds too small")
	}
	if c.Quota.MaxNativePerEpoch > 0 && c.Quota.EpochSeconds == 0 {
		return fmt.Errorf("quota: native cap requires epoch_seconds")
	}
	if c.LogMaxSizeMB < 0 || c.LogMaxBackups < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	if _, err := c.ResolveMarketAddress(); err != nil {
		return err
	}
	return nil
}

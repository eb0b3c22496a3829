package config

import nativecommon "nftmarket/native/common"

// Pauses lists the modules an operator can halt without a restart.
type Pauses struct {
	Market bool `toml:"Market"`
}

// IsPaused implements the native pause view.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "market":
		return p.Market
	default:
		return false
	}
}

// Quota defines rate limits for market interactions on a per-address basis.
// Both limits reset every EpochSeconds, so MaxRequestsPerMin counts requests
// per epoch and reads as a per minute limit only with the default epoch.
type Quota struct {
	MaxRequestsPerMin uint32 `toml:"MaxRequestsPerMin"`
	MaxNativePerEpoch uint64 `toml:"MaxNativePerEpoch"` // in base units
	EpochSeconds      uint32 `toml:"EpochSeconds"`      // e.g., 3600
}

// Native converts the configured limits into the form enforced by the engine.
func (q Quota) Native() nativecommon.Quota {
	return nativecommon.Quota{
		MaxRequestsPerMin: q.MaxRequestsPerMin,
		MaxNativePerEpoch: q.MaxNativePerEpoch,
		EpochSeconds:      q.EpochSeconds,
	}
}

// Telemetry configures OTLP export of traces and, when Metrics is set, of the
// market operation metrics. Export is disabled while Endpoint is empty.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"` // comma separated key=value pairs
	Metrics  bool   `toml:"Metrics"`
}

// Enabled reports whether an OTLP endpoint is configured.
func (t Telemetry) Enabled() bool { return t.Endpoint != "" }

package config

import (
	"fmt"
	"strings"
)

var MaxRefundGraceSeconds = int64(365 * 24 * 3600)

// ValidateConfig checks bounds that the TOML decoder cannot express.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if cfg.Market.CommissionBps > 10_000 {
		return fmt.Errorf("market: CommissionBps > 10000")
	}
	if cfg.Market.RefundGraceSeconds < 0 || cfg.Market.RefundGraceSeconds > MaxRefundGraceSeconds {
		return fmt.Errorf("market: RefundGraceSeconds out of range")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Market.StartTimePolicy)) {
	case "token", "now":
	default:
		return fmt.Errorf("market: StartTimePolicy must be \"token\" or \"now\"")
	}
	parsed, err := cfg.Market.Parse()
	if err != nil {
		return err
	}
	if parsed.Validator == parsed.Custodian {
		return fmt.Errorf("market: validator and custodian must differ")
	}
	if cfg.RPC.RequestsPerMinute < 0 || cfg.RPC.Burst < 0 {
		return fmt.Errorf("rpc: rate limits must be non-negative")
	}
	if cfg.RPC.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("rpc: ReadHeaderTimeout must be positive")
	}
	if strings.TrimSpace(cfg.RPC.JWTSecretEnv) == "" {
		return fmt.Errorf("rpc: JWTSecretEnv is required")
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log: rotation limits must be non-negative")
	}
	return nil
}

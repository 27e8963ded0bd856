package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"slotmarket/crypto"
)

const (
	DefaultCommissionBps      uint32 = 500
	DefaultRefundGraceSeconds int64  = 86_400
	DefaultCurrencyCap               = "1000000000000000000000000000"
	DefaultJWTSecretEnv              = "SLOTMARKET_JWT_SECRET"
)

type Config struct {
	RPCAddress            string    `toml:"RPCAddress"`
	DataDir               string    `toml:"DataDir"`
	GenesisFile           string    `toml:"GenesisFile"`
	Environment           string    `toml:"Environment"`
	ValidatorKeystorePath string    `toml:"ValidatorKeystorePath"`
	Market                Market    `toml:"market"`
	Pauses                Pauses    `toml:"pauses"`
	RPC                   RPC       `toml:"rpc"`
	Log                   Log       `toml:"log"`
	Telemetry             Telemetry `toml:"telemetry"`
	Indexer               Indexer   `toml:"indexer"`
}

// Load loads the configuration from the given path. A missing file is
// created with defaults and a freshly generated validator identity.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8547"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./slotmarket-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.Market.CommissionBps == 0 {
		cfg.Market.CommissionBps = DefaultCommissionBps
	}
	if cfg.Market.RefundGraceSeconds == 0 {
		cfg.Market.RefundGraceSeconds = DefaultRefundGraceSeconds
	}
	if strings.TrimSpace(cfg.Market.StartTimePolicy) == "" {
		cfg.Market.StartTimePolicy = "token"
	}
	if strings.TrimSpace(cfg.Market.CurrencyCap) == "" {
		cfg.Market.CurrencyCap = DefaultCurrencyCap
	}
	if strings.TrimSpace(cfg.RPC.JWTSecretEnv) == "" {
		cfg.RPC.JWTSecretEnv = DefaultJWTSecretEnv
	}
	if strings.TrimSpace(cfg.RPC.JWTIssuer) == "" {
		cfg.RPC.JWTIssuer = "slotmarket"
	}
	if cfg.RPC.RequestsPerMinute == 0 {
		cfg.RPC.RequestsPerMinute = 600
	}
	if cfg.RPC.Burst == 0 {
		cfg.RPC.Burst = 60
	}
	if cfg.RPC.ReadHeaderTimeout == 0 {
		cfg.RPC.ReadHeaderTimeout = 5
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}
	if strings.TrimSpace(cfg.Indexer.DSN) == "" {
		cfg.Indexer.DSN = filepath.Join(cfg.DataDir, "events.db")
	}
}

// createDefault writes a config for a single local market. The validator key
// is stored in an unencrypted keystore next to the config; the custodian is a
// fresh address that no key controls.
func createDefault(path string) (*Config, error) {
	validatorKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, validatorKey, ""); err != nil {
		return nil, err
	}
	custodianKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	validator := crypto.FormatAddress(validatorKey.Address())
	cfg := &Config{
		ValidatorKeystorePath: keystorePath,
		Market: Market{
			ValidatorAddress: validator,
			CustodianAddress: crypto.FormatAddress(custodianKey.Address()),
			AdminAddress:     validator,
		},
	}
	applyDefaults(cfg)
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

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "validator.keystore")
}

// ParsedMarket is the market section with addresses and amounts decoded.
type ParsedMarket struct {
	Validator     [20]byte
	Custodian     [20]byte
	FeeTreasury   [20]byte
	Admin         [20]byte
	CommissionBps uint32
	RefundGrace   int64
	StartPolicy   string
	CurrencyCap   *big.Int
}

// Parse decodes the market section. Optional addresses left empty decode to
// the zero address.
func (m Market) Parse() (ParsedMarket, error) {
	out := ParsedMarket{
		CommissionBps: m.CommissionBps,
		RefundGrace:   m.RefundGraceSeconds,
		StartPolicy:   strings.ToLower(strings.TrimSpace(m.StartTimePolicy)),
	}
	var err error
	if out.Validator, err = requiredAddress("ValidatorAddress", m.ValidatorAddress); err != nil {
		return out, err
	}
	if out.Custodian, err = requiredAddress("CustodianAddress", m.CustodianAddress); err != nil {
		return out, err
	}
	if out.FeeTreasury, err = optionalAddress("FeeTreasuryAddress", m.FeeTreasuryAddress); err != nil {
		return out, err
	}
	if out.Admin, err = optionalAddress("AdminAddress", m.AdminAddress); err != nil {
		return out, err
	}
	capValue, ok := new(big.Int).SetString(strings.TrimSpace(m.CurrencyCap), 10)
	if !ok || capValue.Sign() <= 0 {
		return out, fmt.Errorf("market.CurrencyCap must be a positive integer, got %q", m.CurrencyCap)
	}
	out.CurrencyCap = capValue
	return out, nil
}

func requiredAddress(field, raw string) ([20]byte, error) {
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, fmt.Errorf("market.%s is required", field)
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, fmt.Errorf("market.%s: %w", field, err)
	}
	return addr, nil
}

func optionalAddress(field, raw string) ([20]byte, error) {
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, nil
	}
	return requiredAddress(field, raw)
}

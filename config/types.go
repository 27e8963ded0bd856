package config

// Market fixes the principals and economics of the market. Addresses are
// bech32 strings with the slot prefix. FeeTreasuryAddress is optional; when
// empty the commission remainder of each release accumulates in the custodian
// balance.
type Market struct {
	ValidatorAddress   string `toml:"ValidatorAddress"`
	CustodianAddress   string `toml:"CustodianAddress"`
	FeeTreasuryAddress string `toml:"FeeTreasuryAddress"`
	AdminAddress       string `toml:"AdminAddress"`
	CommissionBps      uint32 `toml:"CommissionBps"`
	RefundGraceSeconds int64  `toml:"RefundGraceSeconds"`
	StartTimePolicy    string `toml:"StartTimePolicy"`
	// CurrencyCap is a base-10 integer string.
	CurrencyCap string `toml:"CurrencyCap"`
}

// Pauses selects the switches engaged at startup.
type Pauses struct {
	Inventory bool `toml:"Inventory"`
	Market    bool `toml:"Market"`
}

// RPC configures the JSON-RPC listener and its admission controls.
type RPC struct {
	// JWTSecretEnv names the environment variable holding the HMAC secret
	// used to verify caller tokens.
	JWTSecretEnv      string `toml:"JWTSecretEnv"`
	JWTIssuer         string `toml:"JWTIssuer"`
	RequestsPerMinute int    `toml:"RequestsPerMinute"`
	Burst             int    `toml:"Burst"`
	ReadHeaderTimeout int    `toml:"ReadHeaderTimeout"`
}

type Log struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
	// Headers uses the OTEL_EXPORTER_OTLP_HEADERS format: k=v,k2=v2.
	Headers string `toml:"Headers"`
}

// Indexer selects the event index database. A postgres:// DSN uses
// PostgreSQL, anything else is treated as a SQLite path.
type Indexer struct {
	DSN string `toml:"DSN"`
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"slotmarket/config"
	"slotmarket/core"
	"slotmarket/core/genesis"
	"slotmarket/indexer"
	"slotmarket/native/auction"
	"slotmarket/observability/logging"
	telemetry "slotmarket/observability/otel"
	"slotmarket/rpc"
	"slotmarket/storage"
)

const (
	envEnvironment = "SLOTMARKET_ENV"
	envGenesis     = "SLOTMARKET_GENESIS"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides SLOTMARKET_GENESIS and config GenesisFile)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configFile, *genesisFlag); err != nil {
		fmt.Fprintf(os.Stderr, "slotmarketd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, genesisFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := cfg.Environment
	if fromEnv := strings.TrimSpace(os.Getenv(envEnvironment)); fromEnv != "" {
		env = fromEnv
	}
	logger, closer := logging.Setup("slotmarketd", env, logging.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer closer.Close()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "slotmarketd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		Attributes:  map[string]string{"market.validator": cfg.Market.ValidatorAddress},
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	settings, err := settingsFromConfig(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()

	index, err := indexer.Open(cfg.Indexer.DSN)
	if err != nil {
		return err
	}
	defer index.Close()

	node, err := core.NewNode(db, settings, core.WithLogger(logger), core.WithEventSink(index))
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	if path := resolveGenesisPath(genesisFlag, cfg.GenesisFile, os.LookupEnv); path != "" {
		spec, err := genesis.Load(path)
		if err != nil {
			return fmt.Errorf("load genesis: %w", err)
		}
		applied, err := node.Seed(spec)
		if err != nil {
			return fmt.Errorf("apply genesis: %w", err)
		}
		logger.Info("genesis checked", slog.String("path", path), slog.Bool("applied", applied))
	}

	secret := ""
	if envName := strings.TrimSpace(cfg.RPC.JWTSecretEnv); envName != "" {
		secret = os.Getenv(envName)
	}
	if strings.TrimSpace(secret) == "" {
		logger.Warn("jwt secret not set; authenticated methods will reject every caller",
			slog.String("env", cfg.RPC.JWTSecretEnv))
	}

	server := rpc.NewServer(node, index, rpc.Config{
		JWTSecret:         secret,
		JWTIssuer:         cfg.RPC.JWTIssuer,
		RequestsPerMinute: float64(cfg.RPC.RequestsPerMinute),
		Burst:             cfg.RPC.Burst,
		ReadHeaderTimeout: time.Duration(cfg.RPC.ReadHeaderTimeout) * time.Second,
		LogRequests:       true,
	}, logger)

	logger.Info("slotmarketd starting",
		slog.String("rpc_address", cfg.RPCAddress),
		slog.String("data_dir", cfg.DataDir))
	if err := server.Serve(ctx, cfg.RPCAddress); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("rpc server: %w", err)
	}
	logger.Info("slotmarketd stopped")
	return nil
}

// settingsFromConfig converts the validated [market] and [pauses] sections.
func settingsFromConfig(cfg *config.Config) (core.MarketSettings, error) {
	parsed, err := cfg.Market.Parse()
	if err != nil {
		return core.MarketSettings{}, err
	}
	policy, err := auction.ParseStartPolicy(parsed.StartPolicy)
	if err != nil {
		return core.MarketSettings{}, err
	}
	return core.MarketSettings{
		Validator:      parsed.Validator,
		Custodian:      parsed.Custodian,
		FeeTreasury:    parsed.FeeTreasury,
		Admin:          parsed.Admin,
		CommissionBps:  parsed.CommissionBps,
		RefundGrace:    parsed.RefundGrace,
		StartPolicy:    policy,
		CurrencyCap:    parsed.CurrencyCap,
		PauseInventory: cfg.Pauses.Inventory,
		PauseMarket:    cfg.Pauses.Market,
	}, nil
}

// resolveGenesisPath picks the genesis file: flag, then environment, then
// config. An empty result means no genesis is applied.
func resolveGenesisPath(flagValue, configValue string, lookup func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(envGenesis); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return strings.TrimSpace(configValue)
}

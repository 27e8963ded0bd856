package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"slotmarket/config"
	"slotmarket/crypto"
	"slotmarket/native/auction"
)

func addrString(fill byte) string {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return crypto.FormatAddress(addr)
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Market: config.Market{
			ValidatorAddress:   addrString(0x0A),
			CustodianAddress:   addrString(0x0C),
			CommissionBps:      300,
			RefundGraceSeconds: 60,
			StartTimePolicy:    "NOW",
			CurrencyCap:        "1000",
		},
		Pauses: config.Pauses{Inventory: true},
	}
	settings, err := settingsFromConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, auction.StartPolicyNow, settings.StartPolicy)
	require.Equal(t, uint32(300), settings.CommissionBps)
	require.Equal(t, int64(1000), settings.CurrencyCap.Int64())
	require.True(t, settings.PauseInventory)
	require.False(t, settings.PauseMarket)
	require.Equal(t, crypto.MustParseAddress(addrString(0x0C)), settings.Custodian)

	cfg.Market.CurrencyCap = "lots"
	_, err = settingsFromConfig(cfg)
	require.Error(t, err)
}

func TestResolveGenesisPath(t *testing.T) {
	env := map[string]string{envGenesis: " /env/genesis.yaml "}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	require.Equal(t, "/flag.yaml", resolveGenesisPath("/flag.yaml", "/cfg.yaml", lookup))
	require.Equal(t, "/env/genesis.yaml", resolveGenesisPath("", "/cfg.yaml", lookup))
	require.Equal(t, "/cfg.yaml", resolveGenesisPath("", "/cfg.yaml", nil))
	require.Equal(t, "", resolveGenesisPath("", "", nil))
}

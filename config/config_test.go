package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validConfig = `
RPCAddress = ":9090"
DataDir = "/tmp/synth"

[Manager]
MaxDebt = "1000000"
BaseBorrowRate = "0.005"
BaseShortRate = "0.01"
MaxSkewRate = "0.05"

[Oracle]
MaxAgeSeconds = 600
[Oracle.Prices]
ETH = "2000"

[[Engines]]
Name = "collateral-eth"
CollateralCurrency = "ETH"
Currencies = ["sUSD"]
MinCratio = "1.3"
LiquidationPenalty = "0.1"
InteractionDelaySeconds = 300
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.RPCAddress)
	require.Equal(t, "/tmp/synth", cfg.DataDir)
	require.Len(t, cfg.Engines, 1)

	mgr, err := cfg.ManagerParams()
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000000000", mgr.MaxDebt.String())
	require.Equal(t, "5000000000000000", mgr.BaseBorrowRate.String())

	eng, err := cfg.Engines[0].EngineParams()
	require.NoError(t, err)
	require.Equal(t, "collateral-eth", eng.Name)
	require.Equal(t, "1300000000000000000", eng.MinCratio.String())
	require.Equal(t, uint64(300), eng.InteractionDelay)
	require.False(t, eng.Short)
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.NotEmpty(t, cfg.Engines)
	require.NoError(t, cfg.Validate())

	// The written default must load back unchanged.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, reloaded.RPCAddress)
	require.Equal(t, len(cfg.Engines), len(reloaded.Engines))
}

func TestValidateRejectsBadRatio(t *testing.T) {
	body := validConfig
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)

	cfg.Engines[0].MinCratio = "0.9"
	require.ErrorContains(t, cfg.Validate(), "MinCratio must exceed 1")

	cfg.Engines[0].MinCratio = "not-a-number"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateEngines(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	cfg.Engines = append(cfg.Engines, cfg.Engines[0])
	require.ErrorContains(t, cfg.Validate(), "duplicate engine name")
}

func TestLoadRejectsUnknownField(t *testing.T) {
	_, err := Load(writeConfig(t, validConfig+"\nBogusField = 1\n"))
	require.ErrorContains(t, err, "unknown field")
}

func TestValidateRequiresEngines(t *testing.T) {
	cfg := &Config{}
	require.ErrorContains(t, cfg.Validate(), "at least one engine")
}

func TestShortEngineNeedsNoCollateralCurrency(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	cfg.Engines = append(cfg.Engines, EngineConfig{
		Name:       "collateral-short",
		Currencies: []string{"sBTC"},
		MinCratio:  "1.2",
		Short:      true,
	})
	require.NoError(t, cfg.Validate())
}

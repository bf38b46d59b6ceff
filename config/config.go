package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"synthchain/native/collateral"
	"synthchain/native/decmath"
)

// Config is the on-disk node configuration. Rates and ratios are decimal
// strings so operators never write 18-decimal integers by hand.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	Environment string `toml:"Environment"`

	Log     LogConfig      `toml:"Log"`
	Oracle  OracleConfig   `toml:"Oracle"`
	Manager ManagerConfig  `toml:"Manager"`
	Engines []EngineConfig `toml:"Engines"`
}

// LogConfig controls the optional rotating file sink. An empty File logs to
// stdout only.
type LogConfig struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// OracleConfig controls price staleness and seeds starting prices.
type OracleConfig struct {
	MaxAgeSeconds uint64            `toml:"MaxAgeSeconds"`
	Prices        map[string]string `toml:"Prices"`
}

// ManagerConfig carries the debt aggregator's governance settings.
type ManagerConfig struct {
	MaxDebt        string `toml:"MaxDebt"`
	BaseBorrowRate string `toml:"BaseBorrowRate"`
	BaseShortRate  string `toml:"BaseShortRate"`
	MaxSkewRate    string `toml:"MaxSkewRate"`
}

// EngineConfig declares one collateral engine.
type EngineConfig struct {
	Name                    string   `toml:"Name"`
	CollateralCurrency      string   `toml:"CollateralCurrency"`
	Currencies              []string `toml:"Currencies"`
	MinCratio               string   `toml:"MinCratio"`
	MinCollateral           string   `toml:"MinCollateral"`
	IssueFeeRate            string   `toml:"IssueFeeRate"`
	LiquidationPenalty      string   `toml:"LiquidationPenalty"`
	ExchangeFeeRate         string   `toml:"ExchangeFeeRate"`
	InteractionDelaySeconds uint64   `toml:"InteractionDelaySeconds"`
	Short                   bool     `toml:"Short"`
}

// Load reads the configuration at path, writing a runnable default file on
// first run.
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
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./synth-data"
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every decimal field parses and the engine set is coherent.
func (c *Config) Validate() error {
	if _, err := parseOptional(c.Manager.MaxDebt); err != nil {
		return fmt.Errorf("Manager.MaxDebt: %w", err)
	}
	for name, field := range map[string]string{
		"Manager.BaseBorrowRate": c.Manager.BaseBorrowRate,
		"Manager.BaseShortRate":  c.Manager.BaseShortRate,
		"Manager.MaxSkewRate":    c.Manager.MaxSkewRate,
	} {
		if _, err := parseOptional(field); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for symbol, price := range c.Oracle.Prices {
		if _, err := parseOptional(price); err != nil {
			return fmt.Errorf("Oracle.Prices[%s]: %w", symbol, err)
		}
	}

	if len(c.Engines) == 0 {
		return fmt.Errorf("at least one engine must be configured")
	}
	seen := make(map[string]struct{}, len(c.Engines))
	for i, engine := range c.Engines {
		if strings.TrimSpace(engine.Name) == "" {
			return fmt.Errorf("Engines[%d]: Name required", i)
		}
		if _, dup := seen[engine.Name]; dup {
			return fmt.Errorf("duplicate engine name %s", engine.Name)
		}
		seen[engine.Name] = struct{}{}
		if !engine.Short && strings.TrimSpace(engine.CollateralCurrency) == "" {
			return fmt.Errorf("engine %s: CollateralCurrency required", engine.Name)
		}
		if len(engine.Currencies) == 0 {
			return fmt.Errorf("engine %s: Currencies required", engine.Name)
		}
		ratio, err := decmath.Parse(engine.MinCratio)
		if err != nil {
			return fmt.Errorf("engine %s MinCratio: %w", engine.Name, err)
		}
		if ratio.Cmp(decmath.Unit) <= 0 {
			return fmt.Errorf("engine %s: MinCratio must exceed 1", engine.Name)
		}
		for name, field := range map[string]string{
			"MinCollateral":      engine.MinCollateral,
			"IssueFeeRate":       engine.IssueFeeRate,
			"LiquidationPenalty": engine.LiquidationPenalty,
			"ExchangeFeeRate":    engine.ExchangeFeeRate,
		} {
			if _, err := parseOptional(field); err != nil {
				return fmt.Errorf("engine %s %s: %w", engine.Name, name, err)
			}
		}
	}
	return nil
}

// ManagerParams converts the decimal strings into engine-ready parameters.
func (c *Config) ManagerParams() (collateral.ManagerParams, error) {
	maxDebt, err := parseOptional(c.Manager.MaxDebt)
	if err != nil {
		return collateral.ManagerParams{}, err
	}
	borrow, err := parseOptional(c.Manager.BaseBorrowRate)
	if err != nil {
		return collateral.ManagerParams{}, err
	}
	short, err := parseOptional(c.Manager.BaseShortRate)
	if err != nil {
		return collateral.ManagerParams{}, err
	}
	skew, err := parseOptional(c.Manager.MaxSkewRate)
	if err != nil {
		return collateral.ManagerParams{}, err
	}
	return collateral.ManagerParams{
		MaxDebt:        maxDebt,
		BaseBorrowRate: borrow,
		BaseShortRate:  short,
		MaxSkewRate:    skew,
	}, nil
}

// EngineParams converts one engine declaration.
func (e *EngineConfig) EngineParams() (collateral.EngineParams, error) {
	ratio, err := decmath.Parse(e.MinCratio)
	if err != nil {
		return collateral.EngineParams{}, err
	}
	minCollateral, err := parseOptional(e.MinCollateral)
	if err != nil {
		return collateral.EngineParams{}, err
	}
	issueFee, err := parseOptional(e.IssueFeeRate)
	if err != nil {
		return collateral.EngineParams{}, err
	}
	penalty, err := parseOptional(e.LiquidationPenalty)
	if err != nil {
		return collateral.EngineParams{}, err
	}
	exchangeFee, err := parseOptional(e.ExchangeFeeRate)
	if err != nil {
		return collateral.EngineParams{}, err
	}
	return collateral.EngineParams{
		Name:               e.Name,
		CollateralCurrency: e.CollateralCurrency,
		Currencies:         append([]string(nil), e.Currencies...),
		MinCratio:          ratio,
		MinCollateral:      minCollateral,
		IssueFeeRate:       issueFee,
		LiquidationPenalty: penalty,
		ExchangeFeeRate:    exchangeFee,
		InteractionDelay:   e.InteractionDelaySeconds,
		Short:              e.Short,
	}, nil
}

func parseOptional(value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return decmath.Parse(value)
}

// createDefault writes and returns a runnable starter configuration.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:  ":8080",
		DataDir:     "./synth-data",
		Environment: "dev",
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Oracle: OracleConfig{
			MaxAgeSeconds: 3600,
			Prices: map[string]string{
				"ETH":  "2000",
				"sBTC": "60000",
			},
		},
		Manager: ManagerConfig{
			MaxDebt:        "50000000",
			BaseBorrowRate: "0.005",
			BaseShortRate:  "0.01",
			MaxSkewRate:    "0.05",
		},
		Engines: []EngineConfig{
			{
				Name:                    "collateral-eth",
				CollateralCurrency:      "ETH",
				Currencies:              []string{"sUSD", "sBTC"},
				MinCratio:               "1.3",
				MinCollateral:           "0.05",
				IssueFeeRate:            "0.001",
				LiquidationPenalty:      "0.1",
				InteractionDelaySeconds: 300,
			},
			{
				Name:                    "collateral-short",
				Currencies:              []string{"sBTC"},
				MinCratio:               "1.2",
				MinCollateral:           "100",
				IssueFeeRate:            "0.001",
				LiquidationPenalty:      "0.1",
				ExchangeFeeRate:         "0.003",
				InteractionDelaySeconds: 300,
				Short:                   true,
			},
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}

package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"vemarket/native/market"
)

// Config is the marketplace daemon configuration.
type Config struct {
	ListenAddress  string   `toml:"ListenAddress"`
	DataDir        string   `toml:"DataDir"`
	NativeAsset    string   `toml:"NativeAsset"`
	LoanAsset      string   `toml:"LoanAsset"`
	AllowedAssets  []string `toml:"AllowedAssets"`
	ModuleAddress  string   `toml:"ModuleAddress"`
	FeeCollector   string   `toml:"FeeCollector"`
	FeeWalletBps   uint32   `toml:"FeeWalletBps"`
	FeeLoanBps     uint32   `toml:"FeeLoanBps"`
	FeeExternalBps uint32   `toml:"FeeExternalBps"`
	Admins         []string `toml:"Admins"`
	PausedModules  []string `toml:"PausedModules"`
}

func defaultConfig() *Config {
	return &Config{
		ListenAddress:  "127.0.0.1:8681",
		DataDir:        "./vemarket-data",
		NativeAsset:    "ETH",
		LoanAsset:      "USDC",
		AllowedAssets:  []string{"USDC", "WETH"},
		FeeWalletBps:   250,
		FeeLoanBps:     250,
		FeeExternalBps: 100,
	}
}

// Load reads the configuration from path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = "127.0.0.1:8681"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./vemarket-data"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks fee caps, addresses and the asset lists. Fee bounds are
// enforced here, once, at configuration time.
func (c *Config) Validate() error {
	if _, err := market.NewFeeTable(c.FeeWalletBps, c.FeeLoanBps, c.FeeExternalBps); err != nil {
		return err
	}
	if len(c.AllowedAssets) == 0 {
		return fmt.Errorf("config: at least one allowed payment asset required")
	}
	for _, raw := range []string{c.ModuleAddress, c.FeeCollector} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := DecodeAddress(raw); err != nil {
			return err
		}
	}
	for _, raw := range c.Admins {
		if _, err := DecodeAddress(raw); err != nil {
			return err
		}
	}
	return nil
}

// FeeTable builds the validated per-route fee table.
func (c *Config) FeeTable() (market.FeeTable, error) {
	return market.NewFeeTable(c.FeeWalletBps, c.FeeLoanBps, c.FeeExternalBps)
}

// DecodeAddress parses a 20-byte hex address, with or without 0x prefix.
func DecodeAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != 20 {
		return addr, fmt.Errorf("config: invalid address %q", raw)
	}
	copy(addr[:], decoded)
	return addr, nil
}

// PauseSet is the administrative pause view assembled from configuration.
type PauseSet map[string]bool

// IsPaused implements the pause view consumed by the module engines.
func (p PauseSet) IsPaused(module string) bool { return p[module] }

// Pauses builds the pause view from the configured module names.
func (c *Config) Pauses() PauseSet {
	set := make(PauseSet, len(c.PausedModules))
	for _, module := range c.PausedModules {
		set[strings.ToLower(strings.TrimSpace(module))] = true
	}
	return set
}

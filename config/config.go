package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"strapt/native/fees"
)

// Config drives the straptd daemon. FeeBps, FeeCollector and Tokens only seed
// the on-disk params on first start; after that the owner-gated setters are
// authoritative.
type Config struct {
	ListenAddress      string   `toml:"ListenAddress"`
	DataDir            string   `toml:"DataDir"`
	Env                string   `toml:"Env"`
	Owner              string   `toml:"Owner"`
	FeeBps             uint32   `toml:"FeeBps"`
	FeeCollector       string   `toml:"FeeCollector"`
	Tokens             []string `toml:"Tokens"`
	RateLimitPerSecond float64  `toml:"RateLimitPerSecond"`
	RateLimitBurst     int      `toml:"RateLimitBurst"`
}

// Load reads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8546"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./straptd-data"
	}
	if cfg.FeeBps == 0 {
		cfg.FeeBps = fees.DefaultFeeBps
	}
	if len(cfg.Tokens) == 0 {
		cfg.Tokens = []string{"USDC", "IDRX"}
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 50
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}
}

func validate(cfg *Config) error {
	if cfg.FeeBps > fees.MaxFeeBps {
		return fmt.Errorf("config: FeeBps %d exceeds maximum %d", cfg.FeeBps, fees.MaxFeeBps)
	}
	if strings.TrimSpace(cfg.Owner) == "" {
		return fmt.Errorf("config: Owner address required")
	}
	if strings.TrimSpace(cfg.FeeCollector) == "" {
		return fmt.Errorf("config: FeeCollector address required")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, fmt.Errorf("config: wrote default config to %s; set Owner and FeeCollector before starting", path)
}

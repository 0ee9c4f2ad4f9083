package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type APIConfig struct {
	Port int    `yaml:"port"`
	Bind string `yaml:"bind"`
}

type ContractConfig struct {
	Name         string   `yaml:"name"`
	Address      string   `yaml:"address"`
	Kind         string   `yaml:"kind"` // "nft" or "token"
	Capabilities []string `yaml:"capabilities"`
}

type ChainConfig struct {
	RPCURL       string           `yaml:"rpc_url"`
	WSURL        string           `yaml:"ws_url"` // optional push connection for live events
	PollInterval time.Duration    `yaml:"poll_interval"`
	Contracts    []ContractConfig `yaml:"contracts"`
}

type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	TTL         time.Duration `yaml:"ttl"`          // generic request cache
	ContractTTL time.Duration `yaml:"contract_ttl"` // contract snapshot cache
}

type CoordinatorConfig struct {
	SyncInterval      time.Duration `yaml:"sync_interval"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

type WalletConfig struct {
	Key      string `yaml:"key"`      // hex-encoded secp256k1 private key
	Treasury string `yaml:"treasury"` // treasury address override
	Multisig bool   `yaml:"multisig"`
}

type StateConfig struct {
	DemoTicker   bool          `yaml:"demo_ticker"` // simulated community metrics, off in production
	TickInterval time.Duration `yaml:"tick_interval"`
}

type TaxConfig struct {
	ProviderKey string `yaml:"provider_key"` // external wiring only, nothing consumes it yet
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	DataDir     string            `yaml:"data_dir"`
	API         APIConfig         `yaml:"api"`
	Chain       ChainConfig       `yaml:"chain"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Cache       CacheConfig       `yaml:"cache"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Wallet      WalletConfig      `yaml:"wallet"`
	State       StateConfig       `yaml:"state"`
	Tax         TaxConfig         `yaml:"tax"`
	Log         LogConfig         `yaml:"log"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".truthd"),
		API: APIConfig{
			Port: 8777,
			Bind: "127.0.0.1",
		},
		Chain: ChainConfig{
			RPCURL:       "https://mainnet.base.org",
			PollInterval: 15 * time.Second,
			Contracts: []ContractConfig{
				{
					Name:    "the-truth",
					Address: "0x8b3E96D1b9BC1F2B7f4a6E9C5d8F0A2C4E6B8d1a",
					Kind:    "nft",
					Capabilities: []string{
						"totalSupply", "maxSupply", "price", "mintingEnabled",
						"balance", "owner", "treasury",
					},
				},
				{
					Name:         "truth-token",
					Address:      "0x2D4f6A8C0E2b4D6F8a0c2E4B6d8F0a2C4e6B8D3c",
					Kind:         "token",
					Capabilities: []string{"totalSupply", "balance"},
				},
			},
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://thetruthnft.com",
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			TTL:         30 * time.Second,
			ContractTTL: 300 * time.Second,
		},
		Coordinator: CoordinatorConfig{
			SyncInterval:      60 * time.Second,
			BroadcastInterval: 30 * time.Second,
		},
		Wallet: WalletConfig{},
		State: StateConfig{
			DemoTicker:   false,
			TickInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file and merges it with defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file — use defaults + env overlay
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand ~ in data_dir
	if len(cfg.DataDir) > 0 && cfg.DataDir[0] == '~' {
		home, _ := os.UserHomeDir()
		cfg.DataDir = filepath.Join(home, cfg.DataDir[1:])
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment variables on top of config values.
func (c *Config) applyEnv() {
	if v := os.Getenv("TRUTHD_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("TRUTHD_RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("TRUTHD_WS_URL"); v != "" {
		c.Chain.WSURL = v
	}
	if v := os.Getenv("TRUTHD_UPSTREAM_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("TRUTHD_WALLET_KEY"); v != "" {
		c.Wallet.Key = v
	}
	if v := os.Getenv("TRUTHD_TREASURY_ADDRESS"); v != "" {
		c.Wallet.Treasury = v
	}
	if v := os.Getenv("TRUTHD_MULTISIG"); v == "true" || v == "1" {
		c.Wallet.Multisig = true
	}
	if v := os.Getenv("TRUTHD_TAX_API_KEY"); v != "" {
		c.Tax.ProviderKey = v
	}
}

// LoadFromBytes parses YAML config from bytes and merges with defaults.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// DBPath returns the full path to the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "truthd.db")
}

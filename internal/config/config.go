package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration.
type Config struct {
	Engine     EngineConfig      `json:"engine" yaml:"engine"`
	Guidelines GuidelinesConfig  `json:"guidelines" yaml:"guidelines"`
	Market     MarketConfig      `json:"market" yaml:"market"`
	Advisor    AdvisorConfig     `json:"advisor" yaml:"advisor"`
	Broker     BrokerConfig      `json:"broker" yaml:"broker"`
	Store      StoreConfig       `json:"store" yaml:"store"`
	API        APIConfig         `json:"api" yaml:"api"`
	Log        LogConfig         `json:"log" yaml:"log"`
	Sectors    map[string]string `json:"sectors,omitempty" yaml:"sectors,omitempty"`
}

// EngineConfig contains cycle and signal generation parameters.
type EngineConfig struct {
	PortfolioID      string  `json:"portfolio_id" yaml:"portfolio_id"`
	InitialCash      float64 `json:"initial_cash" yaml:"initial_cash"`
	CycleInterval    string  `json:"cycle_interval,omitempty" yaml:"cycle_interval,omitempty"` // "" disables the loop
	SnapshotInterval string  `json:"snapshot_interval" yaml:"snapshot_interval"`
	CallTimeout      string  `json:"call_timeout" yaml:"call_timeout"`
	DataMaxAge       string  `json:"data_max_age" yaml:"data_max_age"`
	MaxCandidates    int     `json:"max_candidates" yaml:"max_candidates"`
	MinConfidence    float64 `json:"min_confidence" yaml:"min_confidence"`
	Concurrency      int     `json:"concurrency" yaml:"concurrency"`
}

type GuidelinesConfig struct {
	Path     string `json:"path" yaml:"path"`
	Watch    bool   `json:"watch" yaml:"watch"`
	Debounce string `json:"debounce,omitempty" yaml:"debounce,omitempty"`
}

type MarketConfig struct {
	Provider string `json:"provider" yaml:"provider"` // "yahoo", "rest" or "static"
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey   string `json:"-" yaml:"-"`
	History  int    `json:"history_days,omitempty" yaml:"history_days,omitempty"`
}

type AdvisorConfig struct {
	Provider  string `json:"provider" yaml:"provider"` // "openai" or "offline"
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	APIKey    string `json:"-" yaml:"-"`
}

type BrokerConfig struct {
	Provider    string  `json:"provider" yaml:"provider"` // "sim" or "rest"
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	SlippageBps float64 `json:"slippage_bps" yaml:"slippage_bps"`
	FeePerShare float64 `json:"fee_per_share" yaml:"fee_per_share"`
	MinFee      float64 `json:"min_fee" yaml:"min_fee"`
	Latency     string  `json:"latency,omitempty" yaml:"latency,omitempty"`
	APIKey      string  `json:"-" yaml:"-"`
}

type StoreConfig struct {
	Type   string `json:"type" yaml:"type"` // "sqlite" or "memory"
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type APIConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Environment variables that carry secrets. They never live in the file.
const (
	EnvAdvisorKey = "SWINGTRADER_ADVISOR_API_KEY"
	EnvMarketKey  = "SWINGTRADER_MARKET_API_KEY"
	EnvBrokerKey  = "SWINGTRADER_BROKER_API_KEY"
)

// LoadFromFile loads configuration from a file (YAML, falling back to
// JSON), overlays secrets from the environment and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.LoadSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadSecrets reads a .env file if one exists and copies API keys from
// the environment.
func (c *Config) LoadSecrets(files ...string) {
	_ = godotenv.Load(files...) // a missing .env is normal

	if v := os.Getenv(EnvAdvisorKey); v != "" {
		c.Advisor.APIKey = v
	}
	if v := os.Getenv(EnvMarketKey); v != "" {
		c.Market.APIKey = v
	}
	if v := os.Getenv(EnvBrokerKey); v != "" {
		c.Broker.APIKey = v
	}
}

// SaveToFile saves configuration as YAML or JSON depending on extension.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Engine.PortfolioID == "" {
		return fmt.Errorf("engine.portfolio_id is required")
	}
	if c.Engine.InitialCash <= 0 {
		return fmt.Errorf("engine.initial_cash must be positive")
	}
	if c.Engine.MinConfidence < 0 || c.Engine.MinConfidence > 1 {
		return fmt.Errorf("engine.min_confidence must be between 0 and 1")
	}
	if c.Engine.MaxCandidates <= 0 {
		return fmt.Errorf("engine.max_candidates must be positive")
	}
	if c.Engine.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be positive")
	}
	for name, v := range map[string]string{
		"engine.cycle_interval":    c.Engine.CycleInterval,
		"engine.snapshot_interval": c.Engine.SnapshotInterval,
		"engine.call_timeout":      c.Engine.CallTimeout,
		"engine.data_max_age":      c.Engine.DataMaxAge,
		"guidelines.debounce":      c.Guidelines.Debounce,
		"broker.latency":           c.Broker.Latency,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Guidelines.Path == "" {
		return fmt.Errorf("guidelines.path is required")
	}
	switch c.Market.Provider {
	case "yahoo", "static":
	case "rest":
		if c.Market.BaseURL == "" {
			return fmt.Errorf("market.base_url required for rest provider")
		}
	default:
		return fmt.Errorf("market.provider must be 'yahoo', 'rest' or 'static'")
	}
	switch c.Advisor.Provider {
	case "offline":
	case "openai":
		if c.Advisor.Model == "" {
			return fmt.Errorf("advisor.model required for openai provider")
		}
	default:
		return fmt.Errorf("advisor.provider must be 'openai' or 'offline'")
	}
	switch c.Broker.Provider {
	case "sim":
	case "rest":
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url required for rest provider")
		}
	default:
		return fmt.Errorf("broker.provider must be 'sim' or 'rest'")
	}
	if c.Broker.SlippageBps < 0 || c.Broker.FeePerShare < 0 || c.Broker.MinFee < 0 {
		return fmt.Errorf("broker costs must not be negative")
	}
	if c.Store.Type != "sqlite" && c.Store.Type != "memory" {
		return fmt.Errorf("store.type must be 'sqlite' or 'memory'")
	}
	if c.Store.Type == "sqlite" && c.Store.DBPath == "" {
		return fmt.Errorf("store db_path required for sqlite type")
	}
	return nil
}

func (e EngineConfig) CycleEvery() time.Duration    { return mustDuration(e.CycleInterval) }
func (e EngineConfig) SnapshotEvery() time.Duration { return mustDuration(e.SnapshotInterval) }
func (e EngineConfig) Timeout() time.Duration       { return mustDuration(e.CallTimeout) }
func (e EngineConfig) MaxDataAge() time.Duration    { return mustDuration(e.DataMaxAge) }
func (g GuidelinesConfig) DebounceDelay() time.Duration {
	return mustDuration(g.Debounce)
}
func (b BrokerConfig) LatencyDelay() time.Duration { return mustDuration(b.Latency) }

// Sector returns the configured sector for symbol, or "UNKNOWN".
func (c *Config) Sector(symbol string) string {
	if s, ok := c.Sectors[symbol]; ok && s != "" {
		return s
	}
	return "UNKNOWN"
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q is negative", s)
	}
	return d, nil
}

// mustDuration is only used on validated configs.
func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			PortfolioID:      "main",
			InitialCash:      100000,
			SnapshotInterval: "1h",
			CallTimeout:      "10s",
			DataMaxAge:       "15m",
			MaxCandidates:    10,
			MinConfidence:    0.6,
			Concurrency:      4,
		},
		Guidelines: GuidelinesConfig{
			Path:     "./guidelines.yaml",
			Watch:    true,
			Debounce: "300ms",
		},
		Market: MarketConfig{
			Provider: "yahoo",
			History:  250,
		},
		Advisor: AdvisorConfig{
			Provider:  "offline",
			Model:     "gpt-4o-mini",
			MaxTokens: 1024,
		},
		Broker: BrokerConfig{
			Provider:    "sim",
			SlippageBps: 5,
			FeePerShare: 0.005,
			MinFee:      1,
		},
		Store: StoreConfig{
			Type:   "sqlite",
			DBPath: "./swingtrader.db",
		},
		API: APIConfig{Addr: ":8080"},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

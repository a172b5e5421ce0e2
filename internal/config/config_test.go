package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, 100000.0, cfg.Engine.InitialCash)
	assert.Equal(t, 15*time.Minute, cfg.Engine.MaxDataAge())
	assert.Equal(t, 10*time.Second, cfg.Engine.Timeout())
	assert.Equal(t, time.Duration(0), cfg.Engine.CycleEvery())
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid config", func(*Config) {}, ""},
		{"missing portfolio", func(c *Config) { c.Engine.PortfolioID = "" }, "engine.portfolio_id is required"},
		{"negative cash", func(c *Config) { c.Engine.InitialCash = -1 }, "engine.initial_cash must be positive"},
		{"confidence above one", func(c *Config) { c.Engine.MinConfidence = 1.5 }, "engine.min_confidence"},
		{"bad duration", func(c *Config) { c.Engine.CallTimeout = "soon" }, "engine.call_timeout"},
		{"unknown market", func(c *Config) { c.Market.Provider = "bloomberg" }, "market.provider"},
		{"rest market without url", func(c *Config) { c.Market.Provider = "rest" }, "market.base_url"},
		{"openai without model", func(c *Config) { c.Advisor.Provider = "openai"; c.Advisor.Model = "" }, "advisor.model"},
		{"unknown broker", func(c *Config) { c.Broker.Provider = "ib" }, "broker.provider"},
		{"negative fee", func(c *Config) { c.Broker.MinFee = -1 }, "broker costs"},
		{"sqlite without path", func(c *Config) { c.Store.DBPath = "" }, "store db_path"},
		{"unknown store", func(c *Config) { c.Store.Type = "postgres" }, "store.type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	for _, ext := range []string{".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			cfg := Default()
			cfg.Sectors = map[string]string{"AAPL": "Technology"}
			path := filepath.Join(tmpDir, "test"+ext)

			require.NoError(t, cfg.SaveToFile(path))
			_, err := os.Stat(path)
			require.NoError(t, err)

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)

			assert.Equal(t, cfg.Engine, loaded.Engine)
			assert.Equal(t, cfg.Store, loaded.Store)
			assert.Equal(t, "Technology", loaded.Sector("AAPL"))
			assert.Equal(t, "UNKNOWN", loaded.Sector("ZZZ"))
		})
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  portfolio_id: swing\n  initial_cash: 50000\n  max_candidates: 5\n  concurrency: 2\n  min_confidence: 0.7\n"), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "swing", cfg.Engine.PortfolioID)
	assert.Equal(t, 50000.0, cfg.Engine.InitialCash)
	assert.Equal(t, "sim", cfg.Broker.Provider)
}

func TestSecretsFromEnvironment(t *testing.T) {
	t.Setenv(EnvAdvisorKey, "sk-test")
	t.Setenv(EnvBrokerKey, "bk-test")

	cfg := Default()
	cfg.LoadSecrets(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, "sk-test", cfg.Advisor.APIKey)
	assert.Equal(t, "bk-test", cfg.Broker.APIKey)
	assert.Empty(t, cfg.Market.APIKey)
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)
}

package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/swingtrader/internal/advisor"
	"github.com/rustyeddy/swingtrader/internal/broker"
	"github.com/rustyeddy/swingtrader/internal/config"
	"github.com/rustyeddy/swingtrader/internal/engine"
	"github.com/rustyeddy/swingtrader/internal/guidelines"
	"github.com/rustyeddy/swingtrader/internal/logging"
	"github.com/rustyeddy/swingtrader/internal/market"
	"github.com/rustyeddy/swingtrader/internal/market/rest"
	"github.com/rustyeddy/swingtrader/internal/market/yahoo"
	"github.com/rustyeddy/swingtrader/internal/portfolio"
	"github.com/rustyeddy/swingtrader/internal/risk"
	"github.com/rustyeddy/swingtrader/internal/signals"
	"github.com/rustyeddy/swingtrader/internal/store"
)

// app is every collaborator wired from one config.
type app struct {
	cfg       *config.Config
	log       *logrus.Logger
	repo      store.Repository
	portfolio *portfolio.State
	rules     *guidelines.Store
	engine    *engine.Engine
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, nil)
	if err != nil {
		return nil, err
	}

	repo, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	pf, err := portfolio.Open(ctx, repo, cfg.Engine.PortfolioID, cfg.Engine.InitialCash,
		portfolio.WithLogger(logging.Component(log, "portfolio")))
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("open portfolio: %w", err)
	}

	provider := marketProvider(cfg)
	data := &market.Fetcher{
		Provider: provider,
		Timeout:  cfg.Engine.Timeout(),
		MaxAge:   cfg.Engine.MaxDataAge(),
		Sectors:  cfg.Sector,
	}

	adv, err := newAdvisor(ctx, cfg.Advisor, logging.Component(log, "advisor"))
	if err != nil {
		pf.Close()
		repo.Close()
		return nil, err
	}

	rules := guidelines.NewStore(cfg.Guidelines.Path,
		guidelines.WithLogger(logging.Component(log, "guidelines")),
		guidelines.WithDebounce(cfg.Guidelines.DebounceDelay()))

	gen := signals.New(data, adv, signals.Config{
		MaxCandidates: cfg.Engine.MaxCandidates,
		MinConfidence: cfg.Engine.MinConfidence,
		Concurrency:   cfg.Engine.Concurrency,
		Timeout:       cfg.Engine.Timeout(),
	}, signals.WithLogger(logging.Component(log, "signals")))

	eng := engine.New(engine.Deps{
		Rules:     rules,
		Signals:   gen,
		Risk:      risk.NewValidator(risk.WithLogger(logging.Component(log, "risk"))),
		Portfolio: pf,
		Market:    data,
		Broker:    newBroker(cfg, provider),
	}, engine.Config{
		CycleInterval:    cfg.Engine.CycleEvery(),
		SnapshotInterval: cfg.Engine.SnapshotEvery(),
		CallTimeout:      cfg.Engine.Timeout(),
	}, engine.WithLogger(logging.Component(log, "engine")))

	return &app{
		cfg:       cfg,
		log:       log,
		repo:      repo,
		portfolio: pf,
		rules:     rules,
		engine:    eng,
	}, nil
}

func (a *app) Close() {
	a.portfolio.Close()
	if err := a.repo.Close(); err != nil {
		a.log.WithError(err).Warn("close store")
	}
}

func openStore(cfg config.StoreConfig) (store.Repository, error) {
	if cfg.Type == "memory" {
		return store.NewMemory(), nil
	}
	db, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

type quoteProvider interface {
	market.Provider
	broker.Quoter
}

func marketProvider(cfg *config.Config) quoteProvider {
	switch cfg.Market.Provider {
	case "rest":
		return rest.New(cfg.Market.BaseURL, cfg.Market.APIKey, cfg.Engine.Timeout())
	case "static":
		return market.NewStatic()
	default:
		return yahoo.New(cfg.Market.History)
	}
}

func newAdvisor(ctx context.Context, cfg config.AdvisorConfig, log *logrus.Entry) (advisor.Advisor, error) {
	if cfg.Provider != "openai" {
		return advisor.Offline{}, nil
	}
	adv, err := advisor.NewOpenAI(ctx, advisor.OpenAIConfig{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	}, log)
	if err != nil {
		return nil, err
	}
	return adv, nil
}

func newBroker(cfg *config.Config, quotes broker.Quoter) broker.Broker {
	if cfg.Broker.Provider == "rest" {
		return broker.NewREST(cfg.Broker.BaseURL, cfg.Broker.APIKey, cfg.Engine.Timeout())
	}
	return broker.NewSim(quotes, broker.SimConfig{
		SlippageBps: cfg.Broker.SlippageBps,
		FeePerShare: cfg.Broker.FeePerShare,
		MinFee:      cfg.Broker.MinFee,
		Latency:     cfg.Broker.LatencyDelay(),
	})
}

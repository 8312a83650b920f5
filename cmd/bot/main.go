package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/papertrade/internal/events"
	"github.com/betbot/papertrade/internal/execution"
	"github.com/betbot/papertrade/internal/feed"
	"github.com/betbot/papertrade/internal/journal"
	"github.com/betbot/papertrade/internal/metrics"
	"github.com/betbot/papertrade/internal/strategy"
	"github.com/betbot/papertrade/pkg/config"
	"github.com/betbot/papertrade/pkg/logger"
	"github.com/betbot/papertrade/pkg/persistence"
	"github.com/betbot/papertrade/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	envFile := flag.String("env", "", "optional .env file loaded before the config")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			logrus.Fatalf("load env file %s: %v", *envFile, err)
		}
	} else {
		_ = godotenv.Load() // .env is optional
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		logrus.Fatalf("init logger: %v", err)
	}
	logrus.Infof("starting paper trader: feed=%s strategies=%d cash=%.2f",
		cfg.Feed.Mode, len(cfg.Strategies), cfg.Execution.InitialCash)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := shutdown.NewManager()
	bus := events.NewBus()
	engine := execution.NewEngine(cfg.Execution, bus)

	priceFeed, live := buildFeed(cfg)

	orch := strategy.NewOrchestrator(engine, priceFeed, bus, strategy.WeightedCombiner{}, cfg.EvalInterval.Duration)

	if cfg.Journal.Enabled {
		jnl, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			logrus.Fatalf("open journal: %v", err)
		}
		jnl.Attach(bus)
		mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
			defer wg.Done()
			if err := jnl.Close(); err != nil {
				logrus.Warnf("close journal: %v", err)
			}
		})
	}

	store := openStateStore(cfg, mgr)

	for _, sc := range cfg.Strategies {
		if err := orch.Register(sc.ToStrategyConfig(), newMomentumSignal()); err != nil {
			logrus.Fatalf("register strategy %s: %v", sc.ID, err)
		}
	}
	orch.LoadState(store)
	mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		orch.SaveState(store)
	})

	if cfg.Metrics.Listen != "" {
		if _, err := metrics.StartAsync(ctx, cfg.Metrics.Listen); err != nil {
			logrus.Fatalf("start metrics server: %v", err)
		}
		logrus.Infof("debug server listening on %s", cfg.Metrics.Listen)
	}

	if err := wireContracts(ctx, priceFeed, live, engine, orch); err != nil {
		logrus.Fatalf("wire price feed: %v", err)
	}

	for _, sc := range cfg.Strategies {
		if err := orch.Start(sc.ID); err != nil {
			logrus.Fatalf("start strategy %s: %v", sc.ID, err)
		}
	}
	go orch.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logrus.Infof("received %s, shutting down", sig)

	cancel()
	if live != nil {
		live.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mgr.Shutdown(shutdownCtx)
}

// buildFeed constructs the configured price source. The second return is
// non-nil only in live mode, where the stream needs explicit Start/Stop.
func buildFeed(cfg *config.Config) (feed.Feed, *feed.LiveFeed) {
	if cfg.Feed.Mode == "live" {
		gamma := feed.NewGammaClient(cfg.Feed.GammaURL)
		live := feed.NewLiveFeed(cfg.Feed.WSURL, gamma)
		live.SetMarketLimit(cfg.Feed.MarketLimit)
		return live, live
	}
	logrus.Info("sim feed selected: prices come only from pushed quotes")
	return feed.NewSimFeed(), nil
}

func openStateStore(cfg *config.Config, mgr *shutdown.Manager) persistence.Service {
	if cfg.Persistence.Backend == "badger" {
		svc, err := persistence.OpenBadger(cfg.Persistence.Path)
		if err != nil {
			logrus.Fatalf("open badger state store: %v", err)
		}
		mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
			defer wg.Done()
			if err := svc.Close(); err != nil {
				logrus.Warnf("close badger: %v", err)
			}
		})
		return svc
	}
	return persistence.NewJSONFileService(cfg.Persistence.Path)
}

// wireContracts subscribes the engine's matching pass and the
// orchestrator's bar builder to every discovered contract, and in live
// mode maps contracts to exchange asset ids before starting the stream.
func wireContracts(ctx context.Context, priceFeed feed.Feed, live *feed.LiveFeed, engine *execution.Engine, orch *strategy.Orchestrator) error {
	markets, err := priceFeed.GetAllMarkets(ctx)
	if err != nil {
		return err
	}

	contracts := 0
	for _, m := range markets {
		for i, outcome := range m.Outcomes {
			priceFeed.Subscribe(m.ID, outcome, engine.OnPriceTick)
			priceFeed.Subscribe(m.ID, outcome, orch.OnPriceTick)
			if live != nil && i < len(m.TokenIDs) {
				live.Track(m.ID, outcome, m.TokenIDs[i])
			}
			contracts++
		}
	}
	logrus.Infof("tracking %d contracts across %d markets", contracts, len(markets))

	if live != nil {
		return live.Start(ctx)
	}
	return nil
}

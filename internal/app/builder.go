package app

import (
	"context"
	"fmt"
	"time"

	hmcfg "helmsman/internal/config"
	cfgloader "helmsman/internal/config/loader"
	"helmsman/internal/engine"
	"helmsman/internal/gateway/binance"
	"helmsman/internal/gateway/notifier"
	"helmsman/internal/live"
	"helmsman/internal/logger"
	"helmsman/internal/market"
	"helmsman/internal/policy"
	"helmsman/internal/store"
	"helmsman/internal/store/gormstore"
	livehttp "helmsman/internal/transport/http/live"
)

// AppBuilder 把配置装配成可运行的 App。函数字段留作测试替换点。
type AppBuilder struct {
	cfg *hmcfg.Config

	storeFn    func(string) (store.StateStore, error)
	sourceFn   func(hmcfg.MarketSource) market.Source
	profilesFn func(string) (*cfgloader.ProfileLoader, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *hmcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		storeFn:    buildStateStore,
		sourceFn:   buildMarketSource,
		profilesFn: cfgloader.NewProfileLoader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func WithStateStore(st store.StateStore) AppBuilderOption {
	return func(b *AppBuilder) {
		b.storeFn = func(string) (store.StateStore, error) { return st, nil }
	}
}

func WithMarketSource(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourceFn = func(hmcfg.MarketSource) market.Source { return src }
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	app := &App{cfg: cfg}

	stateStore, err := b.storeFn(cfg.Data.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化状态库失败: %w", err)
	}
	app.closers = append(app.closers, stateStore.Close)

	profiles := b.loadProfiles(cfg.Trading.ProfilesPath)
	tradeNotifier := notifier.NewTradeNotifier(newTelegram(cfg.Notify))

	symbols := cfg.Trading.SymbolsUpper()
	app.Summary = newStartupSummary(cfg, symbols, profiles)

	switch cfg.Trading.Mode {
	case "backtest":
		svc, err := buildBacktestService(cfg, symbols, profiles, newTelegram(cfg.Notify))
		if err != nil {
			return nil, err
		}
		app.backtest = svc
		app.closers = append(app.closers, svc.Close)
		return app, nil
	case "live":
	default:
		return nil, fmt.Errorf("未知运行模式: %s", cfg.Trading.Mode)
	}

	source := b.sourceFn(cfg.Market.ResolveActiveSource())
	app.closers = append(app.closers, source.Close)

	for _, sym := range symbols {
		params := profiles.Resolve(sym)
		eng, err := engine.New(ctx, engine.Config{
			Symbol:         sym,
			InitialBalance: cfg.Trading.InitialBalance,
			Params:         params,
			Store:          stateStore,
			Notifier:       tradeNotifier,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化引擎失败 (%s): %w", sym, err)
		}
		provider, err := buildPolicyProvider(cfg.Policy, sym)
		if err != nil {
			return nil, err
		}
		trader, err := live.NewTrader(live.Config{
			Symbol:     sym,
			Interval:   cfg.Trading.Interval,
			WindowSize: cfg.Trading.WindowSize,
			Lookback:   cfg.Trading.Lookback,
		}, source, provider, eng, stateStore, tradeNotifier)
		if err != nil {
			return nil, err
		}
		app.traders = append(app.traders, trader)
	}

	srv, err := buildHTTPServer(cfg, stateStore, symbols)
	if err != nil {
		return nil, err
	}
	app.httpSrv = srv
	return app, nil
}

// loadProfiles 读取风控画像。文件缺失只降级为内置默认，不阻断启动。
func (b *AppBuilder) loadProfiles(path string) cfgloader.ProfileSnapshot {
	pl, err := b.profilesFn(path)
	if err != nil {
		logger.Warnf("风控画像加载失败，使用内置默认参数: %v", err)
		return cfgloader.ProfileSnapshot{}
	}
	return pl.Snapshot()
}

func buildStateStore(path string) (store.StateStore, error) {
	return gormstore.NewGormStore(path)
}

func buildMarketSource(src hmcfg.MarketSource) market.Source {
	return binance.New(binance.Config{
		RESTBaseURL: src.RESTBaseURL,
		HTTPTimeout: time.Duration(src.TimeoutSeconds) * time.Second,
	})
}

func buildPolicyProvider(cfg hmcfg.PolicyConfig, symbol string) (policy.Provider, error) {
	switch cfg.Mode {
	case "remote":
		return policy.NewRemote(cfg.Endpoint, symbol, time.Duration(cfg.TimeoutSeconds)*time.Second)
	case "ema_cross", "":
		return policy.EMACross{}, nil
	default:
		return nil, fmt.Errorf("未知决策模式: %s", cfg.Mode)
	}
}

func buildHTTPServer(cfg *hmcfg.Config, st store.StateStore, symbols []string) (*livehttp.Server, error) {
	dump, err := cfg.DumpYAML()
	if err != nil {
		logger.Warnf("配置快照序列化失败: %v", err)
		dump = nil
	}
	server, err := livehttp.NewServer(livehttp.ServerConfig{
		Addr:       cfg.App.HTTPAddr,
		Store:      st,
		Symbols:    symbols,
		ConfigYAML: dump,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}
	logger.Infof("✓ HTTP 接口监听 %s", server.Addr())
	return server, nil
}

func newTelegram(cfg hmcfg.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return nil
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

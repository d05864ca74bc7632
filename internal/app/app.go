package app

import (
	"context"
	"fmt"

	hmcfg "helmsman/internal/config"
	"helmsman/internal/live"
	"helmsman/internal/logger"
	livehttp "helmsman/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→按模式启动实盘或回测。
type App struct {
	cfg      *hmcfg.Config
	traders  []*live.Trader
	backtest *backtestService
	httpSrv  *livehttp.Server
	closers  []func() error
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *hmcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 按 trading.mode 启动。实盘模式下 HTTP 与各标的轮询并行，
// 任一出错整体退出；回测模式跑完即返回。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.closeAll()

	if a.Summary != nil {
		a.Summary.Print()
	}

	if a.backtest != nil {
		return a.backtest.Run(ctx)
	}
	if len(a.traders) == 0 {
		return fmt.Errorf("no traders initialized")
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	for _, tr := range a.traders {
		tr := tr
		group.Go(func() error {
			return tr.Run(ctx)
		})
	}
	return group.Wait()
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warnf("close resource failed: %v", err)
		}
	}
}

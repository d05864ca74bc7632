package app

import (
	"context"
	"fmt"

	"helmsman/internal/backtest"
	hmcfg "helmsman/internal/config"
	cfgloader "helmsman/internal/config/loader"
	"helmsman/internal/gateway/notifier"
	"helmsman/internal/logger"
)

// backtestService 把回放跑成一个一次性任务：可选导入 CSV，
// 然后逐标的推演并落地报告。引擎不接状态库，保证每次回放从零开始。
type backtestService struct {
	cfg      *hmcfg.Config
	symbols  []string
	profiles cfgloader.ProfileSnapshot
	sink     notifier.TextNotifier
	candles  *backtest.CandleStore
}

func buildBacktestService(cfg *hmcfg.Config, symbols []string, profiles cfgloader.ProfileSnapshot, sink notifier.TextNotifier) (*backtestService, error) {
	cs, err := backtest.NewCandleStore(cfg.Data.CandleDBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线库失败: %w", err)
	}
	return &backtestService{
		cfg:      cfg,
		symbols:  symbols,
		profiles: profiles,
		sink:     sink,
		candles:  cs,
	}, nil
}

func (s *backtestService) Run(ctx context.Context) error {
	interval := s.cfg.Trading.Interval

	if path := s.cfg.Backtest.CSVPath; path != "" {
		if len(s.symbols) != 1 {
			return fmt.Errorf("backtest.csv_path 只支持单一标的，当前配置了 %d 个", len(s.symbols))
		}
		n, err := s.candles.ImportCSV(ctx, s.symbols[0], interval, path)
		if err != nil {
			return fmt.Errorf("导入 CSV 失败: %w", err)
		}
		logger.Infof("CSV 导入完成: %s %s 共 %d 根", s.symbols[0], interval, n)
	}

	for _, sym := range s.symbols {
		candles, err := s.candles.LoadCandles(ctx, sym, interval)
		if err != nil {
			return fmt.Errorf("读取 K 线失败 (%s): %w", sym, err)
		}
		provider, err := buildPolicyProvider(s.cfg.Policy, sym)
		if err != nil {
			return err
		}
		runner, err := backtest.NewRunner(backtest.RunConfig{
			Symbol:         sym,
			Interval:       interval,
			InitialBalance: s.cfg.Trading.InitialBalance,
			WindowSize:     s.cfg.Trading.WindowSize,
			Params:         s.profiles.Resolve(sym),
			ReportDir:      s.cfg.Data.ReportDir,
		}, provider, nil, s.sink)
		if err != nil {
			return err
		}
		stats, err := runner.Run(ctx, candles)
		if err != nil {
			return err
		}
		logger.Infof("回测完成 %s: run=%s pnl=%.2f (%.2f%%) trades=%d winrate=%.1f%% maxDD=%.2f%% report=%s",
			sym, stats.RunID, stats.Profit, stats.ReturnPct*100, stats.Trades,
			stats.WinRate*100, stats.MaxDrawdownPct*100, stats.ReportPath)
	}
	return nil
}

func (s *backtestService) Close() error {
	return s.candles.Close()
}

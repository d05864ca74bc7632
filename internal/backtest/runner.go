package backtest

import (
	"context"
	"fmt"
	"strings"

	"helmsman/internal/engine"
	"helmsman/internal/gateway/notifier"
	"helmsman/internal/logger"
	"helmsman/internal/market"
	"helmsman/internal/policy"
	"helmsman/internal/store"

	"github.com/google/uuid"
)

// RunConfig 描述一次回放推演。
type RunConfig struct {
	Symbol         string
	Interval       string
	InitialBalance float64
	WindowSize     int
	Params         engine.RiskParams
	ReportDir      string // 为空则不落地权益曲线报告
}

// RunStats 是一次回放的汇总结果。
type RunStats struct {
	RunID          string
	Symbol         string
	InitialBalance float64
	FinalNetWorth  float64
	Profit         float64
	ReturnPct      float64
	Trades         int
	Wins           int
	Losses         int
	WinRate        float64
	MaxDrawdownPct float64
	Steps          int
	SkippedSteps   int
	TotalReward    float64
	ReportPath     string
}

// Runner 把历史 K 线 + 决策方推演成资金曲线。回放与实盘共用同一个
// 引擎 Step 入口与观测组装路径，这里只负责喂数据和收结果。
type Runner struct {
	cfg      RunConfig
	provider policy.Provider
	store    store.StateStore      // 可为 nil：纯推演不落库
	notify   notifier.TextNotifier // 可为 nil：完成后不推送
}

func NewRunner(cfg RunConfig, provider policy.Provider, st store.StateStore, sink notifier.TextNotifier) (*Runner, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("backtest: symbol 不能为空")
	}
	if provider == nil {
		return nil, fmt.Errorf("backtest: 决策方不能为空")
	}
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10000
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = engine.DefaultWindowSize
	}
	return &Runner{cfg: cfg, provider: provider, store: st, notify: sink}, nil
}

// Run 对给定 K 线序列做一次完整回合。前 warmup 根只用来坐满指标
// 与观测窗口，不产生任何一步推演。
func (r *Runner) Run(ctx context.Context, candles []market.Candle) (RunStats, error) {
	stats := RunStats{
		RunID:          uuid.NewString(),
		Symbol:         strings.ToUpper(r.cfg.Symbol),
		InitialBalance: r.cfg.InitialBalance,
	}
	warmup := market.LongestLookback
	if r.cfg.WindowSize > warmup {
		warmup = r.cfg.WindowSize
	}
	if len(candles) <= warmup+1 {
		return stats, fmt.Errorf("backtest %s: 数据不足，%d 根 K 线至少需要 %d", stats.Symbol, len(candles), warmup+2)
	}

	eng, err := engine.New(ctx, engine.Config{
		Symbol:         stats.Symbol,
		InitialBalance: r.cfg.InitialBalance,
		Params:         r.cfg.Params,
		Store:          r.store,
	})
	if err != nil {
		return stats, err
	}

	bars := market.Enrich(candles)
	equity := make([]equityPoint, 0, len(bars)-warmup)
	peak := r.cfg.InitialBalance

	for i := warmup; i < len(bars); i++ {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}
		bar := bars[i]
		obs, err := engine.BuildObservation(bars[:i+1], eng.AccountView(bar.Close), r.cfg.WindowSize)
		if err != nil {
			// 数据不足：跳过该步，引擎状态保持不动。
			stats.SkippedSteps++
			continue
		}
		proposed, err := r.provider.Decide(ctx, obs)
		if err != nil {
			logger.Warnf("[backtest %s] 决策失败，按 HOLD 处理: %v", stats.Symbol, err)
			proposed = engine.Hold
		}
		res := eng.Step(ctx, proposed, bar)
		stats.Steps++
		stats.TotalReward += res.Reward

		if res.NetWorth > peak {
			peak = res.NetWorth
		}
		if peak > 0 {
			if dd := (peak - res.NetWorth) / peak; dd > stats.MaxDrawdownPct {
				stats.MaxDrawdownPct = dd
			}
		}
		equity = append(equity, equityPoint{TS: bar.CloseTime, NetWorth: res.NetWorth})

		if res.Done {
			logger.Warnf("[backtest %s] 资金保护熔断触发，回合提前结束于第 %d 步", stats.Symbol, stats.Steps)
			break
		}
	}

	stats.TotalReward += eng.Finish()
	acct := eng.Account()
	last := bars[len(bars)-1]
	stats.FinalNetWorth = acct.NetWorth(last.Close)
	stats.Profit = stats.FinalNetWorth - stats.InitialBalance
	stats.ReturnPct = stats.Profit / stats.InitialBalance
	stats.Trades = acct.TotalTrades
	stats.Wins = acct.Wins
	stats.Losses = acct.Losses
	if acct.Wins+acct.Losses > 0 {
		stats.WinRate = float64(acct.Wins) / float64(acct.Wins+acct.Losses)
	}

	if r.cfg.ReportDir != "" {
		path, err := writeEquityReport(r.cfg.ReportDir, stats, equity)
		if err != nil {
			logger.Warnf("[backtest %s] 权益曲线报告写入失败: %v", stats.Symbol, err)
		} else {
			stats.ReportPath = path
		}
	}
	r.notifyDone(stats)
	return stats, nil
}

func (r *Runner) notifyDone(stats RunStats) {
	if r.notify == nil {
		return
	}
	msg := fmt.Sprintf("*回测完成* ✅\n```\nid      : %s\nsymbol  : %s\npnl     : %.2f (%.2f%%)\nwinrate : %.2f%% (%d/%d)\nmaxDD   : %.2f%%\nfinal   : %.2f\n```\n",
		stats.RunID, stats.Symbol, stats.Profit, stats.ReturnPct*100,
		stats.WinRate*100, stats.Wins, stats.Wins+stats.Losses, stats.MaxDrawdownPct*100, stats.FinalNetWorth)
	if err := r.notify.SendText(msg); err != nil {
		logger.Warnf("回测通知失败: %v", err)
	}
}

type equityPoint struct {
	TS       int64
	NetWorth float64
}

package live

import (
	"context"
	"fmt"
	"strings"
	"time"

	"helmsman/internal/engine"
	"helmsman/internal/gateway/notifier"
	"helmsman/internal/logger"
	"helmsman/internal/market"
	"helmsman/internal/policy"
	"helmsman/internal/scheduler"
	"helmsman/internal/store"
)

const (
	// 默认回看长度要同时覆盖最长指标周期与观测窗口。
	defaultLookback = market.LongestLookback + engine.DefaultWindowSize
	defaultOffset   = 5 * time.Second
)

// Config 描述一个交易对的实盘轮询参数。
type Config struct {
	Symbol     string
	Interval   string
	WindowSize int
	Lookback   int
	PollOffset time.Duration
}

func (c Config) withDefaults() Config {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if c.Interval == "" {
		c.Interval = "1h"
	}
	if c.WindowSize <= 0 {
		c.WindowSize = engine.DefaultWindowSize
	}
	if c.Lookback < c.WindowSize+market.LongestLookback {
		c.Lookback = defaultLookback
		if c.WindowSize+market.LongestLookback > c.Lookback {
			c.Lookback = c.WindowSize + market.LongestLookback
		}
	}
	if c.PollOffset <= 0 {
		c.PollOffset = defaultOffset
	}
	return c
}

// Trader 按 K 线收盘节奏轮询行情并驱动风控引擎走一步。
// 与回放共用同一个 Step 入口和观测组装路径。
type Trader struct {
	cfg      Config
	source   market.Source
	provider policy.Provider
	eng      *engine.PositionRiskEngine
	store    store.StateStore
	notify   *notifier.TradeNotifier

	lastCloseTime int64
	lastDate      string
	winsAtOpen    int
	lossesAtOpen  int
	tradesAtOpen  int
	halted        bool
}

func NewTrader(cfg Config, src market.Source, provider policy.Provider, eng *engine.PositionRiskEngine, st store.StateStore, notify *notifier.TradeNotifier) (*Trader, error) {
	cfg = cfg.withDefaults()
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("live: symbol 不能为空")
	}
	if src == nil || provider == nil || eng == nil {
		return nil, fmt.Errorf("live %s: source/provider/engine 均不可为 nil", cfg.Symbol)
	}
	if _, ok := scheduler.ParseIntervalDuration(cfg.Interval); !ok {
		return nil, fmt.Errorf("live %s: 无法识别的周期 %q", cfg.Symbol, cfg.Interval)
	}
	return &Trader{
		cfg:      cfg,
		source:   src,
		provider: provider,
		eng:      eng,
		store:    st,
		notify:   notify,
	}, nil
}

// Run 阻塞运行直到 ctx 取消或资金保护熔断。退出前尽力保存一次快照。
func (t *Trader) Run(ctx context.Context) error {
	dur, _ := scheduler.ParseIntervalDuration(t.cfg.Interval)
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.NewAlignedScheduler(loopCtx, dur, t.cfg.PollOffset)
	sched.Name = t.cfg.Symbol
	sched.RunImmediately = true
	sched.Start(func() {
		if err := t.poll(loopCtx); err != nil {
			logger.Warnf("[live %s] 本轮跳过: %v", t.cfg.Symbol, err)
		}
		if t.halted {
			cancel()
		}
	})

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer saveCancel()
	if err := t.eng.SaveNow(saveCtx); err != nil {
		logger.Errorf("[live %s] 退出时保存快照失败: %v", t.cfg.Symbol, err)
	}
	if t.halted {
		return fmt.Errorf("live %s: 资金保护熔断，交易停止", t.cfg.Symbol)
	}
	return ctx.Err()
}

// poll 执行一轮：拉历史、富化、组观测、询问决策方、走一步。
// 任何数据不足都整轮跳过，引擎状态保持不动。
func (t *Trader) poll(ctx context.Context) error {
	candles, err := t.source.FetchHistory(ctx, t.cfg.Symbol, t.cfg.Interval, t.cfg.Lookback)
	if err != nil {
		return fmt.Errorf("拉取历史失败: %w", err)
	}
	warmup := market.LongestLookback
	if t.cfg.WindowSize > warmup {
		warmup = t.cfg.WindowSize
	}
	if len(candles) <= warmup {
		return fmt.Errorf("K 线不足: %d 根，至少需要 %d", len(candles), warmup+1)
	}

	bars := market.Enrich(candles)
	bar := bars[len(bars)-1]
	if bar.CloseTime <= t.lastCloseTime {
		logger.Debugf("[live %s] K 线未前进 (close_time=%d)，跳过", t.cfg.Symbol, bar.CloseTime)
		return nil
	}

	t.maybeRollover(ctx, bar)

	obs, err := engine.BuildObservation(bars, t.eng.AccountView(bar.Close), t.cfg.WindowSize)
	if err != nil {
		return fmt.Errorf("观测组装失败: %w", err)
	}
	proposed, err := t.provider.Decide(ctx, obs)
	if err != nil {
		logger.Warnf("[live %s] 决策失败，按 HOLD 处理: %v", t.cfg.Symbol, err)
		proposed = engine.Hold
	}

	res := t.eng.Step(ctx, proposed, bar)
	t.lastCloseTime = bar.CloseTime

	logger.Infof("[live %s] close=%.4f proposed=%s final=%s executed=%v forced=%s reward=%.4f net=%.2f",
		t.cfg.Symbol, bar.Close, proposed, res.FinalAction, res.Executed, res.ForcedBy, res.Reward, res.NetWorth)
	if res.PersistErr != nil {
		logger.Errorf("[live %s] 状态落库失败，等待下轮重试: %v", t.cfg.Symbol, res.PersistErr)
	}
	if res.Done {
		logger.Errorf("[live %s] 净值跌破初始资金一半，触发熔断", t.cfg.Symbol)
		t.halted = true
	}
	return nil
}

// maybeRollover 在 K 线日期跨天时结算上一交易日：落日结流水并推送。
// 必须在 Step 之前调用，否则回撤护栏会先把当日统计清掉。
func (t *Trader) maybeRollover(ctx context.Context, bar market.Bar) {
	date := bar.Date()
	if t.lastDate == "" {
		t.lastDate = date
		t.resetDayCounters()
		return
	}
	if date == t.lastDate {
		return
	}

	stats := t.eng.Guard().Stats()
	acct := t.eng.Account()
	sum := store.DailySummary{
		Date:            t.lastDate,
		Symbol:          t.cfg.Symbol,
		StartingBalance: stats.StartingBalance,
		EndingBalance:   acct.Balance,
		TotalTrades:     acct.TotalTrades - t.tradesAtOpen,
		Wins:            acct.Wins - t.winsAtOpen,
		Losses:          acct.Losses - t.lossesAtOpen,
		TotalPnL:        stats.PnLToday,
	}
	if stats.MaxEquity > 0 && stats.MinEquity < stats.MaxEquity {
		sum.MaxDrawdownPct = (stats.MaxEquity - stats.MinEquity) / stats.MaxEquity
	}
	if t.store != nil {
		if err := t.store.SaveDailySummary(ctx, sum); err != nil {
			logger.Errorf("[live %s] 日结落库失败: %v", t.cfg.Symbol, err)
		}
	}
	if t.notify != nil {
		t.notify.NotifyDailySummary(t.cfg.Symbol, acct.Balance, sum.TotalTrades, sum.Wins, sum.Losses, sum.TotalPnL)
	}
	logger.Infof("[live %s] 交易日 %s 结束: trades=%d wins=%d losses=%d pnl=%.2f",
		t.cfg.Symbol, t.lastDate, sum.TotalTrades, sum.Wins, sum.Losses, sum.TotalPnL)

	t.lastDate = date
	t.resetDayCounters()
}

func (t *Trader) resetDayCounters() {
	acct := t.eng.Account()
	t.winsAtOpen = acct.Wins
	t.lossesAtOpen = acct.Losses
	t.tradesAtOpen = acct.TotalTrades
}

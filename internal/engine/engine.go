package engine

import (
	"context"
	"fmt"
	"time"

	"helmsman/internal/logger"
	"helmsman/internal/market"
	"helmsman/internal/store"
)

// 奖励整形常量，只进训练信号，从不反过来影响强制动作阶梯。
const (
	cooldownPenalty    = 0.05
	stopLossPenalty    = 0.1
	trailingBonus      = 0.05
	takeProfitBonus    = 0.1
	trendBonus         = 0.02
	underwaterPenalty  = 0.01
	invalidPenalty     = 0.1
	closeBonus         = 0.05
	tradeTax           = 0.01
	idlePenaltyBase    = 0.01
	idlePenaltyExtreme = 0.005
	idleStepsBase      = 96
	idleStepsExtreme   = 150
	ddPenaltyThreshold = 0.10
	ddPenaltyScale     = 0.5
	terminalBonus      = 10.0
	ruinReward         = -100.0
	ruinFraction       = 0.5
	returnScale        = 100.0
)

// RiskParams 是单资产的不可变风控配置。
type RiskParams struct {
	CooldownSteps         int
	StopLossPct           float64
	TrailingTriggerPct    float64
	TrailingDropPct       float64
	TakeProfitPct         float64 // 0 表示关闭止盈
	RiskAversion          float64
	EMAPenalty            float64
	VolPenalty            float64
	PositionSizePct       float64
	CommissionPct         float64
	DailyDrawdownLimitPct float64
	MinTradeUSD           float64
	MinBandWidth          float64
}

// Validate 在构造期拒绝非法配置，而不是运行中悄悄修正。
func (p RiskParams) Validate() error {
	if p.CooldownSteps <= 0 {
		return fmt.Errorf("cooldown_steps must be positive, got %d", p.CooldownSteps)
	}
	for name, v := range map[string]float64{
		"stop_loss_pct":            p.StopLossPct,
		"trailing_trigger_pct":     p.TrailingTriggerPct,
		"trailing_drop_pct":        p.TrailingDropPct,
		"take_profit_pct":          p.TakeProfitPct,
		"risk_aversion":            p.RiskAversion,
		"ema_penalty":              p.EMAPenalty,
		"vol_penalty":              p.VolPenalty,
		"commission_pct":           p.CommissionPct,
		"daily_drawdown_limit_pct": p.DailyDrawdownLimitPct,
		"min_trade_usd":            p.MinTradeUSD,
		"min_band_width":           p.MinBandWidth,
	} {
		if v < 0 {
			return fmt.Errorf("%s cannot be negative, got %v", name, v)
		}
	}
	if p.PositionSizePct <= 0 || p.PositionSizePct > 1 {
		return fmt.Errorf("position_size_pct must be in (0,1], got %v", p.PositionSizePct)
	}
	return nil
}

// DefaultRiskParams 返回基线风控参数；每资产的覆盖值只来自配置。
func DefaultRiskParams() RiskParams {
	return RiskParams{
		CooldownSteps:         8,
		StopLossPct:           0.02,
		TrailingTriggerPct:    0.03,
		TrailingDropPct:       0.015,
		TakeProfitPct:         0,
		RiskAversion:          2.5,
		EMAPenalty:            0.05,
		VolPenalty:            0.05,
		PositionSizePct:       0.40,
		CommissionPct:         0.0005,
		DailyDrawdownLimitPct: 0.05,
		MinTradeUSD:           10,
		MinBandWidth:          0.01,
	}
}

// AccountState 是引擎独占的账户簿记，每个 symbol 一份，不跨实例共享。
type AccountState struct {
	Balance             float64
	Position            float64 // 0 表示空仓
	EntryPrice          float64 // 仅在持仓时有效
	PeakPriceSinceEntry float64
	CooldownRemaining   int
	Wins                int
	Losses              int
	TotalTrades         int
}

// NetWorth 返回 balance + position*price。
func (a AccountState) NetWorth(price float64) float64 {
	return a.Balance + a.Position*price
}

// TradeNotifier 在成交与强平时被调用；发送失败不允许中断簿记。
type TradeNotifier interface {
	NotifyBuy(symbol string, price, balance float64)
	NotifySell(symbol string, entryPrice, exitPrice, pnlPct, pnlUSD, balance float64)
	NotifyStopLoss(symbol string, price, pnlPct float64)
	NotifyTakeProfit(symbol string, price, pnlPct float64)
}

// StepResult 是一步推演的产物。Reward 只是训练信号，在强制动作
// 裁决完成之后才计算。
type StepResult struct {
	FinalAction Action
	Executed    bool
	Reward      float64
	Done        bool
	ForcedBy    string // "", "cooldown", "drawdown_lock", "stop_loss", "trailing_stop", "take_profit"
	Account     AccountState
	NetWorth    float64
	PersistErr  error
}

// Config 组装一个 PositionRiskEngine 实例。Store 与 Notifier 可为 nil
// （纯训练回放不落库、不推送）。
type Config struct {
	Symbol         string
	InitialBalance float64
	Params         RiskParams
	Store          store.StateStore
	Notifier       TradeNotifier
}

// PositionRiskEngine 持有账户状态，套用强制动作阶梯，执行模拟成交
// 并计算奖励。单线程同步 step；回放与实盘驱动共用同一入口。
type PositionRiskEngine struct {
	symbol   string
	params   RiskParams
	acct     AccountState
	guard    *DrawdownGuard
	store    store.StateStore
	notifier TradeNotifier

	initialBalance  float64
	prevNetWorth    float64
	maxNetWorth     float64
	stepsSinceTrade int
	entryTime       time.Time
	done            bool
	unsaved         bool
}

// New 构造引擎并尝试按 symbol 恢复上次快照。观测窗口不恢复，
// 必须由驱动方用新历史重新预热。
func New(ctx context.Context, cfg Config) (*PositionRiskEngine, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("engine: symbol is required")
	}
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("engine: initial balance must be positive")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("engine %s: %w", cfg.Symbol, err)
	}
	e := &PositionRiskEngine{
		symbol:         cfg.Symbol,
		params:         cfg.Params,
		store:          cfg.Store,
		notifier:       cfg.Notifier,
		initialBalance: cfg.InitialBalance,
	}
	e.acct = AccountState{Balance: cfg.InitialBalance}
	e.guard = NewDrawdownGuard(cfg.Params.DailyDrawdownLimitPct)
	if cfg.Store != nil {
		snap, ok, err := cfg.Store.LoadState(ctx, cfg.Symbol)
		if err != nil {
			return nil, fmt.Errorf("engine %s: restore state: %w", cfg.Symbol, err)
		}
		if ok {
			e.acct.Balance = snap.Balance
			e.acct.Position = snap.Position
			e.acct.EntryPrice = snap.EntryPrice
			e.acct.Wins = snap.Wins
			e.acct.Losses = snap.Losses
			if snap.Position > 0 {
				e.acct.PeakPriceSinceEntry = snap.EntryPrice
			}
			logger.Infof("[%s] state restored: balance=%.2f position=%.6f w/l=%d/%d",
				cfg.Symbol, snap.Balance, snap.Position, snap.Wins, snap.Losses)
		}
	}
	e.prevNetWorth = e.acct.Balance + e.acct.Position*e.acct.EntryPrice
	if e.prevNetWorth <= 0 {
		e.prevNetWorth = cfg.InitialBalance
	}
	e.maxNetWorth = e.prevNetWorth
	return e, nil
}

func (e *PositionRiskEngine) Symbol() string { return e.symbol }

func (e *PositionRiskEngine) Account() AccountState { return e.acct }

func (e *PositionRiskEngine) Guard() *DrawdownGuard { return e.guard }

// Unsaved 表示上一次持久化写入失败，状态只存在于内存中。
func (e *PositionRiskEngine) Unsaved() bool { return e.unsaved }

// AccountView 组装观测矩阵所需的账户切面。
func (e *PositionRiskEngine) AccountView(price float64) AccountView {
	return AccountView{
		Balance:        e.acct.Balance,
		InitialBalance: e.initialBalance,
		PositionValue:  e.acct.Position * price,
		NetWorth:       e.acct.NetWorth(price),
	}
}

// Step 推演一步。裁决顺序即优先级：冷却 → 日内回撤锁 → 止损阶梯 →
// 趋势过滤 → 波动过滤 → 执行 → 簿记 → 奖励合成。奖励在机械动作
// 定案之后才累加，绝不反馈进前面的裁决。
func (e *PositionRiskEngine) Step(ctx context.Context, proposed Action, bar market.Bar) StepResult {
	price := bar.Close
	date := bar.Date()
	final := normalize(proposed)
	res := StepResult{FinalAction: final}

	var shaped, penalty float64
	cooldownAtEntry := e.acct.CooldownRemaining

	// 日内回撤守卫先看到本步的权益。
	e.guard.Observe(date, e.acct.Balance, e.acct.NetWorth(price))

	// 1. 冷却期：空仓期间刚卖出不久的 BUY 直接压成 HOLD。
	if final == Buy && e.acct.Position == 0 && e.acct.CooldownRemaining > 0 {
		final = Hold
		res.ForcedBy = "cooldown"
		penalty -= cooldownPenalty
	}

	// 2. 日内回撤锁：锁上后当天不再允许建仓。
	if final == Buy && e.guard.Locked() {
		final = Hold
		res.ForcedBy = "drawdown_lock"
	}

	// 3. 持仓风控阶梯，硬止损优先于追踪止损与止盈。
	if e.acct.Position > 0 && e.acct.EntryPrice > 0 {
		if price > e.acct.PeakPriceSinceEntry {
			e.acct.PeakPriceSinceEntry = price
		}
		unrealized := (price - e.acct.EntryPrice) / e.acct.EntryPrice
		peakDrop := 0.0
		if e.acct.PeakPriceSinceEntry > 0 {
			peakDrop = (e.acct.PeakPriceSinceEntry - price) / e.acct.PeakPriceSinceEntry
		}
		switch {
		case decimalLTE(unrealized, -e.params.StopLossPct):
			final = Sell
			res.ForcedBy = "stop_loss"
			penalty -= stopLossPenalty
		case decimalGTE(unrealized, e.params.TrailingTriggerPct) && decimalGTE(peakDrop, e.params.TrailingDropPct):
			final = Sell
			res.ForcedBy = "trailing_stop"
			shaped += trailingBonus
		case e.params.TakeProfitPct > 0 && decimalGTE(unrealized, e.params.TakeProfitPct):
			final = Sell
			res.ForcedBy = "take_profit"
			shaped += takeProfitBonus
		}
	}

	// 4. 长周期趋势过滤（EMA 未坐满时不参与）。
	if bar.TrendReady() {
		bull := price > bar.EMA200
		if final == Buy {
			if bull {
				shaped += trendBonus
			} else {
				shaped -= e.params.EMAPenalty
			}
		} else if e.acct.Position > 0 && !bull {
			shaped -= underwaterPenalty
		}
	}

	// 5. 波动过滤：带宽过窄的平盘里进出都要挨罚。
	if bw := bar.BandWidth(); bw > 0 && bw < e.params.MinBandWidth && (final == Buy || final == Sell) {
		shaped -= e.params.VolPenalty
	}

	// 6. 执行。非法动作不改状态，只出惩罚信号。
	executed := false
	invalid := 0.0
	barTime := time.UnixMilli(bar.CloseTime)
	switch final {
	case Buy:
		if e.acct.Balance > e.params.MinTradeUSD && price > 0 {
			e.executeBuy(ctx, price, barTime, &res)
			executed = true
		} else {
			invalid = -invalidPenalty
		}
	case Sell:
		if e.acct.Position > 0 {
			shaped += closeBonus
			e.executeSell(ctx, price, barTime, res.ForcedBy, &res)
			executed = true
		} else {
			invalid = -invalidPenalty
		}
	}

	// 7. 簿记：过度交易税与闲置计数。
	if executed {
		shaped -= tradeTax
		e.stepsSinceTrade = 0
	} else {
		e.stepsSinceTrade++
	}
	// 冷却按"先判定后递减"推进；本步刚卖出设置的冷却值不动。
	if cooldownAtEntry > 0 {
		e.acct.CooldownRemaining--
	}

	// 8. 奖励合成：净值增量 ×100，亏损再乘风险厌恶系数。
	newNetWorth := e.acct.NetWorth(price)
	if e.prevNetWorth > 0 {
		stepReturn := (newNetWorth - e.prevNetWorth) / e.prevNetWorth
		if stepReturn < 0 {
			shaped += stepReturn * e.params.RiskAversion * returnScale
		} else {
			shaped += stepReturn * returnScale
		}
	}
	shaped += penalty + invalid

	// 两档闲置惩罚是累加关系，不互斥。
	if e.acct.Position == 0 && e.stepsSinceTrade > idleStepsBase {
		shaped -= idlePenaltyBase
	}
	if e.acct.Position == 0 && e.stepsSinceTrade > idleStepsExtreme {
		shaped -= idlePenaltyExtreme
	}

	if newNetWorth > e.maxNetWorth {
		e.maxNetWorth = newNetWorth
	}
	if e.maxNetWorth > 0 {
		if dd := (e.maxNetWorth - newNetWorth) / e.maxNetWorth; dd > ddPenaltyThreshold {
			shaped -= dd * ddPenaltyScale
		}
	}

	e.prevNetWorth = newNetWorth
	e.guard.Observe(date, e.acct.Balance, newNetWorth)

	// 资金保护熔断：净值跌破一半直接终局，奖励被固定覆盖。
	if newNetWorth <= e.initialBalance*ruinFraction {
		e.done = true
		shaped = ruinReward
	}

	res.FinalAction = final
	res.Executed = executed
	res.Reward = shaped
	res.Done = e.done
	res.Account = e.acct
	res.NetWorth = newNetWorth
	return res
}

// Finish 结束一个回放回合，净值为正时返回终局奖励。
func (e *PositionRiskEngine) Finish() float64 {
	e.done = true
	if e.prevNetWorth > e.initialBalance {
		return terminalBonus
	}
	return 0
}

func (e *PositionRiskEngine) executeBuy(ctx context.Context, price float64, at time.Time, res *StepResult) {
	invest := e.acct.Balance * e.params.PositionSizePct
	if invest < e.params.MinTradeUSD {
		invest = e.acct.Balance
	}
	shares := (invest / price) * (1 - e.params.CommissionPct)

	// 加仓时按成交量加权滚动均价。
	wasFlat := e.acct.Position == 0
	prevValue := e.acct.Position * e.acct.EntryPrice
	if e.acct.Position+shares > 0 {
		e.acct.EntryPrice = (prevValue + shares*price) / (e.acct.Position + shares)
	}
	e.acct.Balance -= invest
	e.acct.Position += shares
	e.acct.PeakPriceSinceEntry = price
	e.acct.TotalTrades++
	if wasFlat {
		e.entryTime = at
	}

	logger.Infof("[%s] BUY %.6f @ %.2f invest=%.2f balance=%.2f", e.symbol, shares, price, invest, e.acct.Balance)
	if e.notifier != nil {
		e.notifier.NotifyBuy(e.symbol, price, e.acct.Balance)
	}
	res.PersistErr = e.persistTrade(ctx, store.TradeRecord{
		Symbol:       e.symbol,
		Action:       "BUY",
		Price:        price,
		EntryPrice:   e.acct.EntryPrice,
		BalanceAfter: e.acct.Balance,
		ExecutedAt:   at,
		Meta:         map[string]any{"shares": shares, "invested_usd": invest},
	})
}

func (e *PositionRiskEngine) executeSell(ctx context.Context, price float64, at time.Time, reason string, res *StepResult) {
	entry := e.acct.EntryPrice
	shares := e.acct.Position
	sale := shares * price * (1 - e.params.CommissionPct)
	realized := sale - shares*entry
	pnlPct := 0.0
	if entry > 0 {
		pnlPct = (price - entry) / entry
	}

	e.acct.Balance += sale
	e.acct.Position = 0
	e.acct.EntryPrice = 0
	e.acct.PeakPriceSinceEntry = 0
	e.acct.CooldownRemaining = e.params.CooldownSteps
	if realized > 0 {
		e.acct.Wins++
	} else {
		e.acct.Losses++
	}

	duration := 0
	if !e.entryTime.IsZero() && at.After(e.entryTime) {
		duration = int(at.Sub(e.entryTime).Minutes())
	}
	e.entryTime = time.Time{}

	logger.Infof("[%s] SELL %.6f @ %.2f pnl=%.2f%% (%.2f) balance=%.2f reason=%s",
		e.symbol, shares, price, pnlPct*100, realized, e.acct.Balance, sellReason(reason))
	if e.notifier != nil {
		switch reason {
		case "stop_loss":
			e.notifier.NotifyStopLoss(e.symbol, price, pnlPct*100)
		case "take_profit", "trailing_stop":
			e.notifier.NotifyTakeProfit(e.symbol, price, pnlPct*100)
		}
		e.notifier.NotifySell(e.symbol, entry, price, pnlPct*100, realized, e.acct.Balance)
	}
	res.PersistErr = e.persistTrade(ctx, store.TradeRecord{
		Symbol:          e.symbol,
		Action:          "SELL",
		Price:           price,
		EntryPrice:      entry,
		ExitPrice:       price,
		PnLPct:          pnlPct * 100,
		PnLUSD:          realized,
		BalanceAfter:    e.acct.Balance,
		Reason:          sellReason(reason),
		DurationMinutes: duration,
		ExecutedAt:      at,
		Meta:            map[string]any{"shares": shares},
	})
}

func sellReason(forced string) string {
	switch forced {
	case "stop_loss":
		return "Stop Loss"
	case "trailing_stop":
		return "Trailing Stop"
	case "take_profit":
		return "Take Profit"
	default:
		return "Signal"
	}
}

// persistTrade 写流水并刷新快照。写失败只记录并标记 unsaved，
// 引擎继续在内存中运转，下一次成交会重试覆盖写。
func (e *PositionRiskEngine) persistTrade(ctx context.Context, rec store.TradeRecord) error {
	if e.store == nil {
		return nil
	}
	var firstErr error
	if err := e.store.LogTrade(ctx, rec); err != nil {
		firstErr = err
		logger.Errorf("[%s] trade log write failed: %v", e.symbol, err)
	}
	if err := e.store.SaveState(ctx, e.Snapshot()); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		e.unsaved = true
		logger.Errorf("[%s] snapshot write failed, state unsaved: %v", e.symbol, err)
	} else {
		e.unsaved = false
	}
	return firstErr
}

// Snapshot 导出当前可持久化状态。
func (e *PositionRiskEngine) Snapshot() store.Snapshot {
	return store.Snapshot{
		Symbol:     e.symbol,
		Balance:    e.acct.Balance,
		Position:   e.acct.Position,
		EntryPrice: e.acct.EntryPrice,
		Wins:       e.acct.Wins,
		Losses:     e.acct.Losses,
		UpdatedAt:  time.Now().UTC(),
	}
}

// SaveNow 做一次尽力而为的快照写入，供驱动方在收到停机信号时调用。
func (e *PositionRiskEngine) SaveNow(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveState(ctx, e.Snapshot()); err != nil {
		e.unsaved = true
		return err
	}
	e.unsaved = false
	return nil
}

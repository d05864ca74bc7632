package engine

import (
	"context"
	"testing"
	"time"

	"helmsman/internal/market"
	"helmsman/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) LoadState(ctx context.Context, symbol string) (store.Snapshot, bool, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(store.Snapshot), args.Bool(1), args.Error(2)
}

func (m *MockStateStore) SaveState(ctx context.Context, snap store.Snapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockStateStore) LogTrade(ctx context.Context, rec store.TradeRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStateStore) RecentTrades(ctx context.Context, symbol string, limit int) ([]store.TradeRecord, error) {
	args := m.Called(ctx, symbol, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.TradeRecord), args.Error(1)
}

func (m *MockStateStore) SaveDailySummary(ctx context.Context, sum store.DailySummary) error {
	args := m.Called(ctx, sum)
	return args.Error(0)
}

func (m *MockStateStore) Close() error { return nil }

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyBuy(symbol string, price, balance float64) {
	m.Called(symbol, price, balance)
}
func (m *MockNotifier) NotifySell(symbol string, entryPrice, exitPrice, pnlPct, pnlUSD, balance float64) {
	m.Called(symbol, entryPrice, exitPrice, pnlPct, pnlUSD, balance)
}
func (m *MockNotifier) NotifyStopLoss(symbol string, price, pnlPct float64) {
	m.Called(symbol, price, pnlPct)
}
func (m *MockNotifier) NotifyTakeProfit(symbol string, price, pnlPct float64) {
	m.Called(symbol, price, pnlPct)
}

var testDay = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// barAt 构造第 day 天第 hour 小时收盘的裸 K 线（不含指标，趋势与
// 波动过滤因此不参与裁决）。
func barAt(price float64, day, hour int) market.Bar {
	t := testDay.AddDate(0, 0, day).Add(time.Duration(hour) * time.Hour)
	return market.Bar{Candle: market.Candle{
		CloseTime: t.UnixMilli(),
		OpenTime:  t.Add(-time.Hour).UnixMilli(),
		Close:     price,
		Open:      price,
		High:      price,
		Low:       price,
	}}
}

func newTestEngine(t *testing.T, balance float64, mutate func(*RiskParams)) *PositionRiskEngine {
	t.Helper()
	params := DefaultRiskParams()
	if mutate != nil {
		mutate(&params)
	}
	eng, err := New(context.Background(), Config{
		Symbol:         "BTCUSDT",
		InitialBalance: balance,
		Params:         params,
	})
	require.NoError(t, err)
	return eng
}

func TestBuySizingAndCommission(t *testing.T) {
	eng := newTestEngine(t, 200, nil)
	res := eng.Step(context.Background(), Buy, barAt(50000, 0, 1))

	assert.True(t, res.Executed)
	assert.Equal(t, Buy, res.FinalAction)
	assert.Empty(t, res.ForcedBy)

	acct := res.Account
	assert.InDelta(t, 120.0, acct.Balance, 1e-9)
	assert.InDelta(t, (80.0/50000.0)*(1-0.0005), acct.Position, 1e-12)
	assert.InDelta(t, 50000.0, acct.EntryPrice, 1e-9)
	assert.Equal(t, 1, acct.TotalTrades)

	// 净值增量 −0.04/200 ×2.5×100 = −0.05，再叠加交易税 0.01。
	assert.InDelta(t, -0.06, res.Reward, 1e-9)
}

func TestBuyFallsBackToFullBalanceNearFloor(t *testing.T) {
	eng := newTestEngine(t, 20, nil) // 20*0.4=8 < min_trade 10，全仓进场
	res := eng.Step(context.Background(), Buy, barAt(100, 0, 1))

	require.True(t, res.Executed)
	assert.InDelta(t, 0.0, res.Account.Balance, 1e-9)
	assert.InDelta(t, (20.0/100.0)*(1-0.0005), res.Account.Position, 1e-12)
}

func TestStopLossForcesSell(t *testing.T) {
	eng := newTestEngine(t, 200, nil)
	buy := eng.Step(context.Background(), Buy, barAt(50000, 0, 1))
	require.True(t, buy.Executed)

	// 恰好 -2%，decimal 比较必须把边界算作触发。
	res := eng.Step(context.Background(), Hold, barAt(49000, 0, 2))

	assert.Equal(t, Sell, res.FinalAction)
	assert.Equal(t, "stop_loss", res.ForcedBy)
	assert.True(t, res.Executed)
	assert.Zero(t, res.Account.Position)
	assert.Zero(t, res.Account.EntryPrice)
	assert.Equal(t, 1, res.Account.Losses)
	assert.Equal(t, 0, res.Account.Wins)
	// 卖出当步设置的冷却计数不被同步递减。
	assert.Equal(t, 8, res.Account.CooldownRemaining)
	assert.Less(t, res.Reward, 0.0)
}

func TestTrailingStopAfterPeakDrop(t *testing.T) {
	eng := newTestEngine(t, 200, nil)
	eng.Step(context.Background(), Buy, barAt(100, 0, 1))
	eng.Step(context.Background(), Hold, barAt(108, 0, 2)) // +8%，峰值坐到 108

	// 从峰值回落 2% (>1.5%) 且仍浮盈 >3% → 追踪止盈。
	res := eng.Step(context.Background(), Hold, barAt(105.8, 0, 3))

	assert.Equal(t, "trailing_stop", res.ForcedBy)
	assert.Equal(t, Sell, res.FinalAction)
	assert.Equal(t, 1, res.Account.Wins)
}

func TestTakeProfitDisabledByDefault(t *testing.T) {
	eng := newTestEngine(t, 200, nil)
	eng.Step(context.Background(), Buy, barAt(100, 0, 1))
	res := eng.Step(context.Background(), Hold, barAt(102, 0, 2)) // +2%，未到任何阈值

	assert.Empty(t, res.ForcedBy)
	assert.Positive(t, res.Account.Position)
}

func TestTakeProfitWhenConfigured(t *testing.T) {
	eng := newTestEngine(t, 200, func(p *RiskParams) { p.TakeProfitPct = 0.04 })
	eng.Step(context.Background(), Buy, barAt(100, 0, 1))
	res := eng.Step(context.Background(), Hold, barAt(104, 0, 2))

	assert.Equal(t, "take_profit", res.ForcedBy)
	assert.Equal(t, 1, res.Account.Wins)
}

func TestCooldownBlocksEightStepsThenReleases(t *testing.T) {
	eng := newTestEngine(t, 200, nil)
	eng.Step(context.Background(), Buy, barAt(50000, 0, 1))
	sell := eng.Step(context.Background(), Sell, barAt(50000, 0, 2))
	require.True(t, sell.Executed)
	require.Equal(t, 8, sell.Account.CooldownRemaining)

	for i := 0; i < 8; i++ {
		res := eng.Step(context.Background(), Buy, barAt(50000, 0, 3+i))
		assert.Equal(t, Hold, res.FinalAction, "step %d should be blocked", i+1)
		assert.Equal(t, "cooldown", res.ForcedBy, "step %d", i+1)
		assert.False(t, res.Executed)
	}

	res := eng.Step(context.Background(), Buy, barAt(50000, 0, 11))
	assert.True(t, res.Executed)
	assert.Equal(t, Buy, res.FinalAction)
	assert.Empty(t, res.ForcedBy)
}

func TestDrawdownLockBlocksBuyUntilRollover(t *testing.T) {
	eng := newTestEngine(t, 1000, func(p *RiskParams) { p.CooldownSteps = 1 })
	eng.Step(context.Background(), Buy, barAt(100, 0, 1))

	// 急跌触发硬止损，当日权益回撤越过 5% 上限。
	crash := eng.Step(context.Background(), Hold, barAt(85, 0, 2))
	require.Equal(t, "stop_loss", crash.ForcedBy)
	require.True(t, eng.Guard().Locked())

	// 冷却先吃掉一步，之后轮到回撤锁。
	blocked := eng.Step(context.Background(), Buy, barAt(85, 0, 3))
	assert.Equal(t, "cooldown", blocked.ForcedBy)
	blocked = eng.Step(context.Background(), Buy, barAt(85, 0, 4))
	assert.Equal(t, "drawdown_lock", blocked.ForcedBy)
	assert.False(t, blocked.Executed)

	// 日切后锁复位，重新放行建仓。
	next := eng.Step(context.Background(), Buy, barAt(85, 1, 1))
	assert.True(t, next.Executed)
	assert.False(t, eng.Guard().Locked())
}

func TestInvalidSellLeavesStateUntouched(t *testing.T) {
	eng := newTestEngine(t, 200, nil)
	before := eng.Account()

	res := eng.Step(context.Background(), Sell, barAt(50000, 0, 1))

	assert.Equal(t, Sell, res.FinalAction)
	assert.False(t, res.Executed)
	assert.Equal(t, before.Balance, res.Account.Balance)
	assert.Equal(t, before.Position, res.Account.Position)
	assert.InDelta(t, -0.1, res.Reward, 1e-9)
}

func TestInvalidBuyBelowMinTrade(t *testing.T) {
	eng := newTestEngine(t, 200, func(p *RiskParams) { p.MinTradeUSD = 500 })
	res := eng.Step(context.Background(), Buy, barAt(50000, 0, 1))

	assert.False(t, res.Executed)
	assert.InDelta(t, 200.0, res.Account.Balance, 1e-9)
	assert.InDelta(t, -0.1, res.Reward, 1e-9)
}

func TestVWAPEntryOnScaleIn(t *testing.T) {
	eng := newTestEngine(t, 1000, nil)
	eng.Step(context.Background(), Buy, barAt(100, 0, 1))
	res := eng.Step(context.Background(), Buy, barAt(120, 0, 2))

	require.True(t, res.Executed)
	entry := res.Account.EntryPrice
	assert.Greater(t, entry, 100.0)
	assert.Less(t, entry, 120.0)
	assert.Equal(t, 2, res.Account.TotalTrades)
}

func TestNetWorthConservationOnRoundTrip(t *testing.T) {
	eng := newTestEngine(t, 200, func(p *RiskParams) { p.CommissionPct = 0 })
	eng.Step(context.Background(), Buy, barAt(50000, 0, 1))
	res := eng.Step(context.Background(), Sell, barAt(50000, 0, 2))

	// 零手续费下同价位一买一卖应完全复原资金。
	assert.InDelta(t, 200.0, res.Account.Balance, 1e-9)
	assert.Zero(t, res.Account.Position)
}

func TestCircuitBreakerOverridesReward(t *testing.T) {
	eng := newTestEngine(t, 1000, func(p *RiskParams) {
		p.PositionSizePct = 1.0
		p.StopLossPct = 0.5
		p.DailyDrawdownLimitPct = 0.9
	})
	eng.Step(context.Background(), Buy, barAt(100, 0, 1))
	res := eng.Step(context.Background(), Hold, barAt(45, 0, 2))

	assert.True(t, res.Done)
	assert.Equal(t, -100.0, res.Reward)
	assert.LessOrEqual(t, res.NetWorth, 500.0)
}

func TestFinishRewardsProfitableEpisode(t *testing.T) {
	eng := newTestEngine(t, 200, nil)
	eng.Step(context.Background(), Buy, barAt(100, 0, 1))
	eng.Step(context.Background(), Hold, barAt(130, 0, 2))

	assert.Equal(t, 10.0, eng.Finish())
}

func TestFinishNoBonusWhenFlatOrLosing(t *testing.T) {
	eng := newTestEngine(t, 200, nil)
	eng.Step(context.Background(), Hold, barAt(100, 0, 1))

	assert.Equal(t, 0.0, eng.Finish())
}

func TestRestoreFromSnapshot(t *testing.T) {
	st := new(MockStateStore)
	st.On("LoadState", mock.Anything, "ETHUSDT").Return(store.Snapshot{
		Symbol:     "ETHUSDT",
		Balance:    150,
		Position:   0.5,
		EntryPrice: 2000,
		Wins:       3,
		Losses:     2,
	}, true, nil)

	eng, err := New(context.Background(), Config{
		Symbol:         "ETHUSDT",
		InitialBalance: 200,
		Params:         DefaultRiskParams(),
		Store:          st,
	})
	require.NoError(t, err)

	acct := eng.Account()
	assert.Equal(t, 150.0, acct.Balance)
	assert.Equal(t, 0.5, acct.Position)
	assert.Equal(t, 2000.0, acct.EntryPrice)
	assert.Equal(t, 2000.0, acct.PeakPriceSinceEntry)
	assert.Equal(t, 3, acct.Wins)
	assert.Equal(t, 2, acct.Losses)
	st.AssertExpectations(t)
}

func TestPersistFailureKeepsEngineRunning(t *testing.T) {
	st := new(MockStateStore)
	st.On("LoadState", mock.Anything, "BTCUSDT").Return(store.Snapshot{}, false, nil)
	st.On("LogTrade", mock.Anything, mock.Anything).Return(assert.AnError)
	st.On("SaveState", mock.Anything, mock.Anything).Return(assert.AnError)

	eng, err := New(context.Background(), Config{
		Symbol:         "BTCUSDT",
		InitialBalance: 200,
		Params:         DefaultRiskParams(),
		Store:          st,
	})
	require.NoError(t, err)

	res := eng.Step(context.Background(), Buy, barAt(50000, 0, 1))
	assert.True(t, res.Executed)
	assert.Error(t, res.PersistErr)
	assert.True(t, eng.Unsaved())
	// 内存状态仍然推进。
	assert.InDelta(t, 120.0, res.Account.Balance, 1e-9)
}

func TestNotifierCalledOnForcedExit(t *testing.T) {
	n := new(MockNotifier)
	n.On("NotifyBuy", "BTCUSDT", mock.Anything, mock.Anything).Return()
	n.On("NotifyStopLoss", "BTCUSDT", mock.Anything, mock.Anything).Return()
	n.On("NotifySell", "BTCUSDT", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	eng, err := New(context.Background(), Config{
		Symbol:         "BTCUSDT",
		InitialBalance: 200,
		Params:         DefaultRiskParams(),
		Notifier:       n,
	})
	require.NoError(t, err)

	eng.Step(context.Background(), Buy, barAt(100, 0, 1))
	eng.Step(context.Background(), Hold, barAt(95, 0, 2))
	n.AssertExpectations(t)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(context.Background(), Config{InitialBalance: 100, Params: DefaultRiskParams()})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Symbol: "X", InitialBalance: 0, Params: DefaultRiskParams()})
	assert.Error(t, err)

	bad := DefaultRiskParams()
	bad.PositionSizePct = 1.5
	_, err = New(context.Background(), Config{Symbol: "X", InitialBalance: 100, Params: bad})
	assert.Error(t, err)
}

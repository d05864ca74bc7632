package backtest

import (
	"context"
	"os"
	"testing"
	"time"

	"helmsman/internal/engine"
	"helmsman/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptProvider struct {
	actions []engine.Action
	err     error
	calls   int
}

func (p *scriptProvider) Decide(_ context.Context, _ [][]float64) (engine.Action, error) {
	defer func() { p.calls++ }()
	if p.err != nil {
		return engine.Hold, p.err
	}
	if p.calls < len(p.actions) {
		return p.actions[p.calls], nil
	}
	return engine.Hold, nil
}

type captureSink struct {
	messages []string
}

func (c *captureSink) SendText(text string) error {
	c.messages = append(c.messages, text)
	return nil
}

// risingCandles 产出温和单边上行的序列，不会触发任何强制离场。
func risingCandles(n int) []market.Candle {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price *= 1.0005
		open := base.Add(time.Duration(i) * time.Hour)
		out[i] = market.Candle{
			OpenTime:  open.UnixMilli(),
			CloseTime: open.Add(time.Hour).UnixMilli(),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    100,
		}
	}
	return out
}

func testRunConfig() RunConfig {
	return RunConfig{
		Symbol:         "BTCUSDT",
		Interval:       "1h",
		InitialBalance: 1000,
		WindowSize:     60,
		Params:         engine.DefaultRiskParams(),
	}
}

func TestRunnerRejectsShortHistory(t *testing.T) {
	r, err := NewRunner(testRunConfig(), &scriptProvider{}, nil, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), risingCandles(100))
	assert.Error(t, err)
}

func TestRunnerValidation(t *testing.T) {
	_, err := NewRunner(RunConfig{}, &scriptProvider{}, nil, nil)
	assert.Error(t, err)

	_, err = NewRunner(testRunConfig(), nil, nil, nil)
	assert.Error(t, err)
}

func TestRunnerHoldOnlyPreservesBalance(t *testing.T) {
	r, err := NewRunner(testRunConfig(), &scriptProvider{}, nil, nil)
	require.NoError(t, err)

	stats, err := r.Run(context.Background(), risingCandles(260))
	require.NoError(t, err)

	assert.Equal(t, 60, stats.Steps) // 260 根减去 200 根预热
	assert.Zero(t, stats.Trades)
	assert.Equal(t, 1000.0, stats.FinalNetWorth)
	assert.Zero(t, stats.MaxDrawdownPct)
	assert.NotEmpty(t, stats.RunID)
}

func TestRunnerBuyAndRide(t *testing.T) {
	r, err := NewRunner(testRunConfig(), &scriptProvider{actions: []engine.Action{engine.Buy}}, nil, nil)
	require.NoError(t, err)

	stats, err := r.Run(context.Background(), risingCandles(300))
	require.NoError(t, err)

	// 单边上行中建仓后一路持有，没有任何强制离场。
	assert.Equal(t, 1, stats.Trades)
	assert.Zero(t, stats.Wins+stats.Losses)
	assert.Greater(t, stats.FinalNetWorth, stats.InitialBalance)
	assert.Greater(t, stats.ReturnPct, 0.0)
	// 盈利回合吃到终局奖励。
	assert.Greater(t, stats.TotalReward, 5.0)
}

func TestRunnerProviderErrorFallsBackToHold(t *testing.T) {
	r, err := NewRunner(testRunConfig(), &scriptProvider{err: assert.AnError}, nil, nil)
	require.NoError(t, err)

	stats, err := r.Run(context.Background(), risingCandles(260))
	require.NoError(t, err)
	assert.Zero(t, stats.Trades)
	assert.Equal(t, 60, stats.Steps)
}

func TestRunnerWritesEquityReport(t *testing.T) {
	cfg := testRunConfig()
	cfg.ReportDir = t.TempDir()
	r, err := NewRunner(cfg, &scriptProvider{actions: []engine.Action{engine.Buy}}, nil, nil)
	require.NoError(t, err)

	stats, err := r.Run(context.Background(), risingCandles(260))
	require.NoError(t, err)
	require.NotEmpty(t, stats.ReportPath)

	info, err := os.Stat(stats.ReportPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestRunnerNotifiesSinkOnCompletion(t *testing.T) {
	sink := &captureSink{}
	r, err := NewRunner(testRunConfig(), &scriptProvider{}, nil, sink)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), risingCandles(260))
	require.NoError(t, err)
	require.Len(t, sink.messages, 1)
	assert.Contains(t, sink.messages[0], "BTCUSDT")
	assert.Contains(t, sink.messages[0], "回测完成")
}

func TestRunnerHonorsContextCancel(t *testing.T) {
	r, err := NewRunner(testRunConfig(), &scriptProvider{}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, risingCandles(260))
	assert.ErrorIs(t, err, context.Canceled)
}

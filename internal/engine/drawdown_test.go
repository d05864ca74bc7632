package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardLocksPastLimit(t *testing.T) {
	g := NewDrawdownGuard(0.05)
	g.Observe("2024-05-01", 1000, 1000)
	assert.False(t, g.Locked())

	g.Observe("2024-05-01", 1000, 960) // -4%
	assert.False(t, g.Locked())
	assert.InDelta(t, 0.04, g.DailyDrawdownPct(), 1e-12)

	g.Observe("2024-05-01", 1000, 940) // -6%
	assert.True(t, g.Locked())
}

func TestGuardLocksAtExactLimit(t *testing.T) {
	g := NewDrawdownGuard(0.05)
	g.Observe("2024-05-01", 200, 200)
	assert.False(t, g.Locked())

	// 恰好触及上限也要锁，浮点噪声不能放行。
	g.Observe("2024-05-01", 200, 190) // -5%
	assert.InDelta(t, 0.05, g.DailyDrawdownPct(), 1e-12)
	assert.True(t, g.Locked())
}

func TestGuardStaysLockedWithinDay(t *testing.T) {
	g := NewDrawdownGuard(0.05)
	g.Observe("2024-05-01", 1000, 1000)
	g.Observe("2024-05-01", 1000, 930)
	assert.True(t, g.Locked())

	// 当日反弹不解锁。
	g.Observe("2024-05-01", 1000, 1020)
	assert.True(t, g.Locked())
}

func TestGuardResetsOnDateChange(t *testing.T) {
	g := NewDrawdownGuard(0.05)
	g.Observe("2024-05-01", 1000, 1000)
	g.Observe("2024-05-01", 1000, 900)
	assert.True(t, g.Locked())

	g.Observe("2024-05-02", 930, 930)
	assert.False(t, g.Locked())
	stats := g.Stats()
	assert.Equal(t, "2024-05-02", stats.Date)
	assert.Equal(t, 930.0, stats.StartingBalance)
	assert.Equal(t, 930.0, stats.MinEquity)
	assert.Equal(t, 930.0, stats.MaxEquity)
}

func TestGuardTracksExtremesAndPnL(t *testing.T) {
	g := NewDrawdownGuard(0.5)
	g.Observe("2024-05-01", 1000, 1000)
	g.Observe("2024-05-01", 1000, 1080)
	g.Observe("2024-05-01", 1000, 970)

	stats := g.Stats()
	assert.Equal(t, 970.0, stats.MinEquity)
	assert.Equal(t, 1080.0, stats.MaxEquity)
	assert.InDelta(t, -30.0, stats.PnLToday, 1e-9)
}

func TestGuardZeroLimitNeverLocks(t *testing.T) {
	g := NewDrawdownGuard(0)
	g.Observe("2024-05-01", 1000, 1000)
	g.Observe("2024-05-01", 1000, 100)
	assert.False(t, g.Locked())
}

func TestGuardEquityAboveStartIsZeroDrawdown(t *testing.T) {
	g := NewDrawdownGuard(0.05)
	g.Observe("2024-05-01", 1000, 1000)
	g.Observe("2024-05-01", 1000, 1100)
	assert.Zero(t, g.DailyDrawdownPct())
}

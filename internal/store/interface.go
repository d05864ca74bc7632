package store

import (
	"context"
	"time"
)

// Snapshot 是重启后唯一存活的引擎状态。特征与观测缓冲不落库，
// 恢复时必须用新历史重新预热。
type Snapshot struct {
	Symbol     string
	Balance    float64
	Position   float64
	EntryPrice float64
	Wins       int
	Losses     int
	UpdatedAt  time.Time
}

// TradeRecord 是成交流水（含被强制的止损/止盈平仓）。
type TradeRecord struct {
	Symbol          string
	Action          string
	Price           float64
	EntryPrice      float64
	ExitPrice       float64
	PnLPct          float64
	PnLUSD          float64
	BalanceAfter    float64
	Reason          string
	DurationMinutes int
	ExecutedAt      time.Time
	Meta            map[string]any
}

// DailySummary 是按日期+symbol 聚合的当日结果。
type DailySummary struct {
	Date            string
	Symbol          string
	StartingBalance float64
	EndingBalance   float64
	TotalTrades     int
	Wins            int
	Losses          int
	TotalPnL        float64
	MaxDrawdownPct  float64
}

// StateStore 是引擎的崩溃恢复边界：按 symbol 读写快照，外加
// 成交与日结流水。实现方保证 save(load(x)) == x。
type StateStore interface {
	LoadState(ctx context.Context, symbol string) (Snapshot, bool, error)
	SaveState(ctx context.Context, snap Snapshot) error
	LogTrade(ctx context.Context, rec TradeRecord) error
	RecentTrades(ctx context.Context, symbol string, limit int) ([]TradeRecord, error)
	SaveDailySummary(ctx context.Context, sum DailySummary) error
	Close() error
}

package model

import (
	"time"

	"gorm.io/datatypes"
)

// BotStateModel 是按 symbol 主键的引擎快照行，重启恢复只依赖这张表。
type BotStateModel struct {
	Symbol     string    `gorm:"primaryKey;size:32"`
	Balance    float64   `gorm:"not null"`
	Position   float64   `gorm:"not null"`
	EntryPrice float64   `gorm:"not null"`
	Wins       int       `gorm:"not null"`
	Losses     int       `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (BotStateModel) TableName() string { return "bot_state" }

// TradeModel 是成交流水行。
type TradeModel struct {
	ID              int64          `gorm:"primaryKey;autoIncrement"`
	Symbol          string         `gorm:"size:32;index;not null"`
	Action          string         `gorm:"size:8;not null"`
	Price           float64        `gorm:"not null"`
	EntryPrice      float64        ``
	ExitPrice       float64        ``
	PnLPct          float64        `gorm:"column:pnl_pct"`
	PnLUSD          float64        `gorm:"column:pnl_usd"`
	BalanceAfter    float64        ``
	Reason          string         `gorm:"size:32"`
	Win             *bool          ``
	DurationMinutes int            ``
	ExecutedAt      time.Time      `gorm:"index;not null"`
	Meta            datatypes.JSON ``
}

func (TradeModel) TableName() string { return "trades" }

// DailySummaryModel 是日期+symbol 唯一的日结行。
type DailySummaryModel struct {
	ID              int64   `gorm:"primaryKey;autoIncrement"`
	Date            string  `gorm:"size:10;uniqueIndex:idx_daily_symbol;not null"`
	Symbol          string  `gorm:"size:32;uniqueIndex:idx_daily_symbol;not null"`
	StartingBalance float64 ``
	EndingBalance   float64 ``
	TotalTrades     int     ``
	Wins            int     ``
	Losses          int     ``
	TotalPnL        float64 `gorm:"column:total_pnl"`
	MaxDrawdownPct  float64 ``
}

func (DailySummaryModel) TableName() string { return "daily_summary" }

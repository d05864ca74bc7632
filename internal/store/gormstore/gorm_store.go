package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"helmsman/internal/store"
	storemodel "helmsman/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore 用 Gorm + SQLite 实现 store.StateStore。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 打开（必要时创建）数据库文件并迁移表结构。
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&storemodel.BotStateModel{},
		&storemodel.TradeModel{},
		&storemodel.DailySummaryModel{},
	); err != nil {
		return nil, fmt.Errorf("gorm store: migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) LoadState(ctx context.Context, symbol string) (store.Snapshot, bool, error) {
	var row storemodel.BotStateModel
	err := s.db.WithContext(ctx).First(&row, "symbol = ?", strings.ToUpper(symbol)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Snapshot{}, false, nil
	}
	if err != nil {
		return store.Snapshot{}, false, err
	}
	return store.Snapshot{
		Symbol:     row.Symbol,
		Balance:    row.Balance,
		Position:   row.Position,
		EntryPrice: row.EntryPrice,
		Wins:       row.Wins,
		Losses:     row.Losses,
		UpdatedAt:  row.UpdatedAt,
	}, true, nil
}

// SaveState 按 symbol 覆盖写，重复 load+save 不产生漂移。
func (s *GormStore) SaveState(ctx context.Context, snap store.Snapshot) error {
	row := storemodel.BotStateModel{
		Symbol:     strings.ToUpper(snap.Symbol),
		Balance:    snap.Balance,
		Position:   snap.Position,
		EntryPrice: snap.EntryPrice,
		Wins:       snap.Wins,
		Losses:     snap.Losses,
		UpdatedAt:  snap.UpdatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *GormStore) LogTrade(ctx context.Context, rec store.TradeRecord) error {
	row := storemodel.TradeModel{
		Symbol:          strings.ToUpper(rec.Symbol),
		Action:          rec.Action,
		Price:           rec.Price,
		EntryPrice:      rec.EntryPrice,
		ExitPrice:       rec.ExitPrice,
		PnLPct:          rec.PnLPct,
		PnLUSD:          rec.PnLUSD,
		BalanceAfter:    rec.BalanceAfter,
		Reason:          rec.Reason,
		DurationMinutes: rec.DurationMinutes,
		ExecutedAt:      rec.ExecutedAt,
	}
	if rec.Action == "SELL" {
		win := rec.PnLUSD > 0
		row.Win = &win
	}
	if len(rec.Meta) > 0 {
		raw, err := json.Marshal(rec.Meta)
		if err == nil {
			row.Meta = datatypes.JSON(raw)
		}
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) RecentTrades(ctx context.Context, symbol string, limit int) ([]store.TradeRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	q := s.db.WithContext(ctx).Order("executed_at DESC").Limit(limit)
	if symbol != "" {
		q = q.Where("symbol = ?", strings.ToUpper(symbol))
	}
	var rows []storemodel.TradeModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.TradeRecord, 0, len(rows))
	for _, row := range rows {
		rec := store.TradeRecord{
			Symbol:          row.Symbol,
			Action:          row.Action,
			Price:           row.Price,
			EntryPrice:      row.EntryPrice,
			ExitPrice:       row.ExitPrice,
			PnLPct:          row.PnLPct,
			PnLUSD:          row.PnLUSD,
			BalanceAfter:    row.BalanceAfter,
			Reason:          row.Reason,
			DurationMinutes: row.DurationMinutes,
			ExecutedAt:      row.ExecutedAt,
		}
		if len(row.Meta) > 0 {
			_ = json.Unmarshal(row.Meta, &rec.Meta)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *GormStore) SaveDailySummary(ctx context.Context, sum store.DailySummary) error {
	row := storemodel.DailySummaryModel{
		Date:            sum.Date,
		Symbol:          strings.ToUpper(sum.Symbol),
		StartingBalance: sum.StartingBalance,
		EndingBalance:   sum.EndingBalance,
		TotalTrades:     sum.TotalTrades,
		Wins:            sum.Wins,
		Losses:          sum.Losses,
		TotalPnL:        sum.TotalPnL,
		MaxDrawdownPct:  sum.MaxDrawdownPct,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}, {Name: "symbol"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

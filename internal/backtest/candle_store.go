package backtest

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"helmsman/internal/market"

	_ "modernc.org/sqlite"
)

// CandleStore 把回放数据集放在本地 SQLite 文件里，按 symbol+interval
// 存取有序 K 线。纯 Go 驱动，导数据不需要 cgo。
type CandleStore struct {
	root string

	mu sync.Mutex
	db *sql.DB
}

func NewCandleStore(root string) (*CandleStore, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(root, "candles.db"))
	if err != nil {
		return nil, err
	}
	const schema = `CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		open_time INTEGER NOT NULL,
		close_time INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		PRIMARY KEY (symbol, interval, open_time)
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("candle store: schema: %w", err)
	}
	return &CandleStore{root: root, db: db}, nil
}

// SaveCandles 幂等写入一批 K 线（冲突时覆盖）。
func (s *CandleStore) SaveCandles(ctx context.Context, symbol, interval string, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO candles
		(symbol, interval, open_time, close_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	symbol = strings.ToUpper(symbol)
	interval = strings.ToLower(interval)
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, interval,
			c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadCandles 按 open_time 升序取出整个数据集。
func (s *CandleStore) LoadCandles(ctx context.Context, symbol, interval string) ([]market.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT open_time, close_time, open, high, low, close, volume
		FROM candles WHERE symbol = ? AND interval = ? ORDER BY open_time ASC`,
		strings.ToUpper(symbol), strings.ToLower(interval))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ImportCSV 导入 timestamp,open,high,low,close,volume 格式的历史文件
// （时间戳为毫秒，首行表头可选），返回导入条数。
func (s *CandleStore) ImportCSV(ctx context.Context, symbol, interval, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var batch []market.Candle
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("import csv %s: %w", path, err)
		}
		if len(rec) < 6 {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			// 表头或脏行，跳过
			continue
		}
		vals := make([]float64, 5)
		ok := true
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		batch = append(batch, market.Candle{
			OpenTime:  ts,
			CloseTime: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	if err := s.SaveCandles(ctx, symbol, interval, batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}

// FetchHistory 让数据集直接充当 market.Source，与实盘网关可互换。
func (s *CandleStore) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	candles, err := s.LoadCandles(ctx, symbol, interval)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (s *CandleStore) Close() error {
	return s.db.Close()
}

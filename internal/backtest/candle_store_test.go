package backtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"helmsman/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCandleStore(t *testing.T) *CandleStore {
	t.Helper()
	s, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedCandles(n int, start time.Time) []market.Candle {
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		open := start.Add(time.Duration(i) * time.Hour)
		out[i] = market.Candle{
			OpenTime:  open.UnixMilli(),
			CloseTime: open.Add(time.Hour).UnixMilli(),
			Open:      100 + float64(i),
			High:      101 + float64(i),
			Low:       99 + float64(i),
			Close:     100.5 + float64(i),
			Volume:    10,
		}
	}
	return out
}

func TestCandleStoreRoundTrip(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()
	candles := seedCandles(5, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, s.SaveCandles(ctx, "btcusdt", "1H", candles))

	got, err := s.LoadCandles(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, candles, got)
}

func TestCandleStoreSaveIsIdempotent(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()
	candles := seedCandles(3, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, s.SaveCandles(ctx, "BTCUSDT", "1h", candles))
	candles[1].Close = 999 // 同一 open_time 覆盖写
	require.NoError(t, s.SaveCandles(ctx, "BTCUSDT", "1h", candles))

	got, err := s.LoadCandles(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 999.0, got[1].Close)
}

func TestCandleStoreSeparatesSymbolAndInterval(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveCandles(ctx, "BTCUSDT", "1h", seedCandles(3, start)))
	require.NoError(t, s.SaveCandles(ctx, "ETHUSDT", "1h", seedCandles(2, start)))
	require.NoError(t, s.SaveCandles(ctx, "BTCUSDT", "4h", seedCandles(1, start)))

	got, err := s.LoadCandles(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = s.LoadCandles(ctx, "ETHUSDT", "1h")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestImportCSVSkipsHeaderAndDirtyRows(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "candles.csv")
	content := "timestamp,open,high,low,close,volume\n" +
		"1714521600000,100,101,99,100.5,10\n" +
		"not-a-row\n" +
		"1714525200000,100.5,102,100,101.5,12\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	n, err := s.ImportCSV(ctx, "BTCUSDT", "1h", path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.LoadCandles(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 100.5, got[0].Close)
	assert.Equal(t, int64(1714525200000), got[1].OpenTime)
}

func TestImportCSVMissingFile(t *testing.T) {
	s := newTestCandleStore(t)
	_, err := s.ImportCSV(context.Background(), "BTCUSDT", "1h", filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestFetchHistoryReturnsTail(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()
	candles := seedCandles(10, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.SaveCandles(ctx, "BTCUSDT", "1h", candles))

	got, err := s.FetchHistory(ctx, "BTCUSDT", "1h", 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, candles[6].OpenTime, got[0].OpenTime)

	got, err = s.FetchHistory(ctx, "BTCUSDT", "1h", 0)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestLoadCandlesOrderedByOpenTime(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	candles := seedCandles(5, start)

	// 乱序写入，读出应按 open_time 升序。
	shuffled := []market.Candle{candles[3], candles[0], candles[4], candles[1], candles[2]}
	require.NoError(t, s.SaveCandles(ctx, "BTCUSDT", "1h", shuffled))

	got, err := s.LoadCandles(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].OpenTime, got[i].OpenTime, fmt.Sprintf("index %d", i))
	}
}

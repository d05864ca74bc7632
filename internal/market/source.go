package market

import "context"

// Source 是行情提供方的最小接口：按 symbol+interval 返回最近的有序 K 线。
// 实盘由交易所网关实现，回测由本地数据集实现。
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	Close() error
}

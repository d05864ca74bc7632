package market

import "time"

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Date 返回收盘时间所在的 UTC 日历日期（YYYY-MM-DD）。
// 回放与实盘统一使用 K 线自带的时间戳做日切，避免两种驱动下
// 日内风控窗口出现偏差。
func (c Candle) Date() string {
	return time.UnixMilli(c.CloseTime).UTC().Format("2006-01-02")
}

// Bar 是叠加了衍生指标的 K 线，产出后不可变。
// 指标全部由 Enrich 因果计算：只使用当前及之前的 K 线。
type Bar struct {
	Candle

	LogRet   float64 // log(close / prevClose)
	RSI      float64 // 0-100，未坐满回溯期时为 50
	EMA20    float64
	EMA50    float64
	EMA200   float64
	MACDHist float64 // (macd - signal) / close
	BBUpper  float64
	BBLower  float64
}

// BandWidth 返回布林带宽相对价格的比例，指标未就绪时返回 0。
func (b Bar) BandWidth() float64 {
	if b.Close <= 0 || b.BBUpper <= 0 || b.BBLower <= 0 {
		return 0
	}
	return (b.BBUpper - b.BBLower) / b.Close
}

// TrendReady 表示长周期 EMA 是否已经坐满，可用于趋势过滤。
func (b Bar) TrendReady() bool {
	return b.EMA200 > 0
}

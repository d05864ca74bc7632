package market

import (
	"math"

	"github.com/markcheno/go-talib"
)

const (
	rsiPeriod  = 14
	emaShort   = 20
	emaMid     = 50
	emaLong    = 200
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
	bbPeriod   = 20
	bbStdDev   = 2.0
)

// LongestLookback 是坐满全部滚动指标所需的最少 K 线数。
const LongestLookback = emaLong

// Enrich 将原始 K 线序列转换为带指标的 Bar 序列。
// 所有指标都是因果的；回溯期未坐满的位置填充中性值
// （震荡指标 50，其余 0），不留空洞。
func Enrich(candles []Candle) []Bar {
	n := len(candles)
	if n == 0 {
		return nil
	}
	closes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
	}

	var rsi, ema20, ema50, ema200, hist, upper, lower []float64
	rsi = safeSeries(n, rsiPeriod, func() []float64 { return talib.Rsi(closes, rsiPeriod) })
	ema20 = safeSeries(n, emaShort, func() []float64 { return talib.Ema(closes, emaShort) })
	ema50 = safeSeries(n, emaMid, func() []float64 { return talib.Ema(closes, emaMid) })
	ema200 = safeSeries(n, emaLong, func() []float64 { return talib.Ema(closes, emaLong) })
	if n > macdSlow+macdSignal {
		_, _, hist = talib.Macd(closes, macdFast, macdSlow, macdSignal)
	}
	if n >= bbPeriod {
		upper, _, lower = talib.BBands(closes, bbPeriod, bbStdDev, bbStdDev, talib.SMA)
	}

	bars := make([]Bar, n)
	for i, c := range candles {
		b := Bar{Candle: c}
		if i > 0 && candles[i-1].Close > 0 && c.Close > 0 {
			b.LogRet = math.Log(c.Close / candles[i-1].Close)
		}
		b.RSI = 50
		if v := at(rsi, i); v > 0 && i >= rsiPeriod {
			b.RSI = v
		}
		b.EMA20 = at(ema20, i)
		b.EMA50 = at(ema50, i)
		b.EMA200 = at(ema200, i)
		if c.Close > 0 {
			b.MACDHist = at(hist, i) / c.Close
		}
		b.BBUpper = at(upper, i)
		b.BBLower = at(lower, i)
		bars[i] = b
	}
	return bars
}

// safeSeries 在样本不足以计算指标时返回 nil，避免 talib 对短序列越界。
func safeSeries(n, period int, compute func() []float64) []float64 {
	if n < period+1 {
		return nil
	}
	return compute()
}

func at(series []float64, i int) float64 {
	if i < 0 || i >= len(series) {
		return 0
	}
	v := series[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

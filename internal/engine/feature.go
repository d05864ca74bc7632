package engine

import (
	"helmsman/internal/market"
)

// NumFeatures 是单根 K 线产出的市场特征数，观测矩阵在此之上
// 再追加两列账户状态。
const NumFeatures = 6

const epsilon = 1e-9

// FeatureVector 是由单根 Bar 及其历史因果推导出的定长特征元组。
type FeatureVector [NumFeatures]float64

// FeatureExtractor 将带指标的 Bar 映射为归一化特征向量。
// 对每个除法做 epsilon 保护；指标未坐满时给中性填充值
// （有界震荡指标 0.5，其余 0）。
type FeatureExtractor struct{}

// Extract 产出特征向量：对数收益、归一化 RSI、价格归一的 MACD 柱、
// 三个 EMA 距离比（close/EMA - 1）。
func (FeatureExtractor) Extract(b market.Bar) FeatureVector {
	var v FeatureVector
	v[0] = b.LogRet
	v[1] = b.RSI / 100.0
	v[2] = b.MACDHist
	v[3] = emaDist(b.Close, b.EMA20)
	v[4] = emaDist(b.Close, b.EMA50)
	v[5] = emaDist(b.Close, b.EMA200)
	return v
}

func emaDist(close, ema float64) float64 {
	if ema <= epsilon {
		return 0
	}
	return close/ema - 1
}

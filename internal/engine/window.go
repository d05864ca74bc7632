package engine

import (
	"fmt"
	"math"

	"helmsman/internal/market"
)

// DefaultWindowSize 是观测窗口的默认长度。
const DefaultWindowSize = 60

// AccountView 是拼进观测矩阵的账户切面。
type AccountView struct {
	Balance        float64
	InitialBalance float64
	PositionValue  float64
	NetWorth       float64
}

// ObservationWindow 缓冲最近 W 条特征向量，并在取矩阵时把两个账户
// 标量广播到每一行，产出 W×(F+2) 的观测。
type ObservationWindow struct {
	size int
	rows []FeatureVector
}

func NewObservationWindow(size int) *ObservationWindow {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &ObservationWindow{size: size}
}

func (w *ObservationWindow) Size() int { return w.size }

func (w *ObservationWindow) Len() int { return len(w.rows) }

// Ready 表示窗口是否已坐满，未坐满时驱动方应跳过该步。
func (w *ObservationWindow) Ready() bool { return len(w.rows) >= w.size }

func (w *ObservationWindow) Push(v FeatureVector) {
	w.rows = append(w.rows, v)
	if len(w.rows) > w.size {
		w.rows = w.rows[len(w.rows)-w.size:]
	}
}

func (w *ObservationWindow) Reset() { w.rows = nil }

// Matrix 产出 W×(F+2) 观测矩阵。账户标量：对数压缩的余额比
// log(balance/initial+ε) 与持仓价值占净值比。
func (w *ObservationWindow) Matrix(acct AccountView) ([][]float64, error) {
	if !w.Ready() {
		return nil, fmt.Errorf("observation window not ready: %d/%d", len(w.rows), w.size)
	}
	balanceRatio := 0.0
	if acct.InitialBalance > 0 {
		balanceRatio = math.Log(acct.Balance/acct.InitialBalance + epsilon)
	}
	positionRatio := 0.0
	if acct.NetWorth > epsilon {
		positionRatio = acct.PositionValue / acct.NetWorth
	}
	out := make([][]float64, w.size)
	for i, fv := range w.rows {
		row := make([]float64, NumFeatures+2)
		for j, val := range fv {
			if math.IsNaN(val) || math.IsInf(val, 0) {
				val = 0
			}
			row[j] = val
		}
		row[NumFeatures] = balanceRatio
		row[NumFeatures+1] = positionRatio
		out[i] = row
	}
	return out, nil
}

// BuildObservation 从最近的 Bar 历史重建观测矩阵。回放与实盘驱动都
// 只经由这一条路径组装观测，保证两种喂入方式逐位一致。
func BuildObservation(bars []market.Bar, acct AccountView, size int) ([][]float64, error) {
	if size <= 0 {
		size = DefaultWindowSize
	}
	if len(bars) < size {
		return nil, fmt.Errorf("insufficient history: %d bars, need %d", len(bars), size)
	}
	var ex FeatureExtractor
	w := NewObservationWindow(size)
	for _, b := range bars[len(bars)-size:] {
		w.Push(ex.Extract(b))
	}
	return w.Matrix(acct)
}

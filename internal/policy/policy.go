package policy

import (
	"context"

	"helmsman/internal/engine"
)

// Provider 是决策方的外部边界：输入观测矩阵，产出建议动作。
// 引擎把它当作不透明能力，从不关心动作是怎么来的。
type Provider interface {
	Decide(ctx context.Context, obs [][]float64) (engine.Action, error)
}

// EMACross 是内置的启发式决策方：用观测里的短/中周期 EMA 距离
// 做交叉判断，让回测在没有外部模型时也能端到端跑通。
type EMACross struct{}

func (EMACross) Decide(_ context.Context, obs [][]float64) (engine.Action, error) {
	if len(obs) < 2 {
		return engine.Hold, nil
	}
	prev, last := obs[len(obs)-2], obs[len(obs)-1]
	if len(last) < engine.NumFeatures || len(prev) < engine.NumFeatures {
		return engine.Hold, nil
	}
	// 特征列 3/4 是 close/EMA20-1 与 close/EMA50-1；其差的符号翻转
	// 即短均线穿越中均线。
	prevSpread := prev[3] - prev[4]
	lastSpread := last[3] - last[4]
	switch {
	case prevSpread <= 0 && lastSpread > 0:
		return engine.Buy, nil
	case prevSpread >= 0 && lastSpread < 0:
		return engine.Sell, nil
	default:
		return engine.Hold, nil
	}
}

package engine

import "strings"

// Action 是决策方提出、引擎最终裁决的交易动作。
type Action int

const (
	Hold Action = iota
	Buy
	Sell
)

func (a Action) String() string {
	switch a {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// ParseAction 将外部输入规整为合法动作，未知值一律按 HOLD 处理。
func ParseAction(raw string) Action {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG", "OPEN_LONG", "1":
		return Buy
	case "SELL", "CLOSE", "CLOSE_LONG", "2":
		return Sell
	default:
		return Hold
	}
}

// normalize 夹住越界的枚举值，非法动作视同 HOLD。
func normalize(a Action) Action {
	if a < Hold || a > Sell {
		return Hold
	}
	return a
}

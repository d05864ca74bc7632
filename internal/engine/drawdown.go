package engine

// DailyStats 是单个日历日的权益极值记录。
type DailyStats struct {
	Date            string
	StartingBalance float64
	MinEquity       float64
	MaxEquity       float64
	PnLToday        float64
	Locked          bool
}

// DrawdownGuard 逐日跟踪权益极值，当日内回撤越过配置上限时挂起
// 交易锁。锁只在日期翻转时复位；守卫本身从不强制卖出，只在
// 引擎放行 BUY 之前被咨询。
type DrawdownGuard struct {
	limitPct float64
	stats    DailyStats
}

func NewDrawdownGuard(limitPct float64) *DrawdownGuard {
	return &DrawdownGuard{limitPct: limitPct}
}

// Observe 记录一次权益观测。date 来自 K 线收盘时间戳的 UTC 日期，
// balance 是当前现金余额（新的一天以它作为起始基准）。
func (g *DrawdownGuard) Observe(date string, balance, equity float64) {
	if g.stats.Date != date {
		g.stats = DailyStats{
			Date:            date,
			StartingBalance: balance,
			MinEquity:       equity,
			MaxEquity:       equity,
		}
	}
	if equity < g.stats.MinEquity {
		g.stats.MinEquity = equity
	}
	if equity > g.stats.MaxEquity {
		g.stats.MaxEquity = equity
	}
	g.stats.PnLToday = equity - g.stats.StartingBalance
	if !g.stats.Locked && g.limitPct > 0 && decimalGTE(g.DailyDrawdownPct(), g.limitPct) {
		g.stats.Locked = true
	}
}

// DailyDrawdownPct 返回当日从起始余额算起的最大回撤比例。
func (g *DrawdownGuard) DailyDrawdownPct() float64 {
	if g.stats.StartingBalance <= 0 {
		return 0
	}
	dd := (g.stats.StartingBalance - g.stats.MinEquity) / g.stats.StartingBalance
	if dd < 0 {
		return 0
	}
	return dd
}

func (g *DrawdownGuard) Locked() bool { return g.stats.Locked }

func (g *DrawdownGuard) Stats() DailyStats { return g.stats }

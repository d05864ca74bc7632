package notifier

import (
	"fmt"
	"time"

	"helmsman/internal/logger"
)

// TradeNotifier 把成交事件渲染成 Markdown 并经 TextNotifier 发送。
// 发送失败只记日志，永远不打断引擎簿记。
type TradeNotifier struct {
	sink TextNotifier
}

func NewTradeNotifier(sink TextNotifier) *TradeNotifier {
	if sink == nil {
		sink = Noop{}
	}
	return &TradeNotifier{sink: sink}
}

func (n *TradeNotifier) send(text string) {
	if err := n.sink.SendText(text); err != nil {
		logger.Warnf("通知发送失败: %v", err)
	}
}

func stamp() string {
	return time.Now().UTC().Format("15:04:05")
}

func (n *TradeNotifier) NotifyBuy(symbol string, price, balance float64) {
	n.send(fmt.Sprintf("🟢 *COMPRA DETECTADA*\n\n💎 %s\n💰 Precio: $%.2f\n💵 Balance: $%.2f\n⏰ %s",
		symbol, price, balance, stamp()))
}

func (n *TradeNotifier) NotifySell(symbol string, entryPrice, exitPrice, pnlPct, pnlUSD, balance float64) {
	emoji := "🔴"
	trend := "📉"
	if pnlUSD > 0 {
		emoji = "🟢"
		trend = "📈"
	}
	n.send(fmt.Sprintf("%s *VENTA EJECUTADA*\n\n💎 %s\n📊 Entrada: $%.2f → Salida: $%.2f\n%s PnL: %+.2f%% ($%+.2f)\n💵 Balance: $%.2f\n⏰ %s",
		emoji, symbol, entryPrice, exitPrice, trend, pnlPct, pnlUSD, balance, stamp()))
}

func (n *TradeNotifier) NotifyStopLoss(symbol string, price, pnlPct float64) {
	n.send(fmt.Sprintf("🛡️ *STOP LOSS ACTIVADO*\n\n💎 %s\n💰 Precio: $%.2f\n📉 Pérdida: %.2f%%\n⏰ %s",
		symbol, price, pnlPct, stamp()))
}

func (n *TradeNotifier) NotifyTakeProfit(symbol string, price, pnlPct float64) {
	n.send(fmt.Sprintf("🎯 *TAKE PROFIT ACTIVADO*\n\n💎 %s\n💰 Precio: $%.2f\n📈 Ganancia: +%.2f%%\n⏰ %s",
		symbol, price, pnlPct, stamp()))
}

// NotifyDailySummary 推送日结摘要。
func (n *TradeNotifier) NotifyDailySummary(symbol string, balance float64, trades, wins, losses int, pnlToday float64) {
	winRate := 0.0
	if wins+losses > 0 {
		winRate = float64(wins) / float64(wins+losses) * 100
	}
	n.send(fmt.Sprintf("📅 *RESUMEN DIARIO - %s*\n\n💵 Balance: $%.2f\n📊 Operaciones: %d (✅%d / ❌%d)\n📈 Win Rate: %.1f%%\n💰 PnL Hoy: $%+.2f",
		symbol, balance, trades, wins, losses, winRate, pnlToday))
}

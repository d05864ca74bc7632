package app

import (
	"fmt"
	"sort"
	"strings"

	hmcfg "helmsman/internal/config"
	cfgloader "helmsman/internal/config/loader"
	"helmsman/internal/engine"
)

// StartupSummary 在启动时打印一份人读配置摘要。
type StartupSummary struct {
	Mode      string
	Interval  string
	Balance   float64
	Policy    string
	Symbols   []string
	RiskBySym map[string]engine.RiskParams
}

func newStartupSummary(cfg *hmcfg.Config, symbols []string, profiles cfgloader.ProfileSnapshot) *StartupSummary {
	risk := make(map[string]engine.RiskParams, len(symbols))
	for _, sym := range symbols {
		risk[sym] = profiles.Resolve(sym)
	}
	return &StartupSummary{
		Mode:      cfg.Trading.Mode,
		Interval:  cfg.Trading.Interval,
		Balance:   cfg.Trading.InitialBalance,
		Policy:    cfg.Policy.Mode,
		Symbols:   symbols,
		RiskBySym: risk,
	}
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[运行配置 (RUNTIME)]")
	fmt.Printf("  模式: %s\n", s.Mode)
	fmt.Printf("  周期: %s\n", s.Interval)
	fmt.Printf("  初始资金: %.2f\n", s.Balance)
	fmt.Printf("  决策方: %s\n", s.Policy)
	fmt.Printf("  监控标的: %s\n", formatList(s.Symbols))
	fmt.Println()

	fmt.Println("[风控画像 (RISK PROFILES)]")
	if len(s.RiskBySym) == 0 {
		fmt.Println("  (无配置)")
	} else {
		symbols := make([]string, 0, len(s.RiskBySym))
		for sym := range s.RiskBySym {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		for _, sym := range symbols {
			p := s.RiskBySym[sym]
			fmt.Printf("  > %s\n", sym)
			fmt.Printf("    止损=%.2f%% 移动止盈触发=%.2f%% 回落=%.2f%% 止盈=%.2f%%\n",
				p.StopLossPct*100, p.TrailingTriggerPct*100, p.TrailingDropPct*100, p.TakeProfitPct*100)
			fmt.Printf("    仓位=%.0f%% 冷却=%d 步 日回撤限=%.2f%% 手续费=%.4f%%\n",
				p.PositionSizePct*100, p.CooldownSteps, p.DailyDrawdownLimitPct*100, p.CommissionPct*100)
		}
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

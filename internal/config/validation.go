package config

import (
	"fmt"
	"strings"

	"helmsman/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Policy.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("market.sources requires at least one source")
	}
	activeName := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market source %s missing rest_base_url", src.Name)
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if activeName == "" || name == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled market.active_source=%s not found", m.ActiveSource)
	}
	return nil
}

func (p *PolicyConfig) validate() error {
	switch p.Mode {
	case "ema_cross":
	case "remote":
		if strings.TrimSpace(p.Endpoint) == "" {
			return fmt.Errorf("policy.mode=remote requires policy.endpoint")
		}
	default:
		return fmt.Errorf("policy.mode only supports 'remote' or 'ema_cross', got %s", p.Mode)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func (t *TradingConfig) validate() error {
	switch t.Mode {
	case "live", "backtest":
	default:
		return fmt.Errorf("trading.mode only supports 'live' or 'backtest', got %s", t.Mode)
	}
	if len(t.SymbolsUpper()) == 0 {
		return fmt.Errorf("trading.symbols requires at least one symbol")
	}
	if !IsValidInterval(t.Interval) {
		return fmt.Errorf("trading.interval %q is not a valid kline interval", t.Interval)
	}
	if t.InitialBalance <= 0 {
		return fmt.Errorf("trading.initial_balance must be > 0")
	}
	return nil
}

// IsValidInterval 复用调度器的周期解析，校验和轮询用同一套规则。
func IsValidInterval(s string) bool {
	_, ok := scheduler.ParseIntervalDuration(s)
	return ok
}

package config

import (
	"fmt"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv        = "dev"
	defaultAppLogLevel   = "info"
	defaultAppHTTPAddr   = ":9992"
	defaultAppLogPath    = "/data/logs/helmsman.log"
	defaultMarketName    = "binance"
	defaultMarketREST    = "https://api.binance.com"
	defaultMarketTimeout = 20
	defaultStateDBPath   = "/data/db/helmsman_state.db"
	defaultCandleDBPath  = "/data/db/helmsman_candles.db"
	defaultReportDir     = "/data/reports"
	defaultPolicyMode    = "ema_cross"
	defaultPolicyTimeout = 10
	defaultTradingMode   = "live"
	defaultInterval      = "1h"
	defaultBalance       = 10000
	defaultProfilesPath  = "configs/profiles.yaml"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Policy.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.state_db_path", &d.StateDBPath, defaultStateDBPath),
		stringFieldDefault("data.candle_db_path", &d.CandleDBPath, defaultCandleDBPath),
		stringFieldDefault("data.report_dir", &d.ReportDir, defaultReportDir),
	)
}

func (p *PolicyConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("policy.mode", &p.Mode, defaultPolicyMode),
		fieldDefault{
			key:   "policy.timeout_seconds",
			need:  func() bool { return p.TimeoutSeconds <= 0 },
			apply: func() { p.TimeoutSeconds = defaultPolicyTimeout },
		},
	)
	p.Mode = strings.ToLower(strings.TrimSpace(p.Mode))
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trading.mode", &t.Mode, defaultTradingMode),
		stringFieldDefault("trading.interval", &t.Interval, defaultInterval),
		stringFieldDefault("trading.profiles_path", &t.ProfilesPath, defaultProfilesPath),
		fieldDefault{
			key:   "trading.initial_balance",
			need:  func() bool { return t.InitialBalance <= 0 },
			apply: func() { t.InitialBalance = defaultBalance },
		},
	)
	t.Mode = strings.ToLower(strings.TrimSpace(t.Mode))
	t.Interval = strings.ToLower(strings.TrimSpace(t.Interval))
	if t.WindowSize < 0 {
		t.WindowSize = 0
	}
	if t.Lookback < 0 {
		t.Lookback = 0
	}
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultMarketREST
		}
		if src.TimeoutSeconds <= 0 {
			src.TimeoutSeconds = defaultMarketTimeout
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}

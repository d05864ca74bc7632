package config

import "strings"

// Config 是 Helmsman 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Market   MarketConfig   `toml:"market"`
	Data     DataConfig     `toml:"data"`
	Policy   PolicyConfig   `toml:"policy"`
	Notify   NotifyConfig   `toml:"notify"`
	Trading  TradingConfig  `toml:"trading"`
	Backtest BacktestConfig `toml:"backtest"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// DataConfig 指定所有本地落盘位置。
type DataConfig struct {
	StateDBPath  string `toml:"state_db_path"`  // gorm 状态/流水库
	CandleDBPath string `toml:"candle_db_path"` // 回测 K 线数据集
	ReportDir    string `toml:"report_dir"`     // 回测 HTML 报告目录
}

// PolicyConfig 选择决策方：远端 HTTP 策略或内置 EMA 交叉兜底。
type PolicyConfig struct {
	Mode           string `toml:"mode"` // "remote" | "ema_cross"
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// TradingConfig 控制运行模式、标的与资金。
type TradingConfig struct {
	Mode           string   `toml:"mode"` // "live" | "backtest"
	Symbols        []string `toml:"symbols"`
	Interval       string   `toml:"interval"`
	InitialBalance float64  `toml:"initial_balance"`
	WindowSize     int      `toml:"window_size"`
	Lookback       int      `toml:"lookback"`
	ProfilesPath   string   `toml:"profiles_path"` // 每标的风控画像，支持热更新
}

// BacktestConfig 描述回放数据来源。
type BacktestConfig struct {
	CSVPath string `toml:"csv_path"` // 非空则先导入 CSV 到 K 线库
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name           string `toml:"name"`
	Enabled        bool   `toml:"enabled"`
	RESTBaseURL    string `toml:"rest_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// SymbolsUpper 返回去重并标准化后的交易对列表。
func (t TradingConfig) SymbolsUpper() []string {
	if len(t.Symbols) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(t.Symbols))
	out := make([]string, 0, len(t.Symbols))
	for _, sym := range t.Symbols {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

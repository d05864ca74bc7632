package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"helmsman/internal/engine"
	"helmsman/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RiskProfile 是单个标的的风控画像。零值字段沿用 default 画像，
// default 缺省则回落到引擎内置参数。
type RiskProfile struct {
	Name                  string  `mapstructure:"-"`
	CooldownSteps         int     `mapstructure:"cooldown_steps"`
	StopLossPct           float64 `mapstructure:"stop_loss_pct"`
	TrailingTriggerPct    float64 `mapstructure:"trailing_trigger_pct"`
	TrailingDropPct       float64 `mapstructure:"trailing_drop_pct"`
	TakeProfitPct         float64 `mapstructure:"take_profit_pct"`
	RiskAversion          float64 `mapstructure:"risk_aversion"`
	EMAPenalty            float64 `mapstructure:"ema_penalty"`
	VolPenalty            float64 `mapstructure:"vol_penalty"`
	PositionSizePct       float64 `mapstructure:"position_size_pct"`
	CommissionPct         float64 `mapstructure:"commission_pct"`
	DailyDrawdownLimitPct float64 `mapstructure:"daily_drawdown_limit_pct"`
	MinTradeUSD           float64 `mapstructure:"min_trade_usd"`
	MinBandWidth          float64 `mapstructure:"min_band_width"`
}

// overlay 用 p 的非零字段覆盖 base。
func (p RiskProfile) overlay(base engine.RiskParams) engine.RiskParams {
	if p.CooldownSteps > 0 {
		base.CooldownSteps = p.CooldownSteps
	}
	if p.StopLossPct > 0 {
		base.StopLossPct = p.StopLossPct
	}
	if p.TrailingTriggerPct > 0 {
		base.TrailingTriggerPct = p.TrailingTriggerPct
	}
	if p.TrailingDropPct > 0 {
		base.TrailingDropPct = p.TrailingDropPct
	}
	if p.TakeProfitPct > 0 {
		base.TakeProfitPct = p.TakeProfitPct
	}
	if p.RiskAversion > 0 {
		base.RiskAversion = p.RiskAversion
	}
	if p.EMAPenalty > 0 {
		base.EMAPenalty = p.EMAPenalty
	}
	if p.VolPenalty > 0 {
		base.VolPenalty = p.VolPenalty
	}
	if p.PositionSizePct > 0 {
		base.PositionSizePct = p.PositionSizePct
	}
	if p.CommissionPct > 0 {
		base.CommissionPct = p.CommissionPct
	}
	if p.DailyDrawdownLimitPct > 0 {
		base.DailyDrawdownLimitPct = p.DailyDrawdownLimitPct
	}
	if p.MinTradeUSD > 0 {
		base.MinTradeUSD = p.MinTradeUSD
	}
	if p.MinBandWidth > 0 {
		base.MinBandWidth = p.MinBandWidth
	}
	return base
}

// FileConfig 是完整的画像配置文件结构。
type FileConfig struct {
	Profiles map[string]RiskProfile `mapstructure:"profiles"`
}

// ProfileSnapshot 对外暴露的只读快照。
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]RiskProfile
}

// Resolve 计算某个标的的最终引擎参数：内置默认 <- default 画像 <- 标的画像。
func (s ProfileSnapshot) Resolve(symbol string) engine.RiskParams {
	params := engine.DefaultRiskParams()
	if def, ok := s.Profiles["default"]; ok {
		params = def.overlay(params)
	}
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if prof, ok := s.Profiles[key]; ok {
		params = prof.overlay(params)
	}
	return params
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(ProfileSnapshot)

// ProfileLoader 从 YAML 文件加载每标的风控画像，并监听热更新。
// 画像变更只影响后续创建的引擎，已运行的引擎保持原参数。
type ProfileLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

// NewProfileLoader 读取配置文件并开始监听 FS 事件。
func NewProfileLoader(path string) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile config failed: %w", err)
	}
	loader := &ProfileLoader{path: path, v: v}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("profile reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Snapshot 返回当前配置快照（深拷贝）。
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("profile listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("profile listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *ProfileLoader) reload() error {
	var fileCfg FileConfig
	if err := l.v.Unmarshal(&fileCfg); err != nil {
		return fmt.Errorf("parse profile config failed: %w", err)
	}
	normalized := make(map[string]RiskProfile, len(fileCfg.Profiles))
	for name, def := range fileCfg.Profiles {
		key := strings.TrimSpace(name)
		if key == "" {
			continue
		}
		if !strings.EqualFold(key, "default") {
			key = strings.ToUpper(key)
		} else {
			key = "default"
		}
		def.Name = key
		if err := resolveValid(def); err != nil {
			return fmt.Errorf("profile %s invalid: %w", key, err)
		}
		normalized[key] = def
	}
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: normalized,
	}
	l.mu.Unlock()
	logger.Infof("Profile loader reloaded %d profiles from %s", len(normalized), filepath.Base(l.path))
	return nil
}

// resolveValid 把画像叠加到内置默认上过一遍引擎校验，
// 保证热更新不会把非法参数推给后续引擎。
func resolveValid(p RiskProfile) error {
	return p.overlay(engine.DefaultRiskParams()).Validate()
}

func cloneSnapshot(src ProfileSnapshot) ProfileSnapshot {
	dst := ProfileSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]RiskProfile, len(src.Profiles)),
	}
	for name, def := range src.Profiles {
		dst.Profiles[name] = def
	}
	return dst
}

package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"helmsman/internal/market"
	"helmsman/internal/scheduler"

	gobinance "github.com/adshao/go-binance/v2"
)

const maxHistoryLimit = 1000

// Source 基于 go-binance SDK 实现 market.Source。
type Source struct {
	cfg    Config
	client *gobinance.Client
}

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	client := gobinance.NewClient("", "")
	if base := strings.TrimSpace(final.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}
}

// FetchHistory 拉取最近 limit 根已收盘 K 线，按时间升序返回。
func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	// Binance 要求不带斜杠的 symbol（例如 ETHUSDT）
	cleanSymbol := strings.ReplaceAll(symbol, "/", "")

	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	// 多取一根：最后一根可能尚未收盘，丢弃以保证因果性。
	kls, err := s.client.NewKlinesService().
		Symbol(cleanSymbol).
		Interval(interval).
		Limit(limit + 1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", cleanSymbol, interval, err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		c, err := toCandle(kl)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosedBinanceKline(out, dur)
	} else if len(out) > 0 {
		out = out[:len(out)-1]
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func toCandle(kl *gobinance.Kline) (market.Candle, error) {
	open, err := parseFloat(kl.Open)
	if err != nil {
		return market.Candle{}, err
	}
	high, err := parseFloat(kl.High)
	if err != nil {
		return market.Candle{}, err
	}
	low, err := parseFloat(kl.Low)
	if err != nil {
		return market.Candle{}, err
	}
	closePx, err := parseFloat(kl.Close)
	if err != nil {
		return market.Candle{}, err
	}
	volume, err := parseFloat(kl.Volume)
	if err != nil {
		return market.Candle{}, err
	}
	return market.Candle{
		OpenTime:  kl.OpenTime,
		CloseTime: kl.CloseTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
	}, nil
}

func parseFloat(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("parse kline field %q: %w", raw, err)
	}
	return v, nil
}

func (s *Source) Close() error { return nil }

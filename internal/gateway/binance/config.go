package binance

import "time"

// Config 描述行情拉取的访问方式。轮询驱动只用 REST K 线接口，
// 不需要任何鉴权。
type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 20 * time.Second
	}
	return c
}

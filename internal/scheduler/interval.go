package scheduler

import (
	"strconv"
	"strings"
	"time"
)

// ParseIntervalDuration 把 K 线周期字符串（"15m"、"1h"、"1d"、"1w"）换算成
// time.Duration。只接受小写单位，避免把币安的月线 "1M" 误读成一分钟。
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.TrimSpace(interval)
	if len(interval) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch interval[len(interval)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	}
	return 0, false
}

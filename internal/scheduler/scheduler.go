package scheduler

import (
	"context"
	"time"

	"helmsman/internal/logger"
)

// AlignedScheduler 把任务对齐到 K 线收盘时刻执行：每个 Interval 周期
// 收盘后等待 Offset 再触发一次，保证拉到的最后一根 K 线已经闭合。
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewAlignedScheduler(ctx context.Context, interval, offset time.Duration) *AlignedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start 阻塞运行直到 ctx 取消。task 在当前 goroutine 内同步执行。
func (s *AlignedScheduler) Start(task func()) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("AlignedScheduler[%s]: 无效 interval=%s，退出", s.Name, s.Interval)
		return
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("AlignedScheduler[%s]: 启动 interval=%s offset=%s run_immediately=%v",
		s.Name, s.Interval, s.Offset, s.RunImmediately)

	if s.RunImmediately {
		task()
	}

	for {
		now := s.nowFn().UTC()
		nextClose := now.Truncate(s.Interval).Add(s.Interval)
		wakeAt := nextClose.Add(s.Offset)
		wait := wakeAt.Sub(now)

		logger.Debugf("AlignedScheduler[%s]: 下次执行=%s (in %s) | uptime=%s",
			s.Name, wakeAt.Format(time.RFC3339), wait.Truncate(time.Second),
			now.Sub(startAt).Truncate(time.Second))

		if wait <= 0 {
			task()
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("AlignedScheduler[%s]: ctx done，退出", s.Name)
			return
		case <-timer.C:
		}
		task()
	}
}

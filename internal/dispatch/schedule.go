package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sarkhati/internal/broker"
	"sarkhati/internal/calibrate"
)

// 定时发送相关常量。粗睡眠在目标时刻前留出自旋窗口，
// 自旋期间只读时钟，保证触发精度。
const (
	tehranZone     = "Asia/Tehran"
	spinWindow     = 5 * time.Millisecond
	clockTolerance = 50 * time.Millisecond
)

// parseTargetTime 解析 HH:MM:SS[.mmm] 为自当日零点的偏移。
func parseTargetTime(raw string) (time.Duration, error) {
	main, frac, _ := strings.Cut(raw, ".")
	parts := strings.Split(main, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("期望 HH:MM:SS[.mmm]，得到 %q", raw)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("小时字段非法: %q", parts[0])
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("分钟字段非法: %q", parts[1])
	}
	sec, err := strconv.Atoi(parts[2])
	if err != nil || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("秒字段非法: %q", parts[2])
	}

	ms := 0
	if frac != "" {
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		ms, err = strconv.Atoi(frac)
		if err != nil {
			return 0, fmt.Errorf("毫秒字段非法: %q", frac)
		}
	}

	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

// scheduledPass 执行一轮定时发送：先确定本轮目标时刻（已过则顺延到次日），
// 校准推迟到目标时刻前的窗口内进行以保证估计新鲜，
// 然后按 batch_delay 间隔逐笔发出整份清单。
func (s *Session) scheduledPass(ctx context.Context, batch int) (BatchResult, error) {
	offset, err := parseTargetTime(s.targetTime)
	if err != nil {
		return BatchResult{}, fmt.Errorf("dispatch: target_time 非法: %w", err)
	}

	loc, err := time.LoadLocation(tehranZone)
	if err != nil {
		return BatchResult{}, fmt.Errorf("dispatch: 加载时区失败: %w", err)
	}

	now := time.Now().In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	target := midnight.Add(offset)
	if !now.Before(target) {
		target = target.AddDate(0, 0, 1)
	}

	var lead time.Duration
	if s.calibration.Enabled {
		// 校准窗口紧贴目标时刻，提前量覆盖整个探测序列的耗时。
		window := time.Duration(s.calibration.ProbeCount)*s.calibration.ProbeInterval +
			s.calibration.MaxAcceptableRTT + s.calibration.SafetyMargin + s.batchDelay
		calibrateAt := target.Add(-window)

		if wait := time.Until(calibrateAt); wait > 0 {
			s.logger.Info("等待校准窗口",
				zap.String("target", target.Format("15:04:05.000")),
				zap.Duration("remaining", wait),
			)
			s.setState(StateWaitingTarget)
			if err := sleepCtx(ctx, wait); err != nil {
				return BatchResult{}, err
			}
		}

		s.setState(StateCalibrating)
		summary, err := calibrate.Run(ctx, s.calibration, s.limiter, s.probe, s.logger)
		if err != nil {
			return BatchResult{}, fmt.Errorf("dispatch: RTT校准失败: %w", err)
		}
		lead = summary.EstimatedDelay
		if s.delayModel == DelayModelHalfRTT {
			lead /= 2
		}
		lead += s.calibration.SafetyMargin
	}

	sendAt := target.Add(-lead)

	s.logger.Info("等待目标时刻",
		zap.String("target", target.Format("15:04:05.000")),
		zap.Duration("lead", lead),
		zap.Duration("remaining", time.Until(sendAt)),
	)

	outcomes := make([]broker.Outcome, len(s.specs))
	for i := range s.specs {
		at := sendAt.Add(time.Duration(i) * s.batchDelay)

		s.setState(StateWaitingTarget)
		if err := waitUntil(ctx, at); err != nil {
			return BatchResult{}, err
		}

		s.setState(StateSending)
		sendCtx := context.WithoutCancel(ctx)
		if err := s.limiter.Wait(sendCtx); err != nil {
			outcomes[i] = broker.TransportFailure(err)
			continue
		}
		outcomes[i] = s.sendOne(sendCtx, batch, i)
	}

	return BatchResult{Batch: batch, Outcomes: outcomes}, nil
}

// waitUntil 先粗睡眠到目标前的自旋窗口，再自旋到精确时刻。
// 自旋期间监控剩余时间，时钟明显回拨时报错而不是无限等待。
func waitUntil(ctx context.Context, at time.Time) error {
	if coarse := time.Until(at) - spinWindow; coarse > 0 {
		if err := sleepCtx(ctx, coarse); err != nil {
			return err
		}
	}

	best := time.Until(at)
	for {
		remaining := time.Until(at)
		if remaining <= 0 {
			return nil
		}
		if remaining > best+clockTolerance {
			return fmt.Errorf("dispatch: 检测到时钟回拨，剩余时间从 %s 变为 %s", best, remaining)
		}
		if remaining < best {
			best = remaining
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
}

// probe 对下单端点所在主机发一次 HEAD 请求测量往返时延。
func (s *Session) probe(ctx context.Context) (time.Duration, int, error) {
	target, err := calibrate.ProbeURL(s.adapter.OrderURL())
	if err != nil {
		return 0, 0, err
	}

	headers, err := s.adapter.Headers(s.cred)
	if err != nil {
		return 0, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header = headers.Clone()
	req.Header.Del("Content-Type")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	return time.Since(start), resp.StatusCode, nil
}

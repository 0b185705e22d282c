package dispatch

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sarkhati/internal/broker"
)

// State 标识发送循环所处的阶段。
type State int32

const (
	StateIdle State = iota
	StateCalibrating
	StateWaitingTarget
	StateSending
	StateWaitingDelay
	StateBackingOff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalibrating:
		return "calibrating"
	case StateWaitingTarget:
		return "waiting_target"
	case StateSending:
		return "sending"
	case StateWaitingDelay:
		return "waiting_delay"
	case StateBackingOff:
		return "backing_off"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// State 返回循环当前阶段。
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run 驱动发送循环直到上下文取消或测试模式收尾。
// 取消只在阶段切换点生效，已经发出的批次会完整结束。
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateStopped)

	s.logger.Info("发送循环启动",
		zap.Int("orders", len(s.specs)),
		zap.Duration("batch_delay", s.batchDelay),
		zap.Duration("failure_backoff", s.failureBackoff),
		zap.Duration("rate_limit", s.rateLimit),
		zap.Bool("test_mode", s.mode.TestMode),
		zap.Bool("curl_only", s.mode.CurlOnly),
	)

	// 设置了目标时刻时每轮都等下一个目标时刻，不退回连续批次。
	if s.targetTime != "" {
		for batch := 1; ; batch++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			result, err := s.scheduledPass(ctx, batch)
			if err != nil {
				return err
			}
			stop, err := s.afterBatch(ctx, result)
			if stop || err != nil {
				return err
			}
		}
	}

	for batch := 1; ; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.setState(StateSending)
		result := s.sendBatch(ctx, batch)

		stop, err := s.afterBatch(ctx, result)
		if stop || err != nil {
			return err
		}
	}
}

// afterBatch 汇总批次结果并执行批次间等待；测试模式下等待后要求停止。
func (s *Session) afterBatch(ctx context.Context, result BatchResult) (bool, error) {
	s.logger.Info("批次结束",
		zap.Int("batch", result.Batch),
		zap.Int("succeeded", result.Succeeded()),
		zap.Int("failed", result.Failed()),
	)

	delay := s.batchDelay
	next := StateWaitingDelay
	if result.Failed() > 0 {
		delay = s.failureBackoff
		next = StateBackingOff
		s.logger.Warn("批次存在失败，进入退避", zap.Duration("backoff", delay))
	}

	s.setState(next)
	if err := sleepCtx(ctx, delay); err != nil {
		return false, err
	}

	if s.mode.TestMode {
		s.logger.Info("测试模式，单批次后停止")
		return true, nil
	}
	return false, nil
}

// sendBatch 并发发出整份委托清单。批次内不做重试，
// 限速器保证相邻请求起始之间的最小间隔。
func (s *Session) sendBatch(ctx context.Context, batch int) BatchResult {
	outcomes := make([]broker.Outcome, len(s.specs))

	// 批次一旦开始便完整执行，外部取消等到阶段切换点再生效。
	sendCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i := range s.specs {
		i := i
		g.Go(func() error {
			if err := s.limiter.Wait(sendCtx); err != nil {
				outcomes[i] = broker.TransportFailure(err)
				return nil
			}
			outcomes[i] = s.sendOne(sendCtx, batch, i)
			return nil
		})
	}
	_ = g.Wait()

	return BatchResult{Batch: batch, Outcomes: outcomes}
}

// sendOne 编码并发送单笔委托，归类结果。编码失败按失败计入，不发起网络调用。
func (s *Session) sendOne(ctx context.Context, batch, idx int) broker.Outcome {
	body, err := s.adapter.Serialize(s.specs[idx])
	if err != nil {
		s.logger.Warn("委托编码失败",
			zap.Int("batch", batch),
			zap.Int("order", idx+1),
			zap.Error(err),
		)
		return broker.SerializationFailure(err)
	}

	headers, err := s.adapter.Headers(s.cred)
	if err != nil {
		return broker.TransportFailure(err)
	}

	if s.mode.CurlOnly {
		cmd := RenderCurl(s.adapter.OrderURL(), headers, body)
		s.logger.Info("等效curl命令",
			zap.Int("order", idx+1),
			zap.String("curl", cmd),
		)
		return broker.Outcome{Kind: broker.OutcomeSkipped}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.adapter.OrderURL(), bytes.NewReader(body))
	if err != nil {
		return broker.TransportFailure(err)
	}
	req.Header = headers.Clone()

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("委托发送失败",
			zap.Int("batch", batch),
			zap.Int("order", idx+1),
			zap.Error(err),
		)
		return broker.TransportFailure(err)
	}
	defer resp.Body.Close()

	body, err = readBody(resp)
	if err != nil {
		return broker.TransportFailure(fmt.Errorf("读取响应失败: %w", err))
	}

	outcome := s.adapter.Classify(resp.StatusCode, body)
	fields := []zap.Field{
		zap.Int("batch", batch),
		zap.Int("order", idx+1),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	}
	if outcome.Failed() {
		s.logger.Warn("委托被拒绝", append(fields, zap.String("body", outcome.Snippet))...)
	} else {
		s.logger.Info("委托已受理", fields...)
	}
	return outcome
}

// readBody 读取响应体，响应经 gzip 压缩时先解压。
// 自行设置 Accept-Encoding 后标准库不再自动解压。
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(io.LimitReader(reader, 1<<20))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sarkhati/internal/broker"
	"sarkhati/internal/config"
	"sarkhati/internal/dispatch"
)

const httpClientTimeout = 10 * time.Second

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	client dispatch.Doer
}

// New 创建 App 实例。client 传 nil 时使用默认 HTTP 客户端。
func New(cfg *config.Config, logger *zap.Logger, client dispatch.Doer) *App {
	if client == nil {
		client = &http.Client{Timeout: httpClientTimeout}
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		client: client,
	}
}

// Run 构建所选券商的会话并并行驱动它们直至结束。
// all 模式下单个券商配置非法只跳过该券商；没有任何可用会话时报错。
func (a *App) Run(ctx context.Context) error {
	runID := uuid.NewString()
	logger := a.logger.With(zap.String("run_id", runID))

	logger.Info("下单系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("broker", a.cfg.Dispatch.Broker),
		zap.Bool("test_mode", a.cfg.Dispatch.TestMode),
		zap.Bool("curl_only", a.cfg.Dispatch.CurlOnly),
	)

	sessions, skipped, err := a.buildSessions(logger)
	if err != nil {
		return err
	}

	if a.cfg.Dispatch.StatusPort > 0 {
		if err := startStatusServer(ctx, sessions, a.cfg.Dispatch.StatusPort, logger); err != nil {
			return err
		}
	}

	if err := runSessions(ctx, sessions, logger); err != nil {
		return err
	}
	// 部分券商构建失败时其余会话照常跑完，但退出码要反映失败
	if skipped > 0 {
		return fmt.Errorf("%d 家券商会话构建失败", skipped)
	}
	return nil
}

// buildSessions 把配置翻译成会话集合，返回被跳过的券商数。
func (a *App) buildSessions(logger *zap.Logger) ([]*dispatch.Session, int, error) {
	// curl_only 隐含测试模式，否则会无限循环打印同一批命令。
	mode := dispatch.Mode{
		TestMode: a.cfg.Dispatch.TestMode || a.cfg.Dispatch.CurlOnly,
		CurlOnly: a.cfg.Dispatch.CurlOnly,
	}

	selector := a.cfg.Dispatch.Broker
	if selector != "all" {
		session, err := dispatch.NewSession(broker.Name(selector), a.cfg.Brokers, mode, a.client, logger)
		if err != nil {
			return nil, 1, fmt.Errorf("构建券商会话失败: %w", err)
		}
		return []*dispatch.Session{session}, 0, nil
	}

	var sessions []*dispatch.Session
	skipped := 0
	for _, name := range a.cfg.Brokers.Configured() {
		session, err := dispatch.NewSession(name, a.cfg.Brokers, mode, a.client, logger)
		if err != nil {
			skipped++
			logger.Warn("跳过配置非法的券商",
				zap.String("broker", string(name)),
				zap.Error(err),
			)
			continue
		}
		sessions = append(sessions, session)
	}
	if len(sessions) == 0 {
		return nil, skipped, errors.New("没有任何可用的券商会话")
	}
	return sessions, skipped, nil
}

// runSessions 并行驱动全部会话。单个会话的运行错误只记录日志，
// 不影响其余会话继续发送。
func runSessions(ctx context.Context, sessions []*dispatch.Session, logger *zap.Logger) error {
	done := make(chan struct{}, len(sessions))
	for _, s := range sessions {
		s := s
		go func() {
			defer func() { done <- struct{}{} }()
			if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("会话异常结束",
					zap.String("broker", string(s.Broker())),
					zap.Error(err),
				)
				return
			}
			logger.Info("会话结束", zap.String("broker", string(s.Broker())))
		}()
	}

	for range sessions {
		<-done
	}

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	logger.Info("全部会话已停止")
	return nil
}

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sarkhati/internal/dispatch"
)

type sessionStatus struct {
	Broker string `json:"broker"`
	State  string `json:"state"`
	Orders int    `json:"orders"`
}

// startStatusServer 启动只读状态接口，暴露各会话所处的阶段。
func startStatusServer(ctx context.Context, sessions []*dispatch.Session, port int, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		statuses := make([]sessionStatus, 0, len(sessions))
		for _, s := range sessions {
			statuses = append(statuses, sessionStatus{
				Broker: string(s.Broker()),
				State:  s.State().String(),
				Orders: s.Orders(),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(statuses); err != nil {
			logger.Warn("写入状态响应失败", zap.Error(err))
		}
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭状态服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("状态服务异常", zap.Error(err))
		}
	}()

	logger.Info("状态接口已启动", zap.String("addr", addr))
	return nil
}

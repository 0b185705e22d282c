package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"sarkhati/internal/app"
	"sarkhati/internal/config"
	"sarkhati/internal/log"
)

func main() {
	var (
		configPath string
		brokerName string
		testMode   bool
		curlOnly   bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&brokerName, "broker", "", "要运行的券商名或 all，覆盖配置文件")
	flag.BoolVar(&testMode, "test", false, "测试模式：每个会话只发送一个批次")
	flag.BoolVar(&curlOnly, "curl", false, "只输出等效 curl 命令，不发送请求")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if brokerName != "" {
		cfg.Dispatch.Broker = brokerName
	}
	if testMode {
		cfg.Dispatch.TestMode = true
	}
	if curlOnly {
		cfg.Dispatch.CurlOnly = true
		// curl 输出只在单批次下有意义。
		cfg.Dispatch.TestMode = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置非法: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	dispatchApp := app.New(cfg, logger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatchApp.Run(ctx); err != nil {
		logger.Error("系统运行异常", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("系统已安全退出")
}

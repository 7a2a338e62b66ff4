package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/ant-server/internal/config"
	"github.com/taoyao-code/ant-server/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: $ANT_CONFIG or configs/example.yaml)")
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 启动服务（阻塞直到收到信号或设备致命错误）
	if err := bootstrap.Run(cfg, zap.L()); err != nil {
		zap.L().Error("server exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

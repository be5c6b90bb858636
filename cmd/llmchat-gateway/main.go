// =============================================================================
// llmchat 网关主入口
// =============================================================================
// 完整服务入口点，包含 HTTP/SSE 服务、健康检查、Prometheus 指标
//
// 使用方法:
//
//	llmchat-gateway serve                       # 启动服务
//	llmchat-gateway serve --config config.yaml  # 指定配置文件
//	llmchat-gateway version                     # 显示版本信息
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wilson323/llmchat-sub012/agents"
	"github.com/wilson323/llmchat-sub012/chat/circuitbreaker"
	"github.com/wilson323/llmchat-sub012/config"
	"github.com/wilson323/llmchat-sub012/gateway"
	"github.com/wilson323/llmchat-sub012/internal/metrics"
)

// 版本信息（构建时注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "配置文件路径")
	_ = fs.Parse(args)

	cfg, err := config.NewLoader().
		WithConfigPath(*configPath).
		WithValidator(validateConfig).
		Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	store, err := agents.Load(cfg.AgentsFile, logger)
	if err != nil {
		logger.Fatal("failed to load agent profiles", zap.Error(err))
	}

	collector := metrics.NewCollector("llmchat")
	gw := gateway.New(gateway.Config{
		CallTimeout: cfg.Gateway.CallTimeout,
		Breaker: &circuitbreaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
		},
	}, logger, gateway.WithObserver(collector))

	srv := newServer(cfg, logger, store, gw)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func validateConfig(cfg *config.Config) error {
	if cfg.Server.HTTPPort <= 0 {
		return fmt.Errorf("server.http_port must be positive")
	}
	if cfg.Auth.Enabled && cfg.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required when auth is enabled")
	}
	return nil
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func printVersion() {
	fmt.Printf("llmchat-gateway %s (build %s, commit %s)\n", Version, BuildTime, GitCommit)
}

func printUsage() {
	fmt.Println(`llmchat-gateway - multi-tenant LLM chat gateway

Usage:
  llmchat-gateway serve [--config config.yaml]
  llmchat-gateway version
  llmchat-gateway help`)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/nanobanana/config"
	"github.com/BaSui01/nanobanana/gemini"
	"github.com/BaSui01/nanobanana/internal/metrics"
	"github.com/BaSui01/nanobanana/internal/telemetry"
	"github.com/BaSui01/nanobanana/mcp"
	"github.com/BaSui01/nanobanana/storage"
	"github.com/BaSui01/nanobanana/tools"
	"github.com/BaSui01/nanobanana/translate"
)

// =============================================================================
// 🖥️ Server 装配
// =============================================================================

// Server 持有装配完成的全部组件
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	logLevel zap.AtomicLevel

	mcpServer *mcp.Server
	store     *storage.Store
	collector *metrics.Collector
	otel      *telemetry.Providers
}

// NewServer 装配全部组件：凭证解析 → 生成客户端 → 翻译器 →
// 图像存储 → 工具注册。凭证或输出目录不可用时立即失败。
func NewServer(cfg *config.Config, logger *zap.Logger, logLevel zap.AtomicLevel) (*Server, error) {
	// OpenTelemetry（未启用时为 noop）
	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	collector := metrics.NewCollector("nanobanana", logger)

	// 上游生成客户端（启动时解析凭证，凭证缺失立即失败）
	client, err := gemini.NewClient(context.Background(), cfg.Gemini, logger,
		gemini.WithMetrics(collector),
	)
	if err != nil {
		return nil, fmt.Errorf("build gemini client: %w", err)
	}

	translator := translate.New(cfg.Prompt, client, logger, translate.WithMetrics(collector))

	store, err := storage.New(cfg.Image, logger, storage.WithMetrics(collector))
	if err != nil {
		return nil, fmt.Errorf("build image store: %w", err)
	}

	mcpServer := mcp.NewServer(cfg.Server.Name, Version, logger,
		mcp.WithToolCallTimeout(cfg.Server.ToolCallTimeout),
		mcp.WithResourceProvider(tools.NewImageResources(store)),
		mcp.WithMetrics(collector),
		mcp.WithLogLevel(logLevel),
	)

	toolset := tools.New(client, translator, store, cfg.Prompt, logger)
	if err := toolset.Register(mcpServer); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	return &Server{
		cfg:       cfg,
		logger:    logger,
		logLevel:  logLevel,
		mcpServer: mcpServer,
		store:     store,
		collector: collector,
		otel:      otelProviders,
	}, nil
}

// =============================================================================
// 🚀 运行与优雅关闭
// =============================================================================

// Run 启动全部服务循环并阻塞到收到退出信号：
// stdio 服务循环、可选 HTTP 前端（SSE/WebSocket）、可选指标端点、
// 图像清理任务。任何一个循环出错都会取消其余循环。
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	// stdio 传输：stdout 专用于协议消息。
	// 客户端断开（stdin EOF）视为退出信号，联动其余循环。
	stdio := mcp.NewStdioTransport(os.Stdin, os.Stdout, s.logger)
	g.Go(func() error {
		defer cancel()
		err := s.mcpServer.Serve(ctx, stdio)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	// 信号到达时关闭 stdin，解除阻塞的读取
	g.Go(func() error {
		<-ctx.Done()
		os.Stdin.Close()
		return nil
	})

	// HTTP 前端（可选）
	if addr := s.cfg.Server.HTTPAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/mcp/", mcp.NewHandler(s.mcpServer, s.logger))
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		s.runHTTPServer(ctx, g, "mcp_http", addr, mux)
	}

	// Prometheus 指标端点（可选）
	if addr := s.cfg.Server.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.runHTTPServer(ctx, g, "metrics", addr, mux)
	}

	// 图像清理任务
	g.Go(func() error {
		s.store.RunSweeper(ctx, time.Hour)
		return nil
	})

	s.logger.Info("server running",
		zap.String("http_addr", s.cfg.Server.HTTPAddr),
		zap.String("metrics_addr", s.cfg.Server.MetricsAddr),
		zap.String("output_dir", s.store.Dir()),
	)

	err := g.Wait()

	// 遥测落盘
	if s.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if shutdownErr := s.otel.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Warn("telemetry shutdown failed", zap.Error(shutdownErr))
		}
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runHTTPServer 启动一个 HTTP 监听器，并在组上下文取消时优雅关闭
func (s *Server) runHTTPServer(ctx context.Context, g *errgroup.Group, name, addr string, handler http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		s.logger.Info("http listener starting",
			zap.String("name", name),
			zap.String("addr", addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s listener: %w", name, err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown failed",
				zap.String("name", name),
				zap.Error(err),
			)
		}
		return nil
	})
}

package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/nanobanana/internal/metrics"
	"github.com/BaSui01/nanobanana/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// tracerName otel tracer 标识
const tracerName = "github.com/BaSui01/nanobanana/mcp"

// ToolHandler 工具处理函数。
// 返回的 error 会被转换为 isError=true 的工具结果，
// 只有协议级问题才会变成 JSON-RPC error。
type ToolHandler func(ctx context.Context, args map[string]any) (*CallToolResult, error)

// ResourceProvider 资源提供方（由存储层实现并在装配时注入）
type ResourceProvider interface {
	ListResources(ctx context.Context) ([]Resource, error)
	ReadResource(ctx context.Context, uri string) (*ResourceContent, error)
}

// Server MCP 服务器：工具注册表 + JSON-RPC 分发 + 传输消息循环
type Server struct {
	info ServerInfo

	tools        map[string]*ToolDefinition
	toolHandlers map[string]ToolHandler
	toolOrder    []string
	toolsMu      sync.RWMutex

	resources ResourceProvider

	toolCallTimeout time.Duration
	logLevel        zap.AtomicLevel
	logger          *zap.Logger
	collector       *metrics.Collector
}

// ServerOption 服务器可选配置
type ServerOption func(*Server)

// WithToolCallTimeout 覆盖单次工具调用超时
func WithToolCallTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.toolCallTimeout = d }
}

// WithResourceProvider 挂接资源提供方（启用 resources 能力）
func WithResourceProvider(p ResourceProvider) ServerOption {
	return func(s *Server) {
		s.resources = p
		s.info.Capabilities.Resources = true
	}
}

// WithMetrics 挂接指标收集器
func WithMetrics(m *metrics.Collector) ServerOption {
	return func(s *Server) { s.collector = m }
}

// WithLogLevel 挂接可动态调整的日志级别（logging/setLevel 用）
func WithLogLevel(level zap.AtomicLevel) ServerOption {
	return func(s *Server) { s.logLevel = level }
}

// NewServer 创建 MCP 服务器
func NewServer(name, version string, logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		info: ServerInfo{
			Name:            name,
			Version:         version,
			ProtocolVersion: ProtocolVersion,
			Capabilities: ServerCapabilities{
				Tools:   true,
				Logging: true,
			},
		},
		tools:           make(map[string]*ToolDefinition),
		toolHandlers:    make(map[string]ToolHandler),
		toolCallTimeout: 5 * time.Minute,
		logLevel:        zap.NewAtomicLevel(),
		logger:          logger.With(zap.String("component", "mcp_server")),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Info 返回服务器信息
func (s *Server) Info() ServerInfo {
	return s.info
}

// RegisterTool 注册工具
func (s *Server) RegisterTool(tool *ToolDefinition, handler ToolHandler) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}
	if handler == nil {
		return fmt.Errorf("tool handler is required")
	}

	s.toolsMu.Lock()
	defer s.toolsMu.Unlock()

	if _, exists := s.tools[tool.Name]; !exists {
		s.toolOrder = append(s.toolOrder, tool.Name)
	}
	s.tools[tool.Name] = tool
	s.toolHandlers[tool.Name] = handler

	s.logger.Info("tool registered", zap.String("name", tool.Name))

	return nil
}

// ListTools 按注册顺序列出所有工具
func (s *Server) ListTools() []ToolDefinition {
	s.toolsMu.RLock()
	defer s.toolsMu.RUnlock()

	result := make([]ToolDefinition, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		result = append(result, *s.tools[name])
	}
	return result
}

// CallTool 调用工具。
// 业务失败（含 handler 返回的 error）折叠为 isError=true 的结果；
// 未知工具返回 nil 结果与 error，由分发层转为协议错误。
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	s.toolsMu.RLock()
	handler, ok := s.toolHandlers[name]
	s.toolsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.toolCallTimeout)
	defer cancel()

	callCtx, span := otel.Tracer(tracerName).Start(callCtx, "mcp.tool_call")
	span.SetAttributes(attribute.String("tool.name", name))
	defer span.End()

	s.logger.Debug("calling tool", zap.String("name", name))

	start := time.Now()
	result, err := handler(callCtx, args)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordToolCall(name, "error", duration)
		s.logger.Warn("tool call failed",
			zap.String("name", name),
			zap.String("code", string(types.GetErrorCode(err))),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return toolErrorResult(err), nil
	}

	status := "success"
	if result != nil && result.IsError {
		status = "error"
	}
	s.recordToolCall(name, status, duration)
	s.logger.Info("tool call finished",
		zap.String("name", name),
		zap.String("status", status),
		zap.Duration("duration", duration),
	)

	return result, nil
}

func (s *Server) recordToolCall(name, status string, duration time.Duration) {
	if s.collector != nil {
		s.collector.RecordToolCall(name, status, duration)
	}
}

// toolErrorResult 将结构化错误折叠为模型可读的失败结果
func toolErrorResult(err error) *CallToolResult {
	code := types.GetErrorCode(err)
	return NewToolError(fmt.Sprintf("[%s] %v", code, err))
}

// SetLogLevel 动态调整日志级别
func (s *Server) SetLogLevel(level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	s.logLevel.SetLevel(lvl)
	s.logger.Info("log level changed", zap.String("level", level))
	return nil
}

// =============================================================================
// Message Dispatcher (JSON-RPC 2.0)
// =============================================================================

// HandleMessage dispatches an incoming JSON-RPC 2.0 request to the appropriate
// server method and returns a JSON-RPC 2.0 response. Notifications (messages
// without an ID) return a nil response.
func (s *Server) HandleMessage(ctx context.Context, msg *Message) *Message {
	if msg == nil {
		return NewErrorResponse(nil, ErrorCodeInvalidRequest, "empty message", nil)
	}

	s.logger.Debug("handling message",
		zap.String("method", msg.Method),
		zap.Any("id", msg.ID),
	)

	// Notifications (no ID) are fire-and-forget; we process but don't respond.
	if msg.ID == nil {
		s.handleNotification(msg)
		return nil
	}

	result, rpcErr := s.dispatch(ctx, msg.Method, msg.Params)
	if rpcErr != nil {
		return &Message{JSONRPC: "2.0", ID: msg.ID, Error: rpcErr}
	}
	return NewResponse(msg.ID, result)
}

func (s *Server) handleNotification(msg *Message) {
	switch msg.Method {
	case "notifications/initialized":
		s.logger.Info("client initialized notification received")
	default:
		s.logger.Debug("unhandled notification", zap.String("method", msg.Method))
	}
}

// dispatch routes a method call to the corresponding server handler.
func (s *Server) dispatch(ctx context.Context, method string, params map[string]any) (any, *RPCError) {
	switch method {
	case "initialize":
		return s.handleInitialize()
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return map[string]any{"tools": s.ListTools()}, nil
	case "tools/call":
		return s.handleToolsCall(ctx, params)
	case "resources/list":
		return s.handleResourcesList(ctx)
	case "resources/read":
		return s.handleResourcesRead(ctx, params)
	case "logging/setLevel":
		return s.handleSetLogLevel(params)
	default:
		return nil, &RPCError{
			Code:    ErrorCodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", method),
		}
	}
}

func (s *Server) handleInitialize() (any, *RPCError) {
	return map[string]any{
		"protocolVersion": s.info.ProtocolVersion,
		"capabilities":    s.info.Capabilities,
		"serverInfo": map[string]any{
			"name":    s.info.Name,
			"version": s.info.Version,
		},
	}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params map[string]any) (any, *RPCError) {
	name, _ := params["name"].(string)
	if name == "" {
		return nil, &RPCError{Code: ErrorCodeInvalidParams, Message: "missing required parameter: name"}
	}

	// arguments 可以为空（无参工具）
	args, _ := params["arguments"].(map[string]any)

	result, err := s.CallTool(ctx, name, args)
	if err != nil {
		return nil, &RPCError{Code: ErrorCodeInvalidParams, Message: err.Error()}
	}
	return result, nil
}

func (s *Server) handleResourcesList(ctx context.Context) (any, *RPCError) {
	if s.resources == nil {
		return map[string]any{"resources": []Resource{}}, nil
	}
	resources, err := s.resources.ListResources(ctx)
	if err != nil {
		return nil, &RPCError{Code: ErrorCodeInternalError, Message: err.Error()}
	}
	return map[string]any{"resources": resources}, nil
}

func (s *Server) handleResourcesRead(ctx context.Context, params map[string]any) (any, *RPCError) {
	uri, _ := params["uri"].(string)
	if uri == "" {
		return nil, &RPCError{Code: ErrorCodeInvalidParams, Message: "missing required parameter: uri"}
	}
	if s.resources == nil {
		return nil, &RPCError{Code: ErrorCodeInternalError, Message: "resources not available"}
	}

	content, err := s.resources.ReadResource(ctx, uri)
	if err != nil {
		return nil, &RPCError{Code: ErrorCodeInternalError, Message: err.Error()}
	}
	return map[string]any{"contents": []any{content}}, nil
}

func (s *Server) handleSetLogLevel(params map[string]any) (any, *RPCError) {
	level, _ := params["level"].(string)
	if level == "" {
		return nil, &RPCError{Code: ErrorCodeInvalidParams, Message: "missing required parameter: level"}
	}
	if err := s.SetLogLevel(level); err != nil {
		return nil, &RPCError{Code: ErrorCodeInvalidParams, Message: err.Error()}
	}
	return map[string]any{}, nil
}

// =============================================================================
// Serve — Transport Message Loop
// =============================================================================

// Serve runs the MCP server message loop over the given transport. It receives
// messages, dispatches them via HandleMessage, and sends responses back. The
// loop exits when the context is cancelled or the transport reaches EOF.
func (s *Server) Serve(ctx context.Context, transport Transport) error {
	if transport == nil {
		return fmt.Errorf("transport cannot be nil")
	}

	s.logger.Info("MCP server starting",
		zap.String("name", s.info.Name),
		zap.String("version", s.info.Version),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("MCP server stopping: context cancelled")
			return ctx.Err()
		default:
		}

		msg, err := transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("MCP server stopping: context cancelled")
				return ctx.Err()
			}
			if isClosed(err) {
				s.logger.Info("MCP server stopping: transport closed")
				return nil
			}
			s.logger.Error("transport receive error", zap.Error(err))
			resp := NewErrorResponse(nil, ErrorCodeParseError, "failed to receive message", nil)
			if sendErr := transport.Send(ctx, resp); sendErr != nil {
				s.logger.Error("failed to send error response", zap.Error(sendErr))
			}
			continue
		}

		// Validate JSON-RPC version
		if msg.JSONRPC != "" && msg.JSONRPC != "2.0" {
			resp := NewErrorResponse(msg.ID, ErrorCodeInvalidRequest, "unsupported JSON-RPC version", nil)
			if sendErr := transport.Send(ctx, resp); sendErr != nil {
				s.logger.Error("failed to send error response", zap.Error(sendErr))
			}
			continue
		}

		resp := s.HandleMessage(ctx, msg)
		if resp == nil {
			// Notification — no response
			continue
		}

		if sendErr := transport.Send(ctx, resp); sendErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("failed to send response", zap.Error(sendErr))
		}
	}
}

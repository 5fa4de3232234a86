package mcp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Handler HTTP 处理器，将 MCP 服务器暴露为 HTTP 端点：
// POST /mcp/message（JSON-RPC 请求/响应）、GET /mcp/sse（服务端推送）、
// GET /mcp/ws（WebSocket 双向通道）。
type Handler struct {
	server *Server
	logger *zap.Logger

	// SSE 客户端管理
	sseClients   map[string]chan []byte
	sseClientsMu sync.RWMutex
}

// NewHandler 创建 MCP HTTP 处理器
func NewHandler(server *Server, logger *zap.Logger) *Handler {
	return &Handler{
		server:     server,
		logger:     logger.With(zap.String("component", "mcp_http")),
		sseClients: make(map[string]chan []byte),
	}
}

// ServeHTTP 实现 http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/mcp/message":
		h.handleMessage(w, r)
	case "/mcp/sse":
		h.handleSSE(w, r)
	case "/mcp/ws":
		h.handleWebSocket(w, r)
	default:
		http.NotFound(w, r)
	}
}

// handleMessage 处理单次 JSON-RPC 消息
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		resp := NewErrorResponse(nil, ErrorCodeParseError, "parse error", nil)
		writeJSON(w, resp)
		return
	}

	response := h.server.HandleMessage(r.Context(), &msg)
	if response == nil {
		// 通知没有响应体
		w.WriteHeader(http.StatusAccepted)
		return
	}

	writeJSON(w, response)

	// 如果请求属于某个 SSE 客户端，同步推送响应
	if clientID := r.URL.Query().Get("clientId"); clientID != "" {
		h.pushToSSEClient(clientID, response)
	}
}

// handleSSE 处理 SSE 连接
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientID := fmt.Sprintf("client_%d", time.Now().UnixNano())
	ch := make(chan []byte, 100)

	h.addSSEClient(clientID, ch)
	defer h.removeSSEClient(clientID)

	h.logger.Debug("sse client connected", zap.String("client_id", clientID))

	// 发送 endpoint 事件（告知客户端 POST 地址）
	fmt.Fprintf(w, "event: endpoint\ndata: /mcp/message?clientId=%s\n\n", clientID)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleWebSocket 升级为 WebSocket 并为该连接运行独立的消息循环
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"mcp"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	transport := NewWebSocketTransport(conn, h.logger)
	defer transport.Close()

	h.logger.Debug("websocket client connected", zap.String("remote", r.RemoteAddr))

	if err := h.server.Serve(r.Context(), transport); err != nil && r.Context().Err() == nil {
		h.logger.Warn("websocket serve loop ended", zap.Error(err))
	}
}

func (h *Handler) addSSEClient(clientID string, ch chan []byte) {
	h.sseClientsMu.Lock()
	defer h.sseClientsMu.Unlock()
	h.sseClients[clientID] = ch
}

// removeSSEClient 注销客户端并关闭其通道。
// close 必须与 pushToSSEClient 的发送在同一把锁下互斥，
// 否则断开与推送并发时会向已关闭通道发送。
func (h *Handler) removeSSEClient(clientID string) {
	h.sseClientsMu.Lock()
	defer h.sseClientsMu.Unlock()

	if ch, ok := h.sseClients[clientID]; ok {
		delete(h.sseClients, clientID)
		close(ch)
	}
}

// pushToSSEClient 推送消息到 SSE 客户端。
// 发送持读锁（非阻塞，不会长期占用），关闭持写锁，两者互斥。
func (h *Handler) pushToSSEClient(clientID string, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.sseClientsMu.RLock()
	defer h.sseClientsMu.RUnlock()

	ch, exists := h.sseClients[clientID]
	if !exists {
		return
	}

	select {
	case ch <- data:
	default:
		h.logger.Warn("SSE client channel full", zap.String("client_id", clientID))
	}
}

func writeJSON(w http.ResponseWriter, msg *Message) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(msg)
}

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	s := NewServer("nanobanana", "1.0.0", zap.NewNop())
	def, handler := echoTool()
	require.NoError(t, s.RegisterTool(def, handler))

	return NewHandler(s, zap.NewNop())
}

func TestHandler_Message_ToolsList(t *testing.T) {
	h := newTestHandler(t)

	body, _ := json.Marshal(NewRequest(1, "tools/list", nil))
	req := httptest.NewRequest(http.MethodPost, "/mcp/message", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		JSONRPC string `json:"jsonrpc"`
		Result  struct {
			Tools []ToolDefinition `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	require.Len(t, resp.Result.Tools, 1)
	assert.Equal(t, "echo", resp.Result.Tools[0].Name)
}

func TestHandler_Message_ParseError(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp/message", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	var resp Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrorCodeParseError, resp.Error.Code)
}

func TestHandler_Message_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/mcp/message", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_Message_NotificationAccepted(t *testing.T) {
	h := newTestHandler(t)

	body, _ := json.Marshal(&Message{JSONRPC: "2.0", Method: "notifications/initialized"})
	req := httptest.NewRequest(http.MethodPost, "/mcp/message", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHandler_NotFound(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/mcp/other", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// 推送与断开并发时不得向已关闭通道发送
func TestHandler_SSE_PushRacingDisconnect(t *testing.T) {
	h := newTestHandler(t)
	msg := NewResponse(1, map[string]any{})

	for i := 0; i < 200; i++ {
		clientID := fmt.Sprintf("client_%d", i)
		h.addSSEClient(clientID, make(chan []byte, 1))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.pushToSSEClient(clientID, msg)
		}()
		go func() {
			defer wg.Done()
			h.removeSSEClient(clientID)
		}()
		wg.Wait()

		// 断开后的推送是空操作
		h.pushToSSEClient(clientID, msg)
	}
}

// SSE 首个事件必须是 endpoint 事件，携带回传 POST 地址
func TestHandler_SSE_EndpointEvent(t *testing.T) {
	h := newTestHandler(t)

	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/mcp/sse", nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: endpoint\n", eventLine)

	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dataLine, "data: /mcp/message?clientId=client_"), "unexpected data line: %q", dataLine)

	cancel()
}

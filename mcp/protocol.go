package mcp

import (
	"encoding/json"
	"fmt"
)

// MCP (Model Context Protocol) 协议类型
// 基于 Anthropic MCP 规范实现

// ProtocolVersion MCP 协议版本
const ProtocolVersion = "2024-11-05"

// Message JSON-RPC 2.0 消息
type Message struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id,omitempty"`
	Method  string         `json:"method,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Result  any            `json:"result,omitempty"`
	Error   *RPCError      `json:"error,omitempty"`
}

// RPCError JSON-RPC 2.0 错误
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// 标准错误码
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
)

// MarshalJSON 强制输出 jsonrpc 版本字段
func (m *Message) MarshalJSON() ([]byte, error) {
	type Alias Message
	return json.Marshal(&struct {
		JSONRPC string `json:"jsonrpc"`
		*Alias
	}{
		JSONRPC: "2.0",
		Alias:   (*Alias)(m),
	})
}

// NewRequest 创建请求消息
func NewRequest(id any, method string, params map[string]any) *Message {
	return &Message{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// NewResponse 创建成功响应
func NewResponse(id any, result any) *Message {
	return &Message{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(id any, code int, message string, data any) *Message {
	return &Message{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

// =============================================================================
// 🛠️ 工具定义
// =============================================================================

// ToolDefinition MCP 工具定义
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"` // JSON Schema
}

// Validate 校验工具定义
func (t *ToolDefinition) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Description == "" {
		return fmt.Errorf("tool description is required")
	}
	if t.InputSchema == nil {
		return fmt.Errorf("tool input schema is required")
	}
	return nil
}

// ContentBlock tools/call 结果里的一段内容。
// Type 为 "text" 时使用 Text 字段；为 "image" 时使用
// Data（base64）与 MimeType 字段。
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// TextContent 构造文本内容块
func TextContent(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// CallToolResult tools/call 的结果。
// 工具执行期的业务失败通过 IsError=true 的结果返回给模型，
// 协议级错误（未知工具、参数缺失）才走 JSON-RPC error。
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// NewToolError 构造业务失败的工具结果
func NewToolError(message string) *CallToolResult {
	return &CallToolResult{
		Content: []ContentBlock{TextContent(message)},
		IsError: true,
	}
}

// =============================================================================
// 📦 资源
// =============================================================================

// Resource MCP 资源（生成的图像文件）
type Resource struct {
	URI         string               `json:"uri"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	MimeType    string               `json:"mimeType,omitempty"`
	Size        int64                `json:"size,omitempty"`
	Annotations *ResourceAnnotations `json:"annotations,omitempty"`
}

// ResourceAnnotations 资源附加信息
type ResourceAnnotations struct {
	// LastModified ISO 8601 时间戳
	LastModified string `json:"lastModified,omitempty"`
}

// ResourceContent resources/read 返回的内容
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"` // base64
}

// =============================================================================
// ℹ️ 服务器信息
// =============================================================================

// ServerInfo 服务器信息
type ServerInfo struct {
	Name            string             `json:"name"`
	Version         string             `json:"version"`
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
}

// ServerCapabilities 服务器能力
type ServerCapabilities struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Logging   bool `json:"logging"`
}

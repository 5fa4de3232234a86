// Copyright (c) Nanobanana Authors.
// Licensed under the MIT License.

// Package mcp 实现 MCP (Model Context Protocol) 服务器端，
// 基于 JSON-RPC 2.0，支持 stdio（Content-Length 帧）、HTTP POST、
// SSE 与 WebSocket 四种接入方式。
package mcp

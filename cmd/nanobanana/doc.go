// nanobanana 是一个基于 Gemini 多模态 API 的图像生成 MCP 服务器。
//
// 默认通过 stdio 传输对接 MCP 客户端（stdout 为协议通道，日志走
// stderr），可选开启 HTTP 前端（SSE / WebSocket）与 Prometheus
// 指标端点。
package main

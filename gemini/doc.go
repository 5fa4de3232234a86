// Copyright (c) Nanobanana Authors.
// Licensed under the MIT License.

// Package gemini 实现对 Google Gemini 多模态 API 的原生 HTTP 访问，
// 覆盖图像生成、图像编辑和翻译用的纯文本生成三类调用。
//
// 凭证为二选一的联合类型：APIKeyCredentials 直连
// generativelanguage.googleapis.com，CloudProjectCredentials 走
// Vertex AI 端点并使用 Application Default Credentials 签发的
// OAuth2 token。
package gemini

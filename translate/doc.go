// Copyright (c) Nanobanana Authors.
// Licensed under the MIT License.

// Package translate 提供尽力而为的提示词翻译：非英文提示词
// 通过文本模型翻译为英文，任何失败都回退到原文，绝不阻断生成。
package translate

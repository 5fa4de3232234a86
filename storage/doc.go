// Copyright (c) Nanobanana Authors.
// Licensed under the MIT License.

// Package storage 负责生成图像的落盘、列举与过期清理。
// 文件名形如 <slug>_<yyyymmdd_hhmmss>_<uuid8>.<ext>，slug 取自
// 提示词，保证可读又不冲突。
package storage

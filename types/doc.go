// Copyright (c) Nanobanana Authors.
// Licensed under the MIT License.

/*
Package types 提供 nanobanana 服务的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 config、gemini、storage、
tools 等上层模块提供统一的错误契约。

# 错误分类

  - 启动期错误（ErrConfiguration）：配置缺失或非法，进程直接退出；
  - 请求期错误（其余错误码）：在工具调度边界被捕获，转换为协议层的
    失败响应，不会导致进程崩溃。

所有错误通过 *types.Error 携带错误码、HTTP 状态、是否可重试等元数据，
上层用 GetErrorCode / IsRetryable 做分支判断。
*/
package types

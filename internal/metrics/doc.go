/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
MCP 工具调用、上游 Gemini 请求、翻译与图像存储四大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

本包为内部实现，禁止被外部项目导入。
*/
package metrics

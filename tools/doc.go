// Package tools 提供 MCP 工具适配层。
//
// 把图像生成与编辑能力包装成两个 MCP 工具：
//   - nanobanana_generate: 文本提示词生成图像
//   - nanobanana_edit:     自然语言指令编辑已有图像
//
// 工具处理器负责参数校验、提示词翻译与增强、调用上游生成客户端、
// 图像落盘，并把结果汇总为模型可读的文本报告。输出目录中的图像
// 同时通过 ImageResources 以 MCP resources 的形式暴露。
package tools

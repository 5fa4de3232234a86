package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/BaSui01/nanobanana/config"
	"github.com/BaSui01/nanobanana/gemini"
	"github.com/BaSui01/nanobanana/mcp"
	"github.com/BaSui01/nanobanana/storage"
	"github.com/BaSui01/nanobanana/translate"
	"github.com/BaSui01/nanobanana/types"

	"go.uber.org/zap"
)

// =============================================================================
// 🔧 工具集装配
// =============================================================================

// Toolset 持有两个图像工具共享的依赖
type Toolset struct {
	generator  gemini.Generator
	translator *translate.Translator
	store      *storage.Store
	promptCfg  config.PromptConfig
	logger     *zap.Logger
}

// New 创建工具集
func New(
	generator gemini.Generator,
	translator *translate.Translator,
	store *storage.Store,
	promptCfg config.PromptConfig,
	logger *zap.Logger,
) *Toolset {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toolset{
		generator:  generator,
		translator: translator,
		store:      store,
		promptCfg:  promptCfg,
		logger:     logger.With(zap.String("component", "tools")),
	}
}

// Register 把全部工具注册到 MCP 服务器
func (t *Toolset) Register(s *mcp.Server) error {
	if err := s.RegisterTool(generateToolDefinition(), t.HandleGenerate); err != nil {
		return err
	}
	if err := s.RegisterTool(editToolDefinition(), t.HandleEdit); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// 📋 参数提取
// =============================================================================

// stringArg 提取字符串参数，缺失或空白时返回 ErrInvalidArgument
func stringArg(args map[string]any, key string) (string, error) {
	value, ok := args[key].(string)
	if !ok || value == "" {
		return "", types.NewError(types.ErrInvalidArgument,
			fmt.Sprintf("missing required argument: %s", key))
	}
	return value, nil
}

// enumArg 提取枚举参数，未提供时使用默认值，非法取值返回 ErrInvalidArgument
func enumArg(args map[string]any, key, fallback string, allowed []string) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", types.NewError(types.ErrInvalidArgument,
			fmt.Sprintf("argument %s must be a string", key))
	}
	if value == "" {
		return fallback, nil
	}
	for _, candidate := range allowed {
		if value == candidate {
			return value, nil
		}
	}
	return "", types.NewError(types.ErrInvalidArgument,
		fmt.Sprintf("invalid %s %q (allowed: %v)", key, value, allowed))
}

// =============================================================================
// 📄 结果报告
// =============================================================================

// report 工具执行结果，序列化为 JSON 文本返回给模型
type report struct {
	Success     bool           `json:"success"`
	Description string         `json:"description"`
	ImagePath   string         `json:"image_path"`
	FileSizeMB  float64        `json:"file_size_mb"`
	Metadata    map[string]any `json:"metadata"`
}

// toolResult 把报告打包成含单个文本块的工具结果
func toolResult(r report) (*mcp.CallToolResult, error) {
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to encode tool result").WithCause(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(string(body))},
	}, nil
}

func megabytes(n int) float64 {
	return math.Round(float64(n)/(1<<20)*100) / 100
}

// rewrite 翻译文本（translator 未装配时原样返回）
func (t *Toolset) rewrite(ctx context.Context, text string) string {
	if t.translator == nil {
		return text
	}
	return t.translator.Translate(ctx, text)
}

func durationMillis(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

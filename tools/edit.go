package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/BaSui01/nanobanana/gemini"
	"github.com/BaSui01/nanobanana/mcp"

	"go.uber.org/zap"
)

// =============================================================================
// ✏️ nanobanana_edit — 自然语言编辑图像
// =============================================================================

var editStyles = []string{"preserve", "enhance", "transform", "artistic", "photorealistic", "stylized"}

func editToolDefinition() *mcp.ToolDefinition {
	return &mcp.ToolDefinition{
		Name:        "nanobanana_edit",
		Description: "Edit or transform existing images using natural language instructions",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"image_path": map[string]any{
					"type":        "string",
					"description": "Path to the image file to edit",
				},
				"instruction": map[string]any{
					"type":        "string",
					"description": "Editing instructions in natural language",
				},
				"style": map[string]any{
					"type":        "string",
					"enum":        editStyles,
					"default":     "preserve",
					"description": "Style to apply",
				},
			},
			"required": []string{"image_path", "instruction"},
		},
	}
}

// HandleEdit 处理 nanobanana_edit 调用：
// 校验 → 翻译指令 → 指令增强（含输入图像尺寸上下文）→ 上游编辑 → 落盘。
// 输入文件缺失时由上游客户端在发起网络请求前返回 FILE_NOT_FOUND。
func (t *Toolset) HandleEdit(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	imagePath, err := stringArg(args, "image_path")
	if err != nil {
		return nil, err
	}
	instruction, err := stringArg(args, "instruction")
	if err != nil {
		return nil, err
	}
	style, err := enumArg(args, "style", "preserve", editStyles)
	if err != nil {
		return nil, err
	}

	translated := t.rewrite(ctx, instruction)

	width, height, _ := gemini.ProbeImageSize(imagePath)
	augmented := gemini.BuildEditInstruction(translated, style, width, height, t.promptCfg.AddTextExclusion)

	t.logger.Info("editing image",
		zap.String("image_path", imagePath),
		zap.String("style", style),
		zap.String("instruction", augmented),
	)

	start := time.Now()
	result, err := t.generator.Edit(ctx, imagePath, augmented)
	if err != nil {
		return nil, err
	}

	savedPath, err := t.store.Save("edited_"+filepath.Base(imagePath), result.ImageData, result.MimeType)
	if err != nil {
		return nil, err
	}

	description := result.Text
	if description == "" {
		description = fmt.Sprintf("Edited image: %s", instruction)
	}

	metadata := map[string]any{
		"original_image":        imagePath,
		"instruction":           instruction,
		"optimized_instruction": augmented,
		"style":                 style,
		"model":                 result.Model,
		"mime_type":             result.MimeType,
		"tokens_used":           result.TokenCount,
		"duration_ms":           durationMillis(start),
		"auto_translated":       translated != instruction,
		"timestamp":             time.Now().Format(time.RFC3339),
	}
	if width > 0 && height > 0 {
		metadata["original_size"] = fmt.Sprintf("%dx%d", width, height)
	}

	return toolResult(report{
		Success:     true,
		Description: description,
		ImagePath:   savedPath,
		FileSizeMB:  megabytes(len(result.ImageData)),
		Metadata:    metadata,
	})
}

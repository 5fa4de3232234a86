package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/nanobanana/gemini"
	"github.com/BaSui01/nanobanana/mcp"

	"go.uber.org/zap"
)

// =============================================================================
// 🎨 nanobanana_generate — 文本生成图像
// =============================================================================

var generateStyles = []string{"photo", "illustration", "art", "sketch", "digital_art", "painting"}

var generateQualities = []string{"high", "medium", "low"}

func generateToolDefinition() *mcp.ToolDefinition {
	return &mcp.ToolDefinition{
		Name:        "nanobanana_generate",
		Description: "Generate images from text prompts using Gemini 2.5 Flash Image",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "Text description for image generation (Korean/English supported)",
				},
				"style": map[string]any{
					"type":        "string",
					"enum":        generateStyles,
					"default":     "photo",
					"description": "Image style",
				},
				"quality": map[string]any{
					"type":        "string",
					"enum":        generateQualities,
					"default":     "high",
					"description": "Quality setting",
				},
			},
			"required": []string{"prompt"},
		},
	}
}

// HandleGenerate 处理 nanobanana_generate 调用：
// 校验 → 翻译 → 提示词增强 → 上游生成 → 落盘 → 结果报告。
func (t *Toolset) HandleGenerate(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	prompt, err := stringArg(args, "prompt")
	if err != nil {
		return nil, err
	}
	style, err := enumArg(args, "style", "photo", generateStyles)
	if err != nil {
		return nil, err
	}
	quality, err := enumArg(args, "quality", "high", generateQualities)
	if err != nil {
		return nil, err
	}

	translated := t.rewrite(ctx, prompt)
	augmented := gemini.BuildGeneratePrompt(translated, style, quality)

	t.logger.Info("generating image",
		zap.String("style", style),
		zap.String("quality", quality),
		zap.String("prompt", augmented),
	)

	start := time.Now()
	result, err := t.generator.Generate(ctx, augmented)
	if err != nil {
		return nil, err
	}

	path, err := t.store.Save(prompt, result.ImageData, result.MimeType)
	if err != nil {
		return nil, err
	}

	description := result.Text
	if description == "" {
		description = fmt.Sprintf("Generated image: %s", prompt)
	}

	return toolResult(report{
		Success:     true,
		Description: description,
		ImagePath:   path,
		FileSizeMB:  megabytes(len(result.ImageData)),
		Metadata: map[string]any{
			"original_prompt":  prompt,
			"optimized_prompt": augmented,
			"style":            style,
			"quality":          quality,
			"model":            result.Model,
			"mime_type":        result.MimeType,
			"tokens_used":      result.TokenCount,
			"duration_ms":      durationMillis(start),
			"auto_translated":  translated != prompt,
			"timestamp":        time.Now().Format(time.RFC3339),
		},
	})
}

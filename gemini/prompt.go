package gemini

import (
	"fmt"
	"strings"
)

// =============================================================================
// ✍️ 提示词增强
// =============================================================================

// styleHints 生成场景的风格前缀
var styleHints = map[string]string{
	"photo":        "A high-quality photograph of",
	"illustration": "A detailed illustration of",
	"art":          "An artistic rendering of",
	"sketch":       "A pencil sketch of",
	"digital_art":  "A digital artwork of",
	"painting":     "A painted image of",
}

// qualityHints 生成场景的质量后缀
var qualityHints = map[string]string{
	"high":   ", 8K resolution, ultra-detailed, masterpiece quality",
	"medium": ", good quality, clear details",
	"low":    ", simple style",
}

// editStyleHints 编辑场景的风格前缀
var editStyleHints = map[string]string{
	"preserve":       "Edit this image while preserving its original style:",
	"enhance":        "Enhance and improve this image:",
	"transform":      "Transform this image by:",
	"artistic":       "Apply artistic transformation to this image:",
	"photorealistic": "Make this image more photorealistic:",
	"stylized":       "Apply stylized effects to this image:",
}

// textIndicators 用户希望图像中出现文字的信号词（英文小写匹配）
var textIndicators = []string{
	"sign", "placard", "banner", "text", "writing", "words", "letters",
	"팻말", "간판", "글자", "텍스트", "signboard", "written", "bold", "clear text",
}

// koreanTextPatterns 韩文文字信号（区分大小写的原样匹配）
var koreanTextPatterns = []string{"참좋은복사기", "한글", "글씨", "문자"}

// textVisibilityHint 要求模型清晰渲染文字
const textVisibilityHint = ". Ensure any text is clearly visible, readable, and properly aligned with high contrast"

// textExclusionHint 编辑时禁止模型自行添加文字
const textExclusionHint = " Do not add any text, letters, or words to the image."

// editQualityHint 编辑时保持输出质量
const editQualityHint = " Maintain high quality and detail in the output."

// BuildGeneratePrompt 为生成请求增强提示词：
// 已知风格加前缀（提示词本身以冠词开头时跳过），检测到用户
// 想要图中出现文字时追加可见性要求，已知质量档位加后缀。
// 未知的 style/quality 原样忽略，提示词不因此报错。
func BuildGeneratePrompt(prompt, style, quality string) string {
	out := strings.TrimSpace(prompt)

	if hint, ok := styleHints[style]; ok && !startsWithArticle(out) {
		out = hint + " " + out
	}

	if wantsVisibleText(out) {
		out += textVisibilityHint
	}

	if hint, ok := qualityHints[quality]; ok {
		out += hint
	}

	return out
}

// BuildEditInstruction 为编辑请求增强指令：已知风格加前缀，
// 已知图像尺寸时补充上下文，按需追加禁止添加文字的约束，
// 最后固定要求保持输出质量。
func BuildEditInstruction(instruction, style string, width, height int, addTextExclusion bool) string {
	out := strings.TrimSpace(instruction)

	if hint, ok := editStyleHints[style]; ok {
		out = hint + " " + out
	}

	if width > 0 && height > 0 {
		out += fmt.Sprintf(" The input image is %dx%d pixels.", width, height)
	}

	if addTextExclusion && !wantsVisibleText(out) {
		out += textExclusionHint
	}

	out += editQualityHint

	return out
}

func startsWithArticle(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "a ") ||
		strings.HasPrefix(lower, "an ") ||
		strings.HasPrefix(lower, "the ")
}

// wantsVisibleText 判断用户是否希望图像中出现文字
func wantsVisibleText(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, ind := range textIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	for _, pat := range koreanTextPatterns {
		if strings.Contains(prompt, pat) {
			return true
		}
	}
	return false
}

package translate

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/BaSui01/nanobanana/config"
	"github.com/BaSui01/nanobanana/internal/metrics"

	"go.uber.org/zap"
)

// TextModel 翻译所需的最小文本生成能力
type TextModel interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// 翻译结果指标标签
const (
	outcomeTranslated = "translated"
	outcomeSkipped    = "skipped"
	outcomeFallback   = "fallback"
)

// Translator 提示词翻译器
type Translator struct {
	model           TextModel
	enabled         bool
	defaultLanguage string
	logger          *zap.Logger
	collector       *metrics.Collector
}

// Option 翻译器可选配置
type Option func(*Translator)

// WithMetrics 挂接指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(t *Translator) { t.collector = m }
}

// New 创建翻译器。model 为 nil 时翻译被禁用，所有输入原样返回。
func New(cfg config.PromptConfig, model TextModel, logger *zap.Logger, opts ...Option) *Translator {
	t := &Translator{
		model:           model,
		enabled:         cfg.AutoTranslate && model != nil,
		defaultLanguage: cfg.DefaultLanguage,
		logger:          logger.With(zap.String("component", "translate")),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate 将提示词翻译为英文。
// 已是英文（仅含拉丁字母）的文本直接跳过；模型调用失败或返回
// 空结果时回退到原文。返回值永远可用作生成提示词。
func (t *Translator) Translate(ctx context.Context, text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}

	if !t.enabled || isLikelyEnglish(trimmed) {
		t.record(outcomeSkipped)
		return text
	}

	prompt := t.buildPrompt(trimmed)
	translated, err := t.model.GenerateText(ctx, prompt)
	if err != nil {
		t.logger.Warn("translation failed, using original text", zap.Error(err))
		t.record(outcomeFallback)
		return text
	}

	translated = cleanModelOutput(translated)
	if translated == "" {
		t.logger.Warn("translation returned empty result, using original text")
		t.record(outcomeFallback)
		return text
	}

	t.logger.Debug("prompt translated",
		zap.Int("original_len", len(text)),
		zap.Int("translated_len", len(translated)),
	)
	t.record(outcomeTranslated)
	return translated
}

func (t *Translator) buildPrompt(text string) string {
	hint := ""
	if t.defaultLanguage != "" {
		hint = fmt.Sprintf(" The text is most likely in %q.", t.defaultLanguage)
	}
	return fmt.Sprintf(
		"Translate the following image generation prompt to English.%s "+
			"Return only the translated text with no explanation or quotes.\n\n%s",
		hint, text)
}

func (t *Translator) record(outcome string) {
	if t.collector != nil {
		t.collector.RecordTranslation(outcome)
	}
}

// isLikelyEnglish 判断文本是否只包含拉丁字母。
// 含任何非拉丁字母（韩文、中文、日文等）视为需要翻译。
func isLikelyEnglish(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.Is(unicode.Latin, r) {
			return false
		}
	}
	return true
}

// cleanModelOutput 去掉模型输出常见的包裹字符
func cleanModelOutput(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'")
	return strings.TrimSpace(s)
}

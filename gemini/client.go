package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BaSui01/nanobanana/config"
	"github.com/BaSui01/nanobanana/internal/metrics"
	"github.com/BaSui01/nanobanana/internal/tlsutil"
	"github.com/BaSui01/nanobanana/types"

	"go.uber.org/zap"
)

// defaultDirectBaseURL 直连模式官方端点
const defaultDirectBaseURL = "https://generativelanguage.googleapis.com"

// maxInlineImageBytes 单张内联图像上限（与上游 inlineData 限制一致）
const maxInlineImageBytes = 20 << 20

// providerName 错误与日志中的上游标识
const providerName = "gemini"

// =============================================================================
// 🖼️ 生成客户端
// =============================================================================

// Result 单次生成/编辑的结果
type Result struct {
	// Text 模型随图像返回的描述文本（可能为空）
	Text string
	// ImageData 解码后的图像字节
	ImageData []byte
	// MimeType 图像 MIME 类型，如 image/png
	MimeType string
	// TokenCount 本次调用消耗的 token 总数
	TokenCount int
	// Model 实际使用的模型名
	Model string
}

// Generator 图像生成能力接口，tools 层依赖此接口而非具体客户端
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Result, error)
	Edit(ctx context.Context, imagePath, instruction string) (*Result, error)
}

// TextGenerator 纯文本生成能力接口（翻译用）
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Client 通过原生 HTTP 访问 Gemini 多模态 API。
// Gemini API 特点：
// 1. 直连模式使用 x-goog-api-key 请求头认证
// 2. 云项目模式走 Vertex AI 端点 + OAuth2 bearer token
// 3. 图像生成通过 responseModalities=["TEXT","IMAGE"] 启用
type Client struct {
	cfg        config.GeminiConfig
	creds      Credentials
	httpClient *http.Client
	logger     *zap.Logger
	collector  *metrics.Collector
}

// Option 客户端可选配置
type Option func(*Client)

// WithCredentials 覆盖凭证（跳过 ResolveCredentials，测试用）
func WithCredentials(creds Credentials) Option {
	return func(c *Client) { c.creds = creds }
}

// WithHTTPClient 覆盖 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics 挂接指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.collector = m }
}

// NewClient 创建 Gemini 客户端并解析凭证。
// 凭证解析失败（缺 key、ADC 不可用）属于启动期配置错误。
func NewClient(ctx context.Context, cfg config.GeminiConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	c := &Client{
		cfg:        cfg,
		httpClient: tlsutil.SecureHTTPClient(timeout),
		logger:     logger.With(zap.String("component", "gemini")),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.creds == nil {
		creds, err := ResolveCredentials(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.creds = creds
	}

	c.logger.Info("gemini client initialized",
		zap.String("model", cfg.ModelName),
		zap.String("credentials", c.creds.Kind()),
	)

	return c, nil
}

// Generate 根据提示词生成图像
func (c *Client) Generate(ctx context.Context, prompt string) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "prompt must not be empty")
	}

	contents := []geminiContent{{
		Role:  "user",
		Parts: []geminiPart{{Text: prompt}},
	}}

	return c.generateImage(ctx, "generate", contents)
}

// Edit 按自然语言指令编辑本地图像。
// 图像文件读取失败时直接返回，不发起上游请求。
func (c *Client) Edit(ctx context.Context, imagePath, instruction string) (*Result, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "instruction must not be empty")
	}

	data, mimeType, err := readInlineImage(imagePath)
	if err != nil {
		return nil, err
	}

	contents := []geminiContent{{
		Role: "user",
		Parts: []geminiPart{
			{InlineData: &geminiInlineData{
				MimeType: mimeType,
				Data:     base64.StdEncoding.EncodeToString(data),
			}},
			{Text: instruction},
		},
	}}

	return c.generateImage(ctx, "edit", contents)
}

// GenerateText 调用文本模型生成纯文本（翻译助手用），
// 使用 TextModelName 而非图像模型。
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	body := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
	}

	resp, err := c.do(ctx, "translate", c.cfg.TextModelName, body)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
		break // 只取第一个候选
	}
	return sb.String(), nil
}

// =============================================================================
// 📨 请求构建与响应解析
// =============================================================================

// Gemini API 消息结构
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	CandidateCount     int      `json:"candidateCount,omitempty"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings   []geminiSafetySetting   `json:"safetySettings,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	UsageMetadata  *geminiUsageMetadata  `json:"usageMetadata,omitempty"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
	ModelVersion   string                `json:"modelVersion,omitempty"`
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// harmCategories 安全设置覆盖的危害类别
var harmCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// generateImage 发送图像生成请求并提取首个图像候选
func (c *Client) generateImage(ctx context.Context, operation string, contents []geminiContent) (*Result, error) {
	candidateCount := c.cfg.MaxCandidates
	if candidateCount < 1 {
		candidateCount = 1
	}

	body := geminiRequest{
		Contents: contents,
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			CandidateCount:     candidateCount,
		},
		SafetySettings: c.safetySettings(),
	}

	resp, err := c.do(ctx, operation, c.cfg.ModelName, body)
	if err != nil {
		return nil, err
	}

	return c.extractImage(resp)
}

// safetySettings 将配置的阈值套用到全部危害类别
func (c *Client) safetySettings() []geminiSafetySetting {
	threshold := c.cfg.SafetyThreshold
	if threshold == "" {
		return nil
	}
	settings := make([]geminiSafetySetting, 0, len(harmCategories))
	for _, cat := range harmCategories {
		settings = append(settings, geminiSafetySetting{Category: cat, Threshold: threshold})
	}
	return settings
}

// do 执行一次 generateContent 调用，凭证类型决定端点与认证方式
func (c *Client) do(ctx context.Context, operation, model string, body geminiRequest) (*geminiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to encode request").WithCause(err)
	}

	var endpoint string
	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	switch cr := c.creds.(type) {
	case APIKeyCredentials:
		base := c.cfg.BaseURL
		if base == "" {
			base = defaultDirectBaseURL
		}
		endpoint = fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(base, "/"), model)
		header.Set("x-goog-api-key", cr.Key)

	case *CloudProjectCredentials:
		base := c.cfg.BaseURL
		if base == "" {
			base = vertexBaseURL(cr.Location)
		}
		endpoint = fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
			strings.TrimRight(base, "/"), cr.ProjectID, cr.Location, model)
		tok, err := cr.token()
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+tok.AccessToken)

	default:
		return nil, types.NewError(types.ErrConfiguration,
			fmt.Sprintf("unsupported credentials type %T", c.creds))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to build request").WithCause(err)
	}
	httpReq.Header = header

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.record(model, operation, "error", time.Since(start), 0)
		return nil, types.NewError(types.ErrUpstreamError, err.Error()).
			WithCause(err).WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).WithProvider(providerName)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrMsg(resp.Body)
		c.record(model, operation, "error", time.Since(start), 0)
		c.logger.Warn("upstream request failed",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
		)
		return nil, mapError(resp.StatusCode, msg)
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		c.record(model, operation, "error", time.Since(start), 0)
		return nil, types.NewError(types.ErrUpstreamError, "failed to decode response").
			WithCause(err).WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).WithProvider(providerName)
	}

	tokens := 0
	if gr.UsageMetadata != nil {
		tokens = gr.UsageMetadata.TotalTokenCount
	}
	c.record(model, operation, "success", time.Since(start), tokens)

	return &gr, nil
}

// extractImage 从响应中取文本与首个内联图像。
// 安全拦截（promptFeedback.blockReason 或 finishReason=SAFETY）
// 映射为内容过滤错误。
func (c *Client) extractImage(gr *geminiResponse) (*Result, error) {
	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return nil, types.NewError(types.ErrContentFiltered,
			fmt.Sprintf("prompt blocked by safety filter: %s", gr.PromptFeedback.BlockReason)).
			WithProvider(providerName)
	}

	result := &Result{Model: c.cfg.ModelName}
	if gr.UsageMetadata != nil {
		result.TokenCount = gr.UsageMetadata.TotalTokenCount
	}

	blocked := false
	for _, cand := range gr.Candidates {
		switch cand.FinishReason {
		case "SAFETY", "IMAGE_SAFETY", "PROHIBITED_CONTENT":
			blocked = true
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" && result.Text == "" {
				result.Text = part.Text
			}
			if part.InlineData != nil && result.ImageData == nil {
				data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, types.NewError(types.ErrUpstreamError, "failed to decode image data").
						WithCause(err).WithProvider(providerName)
				}
				result.ImageData = data
				result.MimeType = part.InlineData.MimeType
			}
		}
	}

	if result.ImageData == nil {
		if blocked {
			return nil, types.NewError(types.ErrContentFiltered, "generation blocked by safety filter").
				WithProvider(providerName)
		}
		return nil, types.NewError(types.ErrUpstreamError, "model returned no image data").
			WithProvider(providerName)
	}

	if result.MimeType == "" {
		result.MimeType = "image/png"
	}

	return result, nil
}

func (c *Client) record(model, operation, status string, duration time.Duration, tokens int) {
	if c.collector != nil {
		c.collector.RecordUpstreamRequest(model, operation, status, duration, tokens)
	}
}

// vertexBaseURL 根据区域推导 Vertex AI 端点。
// global 区域没有区域前缀。
func vertexBaseURL(location string) string {
	if location == "" || location == "global" {
		return "https://aiplatform.googleapis.com"
	}
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com", location)
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp geminiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
	}
	return string(data)
}

// mapError 将上游 HTTP 状态映射为结构化错误
func mapError(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized:
		return types.NewError(types.ErrUnauthorized, msg).
			WithHTTPStatus(status).WithProvider(providerName)
	case http.StatusForbidden:
		return types.NewError(types.ErrForbidden, msg).
			WithHTTPStatus(status).WithProvider(providerName)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrQuotaExceeded, msg).
			WithHTTPStatus(status).WithRetryable(true).WithProvider(providerName)
	case http.StatusBadRequest:
		if strings.Contains(msg, "quota") || strings.Contains(msg, "limit") {
			return types.NewError(types.ErrQuotaExceeded, msg).
				WithHTTPStatus(status).WithProvider(providerName)
		}
		return types.NewError(types.ErrInvalidArgument, msg).
			WithHTTPStatus(status).WithProvider(providerName)
	default:
		return types.NewError(types.ErrUpstreamError, msg).
			WithHTTPStatus(status).WithRetryable(status >= 500).WithProvider(providerName)
	}
}

// =============================================================================
// 📂 输入图像读取
// =============================================================================

// mimeByExtension 常见图像扩展名到 MIME 类型的映射
var mimeByExtension = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
}

// readInlineImage 读取并校验待编辑的本地图像。
// 文件不存在、是目录、超出大小上限或不是图像时返回请求级错误，
// 不触发任何网络调用。
func readInlineImage(path string) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", types.NewError(types.ErrFileNotFound,
				fmt.Sprintf("image file not found: %s", path))
		}
		return nil, "", types.NewError(types.ErrStorage,
			fmt.Sprintf("failed to stat image file: %s", path)).WithCause(err)
	}
	if info.IsDir() {
		return nil, "", types.NewError(types.ErrInvalidArgument,
			fmt.Sprintf("image path is a directory: %s", path))
	}
	if info.Size() > maxInlineImageBytes {
		return nil, "", types.NewError(types.ErrInvalidArgument,
			fmt.Sprintf("image file exceeds %d MB limit: %s", maxInlineImageBytes>>20, path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", types.NewError(types.ErrStorage,
			fmt.Sprintf("failed to read image file: %s", path)).WithCause(err)
	}

	mimeType, ok := mimeByExtension[strings.ToLower(filepath.Ext(path))]
	if !ok {
		mimeType = http.DetectContentType(data)
		if !strings.HasPrefix(mimeType, "image/") {
			return nil, "", types.NewError(types.ErrInvalidArgument,
				fmt.Sprintf("file is not a supported image: %s", path))
		}
	}

	return data, mimeType, nil
}

// ProbeImageSize 尽力解析图像尺寸（PNG/JPEG/GIF）。
// 解析失败返回 ok=false，调用方应跳过尺寸上下文。
func ProbeImageSize(path string) (width, height int, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

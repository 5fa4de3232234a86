// =============================================================================
// 📦 Nanobanana 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("NANOBANANA").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/nanobanana/types"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 nanobanana 服务的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Gemini 生成模型配置（env 键直接挂在前缀下，
	// 与原始部署文档的 NANOBANANA_API_KEY 等命名保持一致）
	Gemini GeminiConfig `yaml:"gemini" env:""`

	// Image 图像落盘配置
	Image ImageConfig `yaml:"image" env:""`

	// Prompt 提示词处理配置
	Prompt PromptConfig `yaml:"prompt" env:""`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// 服务名（MCP initialize 响应里返回）
	Name string `yaml:"name" env:"NAME"`
	// HTTP 监听地址（SSE/WebSocket 前端，空则不启动）
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR"`
	// Metrics 监听地址（空则不启动）
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
	// 单次工具调用超时
	ToolCallTimeout time.Duration `yaml:"tool_call_timeout" env:"TOOL_CALL_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// GeminiConfig 生成模型配置
type GeminiConfig struct {
	// 是否使用云项目凭证（Vertex AI 模式）
	UseCloudProject bool `yaml:"use_cloud_project" env:"USE_CLOUD_PROJECT"`
	// 直连模式 API Key（UseCloudProject=false 时必填）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 云项目 ID（UseCloudProject=true 时必填）
	CloudProjectID string `yaml:"cloud_project_id" env:"CLOUD_PROJECT_ID"`
	// 云项目区域
	CloudLocation string `yaml:"cloud_location" env:"CLOUD_LOCATION"`
	// 图像生成模型名
	ModelName string `yaml:"model_name" env:"MODEL_NAME"`
	// 翻译用文本模型名
	TextModelName string `yaml:"text_model_name" env:"TEXT_MODEL_NAME"`
	// 基础 URL（测试用，空则使用官方端点）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 安全过滤阈值
	SafetyThreshold string `yaml:"safety_threshold" env:"SAFETY_THRESHOLD"`
	// 候选数上限（Gemini 最大 8）
	MaxCandidates int `yaml:"max_candidates" env:"MAX_CANDIDATES"`
}

// ImageConfig 图像落盘配置
type ImageConfig struct {
	// 输出目录
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`
	// 自动清理窗口（小时，0 关闭清理）
	AutoCleanupHours int `yaml:"auto_cleanup_hours" env:"AUTO_CLEANUP_HOURS"`
}

// PromptConfig 提示词处理配置
type PromptConfig struct {
	// 是否自动翻译为英文
	AutoTranslate bool `yaml:"auto_translate" env:"AUTO_TRANSLATE"`
	// 默认来源语言提示
	DefaultLanguage string `yaml:"default_language" env:"DEFAULT_LANGUAGE"`
	// 编辑指令是否附加"不要添加文字"约束
	AddTextExclusion bool `yaml:"add_text_exclusion" env:"ADD_TEXT_EXCLUSION"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	// stdout 是 stdio 传输通道，日志默认走 stderr
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultConfig 返回带默认值的配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:            "nanobanana",
			ToolCallTimeout: 5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Gemini: GeminiConfig{
			CloudLocation:   "global",
			ModelName:       "gemini-2.5-flash-image-preview",
			TextModelName:   "gemini-2.5-flash",
			Timeout:         120 * time.Second,
			SafetyThreshold: "BLOCK_MEDIUM_AND_ABOVE",
			MaxCandidates:   3,
		},
		Image: ImageConfig{
			OutputDir:        "./images",
			AutoCleanupHours: 24,
		},
		Prompt: PromptConfig{
			AutoTranslate:    true,
			DefaultLanguage:  "ko",
			AddTextExclusion: true,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stderr"},
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "nanobanana",
			SampleRate:   1.0,
		},
	}
}

// Validate 校验配置，凭证模式对应的必填项缺失时立即失败
func (c *Config) Validate() error {
	if c.Gemini.UseCloudProject {
		if c.Gemini.CloudProjectID == "" {
			return types.NewError(types.ErrConfiguration,
				"CLOUD_PROJECT_ID is required when USE_CLOUD_PROJECT is true")
		}
	} else {
		if c.Gemini.APIKey == "" {
			return types.NewError(types.ErrConfiguration,
				"API_KEY is required when not using a cloud project")
		}
	}

	if c.Gemini.ModelName == "" {
		return types.NewError(types.ErrConfiguration, "MODEL_NAME cannot be empty")
	}
	if c.Gemini.MaxCandidates < 1 || c.Gemini.MaxCandidates > 8 {
		return types.NewError(types.ErrConfiguration,
			fmt.Sprintf("MAX_CANDIDATES must be between 1 and 8, got %d", c.Gemini.MaxCandidates))
	}
	if c.Image.OutputDir == "" {
		return types.NewError(types.ErrConfiguration, "OUTPUT_DIR cannot be empty")
	}
	if c.Image.AutoCleanupHours < 0 {
		return types.NewError(types.ErrConfiguration, "AUTO_CLEANUP_HOURS cannot be negative")
	}

	return nil
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: "NANOBANANA"}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, types.NewError(types.ErrConfiguration, "failed to load config file").WithCause(err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, types.NewError(types.ErrConfiguration, "failed to load config from env").WithCause(err)
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// setFieldsFromEnv 递归设置结构体字段
// 嵌套结构体的 env tag 为空时沿用父级前缀，env:"-" 跳过
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag, ok := fieldType.Tag.Lookup("env")
		if !ok || envTag == "-" {
			continue
		}

		envKey := prefix
		if envTag != "" {
			envKey = prefix + "_" + envTag
		}

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

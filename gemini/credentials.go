package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/nanobanana/config"
	"github.com/BaSui01/nanobanana/types"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// cloudPlatformScope Vertex AI 调用所需的 OAuth2 scope
const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// =============================================================================
// 🔑 凭证联合类型
// =============================================================================

// Credentials 上游凭证，二选一：APIKeyCredentials 或 CloudProjectCredentials。
// 两种模式互斥，由 config.GeminiConfig.UseCloudProject 决定。
type Credentials interface {
	// Kind 返回凭证类型标识，用于日志
	Kind() string
}

// APIKeyCredentials 直连模式凭证（x-goog-api-key 请求头）
type APIKeyCredentials struct {
	Key string
}

func (APIKeyCredentials) Kind() string { return "api_key" }

// CloudProjectCredentials 云项目模式凭证（Vertex AI + OAuth2 bearer token）
type CloudProjectCredentials struct {
	ProjectID string
	Location  string

	tokens oauth2.TokenSource
}

func (*CloudProjectCredentials) Kind() string { return "cloud_project" }

// NewCloudProjectCredentials 使用显式 token source 构造云项目凭证。
// 测试中可传入 oauth2.StaticTokenSource。
func NewCloudProjectCredentials(projectID, location string, ts oauth2.TokenSource) *CloudProjectCredentials {
	if location == "" {
		location = "global"
	}
	return &CloudProjectCredentials{ProjectID: projectID, Location: location, tokens: ts}
}

// token 返回当前有效的访问令牌
func (c *CloudProjectCredentials) token() (*oauth2.Token, error) {
	if c.tokens == nil {
		return nil, types.NewError(types.ErrConfiguration, "cloud project credentials missing token source")
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, types.NewError(types.ErrUnauthorized, "failed to obtain access token").
			WithCause(err).WithProvider("gemini")
	}
	return tok, nil
}

// =============================================================================
// 🔍 凭证解析
// =============================================================================

// ResolveCredentials 根据配置解析凭证。
// UseCloudProject=true 时通过 Application Default Credentials 获取
// token source，失败返回启动期配置错误。
func ResolveCredentials(ctx context.Context, cfg config.GeminiConfig) (Credentials, error) {
	if cfg.UseCloudProject {
		if strings.TrimSpace(cfg.CloudProjectID) == "" {
			return nil, types.NewError(types.ErrConfiguration, "cloud project mode requires a project ID")
		}
		ts, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
		if err != nil {
			return nil, types.NewError(types.ErrConfiguration,
				fmt.Sprintf("application default credentials unavailable: %v", err)).WithCause(err)
		}
		return NewCloudProjectCredentials(cfg.CloudProjectID, cfg.CloudLocation, ts), nil
	}

	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, types.NewError(types.ErrConfiguration, "direct mode requires an API key")
	}
	return APIKeyCredentials{Key: cfg.APIKey}, nil
}

package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/nanobanana/config"
	"github.com/BaSui01/nanobanana/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func testGeminiConfig(baseURL string) config.GeminiConfig {
	return config.GeminiConfig{
		APIKey:          "test-key",
		ModelName:       "gemini-2.5-flash-image-preview",
		TextModelName:   "gemini-2.5-flash",
		BaseURL:         baseURL,
		Timeout:         5 * time.Second,
		SafetyThreshold: "BLOCK_MEDIUM_AND_ABOVE",
		MaxCandidates:   3,
	}
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), testGeminiConfig(baseURL), zap.NewNop(), opts...)
	require.NoError(t, err)
	return c
}

// imageResponse builds a generateContent response carrying one inline image.
func imageResponse(text string, imageData []byte, tokens int) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role": "model",
				"parts": []map[string]any{
					{"text": text},
					{"inlineData": map[string]any{
						"mimeType": "image/png",
						"data":     base64.StdEncoding.EncodeToString(imageData),
					}},
				},
			},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]any{"totalTokenCount": tokens},
	}
}

func TestClient_Generate_Success(t *testing.T) {
	imageBytes := []byte("fake-png-bytes")

	var gotReq geminiRequest
	var gotPath, gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(imageResponse("a sunset", imageBytes, 1290))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	result, err := client.Generate(context.Background(), "sunset over mountains")
	require.NoError(t, err)

	assert.Equal(t, "a sunset", result.Text)
	assert.Equal(t, imageBytes, result.ImageData)
	assert.Equal(t, "image/png", result.MimeType)
	assert.Equal(t, 1290, result.TokenCount)
	assert.Equal(t, "gemini-2.5-flash-image-preview", result.Model)

	// 请求形状
	assert.Equal(t, "/v1beta/models/gemini-2.5-flash-image-preview:generateContent", gotPath)
	assert.Equal(t, "test-key", gotAPIKey)
	require.NotNil(t, gotReq.GenerationConfig)
	assert.Equal(t, []string{"TEXT", "IMAGE"}, gotReq.GenerationConfig.ResponseModalities)
	assert.Equal(t, 3, gotReq.GenerationConfig.CandidateCount)
	require.Len(t, gotReq.SafetySettings, 4)
	for _, s := range gotReq.SafetySettings {
		assert.Equal(t, "BLOCK_MEDIUM_AND_ABOVE", s.Threshold)
	}
}

func TestClient_Generate_EmptyPrompt(t *testing.T) {
	client := newTestClient(t, "http://unused.invalid")

	_, err := client.Generate(context.Background(), "  ")
	assert.Equal(t, types.ErrInvalidArgument, types.GetErrorCode(err))
}

func TestClient_Generate_SafetyBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"role": "model", "parts": []map[string]any{}},
				"finishReason": "SAFETY",
			}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Generate(context.Background(), "something blocked")
	assert.Equal(t, types.ErrContentFiltered, types.GetErrorCode(err))
}

func TestClient_Generate_PromptFeedbackBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"promptFeedback": map[string]any{"blockReason": "SAFETY"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Generate(context.Background(), "something blocked")
	assert.Equal(t, types.ErrContentFiltered, types.GetErrorCode(err))
}

func TestClient_Generate_NoImageData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "cannot generate that"}},
				},
				"finishReason": "STOP",
			}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Generate(context.Background(), "sunset")
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
}

func TestClient_Generate_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		message   string
		wantCode  types.ErrorCode
		wantRetry bool
	}{
		{"401 unauthorized", http.StatusUnauthorized, "invalid key", types.ErrUnauthorized, false},
		{"403 forbidden", http.StatusForbidden, "access denied", types.ErrForbidden, false},
		{"429 quota", http.StatusTooManyRequests, "rate limit", types.ErrQuotaExceeded, true},
		{"400 invalid", http.StatusBadRequest, "bad field", types.ErrInvalidArgument, false},
		{"400 quota keyword", http.StatusBadRequest, "quota exceeded for project", types.ErrQuotaExceeded, false},
		{"500 upstream", http.StatusInternalServerError, "boom", types.ErrUpstreamError, true},
		{"503 unavailable", http.StatusServiceUnavailable, "overloaded", types.ErrUpstreamError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":%q,"status":"ERROR"}}`, tt.status, tt.message)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)

			_, err := client.Generate(context.Background(), "sunset")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
			assert.Equal(t, tt.wantRetry, types.IsRetryable(err))
		})
	}
}

func TestClient_Edit_MissingFile_NoNetworkCall(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(imageResponse("", []byte("x"), 1))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Edit(context.Background(), "/nonexistent/image.png", "brighten")
	assert.Equal(t, types.ErrFileNotFound, types.GetErrorCode(err))
	assert.Equal(t, int64(0), calls.Load(), "missing file must not trigger an upstream request")
}

func TestClient_Edit_Success(t *testing.T) {
	inputPath := filepath.Join(t.TempDir(), "input.png")
	inputBytes := []byte("original-image-bytes")
	require.NoError(t, os.WriteFile(inputPath, inputBytes, 0o644))

	editedBytes := []byte("edited-image-bytes")
	var gotReq geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(imageResponse("edited", editedBytes, 800))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	result, err := client.Edit(context.Background(), inputPath, "make the sky blue")
	require.NoError(t, err)
	assert.Equal(t, editedBytes, result.ImageData)

	// 请求应携带内联原图 + 指令文本
	require.Len(t, gotReq.Contents, 1)
	require.Len(t, gotReq.Contents[0].Parts, 2)
	inline := gotReq.Contents[0].Parts[0].InlineData
	require.NotNil(t, inline)
	assert.Equal(t, "image/png", inline.MimeType)
	decoded, err := base64.StdEncoding.DecodeString(inline.Data)
	require.NoError(t, err)
	assert.Equal(t, inputBytes, decoded)
	assert.Equal(t, "make the sky blue", gotReq.Contents[0].Parts[1].Text)
}

func TestClient_Edit_DirectoryPath(t *testing.T) {
	client := newTestClient(t, "http://unused.invalid")

	_, err := client.Edit(context.Background(), t.TempDir(), "brighten")
	assert.Equal(t, types.ErrInvalidArgument, types.GetErrorCode(err))
}

func TestClient_GenerateText(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "sunset over mountains"}},
				},
				"finishReason": "STOP",
			}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	text, err := client.GenerateText(context.Background(), "Translate to English: 산 위의 노을")
	require.NoError(t, err)
	assert.Equal(t, "sunset over mountains", text)
	// 翻译走文本模型
	assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", gotPath)
}

func TestClient_CloudProjectCredentials(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(imageResponse("ok", []byte("img"), 10))
	}))
	defer server.Close()

	creds := NewCloudProjectCredentials("my-project", "us-central1",
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "fake-token"}))

	cfg := testGeminiConfig(server.URL)
	cfg.UseCloudProject = true
	cfg.APIKey = ""

	client, err := NewClient(context.Background(), cfg, zap.NewNop(), WithCredentials(creds))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "sunset")
	require.NoError(t, err)

	assert.Equal(t,
		"/v1/projects/my-project/locations/us-central1/publishers/google/models/gemini-2.5-flash-image-preview:generateContent",
		gotPath)
	assert.Equal(t, "Bearer fake-token", gotAuth)
}

func TestResolveCredentials_DirectMode(t *testing.T) {
	creds, err := ResolveCredentials(context.Background(), config.GeminiConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "api_key", creds.Kind())

	_, err = ResolveCredentials(context.Background(), config.GeminiConfig{})
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestResolveCredentials_CloudModeRequiresProject(t *testing.T) {
	_, err := ResolveCredentials(context.Background(), config.GeminiConfig{UseCloudProject: true})
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestVertexBaseURL(t *testing.T) {
	assert.Equal(t, "https://aiplatform.googleapis.com", vertexBaseURL("global"))
	assert.Equal(t, "https://aiplatform.googleapis.com", vertexBaseURL(""))
	assert.Equal(t, "https://us-central1-aiplatform.googleapis.com", vertexBaseURL("us-central1"))
}

package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BaSui01/nanobanana/mcp"
	"github.com/BaSui01/nanobanana/storage"
	"github.com/BaSui01/nanobanana/types"
)

// =============================================================================
// 🖼️ 图像资源 — 输出目录通过 MCP resources 暴露
// =============================================================================

// ImageResources 把输出目录中的图像映射为 MCP 资源。
// URI 形如 file:///abs/path/name.png，内容以 base64 blob 返回。
type ImageResources struct {
	store *storage.Store
}

// NewImageResources 创建资源提供方
func NewImageResources(store *storage.Store) *ImageResources {
	return &ImageResources{store: store}
}

// ListResources 列举输出目录中的全部图像（新的在前）
func (r *ImageResources) ListResources(_ context.Context) ([]mcp.Resource, error) {
	infos, err := r.store.List()
	if err != nil {
		return nil, err
	}

	resources := make([]mcp.Resource, 0, len(infos))
	for _, info := range infos {
		resources = append(resources, mcp.Resource{
			URI:         fileURI(info.Path),
			Name:        info.Name,
			Description: fmt.Sprintf("Generated image (%d bytes)", info.Size),
			MimeType:    mimeForName(info.Name),
			Size:        info.Size,
			Annotations: &mcp.ResourceAnnotations{
				LastModified: info.ModTime.UTC().Format(time.RFC3339),
			},
		})
	}
	return resources, nil
}

// ReadResource 读取一张图像并以 base64 blob 返回。
// URI 必须指向输出目录内的文件，目录外的路径一律拒绝。
func (r *ImageResources) ReadResource(_ context.Context, uri string) (*mcp.ResourceContent, error) {
	path, err := r.resolve(uri)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewError(types.ErrFileNotFound,
				fmt.Sprintf("resource not found: %s", uri))
		}
		return nil, types.NewError(types.ErrStorage,
			fmt.Sprintf("failed to read resource %s", uri)).WithCause(err)
	}

	return &mcp.ResourceContent{
		URI:      uri,
		MimeType: mimeForName(path),
		Blob:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

// resolve 把 file:// URI 解析为输出目录内的绝对路径
func (r *ImageResources) resolve(uri string) (string, error) {
	raw, ok := strings.CutPrefix(uri, "file://")
	if !ok {
		return "", types.NewError(types.ErrInvalidArgument,
			fmt.Sprintf("unsupported resource URI: %s", uri))
	}

	path := filepath.Clean(raw)
	dir := r.store.Dir()
	if path != dir && !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		return "", types.NewError(types.ErrInvalidArgument,
			fmt.Sprintf("resource URI outside output directory: %s", uri))
	}
	return path, nil
}

func fileURI(path string) string {
	return "file://" + filepath.ToSlash(path)
}

func mimeForName(name string) string {
	if mt := mime.TypeByExtension(filepath.Ext(name)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

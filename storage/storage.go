package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/nanobanana/config"
	"github.com/BaSui01/nanobanana/internal/metrics"
	"github.com/BaSui01/nanobanana/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultSlug 提示词里没有可用字符时的文件名前缀
const defaultSlug = "nanobanana"

// maxSlugLen slug 最大长度
const maxSlugLen = 20

// timestampLayout 文件名里的时间戳格式
const timestampLayout = "20060102_150405"

// extByMime 已知 MIME 类型对应的扩展名
var extByMime = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// =============================================================================
// 💾 图像存储
// =============================================================================

// ImageInfo 输出目录中一张图像的元信息
type ImageInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Store 图像存储
type Store struct {
	dir          string
	cleanupAfter time.Duration
	logger       *zap.Logger
	collector    *metrics.Collector

	now func() time.Time // 测试钩子
}

// Option 存储可选配置
type Option func(*Store)

// WithMetrics 挂接指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Store) { s.collector = m }
}

// WithClock 覆盖时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New 创建存储并确保输出目录存在。
// 目录无法创建属于启动期配置错误。
func New(cfg config.ImageConfig, logger *zap.Logger, opts ...Option) (*Store, error) {
	dir, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return nil, types.NewError(types.ErrConfiguration,
			fmt.Sprintf("invalid output directory %q", cfg.OutputDir)).WithCause(err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.NewError(types.ErrConfiguration,
			fmt.Sprintf("failed to create output directory %q", dir)).WithCause(err)
	}

	s := &Store{
		dir:          dir,
		cleanupAfter: time.Duration(cfg.AutoCleanupHours) * time.Hour,
		logger:       logger.With(zap.String("component", "storage")),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir 返回输出目录的绝对路径
func (s *Store) Dir() string { return s.dir }

// Save 将图像字节写入输出目录，返回绝对路径。
// prompt 用于生成可读的文件名 slug。
func (s *Store) Save(prompt string, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", types.NewError(types.ErrStorage, "refusing to save empty image data")
	}

	name := fmt.Sprintf("%s_%s_%s%s",
		slugify(prompt),
		s.now().Format(timestampLayout),
		uuid.NewString()[:8],
		extForMime(mimeType),
	)
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", types.NewError(types.ErrStorage,
			fmt.Sprintf("failed to write image file %q", path)).WithCause(err)
	}

	if s.collector != nil {
		s.collector.RecordImageSaved(mimeType, int64(len(data)))
	}
	s.logger.Info("image saved",
		zap.String("path", path),
		zap.Int("bytes", len(data)),
		zap.String("mime_type", mimeType),
	)

	return path, nil
}

// List 列举输出目录中的全部图像，按修改时间倒序
func (s *Store) List() ([]ImageInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, types.NewError(types.ErrStorage,
			fmt.Sprintf("failed to read output directory %q", s.dir)).WithCause(err)
	}

	infos := make([]ImageInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isImageName(entry.Name()) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, ImageInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(s.dir, entry.Name()),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}

	// 新的在前
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ModTime.After(infos[j].ModTime)
	})

	return infos, nil
}

// Sweep 删除超过清理窗口的图像，返回删除数量。
// 清理窗口为 0 时什么都不做。
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if s.cleanupAfter <= 0 {
		return 0, nil
	}

	infos, err := s.List()
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.cleanupAfter)
	removed := 0
	for _, info := range infos {
		if ctx.Err() != nil {
			break
		}
		if info.ModTime.After(cutoff) {
			continue
		}
		if err := os.Remove(info.Path); err != nil {
			s.logger.Warn("failed to remove expired image",
				zap.String("path", info.Path), zap.Error(err))
			continue
		}
		removed++
	}

	if s.collector != nil {
		s.collector.RecordSweep(removed, len(infos)-removed)
	}
	if removed > 0 {
		s.logger.Info("expired images removed", zap.Int("count", removed))
	}

	return removed, ctx.Err()
}

// RunSweeper 周期性执行 Sweep 直到 ctx 取消
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if s.cleanupAfter <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// slugify 将提示词压缩为文件名安全的 slug
func slugify(prompt string) string {
	var sb strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(prompt)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			sb.WriteRune(r)
			lastUnderscore = false
		case r == ' ' || r == '-' || r == '_':
			if !lastUnderscore && sb.Len() > 0 {
				sb.WriteByte('_')
				lastUnderscore = true
			}
		}
		if sb.Len() >= maxSlugLen {
			break
		}
	}

	slug := strings.Trim(sb.String(), "_")
	if slug == "" {
		return defaultSlug
	}
	return slug
}

func extForMime(mimeType string) string {
	if ext, ok := extByMime[mimeType]; ok {
		return ext
	}
	return ".png"
}

func isImageName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif":
		return true
	}
	return false
}

package storage

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/nanobanana/config"
	"github.com/BaSui01/nanobanana/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func newTestStore(t *testing.T, cleanupHours int, opts ...Option) *Store {
	t.Helper()
	s, err := New(config.ImageConfig{
		OutputDir:        t.TempDir(),
		AutoCleanupHours: cleanupHours,
	}, zap.NewNop(), opts...)
	require.NoError(t, err)
	return s
}

func TestNew_CreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "images")
	s, err := New(config.ImageConfig{OutputDir: dir}, zap.NewNop())
	require.NoError(t, err)

	fi, err := os.Stat(s.Dir())
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestStore_Save(t *testing.T) {
	s := newTestStore(t, 0)

	path, err := s.Save("A sunset over the mountains", []byte("png-bytes"), "image/png")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	// 文件名：slug_时间戳_uuid8.扩展名
	name := filepath.Base(path)
	assert.Regexp(t, regexp.MustCompile(`^a_sunset_over_the_mo[a-z]*_\d{8}_\d{6}_[0-9a-f-]{8}\.png$`), name)
	assert.True(t, filepath.IsAbs(path))
}

func TestStore_Save_ExtensionFollowsMime(t *testing.T) {
	s := newTestStore(t, 0)

	tests := []struct {
		mime string
		ext  string
	}{
		{"image/png", ".png"},
		{"image/jpeg", ".jpg"},
		{"image/webp", ".webp"},
		{"image/gif", ".gif"},
		{"application/octet-stream", ".png"}, // unknown falls back to png
	}

	for _, tt := range tests {
		path, err := s.Save("x", []byte("data"), tt.mime)
		require.NoError(t, err)
		assert.Equal(t, tt.ext, filepath.Ext(path), "mime %s", tt.mime)
	}
}

func TestStore_Save_EmptyData(t *testing.T) {
	s := newTestStore(t, 0)

	_, err := s.Save("x", nil, "image/png")
	assert.Equal(t, types.ErrStorage, types.GetErrorCode(err))
}

func TestStore_Save_EmptyPromptUsesDefaultSlug(t *testing.T) {
	s := newTestStore(t, 0)

	path, err := s.Save("", []byte("data"), "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "nanobanana_"))

	// 纯符号提示词同样回退
	path, err = s.Save("!!! ???", []byte("data"), "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "nanobanana_"))
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t, 0)

	_, err := s.Save("first", []byte("a"), "image/png")
	require.NoError(t, err)
	_, err = s.Save("second", []byte("bb"), "image/jpeg")
	require.NoError(t, err)

	// 非图像文件被忽略
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o644))

	infos, err := s.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.NotEmpty(t, info.Name)
		assert.True(t, filepath.IsAbs(info.Path))
		assert.Greater(t, info.Size, int64(0))
	}
}

func TestStore_Sweep(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, 24, WithClock(func() time.Time { return now }))

	oldPath, err := s.Save("old image", []byte("old"), "image/png")
	require.NoError(t, err)
	freshPath, err := s.Save("fresh image", []byte("fresh"), "image/png")
	require.NoError(t, err)

	// 把第一张的修改时间拨回 25 小时前
	expired := now.Add(-25 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, expired, expired))

	removed, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err), "expired image should be removed")
	_, err = os.Stat(freshPath)
	assert.NoError(t, err, "fresh image must survive")
}

func TestStore_Sweep_DisabledWindow(t *testing.T) {
	s := newTestStore(t, 0)

	path, err := s.Save("keep me", []byte("data"), "image/png")
	require.NoError(t, err)

	old := time.Now().Add(-100 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	removed, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"A sunset over mountains", "a_sunset_over_mounta"},
		{"Hello, World!", "hello_world"},
		{"  spaced   out  ", "spaced_out"},
		{"산 위의 노을", "nanobanana"},
		{"", "nanobanana"},
		{"mixed 산 text", "mixed_text"},
		{"UPPER-case_mix", "upper_case_mix"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, slugify(tt.in), "input %q", tt.in)
	}
}

// slugify output is always filename-safe and bounded, whatever the input.
func TestSlugify_Safe_Property(t *testing.T) {
	safe := regexp.MustCompile(`^[a-z0-9_]+$`)
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.String().Draw(t, "in")
		slug := slugify(in)

		require.True(t, safe.MatchString(slug), "slug %q from %q", slug, in)
		require.LessOrEqual(t, len(slug), maxSlugLen)
		require.False(t, strings.HasPrefix(slug, "_"))
		require.False(t, strings.HasSuffix(slug, "_"))
	})
}

// Save never collides even for identical prompts at the same timestamp.
func TestStore_Save_UniqueNames_Property(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, 0, WithClock(func() time.Time { return fixed }))

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		path, err := s.Save("same prompt", []byte("data"), "image/png")
		require.NoError(t, err)
		require.False(t, seen[path], "duplicate filename %s", path)
		seen[path] = true
	}
}

package nanobanana

import (
	"context"
	"testing"

	"github.com/BaSui01/nanobanana/config"
	"github.com/BaSui01/nanobanana/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Gemini.APIKey = "test-key"
	cfg.Image.OutputDir = t.TempDir()

	server, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	tools := server.ListTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "nanobanana_generate", tools[0].Name)
	assert.Equal(t, "nanobanana_edit", tools[1].Name)
	assert.True(t, server.Info().Capabilities.Resources)
}

func TestNew_MissingCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Image.OutputDir = t.TempDir()

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

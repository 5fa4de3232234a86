// Package nanobanana provides a top-level convenience entry point for
// embedding the image-generation MCP server with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/nanobanana"
//
//	cfg := config.DefaultConfig()
//	cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
//	server, err := nanobanana.New(ctx, cfg, logger)
//	server.Serve(ctx, mcp.NewStdioTransport(os.Stdin, os.Stdout, logger))
//
// This wires the Gemini client, prompt translator, image store and both
// tools onto a ready-to-serve [mcp.Server]. The cmd/nanobanana binary adds
// metrics and telemetry on top; use this package when embedding the server
// into a larger process.
package nanobanana

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/nanobanana/config"
	"github.com/BaSui01/nanobanana/gemini"
	"github.com/BaSui01/nanobanana/mcp"
	"github.com/BaSui01/nanobanana/storage"
	"github.com/BaSui01/nanobanana/tools"
	"github.com/BaSui01/nanobanana/translate"
)

// New builds a fully wired MCP server from configuration. The configuration
// is validated first; credential resolution happens eagerly so a broken
// setup fails here rather than on the first tool call.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*mcp.Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := gemini.NewClient(ctx, cfg.Gemini, logger)
	if err != nil {
		return nil, fmt.Errorf("build gemini client: %w", err)
	}

	store, err := storage.New(cfg.Image, logger)
	if err != nil {
		return nil, fmt.Errorf("build image store: %w", err)
	}

	server := mcp.NewServer(cfg.Server.Name, "embedded", logger,
		mcp.WithToolCallTimeout(cfg.Server.ToolCallTimeout),
		mcp.WithResourceProvider(tools.NewImageResources(store)),
	)

	translator := translate.New(cfg.Prompt, client, logger)
	if err := tools.New(client, translator, store, cfg.Prompt, logger).Register(server); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	return server, nil
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerStatsResource(s *server.MCPServer, kb KB) {
	resource := mcp.NewResource(
		"mediakb://stats",
		"Knowledge Base Statistics",
		mcp.WithResourceDescription("Row counts of persons, works, credits, aliases, external ids, unified groups and categories."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		counts, err := kb.Counts(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting rows: %w", err)
		}

		data, _ := json.MarshalIndent(counts, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

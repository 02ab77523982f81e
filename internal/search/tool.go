package search

import (
	"context"

	"github.com/nugget/luminary/internal/tools"
)

// Tool exposes m as the web_search tool.
func Tool(m *Manager) *tools.Tool {
	return &tools.Tool{
		Name:        "web_search",
		Description: "Search the web for current information",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Search query"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			query := tools.StringArg(args, "query")
			if query == "" {
				return tools.Errorf("query is required")
			}
			results, err := m.Search(ctx, query, DefaultCount)
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(map[string]any{"query": query, "results": results})
		},
	}
}

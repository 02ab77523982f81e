package fetch

import (
	"context"

	"github.com/nugget/luminary/internal/tools"
)

// Tool exposes f as the fetch_url tool.
func Tool(f *Fetcher) *tools.Tool {
	return &tools.Tool{
		Name:        "fetch_url",
		Description: "Fetch a public web page or JSON endpoint and return its readable text content. Private and loopback addresses are refused.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "http or https URL to fetch",
				},
				"maxLength": map[string]any{
					"type":        "number",
					"description": "Maximum characters to return (default 8000)",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			res, err := f.Fetch(ctx, tools.StringArg(args, "url"), tools.IntArg(args, "maxLength", 0))
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(res)
		},
	}
}

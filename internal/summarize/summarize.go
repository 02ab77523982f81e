// Package summarize provides the summarize tool, a single LLM call that
// condenses text to a word budget.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/luminary/internal/llm"
	"github.com/nugget/luminary/internal/tools"
)

// DefaultWords is the summary budget when the caller gives none.
const DefaultWords = 100

// Tool returns the summarize tool backed by client.
func Tool(client llm.Client, policy llm.RetryPolicy) *tools.Tool {
	return &tools.Tool{
		Name:        "summarize",
		Description: "Summarizes text using LLM",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":      map[string]any{"type": "string", "description": "Text to summarize"},
				"maxLength": map[string]any{"type": "number", "description": "Maximum summary length in words"},
			},
			"required": []string{"text"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			words := tools.IntArg(args, "maxLength", DefaultWords)
			if words <= 0 {
				words = DefaultWords
			}
			text, err := Summarize(ctx, client, policy, tools.StringArg(args, "text"), words)
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(text)
		},
	}
}

// Summarize asks client for a summary of text in at most words words.
func Summarize(ctx context.Context, client llm.Client, policy llm.RetryPolicy, text string, words int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("text is required")
	}
	resp, err := llm.CompleteWithRetry(ctx, client, llm.Request{
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Summarize the following text in %d words or less:\n\n%s", words, text),
		}},
		MaxTokens: words * 2,
	}, policy, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

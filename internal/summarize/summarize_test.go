package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nugget/luminary/internal/llm"
	"github.com/nugget/luminary/internal/llm/llmtest"
)

func TestTool_Summarizes(t *testing.T) {
	client := llmtest.New(llmtest.Text("Short version."))
	tool := Tool(client, llm.RetryPolicy{})

	res := tool.Handler(context.Background(), map[string]any{"text": "A very long document.", "maxLength": float64(20)})
	if res.Failed() {
		t.Fatalf("handler failed: %s", res.Error)
	}
	if res.Output != "Short version." {
		t.Errorf("output = %v, want %q", res.Output, "Short version.")
	}

	req := client.Requests()[0]
	if req.MaxTokens != 40 {
		t.Errorf("MaxTokens = %d, want 40", req.MaxTokens)
	}
	if !strings.Contains(req.Messages[0].Content, "in 20 words or less") {
		t.Errorf("prompt = %q", req.Messages[0].Content)
	}
}

func TestTool_DefaultLength(t *testing.T) {
	client := llmtest.New(llmtest.Text("ok"))
	Tool(client, llm.RetryPolicy{}).Handler(context.Background(), map[string]any{"text": "x"})
	if got := client.Requests()[0].MaxTokens; got != DefaultWords*2 {
		t.Errorf("MaxTokens = %d, want %d", got, DefaultWords*2)
	}
}

func TestTool_Errors(t *testing.T) {
	tests := []struct {
		name   string
		client llm.Client
		args   map[string]any
	}{
		{"unconfigured", llm.Unconfigured{}, map[string]any{"text": "x"}},
		{"provider error", llmtest.New(llmtest.Fail(errors.New("bad request"))), map[string]any{"text": "x"}},
		{"empty text", llmtest.New(), map[string]any{"text": "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Tool(tt.client, llm.RetryPolicy{}).Handler(context.Background(), tt.args)
			if !res.Failed() {
				t.Errorf("expected failure, got %v", res.Output)
			}
		})
	}
}

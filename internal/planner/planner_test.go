package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nugget/luminary/internal/llm"
	"github.com/nugget/luminary/internal/llm/llmtest"
	"github.com/nugget/luminary/internal/tools"
)

func newRegistry(t *testing.T, names ...string) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(nil)
	for _, name := range names {
		r.MustRegister(&tools.Tool{
			Name:        name,
			Description: name + " tool",
			Handler: func(context.Context, map[string]any) tools.Result {
				return tools.OK("ok")
			},
		})
	}
	return r
}

func TestPlan_Valid(t *testing.T) {
	client := llmtest.New(llmtest.Text(`{"reasoning":"done when notified","steps":[{"toolName":"web_search","input":{"query":"weather"}},{"toolName":"notify","input":{"message":"hi"}}]}`))
	p := New(client, newRegistry(t, "web_search", "notify", "run_bash"), llm.RetryPolicy{}, nil)

	plan := p.Plan(context.Background(), Request{Name: "weather", Goal: "notify me of the weather"})
	if !plan.Success {
		t.Fatalf("plan failed: %s", plan.Reasoning)
	}
	if len(plan.Steps) != 2 || plan.Steps[1].ToolName != "notify" {
		t.Errorf("steps = %+v", plan.Steps)
	}
	if plan.Reasoning != "done when notified" {
		t.Errorf("reasoning = %q", plan.Reasoning)
	}

	req := client.Requests()[0]
	if req.MaxTokens != MaxTokens {
		t.Errorf("MaxTokens = %d, want %d", req.MaxTokens, MaxTokens)
	}
	if len(req.Tools) != 0 {
		t.Error("planner request should not offer tools")
	}
	for _, want := range []string{"- notify: notify tool", "- run_bash: run_bash tool", "1-3 steps"} {
		if !strings.Contains(req.System, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if !strings.Contains(req.Messages[0].Content, "Routine: weather\nGoal: notify me of the weather\nInput: {}") {
		t.Errorf("user message = %q", req.Messages[0].Content)
	}
}

func TestPlan_RestrictsToRoutineTools(t *testing.T) {
	client := llmtest.New(llmtest.Text(`{"steps":[{"toolName":"run_bash","input":{"command":"uptime"}}]}`))
	p := New(client, newRegistry(t, "web_search", "run_bash"), llm.RetryPolicy{}, nil)

	plan := p.Plan(context.Background(), Request{Name: "r", Goal: "g", Tools: []string{"web_search"}})
	if plan.Success {
		t.Fatal("plan using a tool outside the routine's list should fail")
	}
	if plan.Reasoning != "Plan contains unregistered tools: run_bash. Available: web_search" {
		t.Errorf("reasoning = %q", plan.Reasoning)
	}
	if strings.Contains(client.Requests()[0].System, "- run_bash") {
		t.Error("disallowed tool should not be described to the planner")
	}
}

func TestPlan_Failures(t *testing.T) {
	tests := []struct {
		name       string
		step       llmtest.Step
		wantPrefix string
	}{
		{"hallucinated tool", llmtest.Text(`{"steps":[{"toolName":"use_top_command","input":{}},{"toolName":"notify"},{"toolName":"fly"}]}`), "Plan contains unregistered tools: use_top_command, fly. Available: notify"},
		{"not json", llmtest.Text("I would search the web first."), "Planner returned invalid JSON"},
		{"wrong shape", llmtest.Text(`{"steps":"search"}`), "Planner returned invalid JSON"},
		{"empty plan", llmtest.Text(`{"reasoning":"nothing to do","steps":[]}`), "nothing to do"},
		{"tool calls", llmtest.Calls(llm.ToolCall{ID: "1", Name: "notify"}), "Unexpected tool_call response"},
		{"provider error", llmtest.Fail(errors.New("invalid api key")), "Error: invalid api key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(llmtest.New(tt.step), newRegistry(t, "notify"), llm.RetryPolicy{}, nil)
			plan := p.Plan(context.Background(), Request{Name: "r", Goal: "g"})
			if plan.Success {
				t.Fatal("expected failure")
			}
			if len(plan.Steps) != 0 {
				t.Errorf("failed plan carries steps: %+v", plan.Steps)
			}
			if !strings.HasPrefix(plan.Reasoning, tt.wantPrefix) {
				t.Errorf("reasoning = %q, want prefix %q", plan.Reasoning, tt.wantPrefix)
			}
		})
	}
}

func TestPlan_NotConfigured(t *testing.T) {
	p := New(llm.Unconfigured{}, newRegistry(t, "notify"), llm.RetryPolicy{}, nil)
	plan := p.Plan(context.Background(), Request{Name: "r", Goal: "g"})
	if plan.Success || !strings.HasPrefix(plan.Reasoning, "LLM not configured") {
		t.Errorf("plan = %+v", plan)
	}
}

func TestStripFence(t *testing.T) {
	tests := []struct{ in, want string }{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripFence(tt.in); got != tt.want {
			t.Errorf("stripFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlatformHint(t *testing.T) {
	if !strings.Contains(PlatformHint("darwin"), "vm_stat") {
		t.Error("darwin hint should mention vm_stat")
	}
	if !strings.Contains(PlatformHint("linux"), "free -m") {
		t.Error("linux hint should mention free -m")
	}
	if !strings.Contains(PlatformHint("plan9"), "plan9") {
		t.Error("fallback hint should name the platform")
	}
}

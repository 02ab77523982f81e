// Package planner turns a routine's goal into a short, validated list
// of tool calls with a single LLM request.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nugget/luminary/internal/llm"
	"github.com/nugget/luminary/internal/tools"
)

// MaxTokens caps the planner's completion.
const MaxTokens = 2000

// Step is one planned tool call.
type Step struct {
	ToolName string         `json:"toolName"`
	Input    map[string]any `json:"input"`
}

// Plan is the planner's answer. When Success is false, Reasoning holds
// the failure reason and Steps is empty.
type Plan struct {
	Success   bool   `json:"success"`
	Steps     []Step `json:"steps"`
	Reasoning string `json:"reasoning"`
}

// Request describes the routine being planned.
type Request struct {
	Name  string
	Goal  string
	Tools []string // empty means every registered tool
	Input map[string]any
}

// Planner plans routines against a tool registry.
type Planner struct {
	client   llm.Client
	registry *tools.Registry
	policy   llm.RetryPolicy
	logger   *slog.Logger
	schema   *jsonschema.Schema

	goos, goarch string
}

// New creates a Planner.
func New(client llm.Client, registry *tools.Registry, policy llm.RetryPolicy, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		client:   client,
		registry: registry,
		policy:   policy,
		logger:   logger,
		schema:   mustCompile(planSchema),
		goos:     runtime.GOOS,
		goarch:   runtime.GOARCH,
	}
}

func failed(format string, args ...any) Plan {
	return Plan{Steps: []Step{}, Reasoning: fmt.Sprintf(format, args...)}
}

// Plan asks the model for a plan and validates it. It never returns an
// error; every failure is reported through a Plan with Success false.
func (p *Planner) Plan(ctx context.Context, req Request) Plan {
	available := p.registry.Tools(req.Tools)
	availableNames := make([]string, 0, len(available))
	for _, t := range available {
		availableNames = append(availableNames, t.Name)
	}

	input := req.Input
	if input == nil {
		input = map[string]any{}
	}
	inputJSON, _ := json.Marshal(input)

	resp, err := llm.CompleteWithRetry(ctx, p.client, llm.Request{
		System: p.systemPrompt(available),
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Routine: %s\nGoal: %s\nInput: %s", req.Name, req.Goal, inputJSON),
		}},
		MaxTokens: MaxTokens,
	}, p.policy, p.logger)
	if errors.Is(err, llm.ErrNotConfigured) {
		return failed("LLM not configured: %v", err)
	}
	if err != nil {
		return failed("Error: %v", err)
	}
	if resp.Type != llm.ResponseText {
		return failed("Unexpected tool_call response from planner LLM")
	}

	plan, err := p.parse(resp.Text)
	if err != nil {
		p.logger.Warn("planner returned unusable output",
			"routine", req.Name,
			"raw", truncate(resp.Text, 500),
			"error", err,
		)
		return failed("Planner returned invalid JSON: %v", err)
	}

	var unknown []string
	for _, s := range plan.Steps {
		if !contains(availableNames, s.ToolName) {
			unknown = append(unknown, s.ToolName)
		}
	}
	if len(unknown) > 0 {
		return failed("Plan contains unregistered tools: %s. Available: %s",
			strings.Join(unknown, ", "), strings.Join(availableNames, ", "))
	}

	plan.Success = len(plan.Steps) > 0
	if !plan.Success && plan.Reasoning == "" {
		plan.Reasoning = "Planner returned no steps"
	}
	p.logger.Debug("routine planned", "routine", req.Name, "steps", len(plan.Steps))
	return plan
}

// parse strips an optional markdown fence, validates the document
// against the plan contract, and decodes it.
func (p *Planner) parse(text string) (Plan, error) {
	raw := stripFence(text)

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(raw)))
	if err != nil {
		return Plan{}, err
	}
	if err := p.schema.Validate(doc); err != nil {
		return Plan{}, err
	}

	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return Plan{}, err
	}
	if plan.Steps == nil {
		plan.Steps = []Step{}
	}
	for i := range plan.Steps {
		if plan.Steps[i].Input == nil {
			plan.Steps[i].Input = map[string]any{}
		}
	}
	return plan, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimPrefix(s, "JSON")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

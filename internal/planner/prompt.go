package planner

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nugget/luminary/internal/tools"
)

// planSchema is the JSON contract the model must satisfy.
const planSchema = `{
  "type": "object",
  "required": ["steps"],
  "properties": {
    "reasoning": {"type": "string"},
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["toolName"],
        "properties": {
          "toolName": {"type": "string", "minLength": 1},
          "input": {"type": "object"}
        }
      }
    }
  }
}`

func mustCompile(src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("plan.json", doc); err != nil {
		panic(err)
	}
	return c.MustCompile("plan.json")
}

// PlatformHint names the shell commands that exist on goos.
func PlatformHint(goos string) string {
	switch goos {
	case "darwin":
		return "macOS/Darwin: use vm_stat (not free), top -l 1 (not top), ps aux, sysctl -n hw.memsize. Commands like free/htop do NOT exist on macOS."
	case "linux":
		return "Linux: use free -m, top -bn1, ps aux, cat /proc/meminfo, cat /proc/cpuinfo."
	default:
		return fmt.Sprintf("Platform: %s. Use platform-appropriate commands.", goos)
	}
}

func (p *Planner) systemPrompt(available []*tools.Tool) string {
	var list strings.Builder
	for _, t := range available {
		fmt.Fprintf(&list, "- %s: %s\n", t.Name, t.Description)
	}

	return fmt.Sprintf(`You are a task planner. Given a routine name, goal, and available tools, create a step-by-step execution plan.

Available tools:
%s
System info: platform=%s, arch=%s
%s

Rules:
- You MUST only use tool names from the list above. Never invent new tool names.
- IMPORTANT: This routine is called ONCE when triggered. Recurring scheduling is handled externally (the scheduler fires this routine repeatedly). Do NOT try to set up timers, cron, or recurring logic inside the plan.
- For run_bash: commands must complete within 30 seconds. Use quick one-liner commands. Never use sleep, cron, or commands that block.
- Keep plans simple: 1-3 steps maximum. Prefer direct tool calls over multi-step pipelines.
- When the goal contains "notify", "alert", "send", "tell", "let me know": MUST use notify tool to deliver the message. Do NOT use remember for notifications.
- Define exit criteria in reasoning: what does "done" look like for THIS SINGLE execution of the routine?

Respond with ONLY a valid JSON object, no markdown, no explanation:
{"reasoning": "<exit criteria + brief explanation>", "steps": [{"toolName": "web_search", "input": {"query": "example search"}}]}`,
		list.String(), p.goos, p.goarch, PlatformHint(p.goos))
}

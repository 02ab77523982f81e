package notify

import (
	"context"

	"github.com/nugget/luminary/internal/tools"
)

// Tool exposes n as the notify tool.
func Tool(n *Notifier) *tools.Tool {
	return &tools.Tool{
		Name: "notify",
		Description: `Send a notification message to the user. Use when asked to "notify me", "send me", "tell me when", etc. ` +
			"Supports {time} placeholder which is replaced with the current local time. " +
			"Delivers via Telegram, Slack, MQTT, or email when configured, or the memory log as fallback.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": `Notification message. Use {time} to embed current time, e.g. "Current time: {time}"`,
				},
			},
			"required": []string{"message"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			msg := tools.StringArg(args, "message")
			if msg == "" {
				return tools.Errorf("message is required")
			}
			res := n.Send(ctx, tools.UserIDFromContext(ctx), msg)
			if !res.Success {
				return tools.Result{Output: res, Error: res.Error}
			}
			return tools.OK(res)
		},
	}
}

package scheduler

import (
	"context"

	"github.com/nugget/luminary/internal/tools"
)

// Tools returns the schedule management tools bound to s.
func (s *Scheduler) Tools() []*tools.Tool {
	return []*tools.Tool{
		s.createScheduleTool(),
		s.listSchedulesTool(),
		s.updateScheduleTool(),
		s.deleteScheduleTool(),
	}
}

const cronHelp = `Cron expression (5 fields, UTC). Examples: "*/15 * * * *" (every 15 min), "0 9 * * *" (daily 9am), "0 9 * * 1" (Mon 9am)`

func (s *Scheduler) createScheduleTool() *tools.Tool {
	return &tools.Tool{
		Name: "create_schedule",
		Description: "Create a recurring cron schedule. Either pass routineId for multi-step tasks planned at run time, " +
			"or toolName+toolInput for a single direct tool call. Minimum interval: 5 minutes (UTC).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"cronExpr":  map[string]any{"type": "string", "description": cronHelp},
				"routineId": map[string]any{"type": "string", "description": "Routine to run"},
				"toolName":  map[string]any{"type": "string", "description": "Tool to call directly, e.g. notify"},
				"toolInput": map[string]any{"type": "object", "description": "Input for the tool (with toolName)"},
			},
			"required": []string{"cronExpr"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			sched, err := s.CreateSchedule(ctx, CreateInput{
				RoutineID: tools.StringArg(args, "routineId"),
				ToolName:  tools.StringArg(args, "toolName"),
				ToolInput: tools.ObjectArg(args, "toolInput"),
				CronExpr:  tools.StringArg(args, "cronExpr"),
				UserID:    tools.UserIDFromContext(ctx),
			})
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(map[string]any{"scheduleId": sched.ID, "cronExpr": sched.CronExpr, "actionType": sched.ActionType})
		},
	}
}

func (s *Scheduler) listSchedulesTool() *tools.Tool {
	return &tools.Tool{
		Name:        "list_schedules",
		Description: "List all cron schedules with their linked routines or tool actions.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			list, err := s.store.List(ctx, false)
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(list)
		},
	}
}

func (s *Scheduler) updateScheduleTool() *tools.Tool {
	return &tools.Tool{
		Name:        "update_schedule",
		Description: "Update a cron schedule: change its expression, enable or disable it, or point it at another routine or tool. Use list_schedules first to get the ID.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"scheduleId": map[string]any{"type": "string"},
				"cronExpr":   map[string]any{"type": "string", "description": cronHelp},
				"enabled":    map[string]any{"type": "boolean"},
				"routineId":  map[string]any{"type": "string"},
				"toolName":   map[string]any{"type": "string"},
				"toolInput":  map[string]any{"type": "object"},
			},
			"required": []string{"scheduleId"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			var upd Update
			if v := tools.StringArg(args, "cronExpr"); v != "" {
				upd.CronExpr = &v
			}
			if v, ok := tools.BoolArg(args, "enabled"); ok {
				upd.Enabled = &v
			}
			if v := tools.StringArg(args, "routineId"); v != "" {
				upd.RoutineID = &v
			}
			if v := tools.StringArg(args, "toolName"); v != "" {
				upd.ToolName = &v
			}
			upd.ToolInput = tools.ObjectArg(args, "toolInput")

			id := tools.StringArg(args, "scheduleId")
			if _, err := s.UpdateSchedule(ctx, id, upd); err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(map[string]any{"success": true, "scheduleId": id})
		},
	}
}

func (s *Scheduler) deleteScheduleTool() *tools.Tool {
	return &tools.Tool{
		Name:        "delete_schedule",
		Description: "Delete a cron schedule by ID. The routine itself is not deleted.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"scheduleId": map[string]any{"type": "string"},
			},
			"required": []string{"scheduleId"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			id := tools.StringArg(args, "scheduleId")
			if err := s.DeleteSchedule(ctx, id); err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(map[string]any{"success": true, "scheduleId": id})
		},
	}
}

package jobs

import (
	"context"
	"strings"

	"github.com/nugget/luminary/internal/tools"
)

// Tools returns the routine and job management tools bound to r.
func (r *Runner) Tools() []*tools.Tool {
	return []*tools.Tool{
		r.createRoutineTool(),
		r.listRoutinesTool(),
		r.updateRoutineTool(),
		r.deleteRoutineTool(),
		r.createJobTool(),
		r.listJobsTool(),
		r.cancelJobTool(),
	}
}

var stringList = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

var triggerEnum = map[string]any{
	"type": "string",
	"enum": []string{string(TriggerManual), string(TriggerSchedule), string(TriggerEvent)},
}

// unknownTools returns the names in list the registry does not hold.
func (r *Runner) unknownTools(list []string) []string {
	var unknown []string
	for _, name := range list {
		if !r.registry.Has(name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

func (r *Runner) createRoutineTool() *tools.Tool {
	return &tools.Tool{
		Name:        "create_routine",
		Description: "Create a reusable routine: a named goal the planner turns into tool calls each time it runs. Restrict it to specific tools with \"tools\" (empty means all).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":        map[string]any{"type": "string"},
				"goal":        map[string]any{"type": "string", "description": "What the routine should accomplish"},
				"triggerType": triggerEnum,
				"tools":       stringList,
			},
			"required": []string{"name", "goal"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			list := tools.StringsArg(args, "tools")
			if bad := r.unknownTools(list); len(bad) > 0 {
				return tools.Errorf("unknown tools: %s", strings.Join(bad, ", "))
			}
			routine, err := r.store.CreateRoutine(ctx, RoutineInput{
				Name:        tools.StringArg(args, "name"),
				Goal:        tools.StringArg(args, "goal"),
				TriggerType: TriggerType(tools.StringArg(args, "triggerType")),
				Tools:       list,
			})
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(routine)
		},
	}
}

func (r *Runner) listRoutinesTool() *tools.Tool {
	return &tools.Tool{
		Name:        "list_routines",
		Description: "List routines.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"enabledOnly": map[string]any{"type": "boolean"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			enabledOnly, _ := tools.BoolArg(args, "enabledOnly")
			routines, err := r.store.ListRoutines(ctx, enabledOnly)
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(routines)
		},
	}
}

func (r *Runner) updateRoutineTool() *tools.Tool {
	return &tools.Tool{
		Name:        "update_routine",
		Description: "Change a routine's name, goal, trigger type, allowed tools, or enabled flag. Omitted fields are left alone.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"routineId":   map[string]any{"type": "string"},
				"name":        map[string]any{"type": "string"},
				"goal":        map[string]any{"type": "string"},
				"triggerType": triggerEnum,
				"tools":       stringList,
				"enabled":     map[string]any{"type": "boolean"},
			},
			"required": []string{"routineId"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			var upd RoutineUpdate
			if _, ok := args["name"]; ok {
				v := tools.StringArg(args, "name")
				upd.Name = &v
			}
			if _, ok := args["goal"]; ok {
				v := tools.StringArg(args, "goal")
				upd.Goal = &v
			}
			if _, ok := args["triggerType"]; ok {
				v := TriggerType(tools.StringArg(args, "triggerType"))
				upd.TriggerType = &v
			}
			if _, ok := args["tools"]; ok {
				v := tools.StringsArg(args, "tools")
				if bad := r.unknownTools(v); len(bad) > 0 {
					return tools.Errorf("unknown tools: %s", strings.Join(bad, ", "))
				}
				upd.Tools = &v
			}
			if v, ok := tools.BoolArg(args, "enabled"); ok {
				upd.Enabled = &v
			}
			routine, err := r.store.UpdateRoutine(ctx, tools.StringArg(args, "routineId"), upd)
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(routine)
		},
	}
}

func (r *Runner) deleteRoutineTool() *tools.Tool {
	return &tools.Tool{
		Name:        "delete_routine",
		Description: "Delete a routine together with its schedules. Queued jobs for it are canceled.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"routineId": map[string]any{"type": "string"},
			},
			"required": []string{"routineId"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			res, err := r.store.DeleteRoutine(ctx, tools.StringArg(args, "routineId"))
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(map[string]any{
				"success":          true,
				"canceledJobs":     res.CanceledJobs,
				"deletedSchedules": res.DeletedSchedules,
			})
		},
	}
}

func (r *Runner) createJobTool() *tools.Tool {
	return &tools.Tool{
		Name:        "create_job",
		Description: "Start a job in the background: either run a routine (routineId) or call one tool directly (toolName + toolInput). Returns the job id; use list_jobs to check on it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"routineId": map[string]any{"type": "string"},
				"toolName":  map[string]any{"type": "string"},
				"toolInput": map[string]any{"type": "object"},
				"input":     map[string]any{"type": "object", "description": "Input passed to the routine planner"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			toolName := tools.StringArg(args, "toolName")
			if toolName != "" && !r.registry.Has(toolName) {
				return tools.Errorf("unknown tool %q", toolName)
			}
			job, err := r.Enqueue(ctx, EnqueueInput{
				RoutineID:   tools.StringArg(args, "routineId"),
				ToolName:    toolName,
				ToolInput:   tools.ObjectArg(args, "toolInput"),
				Input:       tools.ObjectArg(args, "input"),
				TriggerType: TriggerTool,
				UserID:      tools.UserIDFromContext(ctx),
			})
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(map[string]any{"jobId": job.ID, "status": job.Status})
		},
	}
}

func (r *Runner) listJobsTool() *tools.Tool {
	return &tools.Tool{
		Name:        "list_jobs",
		Description: "List recent jobs, newest first, optionally filtered by status or routine.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type": "string",
					"enum": []string{"queued", "running", "succeeded", "failed", "canceled"},
				},
				"routineId": map[string]any{"type": "string"},
				"limit":     map[string]any{"type": "number", "description": "Max results (default 20)"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			jobs, err := r.store.ListJobs(ctx, JobFilter{
				Status:    Status(tools.StringArg(args, "status")),
				RoutineID: tools.StringArg(args, "routineId"),
				Limit:     tools.IntArg(args, "limit", 20),
			})
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(jobs)
		},
	}
}

func (r *Runner) cancelJobTool() *tools.Tool {
	return &tools.Tool{
		Name:        "cancel_job",
		Description: "Cancel a queued job. Running and finished jobs cannot be canceled.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"jobId": map[string]any{"type": "string", "description": "ID of the job to cancel (from list_jobs)"},
			},
			"required": []string{"jobId"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			id := tools.StringArg(args, "jobId")
			if err := r.Cancel(ctx, id); err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(map[string]any{"jobId": id, "status": StatusCanceled})
		},
	}
}

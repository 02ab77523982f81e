package memory

import (
	"context"

	"github.com/nugget/luminary/internal/tools"
)

// Tools returns the memory tools bound to s.
func (s *Store) Tools() []*tools.Tool {
	return []*tools.Tool{
		s.rememberTool(),
		s.listMemoryTool(),
		s.updateMemoryTool(),
		s.updateSoulTool(),
	}
}

func (s *Store) rememberTool() *tools.Tool {
	return &tools.Tool{
		Name:        "remember",
		Description: "Write a memory note. Use to remember facts, rules, or summaries for future conversations.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{"type": "string", "description": "What to remember"},
				"kind": map[string]any{
					"type":        "string",
					"enum":        []string{"log", "summary", "rule"},
					"description": "log=event, summary=outcome, rule=reusable knowledge",
				},
				"tags": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Optional tags",
				},
			},
			"required": []string{"content"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			kind := Kind(tools.StringArg(args, "kind"))
			if kind == "" {
				kind = KindLog
			}
			note, err := s.Write(ctx, WriteInput{
				Kind:    kind,
				Content: tools.StringArg(args, "content"),
				UserID:  tools.UserIDFromContext(ctx),
				Tags:    tools.StringsArg(args, "tags"),
				JobID:   tools.JobIDFromContext(ctx),
			})
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(map[string]any{"noteId": note.ID, "success": true})
		},
	}
}

func (s *Store) listMemoryTool() *tools.Tool {
	return &tools.Tool{
		Name:        "list_memory",
		Description: `Query memory notes. Use to recall past information before answering. Pass a natural language "query" for semantic search, or use "kind"/"tags" for filtered lookup.`,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"kind": map[string]any{
					"type": "string",
					"enum": []string{"log", "summary", "rule", "soul", "agent", "user"},
				},
				"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"limit": map[string]any{"type": "number", "description": "Max results (default 10)"},
				"query": map[string]any{"type": "string", "description": "Natural language query for semantic search (requires an embeddings provider)."},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			userID := tools.UserIDFromContext(ctx)
			limit := tools.IntArg(args, "limit", 10)
			if limit <= 0 {
				limit = 10
			}

			if q := tools.StringArg(args, "query"); q != "" && s.Semantic() {
				notes, err := s.Search(ctx, userID, q, limit)
				if err != nil {
					s.logger.Warn("semantic search failed, falling back to filters", "error", err)
				} else if len(notes) > 0 {
					return tools.OK(notes)
				}
			}

			notes, err := s.Query(ctx, Filter{
				UserID: userID,
				Kind:   Kind(tools.StringArg(args, "kind")),
				Tags:   tools.StringsArg(args, "tags"),
				Limit:  limit,
			})
			if err != nil {
				return tools.Errorf("%v", err)
			}
			if notes == nil {
				notes = []*Note{}
			}
			return tools.OK(notes)
		},
	}
}

func (s *Store) updateMemoryTool() *tools.Tool {
	return &tools.Tool{
		Name:        "update_memory",
		Description: "Update an existing memory note by replacing its content. Cannot update soul notes; use update_soul instead.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":      map[string]any{"type": "string", "description": "ID of the note to update (from list_memory)"},
				"content": map[string]any{"type": "string", "description": "New content to replace the existing note"},
			},
			"required": []string{"id", "content"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			note, err := s.Correct(ctx, tools.UserIDFromContext(ctx),
				tools.StringArg(args, "id"), tools.StringArg(args, "content"))
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(map[string]any{"noteId": note.ID, "success": true, "message": "Note updated"})
		},
	}
}

func (s *Store) updateSoulTool() *tools.Tool {
	return &tools.Tool{
		Name:        "update_soul",
		Description: "Update your operating principles (soul). Use sparingly, only when you learn something fundamental about how you should reason or behave.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{"type": "string", "description": "New soul content (replaces existing)"},
			},
			"required": []string{"content"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			note, err := s.UpdateSoul(ctx, tools.UserIDFromContext(ctx), tools.StringArg(args, "content"))
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.OK(map[string]any{"noteId": note.ID, "success": true, "message": "Soul updated"})
		},
	}
}

// Package conversation keeps the per-user turn log the agent replays to
// the model. Tool-call rows and their result rows are kept paired: a
// trim never leaves a call without results or results without a call.
package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/luminary/internal/database"
	"github.com/nugget/luminary/internal/llm"
)

// DefaultMaxRows bounds the log kept per user.
const DefaultMaxRows = 80

// Row is one stored conversation event.
type Row struct {
	ID        string
	UserID    string
	Role      llm.Role
	Content   string
	ToolUseID string
	CreatedAt time.Time
}

// Store persists conversation rows.
type Store struct {
	db      *sql.DB
	maxRows int
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates a conversation store keeping at most maxRows rows per
// user.
func NewStore(db *sql.DB, maxRows int, logger *slog.Logger) *Store {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:      db,
		maxRows: maxRows,
		logger:  logger.With("component", "conversation"),
		now:     time.Now,
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, q execer, userID string, role llm.Role, content, toolUseID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, role, content, tool_use_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		database.NewID(), userID, string(role), content,
		database.NullString(toolUseID), database.FormatTime(s.now()))
	if err != nil {
		return fmt.Errorf("append %s: %w", role, err)
	}
	return nil
}

// AppendUser records a user message and then trims the log.
func (s *Store) AppendUser(ctx context.Context, userID, content string) error {
	if err := s.insert(ctx, s.db, userID, llm.RoleUser, content, ""); err != nil {
		return err
	}
	return s.Trim(ctx, userID)
}

// AppendAssistant records final assistant text.
func (s *Store) AppendAssistant(ctx context.Context, userID, content string) error {
	return s.insert(ctx, s.db, userID, llm.RoleAssistant, content, "")
}

// AppendToolCalls records one batch of model-requested tool calls.
func (s *Store) AppendToolCalls(ctx context.Context, userID string, calls []llm.ToolCall) error {
	b, err := json.Marshal(calls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}
	return s.insert(ctx, s.db, userID, llm.RoleAssistantToolCalls, string(b), "")
}

// AppendToolResults records a batch of results, one row each, in a
// single transaction.
func (s *Store) AppendToolResults(ctx context.Context, userID string, results []llm.ToolResult) error {
	if len(results) == 0 {
		return nil
	}
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, r := range results {
			if err := s.insert(ctx, tx, userID, llm.RoleToolResults, r.Content, r.ToolUseID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Rows returns every stored row for userID in log order.
func (s *Store) Rows(ctx context.Context, userID string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, role, content, tool_use_id, created_at FROM conversations
		WHERE user_id = ? ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r         Row
			role      string
			toolUseID sql.NullString
			created   string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &role, &r.Content, &toolUseID, &created); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		r.Role = llm.Role(role)
		r.ToolUseID = toolUseID.String
		r.CreatedAt, _ = database.ParseTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Load rebuilds the structured transcript for userID. Consecutive
// tool_results rows are grouped under the tool-call batch before them.
func (s *Store) Load(ctx context.Context, userID string) ([]llm.Message, error) {
	rows, err := s.Rows(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.toMessages(rows), nil
}

func (s *Store) toMessages(rows []Row) []llm.Message {
	var msgs []llm.Message
	for i := 0; i < len(rows); i++ {
		row := rows[i]
		switch row.Role {
		case llm.RoleUser, llm.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: row.Role, Content: row.Content})

		case llm.RoleAssistantToolCalls:
			var calls []llm.ToolCall
			if err := json.Unmarshal([]byte(row.Content), &calls); err != nil {
				s.logger.Error("unreadable tool calls in conversation", "row_id", row.ID, "error", err)
				// Skip the batch along with its results.
				for i+1 < len(rows) && rows[i+1].Role == llm.RoleToolResults {
					i++
				}
				continue
			}
			var results []llm.ToolResult
			for i+1 < len(rows) && rows[i+1].Role == llm.RoleToolResults {
				i++
				if rows[i].ToolUseID == "" {
					s.logger.Warn("tool_results row missing tool_use_id, skipping", "row_id", rows[i].ID)
					continue
				}
				results = append(results, llm.ToolResult{ToolUseID: rows[i].ToolUseID, Content: rows[i].Content})
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistantToolCalls, ToolCalls: calls})
			if len(results) > 0 {
				msgs = append(msgs, llm.Message{Role: llm.RoleToolResults, Results: results})
			}
		}
	}
	return msgs
}

// Trim keeps the newest maxRows rows for userID and then deletes rows
// the cut left structurally orphaned.
func (s *Store) Trim(ctx context.Context, userID string) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM conversations WHERE user_id = ? AND id NOT IN (
				SELECT id FROM conversations WHERE user_id = ?
				ORDER BY created_at DESC, rowid DESC LIMIT ?)`,
			userID, userID, s.maxRows); err != nil {
			return fmt.Errorf("trim conversation: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id, role FROM conversations WHERE user_id = ?
			ORDER BY created_at ASC, rowid ASC`, userID)
		if err != nil {
			return fmt.Errorf("scan for orphans: %w", err)
		}
		var log []Row
		for rows.Next() {
			var r Row
			var role string
			if err := rows.Scan(&r.ID, &role); err != nil {
				rows.Close()
				return fmt.Errorf("scan for orphans: %w", err)
			}
			r.Role = llm.Role(role)
			log = append(log, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		orphans := Orphans(log)
		if len(orphans) == 0 {
			return nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(orphans)), ",")
		args := make([]any, len(orphans))
		for i, id := range orphans {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conversations WHERE id IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("delete orphans: %w", err)
		}
		s.logger.Debug("removed orphaned tool rows", "user_id", userID, "count", len(orphans))
		return nil
	})
}

// Orphans returns the ids of rows that break tool pairing: a tool-call
// row not directly followed by a result row, or a result row not
// reached through a kept tool-call row.
func Orphans(rows []Row) []string {
	var ids []string
	inChain := false
	for i, r := range rows {
		switch r.Role {
		case llm.RoleAssistantToolCalls:
			if i+1 < len(rows) && rows[i+1].Role == llm.RoleToolResults {
				inChain = true
			} else {
				ids = append(ids, r.ID)
				inChain = false
			}
		case llm.RoleToolResults:
			if !inChain {
				ids = append(ids, r.ID)
			}
		default:
			inChain = false
		}
	}
	return ids
}

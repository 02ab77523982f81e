package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/luminary/internal/database"
)

// Store persists schedules.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a schedule store over an already migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// CreateInput describes a new schedule. Exactly one of RoutineID and
// ToolName must be set. Cron validation is the caller's job.
type CreateInput struct {
	RoutineID string
	ToolName  string
	ToolInput map[string]any
	CronExpr  string
	Enabled   *bool // nil means enabled
	UserID    string
}

// Update changes the non-nil fields of a schedule. Setting RoutineID
// switches the schedule to routine mode; setting ToolName switches it
// to tool mode.
type Update struct {
	CronExpr  *string
	Enabled   *bool
	RoutineID *string
	ToolName  *string
	ToolInput map[string]any
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.CronExpr == nil && u.Enabled == nil && u.RoutineID == nil && u.ToolName == nil && u.ToolInput == nil
}

const scheduleColumns = `s.id, s.routine_id, r.name, s.action_type, s.tool_name, s.tool_input, s.cron_expr,
	s.enabled, s.user_id, s.last_run_at, s.created_at, s.updated_at`

const scheduleFrom = ` FROM schedules s LEFT JOIN routines r ON r.id = s.routine_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (*Schedule, error) {
	var (
		s                                        Schedule
		routineID, routineName, toolName, userID sql.NullString
		lastRunAt                                sql.NullString
		toolInput, createdAt, updatedAt          string
	)
	if err := row.Scan(&s.ID, &routineID, &routineName, &s.ActionType, &toolName, &toolInput, &s.CronExpr,
		&s.Enabled, &userID, &lastRunAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.RoutineID = routineID.String
	s.RoutineName = routineName.String
	s.ToolName = toolName.String
	s.UserID = userID.String
	if s.ActionType == ActionToolCall {
		s.ToolInput = map[string]any{}
		_ = json.Unmarshal([]byte(toolInput), &s.ToolInput)
		if s.ToolInput == nil {
			s.ToolInput = map[string]any{}
		}
	}
	s.LastRunAt = database.NullTime(lastRunAt)
	s.CreatedAt, _ = database.ParseTime(createdAt)
	s.UpdatedAt, _ = database.ParseTime(updatedAt)
	return &s, nil
}

func encodeInput(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (s *Store) routineExists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM routines WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("routine %s not found", id)
	}
	return err
}

// Create inserts a schedule.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Schedule, error) {
	in.RoutineID = strings.TrimSpace(in.RoutineID)
	in.ToolName = strings.TrimSpace(in.ToolName)

	action := ActionRoutine
	switch {
	case in.RoutineID != "" && in.ToolName != "":
		return nil, errors.New("a schedule runs either a routine or a tool, not both")
	case in.ToolName != "":
		action = ActionToolCall
	case in.RoutineID == "":
		return nil, errors.New("either routineId or toolName is required")
	default:
		if err := s.routineExists(ctx, in.RoutineID); err != nil {
			return nil, err
		}
	}

	now := database.FormatTime(s.now())
	id := database.NewID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, routine_id, action_type, tool_name, tool_input, cron_expr, enabled, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, database.NullString(in.RoutineID), action, database.NullString(in.ToolName), encodeInput(in.ToolInput),
		strings.TrimSpace(in.CronExpr), in.Enabled == nil || *in.Enabled, database.NullString(in.UserID), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	return s.Get(ctx, id)
}

// Get returns a schedule by id.
func (s *Store) Get(ctx context.Context, id string) (*Schedule, error) {
	sched, err := scanSchedule(s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+scheduleFrom+` WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

// List returns schedules newest first.
func (s *Store) List(ctx context.Context, enabledOnly bool) ([]*Schedule, error) {
	q := `SELECT ` + scheduleColumns + scheduleFrom
	if enabledOnly {
		q += ` WHERE s.enabled = 1`
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY s.created_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	out := []*Schedule{}
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// Update applies upd and returns the updated schedule.
func (s *Store) Update(ctx context.Context, id string, upd Update) (*Schedule, error) {
	if upd.Empty() {
		return nil, errors.New("no fields to update")
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	sets := []string{"updated_at = ?"}
	args := []any{database.FormatTime(s.now())}
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if upd.CronExpr != nil {
		set("cron_expr", strings.TrimSpace(*upd.CronExpr))
	}
	if upd.Enabled != nil {
		set("enabled", *upd.Enabled)
	}
	if upd.RoutineID != nil && *upd.RoutineID != "" {
		if err := s.routineExists(ctx, *upd.RoutineID); err != nil {
			return nil, err
		}
		set("routine_id", *upd.RoutineID)
		set("action_type", ActionRoutine)
		set("tool_name", nil)
	}
	if upd.ToolName != nil && *upd.ToolName != "" {
		if upd.RoutineID != nil && *upd.RoutineID != "" {
			return nil, errors.New("a schedule runs either a routine or a tool, not both")
		}
		set("tool_name", *upd.ToolName)
		set("action_type", ActionToolCall)
		set("routine_id", nil)
	}
	if upd.ToolInput != nil {
		set("tool_input", encodeInput(upd.ToolInput))
	}
	args = append(args, cur.ID)

	if _, err := s.db.ExecContext(ctx, `UPDATE schedules SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return s.Get(ctx, id)
}

// Delete removes a schedule. The routine it points at is kept.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkRun stamps last_run_at.
func (s *Store) MarkRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE schedules SET last_run_at = ? WHERE id = ?`, database.FormatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark schedule run: %w", err)
	}
	return nil
}
